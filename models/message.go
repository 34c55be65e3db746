package models

import "time"

// MessageType distinguishes plain text messages from remote CLI commands.
type MessageType uint8

const (
	MessageTypePlain   MessageType = 0x00
	MessageTypeCommand MessageType = 0x01
	MessageTypeSigned  MessageType = 0x02
)

// MessageSentInfo is returned immediately when a send command is
// acknowledged by the device. The delivery confirmation itself arrives
// later as a DeliveryConfirmed event whose AckCode must byte-equal
// ExpectedAck.
type MessageSentInfo struct {
	Type                   MessageType `json:"type"`
	ExpectedAck            HexBytes    `json:"expectedAck"` // 4 bytes
	SuggestedTimeoutMillis uint32      `json:"suggestedTimeoutMs"`
}

// SuggestedTimeout converts the device's hint to a duration.
func (i MessageSentInfo) SuggestedTimeout() time.Duration {
	return time.Duration(i.SuggestedTimeoutMillis) * time.Millisecond
}
