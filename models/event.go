// Package models defines the event union and data types shared by the
// codec, the event publisher and the session.
package models

import "time"

// Event is the closed union of everything the device (or the session
// itself) can notify the client about. Every variant is a struct with an
// unexported marker method, so consumers can switch exhaustively and new
// variants cannot be added outside this package.
//
// Decoding never produces an error for malformed input: the codec returns
// a ParseFailure variant carrying the offending bytes instead.
type Event interface {
	isEvent()
}

// Connection lifecycle. These are emitted by the session, not decoded
// from frames.

// Connected signals the session reached the connected state.
type Connected struct {
	Self SelfInfo
}

// Disconnected signals the session was stopped or the transport dropped.
type Disconnected struct{}

// ConnectionFailed signals the transport could not be established or died
// with an error.
type ConnectionFailed struct {
	Err error
}

// Command acknowledgements.

// Ok is the generic success response. Some commands attach a small
// payload (e.g. the applied timestamp).
type Ok struct {
	Payload HexBytes
}

// CommandFailed is the generic error response. Code is the device error
// code when one was supplied, 0 otherwise.
type CommandFailed struct {
	Code uint8
}

// CommandDisabled signals the command is not available on this device
// build.
type CommandDisabled struct{}

// Device metadata.

// SelfInfoEvent carries the device's own identity, sent in response to
// session start.
type SelfInfoEvent struct {
	Info SelfInfo
}

// DeviceInfoEvent carries firmware and model details from a device query.
type DeviceInfoEvent struct {
	Info DeviceInfo
}

// BatteryInfo reports battery voltage and, on newer firmware, storage
// usage.
type BatteryInfo struct {
	MilliVolts     uint16
	StorageUsedKB  uint32 // 0 when not reported
	StorageTotalKB uint32 // 0 when not reported
}

// CurrentTime is the device clock in Unix seconds.
type CurrentTime struct {
	Time time.Time
}

// CustomVars carries the device's key=value variable set.
type CustomVars struct {
	Vars map[string]string
}

// PrivateKey carries the exported identity key.
type PrivateKey struct {
	Key HexBytes
}

// ChannelInfoEvent describes one group channel slot.
type ChannelInfoEvent struct {
	Index  uint8
	Name   string
	Secret HexBytes
}

// Contact-list transfer lifecycle.

// ContactsStart opens a contact transfer; Count contacts follow.
type ContactsStart struct {
	Count uint32
}

// ContactReceived is one contact record of an in-progress transfer.
type ContactReceived struct {
	Contact Contact
}

// ContactsEnd closes a contact transfer. MostRecentLastMod is the
// watermark to pass to the next incremental fetch.
type ContactsEnd struct {
	MostRecentLastMod time.Time
}

// ContactURI is an exported contact in shareable URI form.
type ContactURI struct {
	URI string
}

// Messaging.

// MessageSent acknowledges a send command and carries the correlation
// data for the later delivery confirmation.
type MessageSent struct {
	Info MessageSentInfo
}

// ContactMessage is a direct message fetched from the device queue.
type ContactMessage struct {
	PubKeyPrefix HexBytes // 6 bytes
	PathLen      uint8
	TxtType      uint8
	SenderTime   time.Time
	Text         string
}

// ChannelMessage is a group-channel message fetched from the device
// queue.
type ChannelMessage struct {
	Channel    uint8
	PathLen    uint8
	TxtType    uint8
	SenderTime time.Time
	Text       string
}

// NoMoreMessages signals the device queue is drained.
type NoMoreMessages struct{}

// MessagesWaiting is the push telling the client to start fetching.
type MessagesWaiting struct{}

// Network pushes.

// Advertisement signals a node advert was heard for the given key.
type Advertisement struct {
	PublicKey HexBytes // 32 bytes
}

// PathUpdated signals the routing path to the given key changed.
type PathUpdated struct {
	PublicKey HexBytes // 32 bytes
}

// DeliveryConfirmed is the asynchronous delivery acknowledgement for a
// previously sent message, correlated by AckCode.
type DeliveryConfirmed struct {
	AckCode   HexBytes // 4 bytes
	RoundTrip time.Duration
}

// PathDiscoveryResponse answers a path discovery request.
type PathDiscoveryResponse struct {
	PubKeyPrefix HexBytes // 6 bytes
	Path         HexBytes // one byte per hop
}

// Authentication.

// LoginSuccess signals a remote node accepted the login.
type LoginSuccess struct {
	Permissions  uint8
	PubKeyPrefix HexBytes // 6 bytes, may be empty on old firmware
}

// LoginFailed signals a remote node rejected the login.
type LoginFailed struct {
	PubKeyPrefix HexBytes // 6 bytes, may be empty on old firmware
}

// StatusResponse carries a remote node's status block.
type StatusResponse struct {
	PubKeyPrefix HexBytes // 6 bytes
	Status       RemoteStatus
}

// Structured binary responses.

// CoreStatsEvent carries device core statistics.
type CoreStatsEvent struct {
	Stats CoreStats
}

// RadioStatsEvent carries radio statistics.
type RadioStatsEvent struct {
	Stats RadioStats
}

// PacketStatsEvent carries packet counters.
type PacketStatsEvent struct {
	Stats PacketStats
}

// Telemetry carries decoded sensor readings for a node.
type Telemetry struct {
	PubKeyPrefix HexBytes // 6 bytes, empty for self telemetry
	Readings     []Reading
}

// MinMaxAvg carries aggregated sensor series for a node.
type MinMaxAvg struct {
	PubKeyPrefix HexBytes
	Entries      []MinMaxAvgEntry
}

// AccessList carries a node's access-control entries.
type AccessList struct {
	PubKeyPrefix HexBytes
	Entries      []AccessEntry
}

// Neighbours carries a node's neighbour table.
type Neighbours struct {
	PubKeyPrefix HexBytes
	Entries      []Neighbour
}

// Signing.

// SignStarted acknowledges the start of a signing exchange.
type SignStarted struct{}

// Signature carries the finished signature.
type Signature struct {
	Sig HexBytes // 64 bytes
}

// Raw / log / control data.

// RawData is an opaque payload heard on air, with reception quality.
type RawData struct {
	SNR     float64
	RSSI    int8
	Payload HexBytes
}

// LogData is a raw logging payload from the device.
type LogData struct {
	Payload HexBytes
}

// ControlData is an opaque control payload from the device.
type ControlData struct {
	Payload HexBytes
}

// TraceData carries a decoded trace path.
type TraceData struct {
	Trace TraceInfo
}

// Contact pushes.

// NewContact signals the device added a contact (e.g. from an advert).
type NewContact struct {
	Contact Contact
}

// ContactDeleted signals the device evicted a contact under storage
// pressure. Only a key prefix is reported.
type ContactDeleted struct {
	PubKeyPrefix HexBytes // 6 bytes
}

// ContactsFull signals the device contact table is full; the client-side
// view may no longer match and needs a re-sync.
type ContactsFull struct{}

// Diagnostics.

// ParseFailure is the non-fatal decode outcome for malformed frames. The
// receive loop publishes it and keeps going.
type ParseFailure struct {
	Code    uint8
	Payload HexBytes
	Reason  string
}

func (Connected) isEvent()             {}
func (Disconnected) isEvent()          {}
func (ConnectionFailed) isEvent()      {}
func (Ok) isEvent()                    {}
func (CommandFailed) isEvent()         {}
func (CommandDisabled) isEvent()       {}
func (SelfInfoEvent) isEvent()         {}
func (DeviceInfoEvent) isEvent()       {}
func (BatteryInfo) isEvent()           {}
func (CurrentTime) isEvent()           {}
func (CustomVars) isEvent()            {}
func (PrivateKey) isEvent()            {}
func (ChannelInfoEvent) isEvent()      {}
func (ContactsStart) isEvent()         {}
func (ContactReceived) isEvent()       {}
func (ContactsEnd) isEvent()           {}
func (ContactURI) isEvent()            {}
func (MessageSent) isEvent()           {}
func (ContactMessage) isEvent()        {}
func (ChannelMessage) isEvent()        {}
func (NoMoreMessages) isEvent()        {}
func (MessagesWaiting) isEvent()       {}
func (Advertisement) isEvent()         {}
func (PathUpdated) isEvent()           {}
func (DeliveryConfirmed) isEvent()     {}
func (PathDiscoveryResponse) isEvent() {}
func (LoginSuccess) isEvent()          {}
func (LoginFailed) isEvent()           {}
func (StatusResponse) isEvent()        {}
func (CoreStatsEvent) isEvent()        {}
func (RadioStatsEvent) isEvent()       {}
func (PacketStatsEvent) isEvent()      {}
func (Telemetry) isEvent()             {}
func (MinMaxAvg) isEvent()             {}
func (AccessList) isEvent()            {}
func (Neighbours) isEvent()            {}
func (SignStarted) isEvent()           {}
func (Signature) isEvent()             {}
func (RawData) isEvent()               {}
func (LogData) isEvent()               {}
func (ControlData) isEvent()           {}
func (TraceData) isEvent()             {}
func (NewContact) isEvent()            {}
func (ContactDeleted) isEvent()        {}
func (ContactsFull) isEvent()          {}
func (ParseFailure) isEvent()          {}
