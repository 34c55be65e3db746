package models

import "time"

// StatsArea selects which statistics block a stats query returns.
type StatsArea uint8

const (
	StatsAreaCore    StatsArea = 0
	StatsAreaRadio   StatsArea = 1
	StatsAreaPackets StatsArea = 2
)

// CoreStats is the 9-byte core statistics block.
type CoreStats struct {
	BatteryMilliVolts uint16 `json:"batteryMv"`
	UptimeSeconds     uint32 `json:"uptimeSecs"`
	ErrorCount        uint16 `json:"errors"`
	QueueLength       uint8  `json:"queueLen"`
}

// RadioStats is the 12-byte radio statistics block.
type RadioStats struct {
	NoiseFloor    int16   `json:"noiseFloor"`
	LastRSSI      int8    `json:"lastRssi"`
	LastSNR       float64 `json:"lastSnr"` // dB, raw byte / 4.0
	TxAirtimeSecs uint32  `json:"txAirtimeSecs"`
	RxAirtimeSecs uint32  `json:"rxAirtimeSecs"`
}

// PacketStats is the 24-byte packet counter block.
type PacketStats struct {
	Received       uint32 `json:"recv"`
	ReceivedDirect uint32 `json:"recvDirect"`
	ReceivedFlood  uint32 `json:"recvFlood"`
	Sent           uint32 `json:"sent"`
	SentDirect     uint32 `json:"sentDirect"`
	SentFlood      uint32 `json:"sentFlood"`
}

// RemoteStatus is the status block a repeater or room server returns to
// a status request.
type RemoteStatus struct {
	BatteryMilliVolts uint16  `json:"batteryMv"`
	TxQueueLength     uint16  `json:"txQueueLen"`
	FreeQueueLength   uint16  `json:"freeQueueLen"`
	LastRSSI          int16   `json:"lastRssi"`
	PacketsReceived   uint32  `json:"recv"`
	PacketsSent       uint32  `json:"sent"`
	AirtimeSeconds    uint32  `json:"airtimeSecs"`
	UptimeSeconds     uint32  `json:"uptimeSecs"`
	SentFlood         uint32  `json:"sentFlood"`
	SentDirect        uint32  `json:"sentDirect"`
	ReceivedFlood     uint32  `json:"recvFlood"`
	ReceivedDirect    uint32  `json:"recvDirect"`
	FullEvents        uint16  `json:"fullEvents"`
	LastSNR           float64 `json:"lastSnr"` // dB, raw i16 / 4.0
	DirectDuplicates  uint16  `json:"directDups"`
	FloodDuplicates   uint16  `json:"floodDups"`
}

// SelfInfo is the device's own identity and radio configuration,
// delivered in response to session start.
type SelfInfo struct {
	AdvType      uint8    `json:"advType"`
	TxPower      uint8    `json:"txPower"`
	MaxTxPower   uint8    `json:"maxTxPower"`
	PublicKey    HexBytes `json:"publicKey"` // 32 bytes
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	RadioFreqMHz float64  `json:"radioFreq"`
	RadioBWKHz   float64  `json:"radioBw"`
	RadioSF      uint8    `json:"radioSf"`
	RadioCR      uint8    `json:"radioCr"`
	Name         string   `json:"name"`
}

// DeviceInfo is the firmware and model report from a device query.
type DeviceInfo struct {
	FirmwareVerCode  uint8  `json:"firmwareVerCode"`
	MaxContacts      int    `json:"maxContacts"`
	MaxGroupChannels int    `json:"maxGroupChannels"`
	BLEPin           uint32 `json:"blePin"`
	FirmwareBuild    string `json:"firmwareBuild"`
	Model            string `json:"model"`
	FirmwareVersion  string `json:"firmwareVersion"`
}

// ConnectionPhase is the session connection lifecycle phase.
type ConnectionPhase string

const (
	PhaseDisconnected ConnectionPhase = "DISCONNECTED"
	PhaseConnecting   ConnectionPhase = "CONNECTING"
	PhaseConnected    ConnectionPhase = "CONNECTED"
	PhaseReconnecting ConnectionPhase = "RECONNECTING"
	PhaseFailed       ConnectionPhase = "FAILED"
)

// ConnectionState is the session's connection state. Attempt is only
// meaningful while reconnecting, Err only when failed.
type ConnectionState struct {
	Phase   ConnectionPhase `json:"phase"`
	Attempt int             `json:"attempt,omitempty"`
	Err     error           `json:"-"`
	Since   time.Time       `json:"since"`
}
