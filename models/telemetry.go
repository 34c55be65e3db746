package models

// ReadingKind identifies the sensor type of one telemetry reading,
// following the Cayenne LPP type codes.
type ReadingKind uint8

const (
	ReadingDigitalInput  ReadingKind = 0x00
	ReadingDigitalOutput ReadingKind = 0x01
	ReadingAnalogInput   ReadingKind = 0x02
	ReadingAnalogOutput  ReadingKind = 0x03
	ReadingIlluminance   ReadingKind = 0x65
	ReadingPresence      ReadingKind = 0x66
	ReadingTemperature   ReadingKind = 0x67
	ReadingHumidity      ReadingKind = 0x68
	ReadingAccelerometer ReadingKind = 0x71
	ReadingBarometer     ReadingKind = 0x73
	ReadingVoltage       ReadingKind = 0x74
	ReadingCurrent       ReadingKind = 0x75
	ReadingGPS           ReadingKind = 0x88
)

// Reading is one decoded sensor value. Scalar kinds use Value; the
// accelerometer and GPS kinds use Values (x/y/z and lat/lon/alt).
type Reading struct {
	Channel uint8       `json:"channel"`
	Kind    ReadingKind `json:"kind"`
	Value   float64     `json:"value,omitempty"`
	Values  []float64   `json:"values,omitempty"`
}

// MinMaxAvgEntry is one aggregated sensor series: minimum, maximum and
// average of a reading over the device's sampling window.
type MinMaxAvgEntry struct {
	Channel uint8       `json:"channel"`
	Kind    ReadingKind `json:"kind"`
	Min     float64     `json:"min"`
	Max     float64     `json:"max"`
	Avg     float64     `json:"avg"`
}

// AccessEntry is one access-control record of a repeater or room server.
type AccessEntry struct {
	PubKeyPrefix HexBytes `json:"pubKeyPrefix"` // 6 bytes
	Permissions  uint8    `json:"permissions"`
}

// Neighbour is one entry of a node's neighbour table.
type Neighbour struct {
	PubKeyPrefix HexBytes `json:"pubKeyPrefix"` // 6 bytes
	HeardSecsAgo uint32   `json:"heardSecsAgo"`
	SNR          float64  `json:"snr"` // dB, raw byte / 4.0
}
