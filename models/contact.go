package models

import (
	"encoding/hex"
	"time"
)

// Contact is one entry of the device contact table as mirrored on the
// client. Keyed by the full 32-byte public key.
type Contact struct {
	PublicKey  HexBytes  `json:"publicKey"` // 32 bytes
	Type       uint8     `json:"type"`
	Flags      uint8     `json:"flags"`
	OutPathLen int8      `json:"outPathLen"` // -1 means flood routing
	OutPath    HexBytes  `json:"outPath,omitempty"`
	Name       string    `json:"name"`
	LastAdvert time.Time `json:"lastAdvert"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	LastMod    time.Time `json:"lastMod"`
}

// Key returns the hex form of the full public key, the projection's map
// key.
func (c Contact) Key() string {
	return hex.EncodeToString(c.PublicKey)
}

// FloodRouted reports whether the contact currently has no learned path.
func (c Contact) FloodRouted() bool {
	return c.OutPathLen < 0
}

// Contact type values used by the device.
const (
	ContactTypeChat     uint8 = 1
	ContactTypeRepeater uint8 = 2
	ContactTypeRoom     uint8 = 3
	ContactTypeSensor   uint8 = 4
)
