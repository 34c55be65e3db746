package models

// TraceInfo is a decoded trace path: the tag and auth code echoed from
// the request plus the node path the packet travelled.
type TraceInfo struct {
	Tag      uint32      `json:"tag"`
	AuthCode uint32      `json:"authCode"`
	Flags    uint8       `json:"flags"`
	Path     []TraceNode `json:"path"`
}

// TraceNode is one hop of a trace path. Hash is nil for the destination
// node; every path ends with exactly one such node.
//
// Known protocol limitation: with 1-byte hashes the value 0xFF doubles as
// the "no hash" sentinel, so a node whose hash genuinely is 0xFF decodes
// as a destination marker. The firmware behaves the same way.
type TraceNode struct {
	Hash HexBytes `json:"hash,omitempty"` // nil = destination
	SNR  float64  `json:"snr"`            // dB, raw byte / 4.0
}

// HashWidth returns the per-hop hash width in bytes selected by the
// trace flags (low two bits).
func (t TraceInfo) HashWidth() int {
	return TraceHashWidth(t.Flags)
}

// TraceHashWidth maps trace flag bits to a hash width of 1, 2, 4 or 8
// bytes.
func TraceHashWidth(flags uint8) int {
	return 1 << (flags & 0x03)
}
