package protocol

import (
	"encoding/binary"

	"github.com/mikewren/PocketMesh-sub010/models"
)

// traceHeaderSize is the fixed trace header: reserved(1), path length in
// hash-bytes(1), flags(1), tag(4), auth code(4).
const traceHeaderSize = 11

// decodeTraceData decodes a trace path payload.
//
// After the fixed header come pathLen hash bytes, then one SNR byte per
// hop plus a final SNR byte for the destination (raw signed byte / 4.0
// dB). The flags' low two bits select the per-hop hash width: 1, 2, 4 or
// 8 bytes; hop count is pathLen / hashWidth.
//
// The decoded path always ends with exactly one destination node whose
// hash is absent. In 1-byte mode a hash byte of 0xFF is read as "no
// hash" wherever it appears; the firmware uses the same sentinel, so a
// genuine 0xFF hash is indistinguishable. Preserved as-is, see
// models.TraceNode.
func decodeTraceData(payload []byte) models.Event {
	// header plus at least the destination SNR byte
	if len(payload) < traceHeaderSize+1 {
		return parseFail(PushTraceData, payload, "TraceData too short")
	}

	pathLen := int(payload[1])
	flags := payload[2]
	hashWidth := models.TraceHashWidth(flags)

	if pathLen%hashWidth != 0 {
		return parseFail(PushTraceData, payload, "TraceData path length not a multiple of hash width")
	}
	hopCount := pathLen / hashWidth

	// hashes, one SNR per hop, one destination SNR
	if len(payload) < traceHeaderSize+pathLen+hopCount+1 {
		return parseFail(PushTraceData, payload, "TraceData path truncated")
	}

	info := models.TraceInfo{
		Tag:      binary.LittleEndian.Uint32(payload[3:]),
		AuthCode: binary.LittleEndian.Uint32(payload[7:]),
		Flags:    flags,
		Path:     make([]models.TraceNode, 0, hopCount+1),
	}

	hashes := payload[traceHeaderSize : traceHeaderSize+pathLen]
	snrs := payload[traceHeaderSize+pathLen:]

	for hop := 0; hop < hopCount; hop++ {
		h := hashes[hop*hashWidth : (hop+1)*hashWidth]
		node := models.TraceNode{SNR: snr(snrs[hop])}
		if !(hashWidth == 1 && h[0] == 0xFF) {
			node.Hash = append(models.HexBytes(nil), h...)
		}
		info.Path = append(info.Path, node)
	}

	// destination node, hash always absent
	info.Path = append(info.Path, models.TraceNode{SNR: snr(snrs[hopCount])})

	return models.TraceData{Trace: info}
}
