package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikewren/PocketMesh-sub010/models"
)

func traceFrame(tag, auth uint32, flags uint8, hashes, snrs []byte) []byte {
	frame := []byte{PushTraceData, 0x00, byte(len(hashes)), flags}
	frame = binary.LittleEndian.AppendUint32(frame, tag)
	frame = binary.LittleEndian.AppendUint32(frame, auth)
	frame = append(frame, hashes...)
	frame = append(frame, snrs...)
	return frame
}

func TestDecodeTrace_TwoHops(t *testing.T) {
	// two 1-byte hop hashes plus the destination SNR
	frame := traceFrame(12345, 67890, 0,
		[]byte{0xA1, 0xB2},
		[]byte{sbyte(10), sbyte(-6), sbyte(40)})

	ev := Decode(frame)
	td, ok := ev.(models.TraceData)
	require.True(t, ok)

	tr := td.Trace
	assert.Equal(t, uint32(12345), tr.Tag)
	assert.Equal(t, uint32(67890), tr.AuthCode)
	require.Len(t, tr.Path, 3)

	assert.Equal(t, models.HexBytes{0xA1}, tr.Path[0].Hash)
	assert.InDelta(t, 2.5, tr.Path[0].SNR, 1e-9)
	assert.Equal(t, models.HexBytes{0xB2}, tr.Path[1].Hash)
	assert.InDelta(t, -1.5, tr.Path[1].SNR, 1e-9)

	// destination node carries only reception quality
	assert.Nil(t, tr.Path[2].Hash)
	assert.InDelta(t, 10.0, tr.Path[2].SNR, 1e-9)
}

func TestDecodeTrace_DirectDelivery(t *testing.T) {
	// empty path: only the destination heard the trace
	frame := traceFrame(7, 0, 0, nil, []byte{sbyte(20)})
	td := Decode(frame).(models.TraceData)
	require.Len(t, td.Trace.Path, 1)
	assert.Nil(t, td.Trace.Path[0].Hash)
	assert.InDelta(t, 5.0, td.Trace.Path[0].SNR, 1e-9)
}

func TestDecodeTrace_HashWidths(t *testing.T) {
	tests := []struct {
		flags uint8
		width int
	}{
		{0x00, 1},
		{0x01, 2},
		{0x02, 4},
		{0x03, 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.width, models.TraceHashWidth(tt.flags))

		hashes := make([]byte, 2*tt.width)
		for i := range hashes {
			hashes[i] = byte(i + 1)
		}
		frame := traceFrame(1, 0, tt.flags, hashes, []byte{4, 8, 12})

		td, ok := Decode(frame).(models.TraceData)
		require.True(t, ok, "flags 0x%02x", tt.flags)
		require.Len(t, td.Trace.Path, 3)
		if tt.width > 1 {
			assert.Len(t, []byte(td.Trace.Path[0].Hash), tt.width)
		}
	}
}

func TestDecodeTrace_MissingHashSentinel(t *testing.T) {
	// 0xFF in 1-byte mode marks a hop that reported no hash
	frame := traceFrame(1, 0, 0,
		[]byte{0xFF, 0xA1, 0xFF},
		[]byte{4, 8, 12, 16})

	td := Decode(frame).(models.TraceData)
	require.Len(t, td.Trace.Path, 4)
	assert.Nil(t, td.Trace.Path[0].Hash)
	assert.Equal(t, models.HexBytes{0xA1}, td.Trace.Path[1].Hash)
	assert.Nil(t, td.Trace.Path[2].Hash)
	assert.Nil(t, td.Trace.Path[3].Hash)
}

func TestDecodeTrace_WideModeKeepsFF(t *testing.T) {
	// the sentinel only applies in 1-byte mode
	frame := traceFrame(1, 0, 0x01, []byte{0xFF, 0xFF}, []byte{4, 8})
	td := Decode(frame).(models.TraceData)
	require.Len(t, td.Trace.Path, 2)
	assert.Equal(t, models.HexBytes{0xFF, 0xFF}, td.Trace.Path[0].Hash)
}

func TestDecodeTrace_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"too short", []byte{PushTraceData, 0x00, 0x01}},
		{"path not multiple of width", traceFrame(1, 0, 0x02, []byte{0xA1, 0xB2, 0xC3}, []byte{4})},
		{"truncated snrs", func() []byte {
			f := traceFrame(1, 0, 0, []byte{0xA1, 0xB2}, []byte{4})
			return f
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf, ok := Decode(tt.frame).(models.ParseFailure)
			require.True(t, ok)
			assert.NotEmpty(t, pf.Reason)
		})
	}
}
