package protocol

import (
	"encoding/hex"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikewren/PocketMesh-sub010/models"
)

// Reference vectors were captured from a live device exchange at
// timestamp 2024-01-01 00:00:00 UTC.
var (
	refTime = time.Unix(1704067200, 0).UTC()
	refDst  = mustHex("0123456789AB")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestAppStart(t *testing.T) {
	want := append([]byte{0x01, 0x03}, []byte("      MCore")...)
	assert.Equal(t, want, AppStart("MCore"))
}

func TestDeviceQuery(t *testing.T) {
	assert.Equal(t, []byte{0x16, 0x03}, DeviceQuery())
}

func TestSimpleCommands(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"get battery", GetBattery(), []byte{0x14}},
		{"get time", GetTime(), []byte{0x05}},
		{"get contacts", GetContacts(), []byte{0x04}},
		{"get message", GetMessage(), []byte{0x0A}},
		{"send advertisement", SendAdvertisement(false), []byte{0x07}},
		{"send advertisement flood", SendAdvertisement(true), []byte{0x07, 0x01}},
		{"reboot", Reboot(), append([]byte{0x13}, "reboot"...)},
		{"export private key", ExportPrivateKey(), []byte{0x17}},
		{"sign start", SignStart(), []byte{0x21}},
		{"sign finish", SignFinish(), []byte{0x23}},
		{"get channel 0", GetChannel(0), []byte{0x1F, 0x00}},
		{"get stats core", GetStats(models.StatsAreaCore), []byte{0x38, 0x00}},
		{"get stats radio", GetStats(models.StatsAreaRadio), []byte{0x38, 0x01}},
		{"get stats packets", GetStats(models.StatsAreaPackets), []byte{0x38, 0x02}},
		{"get self telemetry", GetSelfTelemetry(), []byte{0x27, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestSetTime(t *testing.T) {
	// 1704067200 = 0x65920080 little-endian
	want := []byte{0x06, 0x80, 0x00, 0x92, 0x65}
	assert.Equal(t, want, SetTime(refTime))
}

func TestSetName(t *testing.T) {
	assert.Equal(t, append([]byte{0x08}, "TestNode"...), SetName("TestNode"))
}

func TestSetCoords(t *testing.T) {
	// San Francisco: lat 37.7749, lon -122.4194, scaled by 1e6
	want := []byte{
		0x0E,
		0x34, 0x66, 0x40, 0x02, // 37774900
		0x38, 0x07, 0xB4, 0xF8, // -122419400
		0x00, 0x00, 0x00, 0x00, // reserved
	}
	assert.Equal(t, want, SetCoords(37.7749, -122.4194))
}

func TestSetTxPower(t *testing.T) {
	assert.Equal(t, []byte{0x0C, 0x14, 0x00, 0x00, 0x00}, SetTxPower(20))
}

func TestSetRadio(t *testing.T) {
	// freq 906.875 MHz -> 906875, bw 250.0 kHz -> 250000
	want := []byte{
		0x0B,
		0x7B, 0xD6, 0x0D, 0x00,
		0x90, 0xD0, 0x03, 0x00,
		0x0B, 0x08,
	}
	assert.Equal(t, want, SetRadio(906.875, 250.0, 11, 8))
}

func TestSendMessage(t *testing.T) {
	want := append([]byte{0x02, 0x00, 0x00, 0x80, 0x00, 0x92, 0x65}, refDst...)
	want = append(want, "Hello"...)
	got := SendMessage(models.MessageTypePlain, 0, refTime, refDst, "Hello")
	assert.Equal(t, want, got)
}

func TestSendMessage_CommandType(t *testing.T) {
	want := append([]byte{0x02, 0x01, 0x00, 0x80, 0x00, 0x92, 0x65}, refDst...)
	want = append(want, "status"...)
	got := SendMessage(models.MessageTypeCommand, 0, refTime, refDst, "status")
	assert.Equal(t, want, got)
}

func TestSendMessage_TruncatesDstToPrefix(t *testing.T) {
	full := make([]byte, 32)
	copy(full, refDst)
	got := SendMessage(models.MessageTypePlain, 0, refTime, full, "x")
	assert.Equal(t, refDst, got[7:13])
	assert.Equal(t, byte('x'), got[13])
	assert.Len(t, got, 14)
}

func TestSendChannelMessage(t *testing.T) {
	want := append([]byte{0x03, 0x00, 0x00, 0x80, 0x00, 0x92, 0x65}, "Hi"...)
	got := SendChannelMessage(models.MessageTypePlain, 0, refTime, "Hi")
	assert.Equal(t, want, got)
}

func TestSendLogin(t *testing.T) {
	got := SendLogin(refDst, "secret")
	require.Len(t, got, 1+32+6)
	assert.Equal(t, byte(0x1A), got[0])
	assert.Equal(t, refDst, got[1:7])
	// prefix destinations are zero-padded to key width
	assert.Equal(t, make([]byte, 26), got[7:33])
	assert.Equal(t, []byte("secret"), got[33:])
}

func TestSendLogout(t *testing.T) {
	got := SendLogout(refDst)
	require.Len(t, got, 33)
	assert.Equal(t, byte(0x1D), got[0])
	assert.Equal(t, refDst, got[1:7])
}

func TestSendStatusRequest(t *testing.T) {
	got := SendStatusRequest(refDst)
	require.Len(t, got, 33)
	assert.Equal(t, byte(0x1B), got[0])
}

func TestSetChannel(t *testing.T) {
	secret := make([]byte, 16)
	for i := range secret {
		secret[i] = byte(i)
	}
	got := SetChannel(0, "General", secret)
	require.Len(t, got, 2+32+16)
	assert.Equal(t, []byte{0x20, 0x00}, got[:2])
	assert.Equal(t, []byte("General"), got[2:9])
	assert.Equal(t, make([]byte, 25), got[9:34])
	assert.Equal(t, secret, got[34:])
}

func TestPathDiscovery(t *testing.T) {
	got := PathDiscovery(refDst)
	require.Len(t, got, 34)
	assert.Equal(t, []byte{0x34, 0x00}, got[:2])
	assert.Equal(t, refDst, got[2:8])
}

func TestSendTrace(t *testing.T) {
	want := []byte{
		0x24,
		0x39, 0x30, 0x00, 0x00, // tag 12345
		0x32, 0x09, 0x01, 0x00, // auth 67890
		0x00,
	}
	assert.Equal(t, want, SendTrace(12345, 67890, 0, nil))
}

func TestSendTrace_WithPath(t *testing.T) {
	got := SendTrace(1, 2, 0, []byte{0xAA, 0xBB})
	assert.Equal(t, []byte{0xAA, 0xBB}, got[10:])
}

func TestGetContactsSince(t *testing.T) {
	got := GetContactsSince(refTime)
	assert.Equal(t, []byte{0x04, 0x80, 0x00, 0x92, 0x65}, got)
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"fits", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"ascii cut", "hello", 3, "hel"},
		{"empty", "", 4, ""},
		{"multibyte preserved", "héllo", 3, "hé"},
		{"multibyte boundary cut", "héllo", 2, "h"},
		{"emoji not split", "a😀b", 4, "a"},
		{"emoji fits", "a😀b", 5, "a😀"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateUTF8(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.max)
		})
	}
}
