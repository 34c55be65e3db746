package protocol

import (
	"encoding/binary"
	"time"
	"unicode/utf8"

	"github.com/mikewren/PocketMesh-sub010/models"
)

// Command encoders. All pure transforms: bytes in, frame out, no side
// effects. Multi-byte fields are little-endian, timestamps are Unix
// seconds as u32, coordinates are scaled by 1e6.

// AppStart builds the session-initialization frame: command code,
// protocol version, six reserved bytes, then the UTF-8 client
// identifier.
func AppStart(clientID string) []byte {
	frame := make([]byte, 0, 8+len(clientID))
	frame = append(frame, CmdAppStart, ProtocolVersion)
	frame = append(frame, []byte("      ")...)
	frame = append(frame, clientID...)
	return frame
}

// DeviceQuery builds the device metadata query.
func DeviceQuery() []byte {
	return []byte{CmdDeviceQuery, ProtocolVersion}
}

// GetBattery builds the battery voltage query.
func GetBattery() []byte {
	return []byte{CmdGetBattery}
}

// GetTime builds the device clock query.
func GetTime() []byte {
	return []byte{CmdGetTime}
}

// SetTime builds the clock-set command.
func SetTime(t time.Time) []byte {
	frame := make([]byte, 5)
	frame[0] = CmdSetTime
	binary.LittleEndian.PutUint32(frame[1:], uint32(t.Unix()))
	return frame
}

// SetName builds the node-name command.
func SetName(name string) []byte {
	return append([]byte{CmdSetName}, name...)
}

// SetCoords builds the coordinate-set command. Latitude and longitude
// are encoded as signed integers scaled by 1e6 (six decimal places).
func SetCoords(lat, lon float64) []byte {
	frame := make([]byte, 13)
	frame[0] = CmdSetCoords
	binary.LittleEndian.PutUint32(frame[1:], uint32(int32(lat*1e6)))
	binary.LittleEndian.PutUint32(frame[5:], uint32(int32(lon*1e6)))
	// trailing 4 reserved bytes stay zero
	return frame
}

// SetTxPower builds the transmit-power command.
func SetTxPower(dbm int) []byte {
	frame := make([]byte, 5)
	frame[0] = CmdSetTxPower
	binary.LittleEndian.PutUint32(frame[1:], uint32(int32(dbm)))
	return frame
}

// SetRadio builds the radio-parameter command. Frequency (MHz) and
// bandwidth (kHz) are scaled by 1000.
func SetRadio(freqMHz, bwKHz float64, sf, cr uint8) []byte {
	frame := make([]byte, 11)
	frame[0] = CmdSetRadio
	binary.LittleEndian.PutUint32(frame[1:], uint32(int32(freqMHz*1000)))
	binary.LittleEndian.PutUint32(frame[5:], uint32(int32(bwKHz*1000)))
	frame[9] = sf
	frame[10] = cr
	return frame
}

// SendAdvertisement builds the self-advertisement command. With flood
// set the advert is broadcast along all paths.
func SendAdvertisement(flood bool) []byte {
	if flood {
		return []byte{CmdSendAdvertisement, 0x01}
	}
	return []byte{CmdSendAdvertisement}
}

// Reboot builds the reboot command. The literal suffix is required by
// the firmware as a confirmation token.
func Reboot() []byte {
	return append([]byte{CmdReboot}, "reboot"...)
}

// GetContacts builds the full contact-list fetch.
func GetContacts() []byte {
	return []byte{CmdGetContacts}
}

// GetContactsSince builds the incremental contact fetch: only contacts
// modified at or after the watermark are returned.
func GetContactsSince(since time.Time) []byte {
	frame := make([]byte, 5)
	frame[0] = CmdGetContacts
	binary.LittleEndian.PutUint32(frame[1:], uint32(since.Unix()))
	return frame
}

// GetMessage builds the fetch for one queued message.
func GetMessage() []byte {
	return []byte{CmdGetMessage}
}

// ResetPath builds the command that drops the learned route to dst and
// falls back to flood routing.
func ResetPath(dst []byte) []byte {
	return append([]byte{CmdResetPath}, padKey(dst)...)
}

// SendMessage builds a direct text message frame: message type, retry
// attempt, timestamp, 6-byte destination key prefix, UTF-8 text.
func SendMessage(msgType models.MessageType, attempt uint8, t time.Time, dst []byte, text string) []byte {
	frame := make([]byte, 0, 13+len(text))
	frame = append(frame, CmdSendMessage, byte(msgType), attempt)
	frame = appendUint32(frame, uint32(t.Unix()))
	frame = append(frame, keyPrefix(dst)...)
	frame = append(frame, text...)
	return frame
}

// SendChannelMessage builds a group-channel text message frame.
func SendChannelMessage(msgType models.MessageType, channel uint8, t time.Time, text string) []byte {
	frame := make([]byte, 0, 7+len(text))
	frame = append(frame, CmdSendChannelMsg, byte(msgType), channel)
	frame = appendUint32(frame, uint32(t.Unix()))
	frame = append(frame, text...)
	return frame
}

// SendLogin builds the remote-node login frame: 32-byte destination key
// (zero-padded) followed by the password.
func SendLogin(dst []byte, password string) []byte {
	frame := append([]byte{CmdSendLogin}, padKey(dst)...)
	return append(frame, password...)
}

// SendLogout builds the remote-node logout frame.
func SendLogout(dst []byte) []byte {
	return append([]byte{CmdSendLogout}, padKey(dst)...)
}

// SendStatusRequest builds the remote status query frame.
func SendStatusRequest(dst []byte) []byte {
	return append([]byte{CmdSendStatusRequest}, padKey(dst)...)
}

// GetChannel builds the channel-slot query.
func GetChannel(index uint8) []byte {
	return []byte{CmdGetChannel, index}
}

// SetChannel builds the channel-slot set command: index, fixed-width
// name, 16-byte shared secret. The name is truncated without splitting a
// UTF-8 code point.
func SetChannel(index uint8, name string, secret []byte) []byte {
	frame := make([]byte, 0, 2+ChannelNameSize+ChannelSecretSize)
	frame = append(frame, CmdSetChannel, index)
	frame = append(frame, padString(name, ChannelNameSize)...)
	frame = append(frame, padBytes(secret, ChannelSecretSize)...)
	return frame
}

// GetStats builds the statistics query for one area.
func GetStats(area models.StatsArea) []byte {
	return []byte{CmdGetStats, byte(area)}
}

// GetSelfTelemetry builds the self-telemetry query.
func GetSelfTelemetry() []byte {
	return []byte{CmdGetSelfTelemetry, 0x00, 0x00, 0x00}
}

// ExportPrivateKey builds the identity-key export command.
func ExportPrivateKey() []byte {
	return []byte{CmdExportPrivateKey}
}

// SignStart opens a signing exchange.
func SignStart() []byte {
	return []byte{CmdSignStart}
}

// SignData carries one chunk of the data being signed.
func SignData(chunk []byte) []byte {
	return append([]byte{CmdSignData}, chunk...)
}

// SignFinish closes the signing exchange and requests the signature.
func SignFinish() []byte {
	return []byte{CmdSignFinish}
}

// PathDiscovery builds the route discovery request for dst.
func PathDiscovery(dst []byte) []byte {
	frame := []byte{CmdPathDiscovery, 0x00}
	return append(frame, padKey(dst)...)
}

// SendTrace builds a trace-route frame. Path is optional: one hash byte
// per hop to route along, empty for flood.
func SendTrace(tag, authCode uint32, flags uint8, path []byte) []byte {
	frame := make([]byte, 0, 10+len(path))
	frame = append(frame, CmdSendTrace)
	frame = appendUint32(frame, tag)
	frame = appendUint32(frame, authCode)
	frame = append(frame, flags)
	frame = append(frame, path...)
	return frame
}

func appendUint32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

// padKey zero-pads or truncates to the full 32-byte key width.
func padKey(key []byte) []byte {
	return padBytes(key, PublicKeySize)
}

// keyPrefix truncates or zero-pads to the 6-byte addressing prefix.
func keyPrefix(key []byte) []byte {
	return padBytes(key, KeyPrefixSize)
}

func padBytes(b []byte, width int) []byte {
	out := make([]byte, width)
	copy(out, b)
	return out
}

// padString fits s into a zero-padded fixed-width field. Truncation
// backs up to the last code-point boundary so a multi-byte UTF-8
// sequence is never split.
func padString(s string, width int) []byte {
	out := make([]byte, width)
	copy(out, TruncateUTF8(s, width))
	return out
}

// TruncateUTF8 shortens s to at most max bytes without splitting a
// multi-byte code point.
func TruncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
