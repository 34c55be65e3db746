package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/mikewren/PocketMesh-sub010/models"
)

// Fixed layout sizes.
const (
	contactRecordSize  = 147
	selfInfoFixedSize  = 57
	sentInfoSize       = 9
	coreStatsSize      = 9
	radioStatsSize     = 12
	packetStatsSize    = 24
	remoteStatusSize   = 48
	channelInfoSize    = 1 + ChannelNameSize + ChannelSecretSize
	signatureSize      = 64
	privateKeySize     = 64
	deviceInfoMinSize  = 7
	contactMsgMinSize  = 12
	channelMsgMinSize  = 7
	confirmationSize   = 8
	minMaxAvgEntrySize = 8
	accessEntrySize    = 7
	neighbourEntrySize = 11
)

// Decode dispatches an inbound frame through the registry and returns a
// typed event. Malformed input never produces an error or panic: the
// result is a ParseFailure event carrying the offending bytes and a
// diagnostic reason, so the receive loop can keep running.
func Decode(frame []byte) models.Event {
	if len(frame) == 0 {
		return models.ParseFailure{Reason: "empty frame"}
	}
	code, payload := frame[0], frame[1:]
	ent, ok := Lookup(code)
	if !ok {
		return parseFail(code, payload, "unknown response code")
	}
	return ent.Decode(payload)
}

func parseFail(code byte, payload []byte, reason string) models.Event {
	return models.ParseFailure{
		Code:    code,
		Payload: append(models.HexBytes(nil), payload...),
		Reason:  reason,
	}
}

func decodeOK(payload []byte) models.Event {
	return models.Ok{Payload: append(models.HexBytes(nil), payload...)}
}

func decodeErr(payload []byte) models.Event {
	ev := models.CommandFailed{}
	if len(payload) > 0 {
		ev.Code = payload[0]
	}
	return ev
}

func decodeDisabled([]byte) models.Event {
	return models.CommandDisabled{}
}

func decodeContactsStart(payload []byte) models.Event {
	if len(payload) < 4 {
		return parseFail(RespContactsStart, payload, "ContactsStart too short")
	}
	return models.ContactsStart{Count: binary.LittleEndian.Uint32(payload)}
}

func decodeContact(payload []byte) models.Event {
	c, ok := parseContact(payload)
	if !ok {
		return parseFail(RespContact, payload, "Contact too short")
	}
	return models.ContactReceived{Contact: c}
}

func decodeContactsEnd(payload []byte) models.Event {
	if len(payload) < 4 {
		return parseFail(RespContactsEnd, payload, "ContactsEnd too short")
	}
	return models.ContactsEnd{MostRecentLastMod: unixTime(payload)}
}

// parseContact reads the 147-byte contact record: key(32), type(1),
// flags(1), out-path length(1, signed), out-path(64), name(32), last
// advert(4), lat(4), lon(4), lastmod(4).
func parseContact(payload []byte) (models.Contact, bool) {
	if len(payload) < contactRecordSize {
		return models.Contact{}, false
	}
	outPathLen := int8(payload[34])
	c := models.Contact{
		PublicKey:  append(models.HexBytes(nil), payload[0:32]...),
		Type:       payload[32],
		Flags:      payload[33],
		OutPathLen: outPathLen,
		Name:       cString(payload[99:131]),
		LastAdvert: unixTime(payload[131:]),
		Latitude:   coord(payload[135:]),
		Longitude:  coord(payload[139:]),
		LastMod:    unixTime(payload[143:]),
	}
	if outPathLen > 0 && int(outPathLen) <= 64 {
		c.OutPath = append(models.HexBytes(nil), payload[35:35+int(outPathLen)]...)
	}
	return c, true
}

func decodeSelfInfo(payload []byte) models.Event {
	if len(payload) < selfInfoFixedSize {
		return parseFail(RespSelfInfo, payload, "SelfInfo too short")
	}
	return models.SelfInfoEvent{Info: models.SelfInfo{
		AdvType:      payload[0],
		TxPower:      payload[1],
		MaxTxPower:   payload[2],
		PublicKey:    append(models.HexBytes(nil), payload[3:35]...),
		Latitude:     coord(payload[35:]),
		Longitude:    coord(payload[39:]),
		RadioFreqMHz: float64(binary.LittleEndian.Uint32(payload[47:])) / 1000,
		RadioBWKHz:   float64(binary.LittleEndian.Uint32(payload[51:])) / 1000,
		RadioSF:      payload[55],
		RadioCR:      payload[56],
		Name:         string(payload[selfInfoFixedSize:]),
	}}
}

func decodeSent(payload []byte) models.Event {
	if len(payload) < sentInfoSize {
		return parseFail(RespSent, payload, "Sent too short")
	}
	return models.MessageSent{Info: models.MessageSentInfo{
		Type:                   models.MessageType(payload[0]),
		ExpectedAck:            append(models.HexBytes(nil), payload[1:5]...),
		SuggestedTimeoutMillis: binary.LittleEndian.Uint32(payload[5:]),
	}}
}

func decodeContactMsg(payload []byte) models.Event {
	if len(payload) < contactMsgMinSize {
		return parseFail(RespContactMsg, payload, "ContactMessage too short")
	}
	return models.ContactMessage{
		PubKeyPrefix: append(models.HexBytes(nil), payload[0:6]...),
		PathLen:      payload[6],
		TxtType:      payload[7],
		SenderTime:   unixTime(payload[8:]),
		Text:         string(payload[12:]),
	}
}

func decodeChannelMsg(payload []byte) models.Event {
	if len(payload) < channelMsgMinSize {
		return parseFail(RespChannelMsg, payload, "ChannelMessage too short")
	}
	return models.ChannelMessage{
		Channel:    payload[0],
		PathLen:    payload[1],
		TxtType:    payload[2],
		SenderTime: unixTime(payload[3:]),
		Text:       string(payload[7:]),
	}
}

func decodeCurrTime(payload []byte) models.Event {
	if len(payload) < 4 {
		return parseFail(RespCurrTime, payload, "CurrentTime too short")
	}
	return models.CurrentTime{Time: unixTime(payload)}
}

func decodeNoMoreMessages([]byte) models.Event {
	return models.NoMoreMessages{}
}

func decodeExportContact(payload []byte) models.Event {
	if len(payload) == 0 {
		return parseFail(RespExportContact, payload, "ContactURI empty")
	}
	return models.ContactURI{URI: "meshcore://" + hex.EncodeToString(payload)}
}

func decodeBattery(payload []byte) models.Event {
	if len(payload) < 2 {
		return parseFail(RespBattery, payload, "BatteryInfo too short")
	}
	ev := models.BatteryInfo{MilliVolts: binary.LittleEndian.Uint16(payload)}
	// newer firmware appends flash storage usage
	if len(payload) >= 10 {
		ev.StorageUsedKB = binary.LittleEndian.Uint32(payload[2:])
		ev.StorageTotalKB = binary.LittleEndian.Uint32(payload[6:])
	}
	return ev
}

func decodeDeviceInfo(payload []byte) models.Event {
	if len(payload) < deviceInfoMinSize {
		return parseFail(RespDeviceInfo, payload, "DeviceInfo too short")
	}
	info := models.DeviceInfo{
		FirmwareVerCode:  payload[0],
		MaxContacts:      int(payload[1]) * 2,
		MaxGroupChannels: int(payload[2]),
		BLEPin:           binary.LittleEndian.Uint32(payload[3:]),
	}
	rest := payload[deviceInfoMinSize:]
	if len(rest) >= 12 {
		info.FirmwareBuild = cString(rest[:12])
		rest = rest[12:]
	}
	if len(rest) >= 20 {
		info.Model = cString(rest[:20])
		rest = rest[20:]
	}
	info.FirmwareVersion = cString(rest)
	return models.DeviceInfoEvent{Info: info}
}

func decodePrivateKey(payload []byte) models.Event {
	if len(payload) < privateKeySize {
		return parseFail(RespPrivateKey, payload, "PrivateKey too short")
	}
	return models.PrivateKey{Key: append(models.HexBytes(nil), payload[:privateKeySize]...)}
}

func decodeChannelInfo(payload []byte) models.Event {
	if len(payload) < channelInfoSize {
		return parseFail(RespChannelInfo, payload, "ChannelInfo too short")
	}
	return models.ChannelInfoEvent{
		Index:  payload[0],
		Name:   cString(payload[1 : 1+ChannelNameSize]),
		Secret: append(models.HexBytes(nil), payload[1+ChannelNameSize:channelInfoSize]...),
	}
}

func decodeSignStart([]byte) models.Event {
	return models.SignStarted{}
}

func decodeSignature(payload []byte) models.Event {
	if len(payload) < signatureSize {
		return parseFail(RespSignature, payload, "Signature too short")
	}
	return models.Signature{Sig: append(models.HexBytes(nil), payload[:signatureSize]...)}
}

func decodeCustomVars(payload []byte) models.Event {
	vars := make(map[string]string)
	for _, pair := range strings.Split(string(payload), ",") {
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			return parseFail(RespCustomVars, payload, "CustomVars malformed pair")
		}
		vars[k] = v
	}
	return models.CustomVars{Vars: vars}
}

func decodeCoreStats(payload []byte) models.Event {
	if len(payload) < coreStatsSize {
		return parseFail(RespCoreStats, payload, "CoreStats too short")
	}
	return models.CoreStatsEvent{Stats: models.CoreStats{
		BatteryMilliVolts: binary.LittleEndian.Uint16(payload[0:]),
		UptimeSeconds:     binary.LittleEndian.Uint32(payload[2:]),
		ErrorCount:        binary.LittleEndian.Uint16(payload[6:]),
		QueueLength:       payload[8],
	}}
}

func decodeRadioStats(payload []byte) models.Event {
	if len(payload) < radioStatsSize {
		return parseFail(RespRadioStats, payload, "RadioStats too short")
	}
	return models.RadioStatsEvent{Stats: models.RadioStats{
		NoiseFloor:    int16(binary.LittleEndian.Uint16(payload[0:])),
		LastRSSI:      int8(payload[2]),
		LastSNR:       snr(payload[3]),
		TxAirtimeSecs: binary.LittleEndian.Uint32(payload[4:]),
		RxAirtimeSecs: binary.LittleEndian.Uint32(payload[8:]),
	}}
}

func decodePacketStats(payload []byte) models.Event {
	if len(payload) < packetStatsSize {
		return parseFail(RespPacketStats, payload, "PacketStats too short")
	}
	return models.PacketStatsEvent{Stats: models.PacketStats{
		Received:       binary.LittleEndian.Uint32(payload[0:]),
		ReceivedDirect: binary.LittleEndian.Uint32(payload[4:]),
		ReceivedFlood:  binary.LittleEndian.Uint32(payload[8:]),
		Sent:           binary.LittleEndian.Uint32(payload[12:]),
		SentDirect:     binary.LittleEndian.Uint32(payload[16:]),
		SentFlood:      binary.LittleEndian.Uint32(payload[20:]),
	}}
}

// Push decoders.

func decodeAdvertisement(payload []byte) models.Event {
	if len(payload) < PublicKeySize {
		return parseFail(PushAdvertisement, payload, "Advertisement too short")
	}
	return models.Advertisement{PublicKey: append(models.HexBytes(nil), payload[:PublicKeySize]...)}
}

func decodePathUpdated(payload []byte) models.Event {
	if len(payload) < PublicKeySize {
		return parseFail(PushPathUpdated, payload, "PathUpdated too short")
	}
	return models.PathUpdated{PublicKey: append(models.HexBytes(nil), payload[:PublicKeySize]...)}
}

func decodeSendConfirmed(payload []byte) models.Event {
	if len(payload) < confirmationSize {
		return parseFail(PushSendConfirmed, payload, "DeliveryConfirmed too short")
	}
	return models.DeliveryConfirmed{
		AckCode:   append(models.HexBytes(nil), payload[0:4]...),
		RoundTrip: time.Duration(binary.LittleEndian.Uint32(payload[4:])) * time.Millisecond,
	}
}

func decodeMessagesWaiting([]byte) models.Event {
	return models.MessagesWaiting{}
}

func decodeRawData(payload []byte) models.Event {
	if len(payload) < 2 {
		return parseFail(PushRawData, payload, "RawData too short")
	}
	return models.RawData{
		SNR:     snr(payload[0]),
		RSSI:    int8(payload[1]),
		Payload: append(models.HexBytes(nil), payload[2:]...),
	}
}

func decodeLoginSuccess(payload []byte) models.Event {
	if len(payload) < 1 {
		return parseFail(PushLoginSuccess, payload, "LoginSuccess too short")
	}
	ev := models.LoginSuccess{Permissions: payload[0]}
	if len(payload) >= 1+KeyPrefixSize {
		ev.PubKeyPrefix = append(models.HexBytes(nil), payload[1:1+KeyPrefixSize]...)
	}
	return ev
}

func decodeLoginFail(payload []byte) models.Event {
	ev := models.LoginFailed{}
	if len(payload) >= KeyPrefixSize {
		ev.PubKeyPrefix = append(models.HexBytes(nil), payload[:KeyPrefixSize]...)
	}
	return ev
}

func decodeStatusResponse(payload []byte) models.Event {
	if len(payload) < KeyPrefixSize+remoteStatusSize {
		return parseFail(PushStatusResponse, payload, "StatusResponse too short")
	}
	return models.StatusResponse{
		PubKeyPrefix: append(models.HexBytes(nil), payload[:KeyPrefixSize]...),
		Status:       parseRemoteStatus(payload[KeyPrefixSize:]),
	}
}

// parseRemoteStatus reads the 48-byte repeater status block. Caller has
// checked the length.
func parseRemoteStatus(b []byte) models.RemoteStatus {
	return models.RemoteStatus{
		BatteryMilliVolts: binary.LittleEndian.Uint16(b[0:]),
		TxQueueLength:     binary.LittleEndian.Uint16(b[2:]),
		FreeQueueLength:   binary.LittleEndian.Uint16(b[4:]),
		LastRSSI:          int16(binary.LittleEndian.Uint16(b[6:])),
		PacketsReceived:   binary.LittleEndian.Uint32(b[8:]),
		PacketsSent:       binary.LittleEndian.Uint32(b[12:]),
		AirtimeSeconds:    binary.LittleEndian.Uint32(b[16:]),
		UptimeSeconds:     binary.LittleEndian.Uint32(b[20:]),
		SentFlood:         binary.LittleEndian.Uint32(b[24:]),
		SentDirect:        binary.LittleEndian.Uint32(b[28:]),
		ReceivedFlood:     binary.LittleEndian.Uint32(b[32:]),
		ReceivedDirect:    binary.LittleEndian.Uint32(b[36:]),
		FullEvents:        binary.LittleEndian.Uint16(b[40:]),
		LastSNR:           float64(int16(binary.LittleEndian.Uint16(b[42:]))) / 4.0,
		DirectDuplicates:  binary.LittleEndian.Uint16(b[44:]),
		FloodDuplicates:   binary.LittleEndian.Uint16(b[46:]),
	}
}

func decodeLogData(payload []byte) models.Event {
	return models.LogData{Payload: append(models.HexBytes(nil), payload...)}
}

func decodeControlData(payload []byte) models.Event {
	return models.ControlData{Payload: append(models.HexBytes(nil), payload...)}
}

func decodeNewContact(payload []byte) models.Event {
	c, ok := parseContact(payload)
	if !ok {
		return parseFail(PushNewContact, payload, "NewContact too short")
	}
	return models.NewContact{Contact: c}
}

func decodeTelemetryPush(payload []byte) models.Event {
	if len(payload) < KeyPrefixSize {
		return parseFail(PushTelemetry, payload, "Telemetry too short")
	}
	readings, err := DecodeLPP(payload[KeyPrefixSize:])
	if err != nil {
		return parseFail(PushTelemetry, payload, "Telemetry: "+err.Error())
	}
	return models.Telemetry{
		PubKeyPrefix: append(models.HexBytes(nil), payload[:KeyPrefixSize]...),
		Readings:     readings,
	}
}

func decodeBinaryResponse(payload []byte) models.Event {
	if len(payload) < KeyPrefixSize+1 {
		return parseFail(PushBinaryResponse, payload, "BinaryResponse too short")
	}
	prefix := append(models.HexBytes(nil), payload[:KeyPrefixSize]...)
	kind, body := payload[KeyPrefixSize], payload[KeyPrefixSize+1:]

	switch kind {
	case BinaryTypeStatus:
		if len(body) < remoteStatusSize {
			return parseFail(PushBinaryResponse, payload, "BinaryResponse status too short")
		}
		return models.StatusResponse{PubKeyPrefix: prefix, Status: parseRemoteStatus(body)}

	case BinaryTypeTelemetry:
		readings, err := DecodeLPP(body)
		if err != nil {
			return parseFail(PushBinaryResponse, payload, "BinaryResponse telemetry: "+err.Error())
		}
		return models.Telemetry{PubKeyPrefix: prefix, Readings: readings}

	case BinaryTypeMinMaxAvg:
		return decodeMinMaxAvg(prefix, payload, body)

	case BinaryTypeAccessList:
		return decodeAccessList(prefix, payload, body)

	case BinaryTypeNeighbours:
		return decodeNeighbours(prefix, payload, body)

	default:
		return parseFail(PushBinaryResponse, payload, "BinaryResponse unknown type")
	}
}

func decodeMinMaxAvg(prefix models.HexBytes, payload, body []byte) models.Event {
	if len(body)%minMaxAvgEntrySize != 0 {
		return parseFail(PushBinaryResponse, payload, "BinaryResponse min/max/avg truncated")
	}
	entries := make([]models.MinMaxAvgEntry, 0, len(body)/minMaxAvgEntrySize)
	for off := 0; off < len(body); off += minMaxAvgEntrySize {
		kind := models.ReadingKind(body[off+1])
		div := lppDivisor(kind)
		entries = append(entries, models.MinMaxAvgEntry{
			Channel: body[off],
			Kind:    kind,
			Min:     float64(int16(binary.LittleEndian.Uint16(body[off+2:]))) / div,
			Max:     float64(int16(binary.LittleEndian.Uint16(body[off+4:]))) / div,
			Avg:     float64(int16(binary.LittleEndian.Uint16(body[off+6:]))) / div,
		})
	}
	return models.MinMaxAvg{PubKeyPrefix: prefix, Entries: entries}
}

func decodeAccessList(prefix models.HexBytes, payload, body []byte) models.Event {
	if len(body)%accessEntrySize != 0 {
		return parseFail(PushBinaryResponse, payload, "BinaryResponse access list truncated")
	}
	entries := make([]models.AccessEntry, 0, len(body)/accessEntrySize)
	for off := 0; off < len(body); off += accessEntrySize {
		entries = append(entries, models.AccessEntry{
			PubKeyPrefix: append(models.HexBytes(nil), body[off:off+KeyPrefixSize]...),
			Permissions:  body[off+KeyPrefixSize],
		})
	}
	return models.AccessList{PubKeyPrefix: prefix, Entries: entries}
}

func decodeNeighbours(prefix models.HexBytes, payload, body []byte) models.Event {
	if len(body)%neighbourEntrySize != 0 {
		return parseFail(PushBinaryResponse, payload, "BinaryResponse neighbours truncated")
	}
	entries := make([]models.Neighbour, 0, len(body)/neighbourEntrySize)
	for off := 0; off < len(body); off += neighbourEntrySize {
		entries = append(entries, models.Neighbour{
			PubKeyPrefix: append(models.HexBytes(nil), body[off:off+KeyPrefixSize]...),
			HeardSecsAgo: binary.LittleEndian.Uint32(body[off+KeyPrefixSize:]),
			SNR:          snr(body[off+KeyPrefixSize+4]),
		})
	}
	return models.Neighbours{PubKeyPrefix: prefix, Entries: entries}
}

func decodePathResponse(payload []byte) models.Event {
	if len(payload) < KeyPrefixSize+1 {
		return parseFail(PushPathResponse, payload, "PathResponse too short")
	}
	pathLen := int(payload[KeyPrefixSize])
	if len(payload) < KeyPrefixSize+1+pathLen {
		return parseFail(PushPathResponse, payload, "PathResponse path truncated")
	}
	return models.PathDiscoveryResponse{
		PubKeyPrefix: append(models.HexBytes(nil), payload[:KeyPrefixSize]...),
		Path:         append(models.HexBytes(nil), payload[KeyPrefixSize+1:KeyPrefixSize+1+pathLen]...),
	}
}

func decodeContactsFull([]byte) models.Event {
	return models.ContactsFull{}
}

func decodeContactDeleted(payload []byte) models.Event {
	if len(payload) < KeyPrefixSize {
		return parseFail(PushContactDeleted, payload, "ContactDeleted too short")
	}
	return models.ContactDeleted{PubKeyPrefix: append(models.HexBytes(nil), payload[:KeyPrefixSize]...)}
}

// snr converts a raw signed SNR byte to dB.
func snr(raw byte) float64 {
	return float64(int8(raw)) / 4.0
}

func unixTime(b []byte) time.Time {
	return time.Unix(int64(binary.LittleEndian.Uint32(b)), 0).UTC()
}

func coord(b []byte) float64 {
	return float64(int32(binary.LittleEndian.Uint32(b))) / 1e6
}

// cString trims the zero padding of a fixed-width string field.
func cString(b []byte) string {
	return string(trimZero(b))
}

func trimZero(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
