package protocol

import "github.com/mikewren/PocketMesh-sub010/models"

// Class tells the session whether a decoded event answers an outstanding
// command or arrived on the device's own initiative.
type Class int

const (
	// Solicited responses answer a preceding command.
	Solicited Class = iota
	// Push notifications arrive unsolicited.
	Push
)

// DecoderFunc turns a frame payload (code already stripped) into a typed
// event. Implementations must not panic on malformed input; they return
// a ParseFailure event instead.
type DecoderFunc func(payload []byte) models.Event

// Entry is one registry row: the decoder for a response code and its
// classification.
type Entry struct {
	Decode DecoderFunc
	Class  Class
}

// registry maps response and push codes to their decoders. Supporting a
// new code takes one row here and one decoder; the dispatch loop is
// untouched.
var registry = map[byte]Entry{
	RespOK:             {decodeOK, Solicited},
	RespErr:            {decodeErr, Solicited},
	RespContactsStart:  {decodeContactsStart, Solicited},
	RespContact:        {decodeContact, Solicited},
	RespContactsEnd:    {decodeContactsEnd, Solicited},
	RespSelfInfo:       {decodeSelfInfo, Solicited},
	RespSent:           {decodeSent, Solicited},
	RespContactMsg:     {decodeContactMsg, Solicited},
	RespChannelMsg:     {decodeChannelMsg, Solicited},
	RespCurrTime:       {decodeCurrTime, Solicited},
	RespNoMoreMessages: {decodeNoMoreMessages, Solicited},
	RespExportContact:  {decodeExportContact, Solicited},
	RespBattery:        {decodeBattery, Solicited},
	RespDeviceInfo:     {decodeDeviceInfo, Solicited},
	RespPrivateKey:     {decodePrivateKey, Solicited},
	RespDisabled:       {decodeDisabled, Solicited},
	RespChannelInfo:    {decodeChannelInfo, Solicited},
	RespSignStart:      {decodeSignStart, Solicited},
	RespSignature:      {decodeSignature, Solicited},
	RespCustomVars:     {decodeCustomVars, Solicited},
	RespCoreStats:      {decodeCoreStats, Solicited},
	RespRadioStats:     {decodeRadioStats, Solicited},
	RespPacketStats:    {decodePacketStats, Solicited},

	PushAdvertisement:   {decodeAdvertisement, Push},
	PushPathUpdated:     {decodePathUpdated, Push},
	PushSendConfirmed:   {decodeSendConfirmed, Push},
	PushMessagesWaiting: {decodeMessagesWaiting, Push},
	PushRawData:         {decodeRawData, Push},
	PushLoginSuccess:    {decodeLoginSuccess, Push},
	PushLoginFail:       {decodeLoginFail, Push},
	PushStatusResponse:  {decodeStatusResponse, Push},
	PushLogRxData:       {decodeLogData, Push},
	PushTraceData:       {decodeTraceData, Push},
	PushNewContact:      {decodeNewContact, Push},
	PushTelemetry:       {decodeTelemetryPush, Push},
	PushBinaryResponse:  {decodeBinaryResponse, Push},
	PushPathResponse:    {decodePathResponse, Push},
	PushControlData:     {decodeControlData, Push},
	PushContactsFull:    {decodeContactsFull, Push},
	PushContactDeleted:  {decodeContactDeleted, Push},
}

// Lookup returns the registry entry for a response code.
func Lookup(code byte) (Entry, bool) {
	ent, ok := registry[code]
	return ent, ok
}

// IsPush reports whether a code is in the unsolicited range.
func IsPush(code byte) bool {
	return code >= PushCodeFloor
}
