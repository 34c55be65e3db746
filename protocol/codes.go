// Package protocol implements the companion wire protocol: command frame
// encoders, response and push decoders, and the dispatch registry.
//
// Frames are [1-byte code][payload]. Multi-byte integers are
// little-endian. Response codes below 0x80 answer a preceding command;
// codes at 0x80 and above are unsolicited pushes.
package protocol

// Command codes (outbound).
const (
	CmdAppStart          byte = 0x01
	CmdSendMessage       byte = 0x02
	CmdSendChannelMsg    byte = 0x03
	CmdGetContacts       byte = 0x04
	CmdGetTime           byte = 0x05
	CmdSetTime           byte = 0x06
	CmdSendAdvertisement byte = 0x07
	CmdSetName           byte = 0x08
	CmdGetMessage        byte = 0x0A
	CmdSetRadio          byte = 0x0B
	CmdSetTxPower        byte = 0x0C
	CmdResetPath         byte = 0x0D
	CmdSetCoords         byte = 0x0E
	CmdReboot            byte = 0x13
	CmdGetBattery        byte = 0x14
	CmdDeviceQuery       byte = 0x16
	CmdExportPrivateKey  byte = 0x17
	CmdSendLogin         byte = 0x1A
	CmdSendStatusRequest byte = 0x1B
	CmdSendLogout        byte = 0x1D
	CmdGetChannel        byte = 0x1F
	CmdSetChannel        byte = 0x20
	CmdSignStart         byte = 0x21
	CmdSignData          byte = 0x22
	CmdSignFinish        byte = 0x23
	CmdSendTrace         byte = 0x24
	CmdGetSelfTelemetry  byte = 0x27
	CmdPathDiscovery     byte = 0x34
	CmdGetStats          byte = 0x38
)

// Solicited response codes (inbound, < 0x80).
const (
	RespOK             byte = 0x00
	RespErr            byte = 0x01
	RespContactsStart  byte = 0x02
	RespContact        byte = 0x03
	RespContactsEnd    byte = 0x04
	RespSelfInfo       byte = 0x05
	RespSent           byte = 0x06
	RespContactMsg     byte = 0x07
	RespChannelMsg     byte = 0x08
	RespCurrTime       byte = 0x09
	RespNoMoreMessages byte = 0x0A
	RespExportContact  byte = 0x0B
	RespBattery        byte = 0x0C
	RespDeviceInfo     byte = 0x0D
	RespPrivateKey     byte = 0x0E
	RespDisabled       byte = 0x0F
	RespChannelInfo    byte = 0x10
	RespSignStart      byte = 0x11
	RespSignature      byte = 0x12
	RespCustomVars     byte = 0x13
	RespCoreStats      byte = 0x14
	RespRadioStats     byte = 0x15
	RespPacketStats    byte = 0x16
)

// Push notification codes (inbound, >= 0x80). Pushes arrive without a
// preceding command.
const (
	PushAdvertisement   byte = 0x80
	PushPathUpdated     byte = 0x81
	PushSendConfirmed   byte = 0x82
	PushMessagesWaiting byte = 0x83
	PushRawData         byte = 0x84
	PushLoginSuccess    byte = 0x85
	PushLoginFail       byte = 0x86
	PushStatusResponse  byte = 0x87
	PushLogRxData       byte = 0x88
	PushTraceData       byte = 0x89
	PushNewContact      byte = 0x8A
	PushTelemetry       byte = 0x8B
	PushBinaryResponse  byte = 0x8C
	PushPathResponse    byte = 0x8D
	PushControlData     byte = 0x8E
	PushContactsFull    byte = 0x8F
	PushContactDeleted  byte = 0x90
)

// Binary response discriminants, carried as the first payload byte after
// the key prefix of a PushBinaryResponse frame.
const (
	BinaryTypeStatus     byte = 0x01
	BinaryTypeTelemetry  byte = 0x03
	BinaryTypeMinMaxAvg  byte = 0x04
	BinaryTypeAccessList byte = 0x05
	BinaryTypeNeighbours byte = 0x06
)

// Protocol constants.
const (
	// ProtocolVersion is sent with AppStart and DeviceQuery.
	ProtocolVersion byte = 3

	// PublicKeySize is the full node identity key length.
	PublicKeySize = 32

	// KeyPrefixSize is the short key prefix used in message addressing.
	KeyPrefixSize = 6

	// AckCodeSize is the delivery acknowledgement correlation length.
	AckCodeSize = 4

	// ChannelSecretSize is the group channel shared secret length.
	ChannelSecretSize = 16

	// ChannelNameSize is the fixed channel name field width.
	ChannelNameSize = 32

	// PushCodeFloor is the first push notification code.
	PushCodeFloor byte = 0x80
)
