package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/mikewren/PocketMesh-sub010/models"
)

// DecodeLPP decodes a Cayenne LPP sensor payload: repeated records of
// channel byte, type byte and a type-dependent big-endian scaled value.
// Note the value byte order is the opposite of the rest of the protocol.
// On a malformed record the readings decoded so far are returned along
// with the error.
func DecodeLPP(payload []byte) ([]models.Reading, error) {
	var readings []models.Reading

	for off := 0; off < len(payload); {
		if len(payload)-off < 2 {
			return readings, fmt.Errorf("truncated record header at offset %d", off)
		}
		channel := payload[off]
		kind := models.ReadingKind(payload[off+1])
		body := payload[off+2:]
		off += 2

		size := lppValueSize(kind)
		if size < 0 {
			return readings, fmt.Errorf("unknown sensor type 0x%02x", byte(kind))
		}
		if len(body) < size {
			return readings, fmt.Errorf("truncated value for sensor type 0x%02x", byte(kind))
		}

		r := models.Reading{Channel: channel, Kind: kind}
		switch kind {
		case models.ReadingDigitalInput, models.ReadingDigitalOutput, models.ReadingPresence:
			r.Value = float64(body[0])
		case models.ReadingHumidity:
			r.Value = float64(body[0]) / 2.0
		case models.ReadingAnalogInput, models.ReadingAnalogOutput, models.ReadingTemperature:
			r.Value = float64(int16(binary.BigEndian.Uint16(body))) / lppDivisor(kind)
		case models.ReadingIlluminance:
			r.Value = float64(binary.BigEndian.Uint16(body))
		case models.ReadingBarometer, models.ReadingVoltage, models.ReadingCurrent:
			r.Value = float64(binary.BigEndian.Uint16(body)) / lppDivisor(kind)
		case models.ReadingAccelerometer:
			r.Values = []float64{
				float64(int16(binary.BigEndian.Uint16(body[0:]))) / 1000,
				float64(int16(binary.BigEndian.Uint16(body[2:]))) / 1000,
				float64(int16(binary.BigEndian.Uint16(body[4:]))) / 1000,
			}
		case models.ReadingGPS:
			r.Values = []float64{
				float64(int24(body[0:])) / 10000,
				float64(int24(body[3:])) / 10000,
				float64(int24(body[6:])) / 100,
			}
		}

		readings = append(readings, r)
		off += size
	}

	return readings, nil
}

// lppValueSize returns the value width for a sensor type, -1 when the
// type is unknown.
func lppValueSize(kind models.ReadingKind) int {
	switch kind {
	case models.ReadingDigitalInput, models.ReadingDigitalOutput,
		models.ReadingPresence, models.ReadingHumidity:
		return 1
	case models.ReadingAnalogInput, models.ReadingAnalogOutput,
		models.ReadingIlluminance, models.ReadingTemperature,
		models.ReadingBarometer, models.ReadingVoltage, models.ReadingCurrent:
		return 2
	case models.ReadingAccelerometer:
		return 6
	case models.ReadingGPS:
		return 9
	default:
		return -1
	}
}

// lppDivisor returns the scaling divisor for a sensor type's raw value.
func lppDivisor(kind models.ReadingKind) float64 {
	switch kind {
	case models.ReadingTemperature, models.ReadingBarometer:
		return 10
	case models.ReadingHumidity:
		return 2
	case models.ReadingAnalogInput, models.ReadingAnalogOutput, models.ReadingVoltage:
		return 100
	case models.ReadingCurrent:
		return 1000
	default:
		return 1
	}
}

// int24 reads a signed big-endian 24-bit integer.
func int24(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v >= 1<<23 {
		v -= 1 << 24
	}
	return v
}
