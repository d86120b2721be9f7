// Package gatt decodes the Bluetooth GATT Heart Rate Measurement
// characteristic (0x2A37) of the Heart Rate service (0x180D).
//
// Layout:
//
//	byte 0     flags
//	             bit 0    HR format (0 = uint8, 1 = uint16)
//	             bit 1-2  sensor contact status
//	             bit 3    energy expended present (uint16, kJ)
//	             bit 4    one or more RR intervals present
//	byte 1..   HR (1 or 2 bytes), energy expended (0 or 2 bytes),
//	           then RR intervals as uint16 little-endian in 1/1024 s.
package gatt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Heart Rate service and measurement characteristic UUIDs.
const (
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"
)

// Flag bits of byte 0.
const (
	FlagHRUint16       byte = 1 << 0
	FlagContactDetect  byte = 1 << 1
	FlagContactSupport byte = 1 << 2
	FlagEnergyExpended byte = 1 << 3
	FlagRRPresent      byte = 1 << 4
)

// ErrShortPacket is returned when a packet ends before a field its flags
// announce.
var ErrShortPacket = errors.New("heart rate measurement truncated")

// ContactStatus is the sensor contact state encoded in flag bits 1-2.
type ContactStatus int

const (
	// ContactUnsupported means the sensor does not report contact.
	ContactUnsupported ContactStatus = iota
	// ContactLost means contact is supported but not detected.
	ContactLost
	// ContactDetected means the sensor has skin contact.
	ContactDetected
)

// String returns the contact status name.
func (c ContactStatus) String() string {
	switch c {
	case ContactLost:
		return "lost"
	case ContactDetected:
		return "detected"
	default:
		return "unsupported"
	}
}

// Measurement is a fully decoded Heart Rate Measurement.
type Measurement struct {
	// HeartRate in beats per minute.
	HeartRate uint16
	// Contact is the sensor contact status.
	Contact ContactStatus
	// EnergyExpended in kilojoules, nil when absent.
	EnergyExpended *uint16
	// RR holds raw RR intervals in 1/1024 s, in packet order.
	RR []uint16
}

// IBIs converts RR intervals to milliseconds, rounding up.
func (m *Measurement) IBIs() []int {
	ibis := make([]int, len(m.RR))
	for i, rr := range m.RR {
		ibis[i] = RRToMillis(rr)
	}
	return ibis
}

// RRToMillis converts an RR interval in 1/1024 s to milliseconds,
// rounding up: ceil(v / 1024 * 1000).
func RRToMillis(v uint16) int {
	return (int(v)*1000 + 1023) / 1024
}

// MillisToRR converts milliseconds to an RR interval in 1/1024 s,
// rounding down so that RRToMillis(MillisToRR(ms)) == ms.
func MillisToRR(ms int) uint16 {
	v := ms * 1024 / 1000
	if v > 0xFFFF {
		return 0xFFFF
	}
	if v < 0 {
		return 0
	}
	return uint16(v)
}

// Decode returns the inter-beat intervals in milliseconds carried by a
// Heart Rate Measurement packet, in packet order.
// Packets without RR data yield an empty slice and a nil error.
func Decode(b []byte) ([]int, error) {
	m, err := DecodeMeasurement(b)
	if err != nil {
		return nil, err
	}
	return m.IBIs(), nil
}

// DecodeMeasurement decodes every field of a Heart Rate Measurement.
// A trailing odd byte in the RR area is ignored.
func DecodeMeasurement(b []byte) (*Measurement, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty packet", ErrShortPacket)
	}
	flags := b[0]
	offset := 1
	m := &Measurement{Contact: contactFromFlags(flags)}

	if flags&FlagHRUint16 != 0 {
		if len(b) < offset+2 {
			return nil, fmt.Errorf("%w: uint16 heart rate", ErrShortPacket)
		}
		m.HeartRate = binary.LittleEndian.Uint16(b[offset:])
		offset += 2
	} else {
		if len(b) < offset+1 {
			return nil, fmt.Errorf("%w: uint8 heart rate", ErrShortPacket)
		}
		m.HeartRate = uint16(b[offset])
		offset++
	}

	if flags&FlagEnergyExpended != 0 {
		if len(b) < offset+2 {
			return nil, fmt.Errorf("%w: energy expended", ErrShortPacket)
		}
		ee := binary.LittleEndian.Uint16(b[offset:])
		m.EnergyExpended = &ee
		offset += 2
	}

	if flags&FlagRRPresent == 0 {
		m.RR = []uint16{}
		return m, nil
	}

	n := (len(b) - offset) / 2
	m.RR = make([]uint16, 0, n)
	for ; offset+2 <= len(b); offset += 2 {
		m.RR = append(m.RR, binary.LittleEndian.Uint16(b[offset:]))
	}
	return m, nil
}

func contactFromFlags(flags byte) ContactStatus {
	if flags&FlagContactSupport == 0 {
		return ContactUnsupported
	}
	if flags&FlagContactDetect == 0 {
		return ContactLost
	}
	return ContactDetected
}

// Encode builds a Heart Rate Measurement packet. The uint16 HR format is
// used only when the heart rate does not fit in a byte.
func Encode(m *Measurement) []byte {
	var flags byte
	b := make([]byte, 1, 1+2+2+2*len(m.RR))

	if m.HeartRate > 0xFF {
		flags |= FlagHRUint16
		b = binary.LittleEndian.AppendUint16(b, m.HeartRate)
	} else {
		b = append(b, byte(m.HeartRate))
	}

	switch m.Contact {
	case ContactDetected:
		flags |= FlagContactSupport | FlagContactDetect
	case ContactLost:
		flags |= FlagContactSupport
	}

	if m.EnergyExpended != nil {
		flags |= FlagEnergyExpended
		b = binary.LittleEndian.AppendUint16(b, *m.EnergyExpended)
	}

	if len(m.RR) > 0 {
		flags |= FlagRRPresent
		for _, rr := range m.RR {
			b = binary.LittleEndian.AppendUint16(b, rr)
		}
	}

	b[0] = flags
	return b
}
