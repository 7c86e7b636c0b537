package entities

import (
	"encoding/binary"
	"errors"
)

const (
	// ReservedSize is the forward-compatibility area at the end of a snapshot.
	ReservedSize = 6
	// SnapshotSize is the serialized size of a SensorSnapshot on the wire and in retained memory.
	SnapshotSize = 8 + ReservedSize
)

var ErrSnapshotSize = errors.New("snapshot: wrong record size")

// SensorSnapshot is one board's point-in-time reading.
// Layout: BoardID(1) | Battery(1) | Temperature(1) | Humidity(1) | Pressure(2) | Luminosity(2) | Reserved(6)
type SensorSnapshot struct {
	BoardID     BoardID
	Battery     uint8  // %
	Temperature uint8  // °C
	Humidity    uint8  // %
	Pressure    uint16 // mbar
	Luminosity  uint16 // lux
	Reserved    [ReservedSize]byte
}

// MarshalBinary never fails; the error is kept for encoding.BinaryMarshaler.
func (s SensorSnapshot) MarshalBinary() ([]byte, error) {
	b := make([]byte, SnapshotSize)
	s.put(b)
	return b, nil
}

func (s SensorSnapshot) put(b []byte) {
	b[0] = byte(s.BoardID)
	b[1] = s.Battery
	b[2] = s.Temperature
	b[3] = s.Humidity
	binary.LittleEndian.PutUint16(b[4:6], s.Pressure)
	binary.LittleEndian.PutUint16(b[6:8], s.Luminosity)
	copy(b[8:SnapshotSize], s.Reserved[:])
}

// UnmarshalBinary requires exactly SnapshotSize bytes.
func (s *SensorSnapshot) UnmarshalBinary(b []byte) error {
	if len(b) != SnapshotSize {
		return ErrSnapshotSize
	}
	s.BoardID = BoardID(b[0])
	s.Battery = b[1]
	s.Temperature = b[2]
	s.Humidity = b[3]
	s.Pressure = binary.LittleEndian.Uint16(b[4:6])
	s.Luminosity = binary.LittleEndian.Uint16(b[6:8])
	copy(s.Reserved[:], b[8:SnapshotSize])
	return nil
}
