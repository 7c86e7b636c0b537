package retained

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

// Image layout, little-endian:
// Magic(4) | Version(1) | Capacity(1) | Boot(1) | Sync(1) | SleepUS(4) | ActiveUS(4) |
// Flags(1) | Pending(6) | Table(MaxBoards*SnapshotSize) | CRC32(4)
const (
	layoutVersion = 1
	headerSize    = 4 + 1 + 1 + 1 + 1 + 4 + 4 + 1 + entities.CommandSize
	tableSize     = entities.MaxBoards * entities.SnapshotSize
	crcSize       = 4
	ImageSize     = headerSize + tableSize + crcSize
)

const (
	flagNewData    = 1 << 0
	flagNewCommand = 1 << 1
	flagPending    = 1 << 2
)

var magic = [4]byte{'E', 'S', 'P', 'R'}

var ErrCorruptImage = errors.New("retained: corrupt image")

func encode(r *Retained) []byte {
	b := make([]byte, ImageSize)
	copy(b[0:4], magic[:])
	b[4] = layoutVersion
	b[5] = byte(r.Table.Cap())
	b[6] = byte(r.Boot)
	b[7] = byte(r.State.Sync)
	binary.LittleEndian.PutUint32(b[8:12], r.State.SleepUS)
	binary.LittleEndian.PutUint32(b[12:16], r.State.ActiveUS)

	var flags byte
	if r.State.NewData {
		flags |= flagNewData
	}
	if r.State.NewCommand {
		flags |= flagNewCommand
	}
	if r.Pending != nil {
		flags |= flagPending
		cmd, _ := r.Pending.MarshalBinary()
		copy(b[17:17+entities.CommandSize], cmd)
	}
	b[16] = flags

	off := headerSize
	for i := 0; i < r.Table.Cap(); i++ {
		s, _ := r.Table.Get(i)
		raw, _ := s.MarshalBinary()
		copy(b[off+i*entities.SnapshotSize:], raw)
	}

	crc := crc32.ChecksumIEEE(b[:ImageSize-crcSize])
	binary.LittleEndian.PutUint32(b[ImageSize-crcSize:], crc)
	return b
}

func decode(b []byte) (*Retained, error) {
	if len(b) != ImageSize {
		return nil, ErrCorruptImage
	}
	if crc32.ChecksumIEEE(b[:ImageSize-crcSize]) != binary.LittleEndian.Uint32(b[ImageSize-crcSize:]) {
		return nil, ErrCorruptImage
	}
	if [4]byte(b[0:4]) != magic || b[4] != layoutVersion {
		return nil, ErrCorruptImage
	}

	table, err := entities.NewRecordTable(int(b[5]))
	if err != nil {
		return nil, ErrCorruptImage
	}
	r := &Retained{
		Boot:  BootCause(b[6]),
		Table: table,
		State: entities.DutyCycleState{
			Sync:     entities.SyncFlag(b[7]),
			SleepUS:  binary.LittleEndian.Uint32(b[8:12]),
			ActiveUS: binary.LittleEndian.Uint32(b[12:16]),
		},
	}
	flags := b[16]
	r.State.NewData = flags&flagNewData != 0
	r.State.NewCommand = flags&flagNewCommand != 0
	if flags&flagPending != 0 {
		var cmd entities.TimingCommand
		if err := cmd.UnmarshalBinary(b[17 : 17+entities.CommandSize]); err != nil {
			return nil, ErrCorruptImage
		}
		r.Pending = &cmd
	}

	off := headerSize
	for i := 0; i < table.Cap(); i++ {
		var s entities.SensorSnapshot
		if err := s.UnmarshalBinary(b[off+i*entities.SnapshotSize : off+(i+1)*entities.SnapshotSize]); err != nil {
			return nil, ErrCorruptImage
		}
		r.Table.Set(i, s)
	}
	return r, nil
}
