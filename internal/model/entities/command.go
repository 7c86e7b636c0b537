package entities

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CommandSize is the wire size of a TimingCommand: Target(1) | Kind(1) | Duration(4, seconds, LE).
const CommandSize = 6

var ErrCommandSize = errors.New("command: wrong record size")

// CommandKind selects which duty-cycle duration a command rewrites.
type CommandKind uint8

const (
	SetSleepDuration  CommandKind = 0
	SetActiveDuration CommandKind = 1
)

func (k CommandKind) String() string {
	switch k {
	case SetSleepDuration:
		return "sleep"
	case SetActiveDuration:
		return "active"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k CommandKind) Valid() bool { return k == SetSleepDuration || k == SetActiveDuration }

// TimingCommand asks the target mesh to change its sleep or active duration.
type TimingCommand struct {
	Target   BoardID
	Kind     CommandKind
	Duration uint32 // seconds
}

func (c TimingCommand) MarshalBinary() ([]byte, error) {
	b := make([]byte, CommandSize)
	b[0] = byte(c.Target)
	b[1] = byte(c.Kind)
	binary.LittleEndian.PutUint32(b[2:6], c.Duration)
	return b, nil
}

// UnmarshalBinary decodes the fixed layout; kind validity is left to the caller.
func (c *TimingCommand) UnmarshalBinary(b []byte) error {
	if len(b) != CommandSize {
		return ErrCommandSize
	}
	c.Target = BoardID(b[0])
	c.Kind = CommandKind(b[1])
	c.Duration = binary.LittleEndian.Uint32(b[2:6])
	return nil
}
