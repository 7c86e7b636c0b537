package entities

import "time"

// SecondToMicro converts wire seconds into the controller's time unit.
const SecondToMicro = 1_000_000

const (
	DefaultSleepSeconds  = 30
	DefaultActiveSeconds = 2
)

// SyncFlag is the single-byte link health indicator.
type SyncFlag uint8

const (
	Synchronized   SyncFlag = 0xF5
	Desynchronized SyncFlag = 0xA5
)

func (f SyncFlag) String() string {
	if f == Synchronized {
		return "synchronized"
	}
	return "desynchronized"
}

// DutyCycleState is the timing and flag part of retained memory.
// Durations are stored in microseconds.
type DutyCycleState struct {
	SleepUS    uint32
	ActiveUS   uint32
	NewData    bool
	NewCommand bool
	Sync       SyncFlag
}

// DefaultDutyCycleState is what a cold boot starts from.
func DefaultDutyCycleState() DutyCycleState {
	return DutyCycleState{
		SleepUS:  DefaultSleepSeconds * SecondToMicro,
		ActiveUS: DefaultActiveSeconds * SecondToMicro,
		Sync:     Desynchronized,
	}
}

func (s DutyCycleState) SleepDuration() time.Duration {
	return time.Duration(s.SleepUS) * time.Microsecond
}

func (s DutyCycleState) ActiveDuration() time.Duration {
	return time.Duration(s.ActiveUS) * time.Microsecond
}
