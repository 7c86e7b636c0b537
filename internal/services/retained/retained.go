package retained

import (
	"fmt"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

// BootCause tells the next cycle how the previous one ended.
type BootCause uint8

const (
	ColdBoot BootCause = iota
	TimerWake
	RestartBoot
)

func (b BootCause) String() string {
	switch b {
	case TimerWake:
		return "timer-wake"
	case RestartBoot:
		return "restart"
	default:
		return "cold-boot"
	}
}

// Retained is everything that must survive deep sleep and restart.
type Retained struct {
	State   entities.DutyCycleState
	Table   entities.RecordTable
	Pending *entities.TimingCommand
	Boot    BootCause
}

// Defaults is the image a cold boot starts from.
func Defaults(capacity int) (*Retained, error) {
	table, err := entities.NewRecordTable(capacity)
	if err != nil {
		return nil, fmt.Errorf("retained defaults: %w", err)
	}
	return &Retained{
		State: entities.DefaultDutyCycleState(),
		Table: table,
		Boot:  ColdBoot,
	}, nil
}

// Store persists the retained image between cycles.
// Load reports cold=true when no valid image existed and defaults were returned.
type Store interface {
	Load() (r *Retained, cold bool, err error)
	Save(r *Retained) error
}
