package command

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

// ErrInvalidCommand covers malformed wire bytes, unknown kinds and foreign targets.
var ErrInvalidCommand = errors.New("invalid command")

const (
	maxSleepSeconds  = 3600 // exclusive
	maxActiveSeconds = 10   // exclusive
)

// Processor validates timing commands and applies them to a DutyCycleState.
type Processor struct {
	// target is the board id every accepted command must carry.
	target entities.BoardID
	logger *zap.SugaredLogger
}

func NewProcessor(target entities.BoardID, logger *zap.SugaredLogger) *Processor {
	if logger == nil {
		logger = zap.S()
	}
	return &Processor{target: target, logger: logger}
}

func (p *Processor) Target() entities.BoardID { return p.target }

// Decode parses and validates the 6-byte wire form.
func (p *Processor) Decode(raw []byte) (entities.TimingCommand, error) {
	var cmd entities.TimingCommand
	if err := cmd.UnmarshalBinary(raw); err != nil {
		return cmd, fmt.Errorf("%w: %d bytes", ErrInvalidCommand, len(raw))
	}
	if !cmd.Kind.Valid() {
		return cmd, fmt.Errorf("%w: unknown kind %d", ErrInvalidCommand, uint8(cmd.Kind))
	}
	if cmd.Target != p.target {
		return cmd, fmt.Errorf("%w: target %d, expected %d", ErrInvalidCommand, cmd.Target, p.target)
	}
	return cmd, nil
}

// Apply decodes raw and returns the state with the requested duration rewritten.
// On error the input state is returned unchanged.
func (p *Processor) Apply(raw []byte, state entities.DutyCycleState) (entities.DutyCycleState, error) {
	cmd, err := p.Decode(raw)
	if err != nil {
		p.logger.Warnf("Discarding command: %v", err)
		return state, err
	}
	return p.ApplyCommand(cmd, state)
}

// ApplyCommand applies an already decoded command. Out-of-range durations reset to the
// compiled-in default instead of being refused.
func (p *Processor) ApplyCommand(cmd entities.TimingCommand, state entities.DutyCycleState) (entities.DutyCycleState, error) {
	if !cmd.Kind.Valid() || cmd.Target != p.target {
		return state, fmt.Errorf("%w: %+v", ErrInvalidCommand, cmd)
	}

	switch cmd.Kind {
	case entities.SetSleepDuration:
		secs := cmd.Duration
		if secs == 0 || secs >= maxSleepSeconds {
			p.logger.Infof("Sleep duration %ds out of range, using default %ds", secs, entities.DefaultSleepSeconds)
			secs = entities.DefaultSleepSeconds
		}
		state.SleepUS = secs * entities.SecondToMicro
	case entities.SetActiveDuration:
		secs := cmd.Duration
		if secs == 0 || secs >= maxActiveSeconds {
			p.logger.Infof("Active duration %ds out of range, using default %ds", secs, entities.DefaultActiveSeconds)
			secs = entities.DefaultActiveSeconds
		}
		state.ActiveUS = secs * entities.SecondToMicro
	}

	p.logger.Infof("Applied %s command: sleep=%s active=%s", cmd.Kind, state.SleepDuration(), state.ActiveDuration())
	return state, nil
}
