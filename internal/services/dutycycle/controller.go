package dutycycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

const (
	StateWoken      = "woken"
	StateActive     = "active"
	StateSleeping   = "sleeping"
	StateRestarting = "restarting"

	EventActivate = "activate"
	EventSleep    = "sleep"
	EventRestart  = "restart"
)

// ErrTerminal is returned when a decision is requested after the cycle already ended.
var ErrTerminal = errors.New("duty cycle already ended")

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Action tells the cycle loop what to do next.
type Action int

const (
	Continue Action = iota
	Sleep
	Restart
)

func (a Action) String() string {
	switch a {
	case Sleep:
		return "sleep"
	case Restart:
		return "restart"
	default:
		return "continue"
	}
}

type Decision struct {
	Action   Action
	SleepFor time.Duration
}

func (d Decision) Terminal() bool { return d.Action != Continue }

// Platform carries out the terminal transitions. On real hardware and in the
// host runtime neither call returns on success.
type Platform interface {
	DeepSleep(ctx context.Context, d time.Duration) error
	Restart(ctx context.Context) error
}

// Controller decides, from the time spent awake, whether the node stays active or sleeps.
type Controller struct {
	fsm    *fsm.FSM
	clock  Clock
	wokeAt time.Time
	last   Decision
	logger *zap.SugaredLogger
}

// NewController starts a cycle in the woken state; the wake instant is taken from clock.
func NewController(clock Clock, logger *zap.SugaredLogger) *Controller {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.S()
	}
	c := &Controller{clock: clock, wokeAt: clock.Now(), logger: logger}
	c.fsm = fsm.NewFSM(
		StateWoken,
		fsm.Events{
			{Name: EventActivate, Src: []string{StateWoken}, Dst: StateActive},
			{Name: EventSleep, Src: []string{StateWoken, StateActive}, Dst: StateSleeping},
			{Name: EventRestart, Src: []string{StateActive}, Dst: StateRestarting},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debugf("Duty cycle %s -> %s (%s)", e.Src, e.Dst, e.Event)
			},
		},
	)
	return c
}

func (c *Controller) Current() string { return c.fsm.Current() }

func (c *Controller) Elapsed() time.Duration { return c.clock.Now().Sub(c.wokeAt) }

// Step evaluates the active window. Once the window has elapsed the returned
// decision is a sleep for the stored duration; a zero window sleeps immediately.
func (c *Controller) Step(ctx context.Context, state entities.DutyCycleState) (Decision, error) {
	if c.terminal() {
		return c.last, ErrTerminal
	}

	if c.Elapsed() >= state.ActiveDuration() {
		if err := c.fsm.Event(ctx, EventSleep); err != nil {
			return Decision{}, fmt.Errorf("sleep transition: %w", err)
		}
		c.last = Decision{Action: Sleep, SleepFor: state.SleepDuration()}
		return c.last, nil
	}

	if c.fsm.Is(StateWoken) {
		if err := c.fsm.Event(ctx, EventActivate); err != nil {
			return Decision{}, fmt.Errorf("activate transition: %w", err)
		}
	}
	return Decision{Action: Continue}, nil
}

// Restart ends the cycle early so the node can rerun with fresh state. Only valid while active.
func (c *Controller) Restart(ctx context.Context) (Decision, error) {
	if c.terminal() {
		return c.last, ErrTerminal
	}
	if err := c.fsm.Event(ctx, EventRestart); err != nil {
		return Decision{}, fmt.Errorf("restart transition: %w", err)
	}
	c.last = Decision{Action: Restart}
	return c.last, nil
}

func (c *Controller) terminal() bool {
	return c.fsm.Is(StateSleeping) || c.fsm.Is(StateRestarting)
}

// Execute hands a terminal decision to the platform.
func Execute(ctx context.Context, d Decision, p Platform) error {
	switch d.Action {
	case Sleep:
		return p.DeepSleep(ctx, d.SleepFor)
	case Restart:
		return p.Restart(ctx)
	default:
		return nil
	}
}
