package node

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Indicator is the activity LED: lit on reception, cleared by the loop.
type Indicator interface {
	Set(on bool)
}

// LogIndicator stands in for the LED on hosts without one.
type LogIndicator struct {
	on     atomic.Bool
	logger *zap.SugaredLogger
}

func NewLogIndicator(logger *zap.SugaredLogger) *LogIndicator {
	if logger == nil {
		logger = zap.S()
	}
	return &LogIndicator{logger: logger}
}

func (l *LogIndicator) Set(on bool) {
	if l.on.Swap(on) != on {
		l.logger.Debugf("LED %v", on)
	}
}

func (l *LogIndicator) On() bool { return l.on.Load() }
