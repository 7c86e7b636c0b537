package collector

import (
	"context"
	"errors"

	"github.com/LeonardoBeccarini/espcluster/internal/model/messages"
)

// ErrDelivery wraps every failure to hand the table to the remote collector.
var ErrDelivery = errors.New("collector delivery failed")

// Collector receives the aggregated record table once per exchange.
// Delivery is best-effort: callers log and count failures and never retry within a cycle.
type Collector interface {
	Deliver(ctx context.Context, records []messages.BoardRecord) error
	Close() error
}

// Nop is used when no collector is configured.
type Nop struct{}

func (Nop) Deliver(context.Context, []messages.BoardRecord) error { return nil }
func (Nop) Close() error                                          { return nil }
