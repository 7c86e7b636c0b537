package meshctl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/LeonardoBeccarini/espcluster/internal/services/command"
)

type Settings struct {
	// Wait bounds how long a node may stay unreachable (asleep) before giving up.
	Wait        time.Duration
	CallTimeout time.Duration
	// Failures trips the breaker; it stays open for OpenFor.
	Failures uint32
	OpenFor  time.Duration
}

func (s *Settings) applyDefaults() {
	if s.Wait <= 0 {
		s.Wait = 2 * time.Minute
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = time.Second
	}
	if s.Failures == 0 {
		s.Failures = 3
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 5 * time.Second
	}
}

// Submitter delivers operator lines to nodes that are only reachable while awake.
type Submitter struct {
	settings Settings
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.SugaredLogger
}

func NewSubmitter(settings Settings, logger *zap.SugaredLogger) *Submitter {
	settings.applyDefaults()
	if logger == nil {
		logger = zap.S()
	}
	return &Submitter{settings: settings, breakers: make(map[string]*gobreaker.CircuitBreaker), logger: logger}
}

func (s *Submitter) breaker(addr string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[addr]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    addr,
		Timeout: s.settings.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.settings.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Debugf("Breaker %s: %s -> %s", name, from, to)
		},
	})
	s.breakers[addr] = cb
	return cb
}

// Submit retries until the node accepts the line, rejects it, or Wait elapses.
func (s *Submitter) Submit(ctx context.Context, addr, line string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("client %s: %w", addr, err)
	}
	defer conn.Close()

	cb := s.breaker(addr)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = s.settings.Wait

	var ack string
	err = backoff.Retry(func() error {
		res, err := cb.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.settings.CallTimeout)
			defer cancel()
			return command.Submit(callCtx, conn, line)
		})
		if err != nil {
			if status.Code(err) == codes.InvalidArgument {
				return backoff.Permanent(err)
			}
			s.logger.Debugf("Node %s not reachable yet: %v", addr, err)
			return err
		}
		ack = res.(string)
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return "", fmt.Errorf("submit to %s: %w", addr, err)
	}
	return ack, nil
}
