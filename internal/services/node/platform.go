package node

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ExecPlatform emulates deep sleep and restart by replacing the process image,
// so the next cycle starts from scratch with only the retained file surviving.
type ExecPlatform struct {
	argv   []string
	env    []string
	before func()
	logger *zap.SugaredLogger
}

// NewExecPlatform re-executes the running binary with the same arguments.
// before runs right before the exec (flush logs, close the link).
func NewExecPlatform(before func(), logger *zap.SugaredLogger) (*ExecPlatform, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if logger == nil {
		logger = zap.S()
	}
	argv := append([]string{exe}, os.Args[1:]...)
	return &ExecPlatform{argv: argv, env: os.Environ(), before: before, logger: logger}, nil
}

func (p *ExecPlatform) DeepSleep(ctx context.Context, d time.Duration) error {
	p.logger.Infof("Deep sleep for %s", d)
	if p.before != nil {
		p.before()
		p.before = nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return p.exec()
}

func (p *ExecPlatform) Restart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.Info("Restarting")
	if p.before != nil {
		p.before()
		p.before = nil
	}
	return p.exec()
}

func (p *ExecPlatform) exec() error {
	if err := unix.Exec(p.argv[0], p.argv, p.env); err != nil {
		return fmt.Errorf("exec %s: %w", p.argv[0], err)
	}
	return nil
}
