package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/crawler"
)

// reapProcess waits up to grace for proc to exit and kills it otherwise.
func reapProcess(proc *os.Process, grace time.Duration) error {
	if proc == nil {
		return nil
	}
	deadline := time.Now().Add(grace)
	for processAlive(proc) {
		if time.Now().After(deadline) {
			if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return fmt.Errorf("%w: kill pid %d: %w", crawler.ErrResourceLeak, proc.Pid, err)
			}
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func processAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// ProcessSweeper kills stray browser processes by executable name. It is a
// blunt instrument: every matching process on the host is signalled.
type ProcessSweeper struct {
	names  []string
	logger *zap.Logger
	run    func(ctx context.Context, name string) error
}

// NewProcessSweeper returns nil when names is empty.
func NewProcessSweeper(names []string, logger *zap.Logger) *ProcessSweeper {
	if len(names) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessSweeper{
		names:  append([]string(nil), names...),
		logger: logger,
		run:    pkill,
	}
}

// Sweep signals every process matching the configured names.
func (p *ProcessSweeper) Sweep(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, name := range p.names {
		if err := p.run(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", name, err))
			continue
		}
		p.logger.Debug("swept browser processes", zap.String("name", name))
	}
	return errors.Join(errs...)
}

func pkill(ctx context.Context, name string) error {
	// #nosec G204 -- names come from operator configuration.
	cmd := exec.CommandContext(ctx, "pkill", "-x", name)
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		// pkill exits 1 when nothing matched.
		return nil
	}
	return err
}
