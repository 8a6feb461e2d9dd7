package crawler

import (
	"context"
	"time"
)

// TimerPauser implements Pauser with a timer that yields to ctx.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

type noopLimiter struct{}

func (noopLimiter) Wait(context.Context, string) error { return nil }
