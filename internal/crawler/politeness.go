package crawler

import (
	"context"
	"time"
)

// Pauser waits between requests so the target site is not hammered.
type Pauser interface {
	// Pause blocks for delay or until ctx is done, reporting whether the full
	// delay elapsed.
	Pause(ctx context.Context, delay time.Duration) bool
}

// TimerPauser implements Pauser with a real timer.
type TimerPauser struct{}

// Pause waits for delay unless ctx finishes first.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
