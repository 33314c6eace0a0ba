// Package retry implements the bounded exponential backoff used by the
// client when a mirroring connection drops.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds backoff configuration.
type Config struct {
	MaxAttempts int           // attempts after the initial failure
	BaseDelay   time.Duration // delay unit; attempt n waits base * 2^n
	MaxDelay    time.Duration // cap on the per-attempt delay
}

// DefaultConfig matches the reconnect policy of the mirroring client:
// up to 3 attempts with delays of min(2^n, 30) seconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the wait before attempt n (1-based).
func (c Config) Delay(attempt int) time.Duration {
	d := c.BaseDelay << uint(attempt)
	if d > c.MaxDelay || d <= 0 {
		d = c.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds or attempts are exhausted. Before each
// retry it waits the backoff delay and invokes onWait (may be nil) with
// the attempt number and the pending delay, so callers can surface a
// "waiting to reconnect" state. Context cancellation aborts immediately.
func Do(ctx context.Context, cfg Config, onWait func(attempt int, delay time.Duration), fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		delay := cfg.Delay(attempt)
		if onWait != nil {
			onWait(attempt, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err = fn(); err == nil {
			return nil
		}
	}

	return fmt.Errorf("retry attempts exhausted (%d): %w", cfg.MaxAttempts, err)
}
