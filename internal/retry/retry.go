// Package retry provides a small bounded-retry policy shared by the
// capture engine (rate-limit retries) and the command channel (reconnect
// backoff).
package retry

import (
	"context"
	"time"
)

// Policy describes how many attempts to make and how long to wait
// between them. Attempt numbering starts at 0.
type Policy struct {
	// MaxAttempts is the total number of attempts. 0 means unlimited.
	MaxAttempts int

	// Backoff returns the delay to wait after a failed attempt.
	Backoff func(attempt int) time.Duration
}

// Fixed returns a backoff function with a constant delay.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration {
		return d
	}
}

// Exponential returns a backoff function that doubles the base delay on
// every attempt, capped at max: min(base * 2^attempt, max).
func Exponential(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// Exhausted reports whether the policy has no attempts left after the
// given number of completed attempts.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// Wait sleeps for the policy's backoff delay after the given attempt,
// returning early with the context error if ctx is cancelled.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	d := p.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
