package agent

import (
	"context"
	"time"
)

// Backoff computes bounded exponential delays for retrying transient
// failures and for requeueing deadlocked items.
type Backoff struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Multiplier scales the delay per attempt. Values <= 1 mean a
	// constant Initial delay.
	Multiplier float64
}

// DefaultBackoff returns the policy used for transient I/O and dispatch
// retries.
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 2 * time.Minute, Multiplier: 2}
}

// Delay returns the delay for the given 0-indexed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	if b.Multiplier > 1 {
		for i := 0; i < attempt; i++ {
			d = time.Duration(float64(d) * b.Multiplier)
			if d >= b.Max {
				return b.Max
			}
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Retry runs fn up to maxAttempts times, sleeping the backoff delay
// between attempts. It stops early when fn succeeds or ctx is done, and
// returns the last error otherwise.
func Retry(ctx context.Context, b Backoff, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.Delay(attempt - 1)):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
