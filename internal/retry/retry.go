// Package retry provides the single backoff policy shared by every
// model-backed stage.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes a bounded exponential backoff: BaseDelay doubles after
// each failed attempt up to MaxAttempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Retryable decides whether an error is worth another attempt.
	// nil means every error is retryable.
	Retryable func(error) bool
}

// DefaultPolicy covers transient model-service failures.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. The returned error is the last attempt's error wrapped with the
// attempt count.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
