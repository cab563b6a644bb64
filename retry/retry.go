// Package retry provides generic exponential-backoff retry for transient
// failures, used by the facilitator HTTP client for its idempotent calls.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff ceiling
	Multiplier   float64       // backoff growth factor
}

// DefaultConfig provides sensible defaults for retry operations.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// IsRetryable determines whether an error should trigger a retry.
type IsRetryable func(error) bool

// WithRetry executes fn until it succeeds, returns a non-retryable error,
// the attempts are exhausted, or ctx is done.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		// No sleep after the final attempt.
		if attempt < config.MaxAttempts-1 {
			select {
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * config.Multiplier)
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
