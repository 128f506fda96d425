package qprep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts int
	Strategy    RetryStrategy
	Filter      func(error) bool
}

// RetryStrategy defines the interface for retry behavior
type RetryStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements RetryStrategy
type ExponentialBackoff struct {
	Initial time.Duration
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	return eb.Initial * time.Duration(math.Pow(2, float64(attempt-1)))
}

/*
Retryable is the default retry filter. Caller contract violations and
context cancellation are final; anything else came from the engine and may
be transient.
*/
func Retryable(err error) bool {
	if IsContractViolation(err) || errors.Is(err, ErrEngineUnavailable) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// NoRetry runs a job exactly once.
func NoRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1, Strategy: &ExponentialBackoff{}}
}

func newEngineRetryPolicy(cfg *Config) *RetryPolicy {
	attempts := cfg.EngineRetries
	if attempts < 1 {
		attempts = 1
	}
	return &RetryPolicy{
		MaxAttempts: attempts,
		Strategy:    &ExponentialBackoff{Initial: cfg.EngineBackoff},
		Filter:      Retryable,
	}
}

// WithRetry configures retry behavior for a job
func WithRetry(attempts int, strategy RetryStrategy) JobOption {
	return func(j *Job) {
		j.RetryPolicy = &RetryPolicy{
			MaxAttempts: attempts,
			Strategy:    strategy,
			Filter:      Retryable,
		}
	}
}

/*
do runs fn until it succeeds, the policy is exhausted, the filter rejects
the error, or ctx is done. The last error is returned wrapped with the
attempt count.
*/
func (rp *RetryPolicy) do(ctx context.Context, name string, fn func() error) error {
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := rp.Strategy.NextDelay(attempt)
			log.Debugf("%s retrying attempt %d after %v", name, attempt+1, delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", name, ctx.Err())
			case <-time.After(delay):
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		log.Warnf("%s attempt %d failed: %v", name, attempt+1, lastErr)
		if rp.Filter != nil && !rp.Filter(lastErr) {
			return lastErr
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", attempts, name, lastErr)
}
