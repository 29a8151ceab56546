// Package retry runs fallible operations with bounded attempts and a
// pluggable backoff strategy.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Backoff returns how long to wait after the failed attempt with the given
// zero-based index.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Exponential waits Base * 2^attempt. No jitter.
type Exponential struct {
	Base time.Duration
	// Max caps a single delay when positive.
	Max time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := e.Base * time.Duration(1<<attempt)
	if e.Max > 0 && delay > e.Max {
		delay = e.Max
	}
	return delay
}

// Policy bounds an operation to MaxAttempts invocations.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// OnRetry runs before each backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError is returned once every attempt has failed. It unwraps to
// the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do invokes op until it succeeds or the policy is exhausted. There is no
// wait after the final attempt.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Exponential{}
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, &ExhaustedError{Attempts: attempt, Err: lastErr}
			}
			return zero, err
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := backoff.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, &ExhaustedError{Attempts: attempt + 1, Err: lastErr}
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
