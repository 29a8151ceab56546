package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialDelay(t *testing.T) {
	b := Exponential{Base: 100 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 400*time.Millisecond, b.Delay(2))
	assert.Equal(t, 800*time.Millisecond, b.Delay(3))

	capped := Exponential{Base: 100 * time.Millisecond, Max: 300 * time.Millisecond}
	assert.Equal(t, 300*time.Millisecond, capped.Delay(4))
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var waits []time.Duration

	value, err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Backoff:     Exponential{Base: time.Second},
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("transient %d", calls)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestDoAlwaysFailing(t *testing.T) {
	const maxAttempts = 4
	const base = 10 * time.Millisecond

	calls := 0
	var retries []int

	start := time.Now()
	_, err := Do(context.Background(), Policy{
		MaxAttempts: maxAttempts,
		Backoff:     Exponential{Base: base},
		OnRetry: func(attempt int, _ error, _ time.Duration) {
			retries = append(retries, attempt)
		},
	}, func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d failed", calls)
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
	assert.Equal(t, []int{1, 2, 3}, retries)

	// base * (2^0 + 2^1 + 2^2); no wait after the last attempt
	assert.GreaterOrEqual(t, elapsed, 7*base)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, maxAttempts, exhausted.Attempts)
	assert.EqualError(t, exhausted.Err, "attempt 4 failed")
}

func TestDoUnwrapsLastError(t *testing.T) {
	sentinel := errors.New("navigation timeout")

	_, err := Do(context.Background(), Policy{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }},
		func(context.Context) (struct{}, error) {
			return struct{}{}, sentinel
		})

	assert.ErrorIs(t, err, sentinel)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, Policy{MaxAttempts: 5, Backoff: Exponential{Base: time.Hour}}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.EqualError(t, errors.Unwrap(err), "boom")
}

func TestDoSingleAttemptMinimum(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
