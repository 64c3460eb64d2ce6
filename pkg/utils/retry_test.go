package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 2}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("down")
	})
	require.EqualError(t, err, "down")
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, BackoffFactor: 2}

	calls := 0
	err := Retry(ctx, cfg, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 2))
}
