package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnFatalError(t *testing.T) {
	calls := 0
	cause := errors.New("malformed message")
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(cause)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestRetryWithCallback_ReportsRetries(t *testing.T) {
	var attempts []int
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("still down")
	}, func(attempt int, err error, _ time.Duration) {
		attempts = append(attempts, attempt)
		var retryable RetryableError
		assert.True(t, errors.As(err, &retryable))
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPolicy_Override(t *testing.T) {
	base := DefaultPolicy()

	got := base.Override(Policy{MaxAttempts: 7, Multiplier: 1.5})

	assert.Equal(t, 7, got.MaxAttempts)
	assert.Equal(t, 1.5, got.Multiplier)
	assert.Equal(t, base.InitialInterval, got.InitialInterval)
	assert.Equal(t, base.MaxInterval, got.MaxInterval)
	assert.Equal(t, base.MaxElapsedTime, got.MaxElapsedTime)
}

func TestCalculateBackoffDuration(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first retry", attempt: 1, want: 200 * time.Millisecond},
		{name: "second retry", attempt: 2, want: 400 * time.Millisecond},
		{name: "capped", attempt: 10, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBackoffDuration(tt.attempt, 100*time.Millisecond, 2, time.Second)
			assert.Equal(t, tt.want, got)
		})
	}
}
