package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpimash/core-go/internal/clock"
)

func TestPolicy_Do_SucceedsAfterFailures(t *testing.T) {
	fc := clock.Fake(time.Unix(1_700_000_000, 0))
	var retries []int
	p := Policy{
		Clock:   fc,
		OnRetry: func(attempt int, _ error) { retries = append(retries, attempt) },
	}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("device busy")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
	assert.Equal(t, []time.Duration{DefaultInterval, DefaultInterval}, fc.Sleeps())
}

func TestPolicy_Do_MaxAttempts(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	boom := errors.New("boom")
	p := Policy{Interval: time.Second, MaxAttempts: 2, Clock: fc}

	err := p.Do(context.Background(), func(context.Context) error { return boom })

	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.ErrorIs(t, err, boom)
	assert.Len(t, fc.Sleeps(), 1)
}

func TestPolicy_Do_CanceledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fc := clock.Fake(time.Unix(0, 0))
	attempts := 0
	fc.OnSleep = func(time.Time) {
		if attempts == 4 {
			cancel()
		}
	}

	err := Policy{Clock: fc}.Do(ctx, func(context.Context) error {
		attempts++
		return errors.New("offline")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, attempts)
}
