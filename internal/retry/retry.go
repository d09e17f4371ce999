// Package retry runs an operation until it succeeds, sleeping a fixed
// interval between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpimash/core-go/internal/clock"
)

// DefaultInterval is the pause between attempts of a failed credential
// change or notification.
const DefaultInterval = 5 * time.Minute

var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

type Policy struct {
	// Interval between attempts. Zero means DefaultInterval.
	Interval time.Duration
	// MaxAttempts caps the number of attempts. Zero means unbounded.
	MaxAttempts int
	Clock       clock.Clock
	// OnRetry is called after every failed attempt, before sleeping.
	OnRetry func(attempt int, err error)
}

// Do calls op until it returns nil, the attempt budget is spent, or ctx
// is done. A canceled context returns ctx.Err().
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	c := p.Clock
	if c == nil {
		c = clock.Real()
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
		}

		if err := c.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}
