// Package pacer spaces out attempts with a randomized delay.
package pacer

import (
	"context"
	"math/rand"
	"time"

	"inreach/internal/browser"
)

// Pacer blocks between attempts.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Random waits a uniformly random duration in [Min, Max].
type Random struct {
	Min time.Duration
	Max time.Duration

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRandom returns a Random pacer. Bounds are swapped if inverted.
func NewRandom(min, max time.Duration) *Random {
	if max < min {
		min, max = max, min
	}
	return &Random{Min: min, Max: max, sleep: browser.Sleep}
}

// Next returns the next delay without waiting.
func (r *Random) Next() time.Duration {
	span := r.Max - r.Min
	if span <= 0 {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int63n(int64(span+1)))
}

// Wait implements Pacer.
func (r *Random) Wait(ctx context.Context) error {
	sleep := r.sleep
	if sleep == nil {
		sleep = browser.Sleep
	}
	return sleep(ctx, r.Next())
}

// None never waits. It still reports cancellation.
type None struct{}

// Wait implements Pacer.
func (None) Wait(ctx context.Context) error {
	return ctx.Err()
}
