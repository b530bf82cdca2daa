package browser

import (
	"context"
	"fmt"
	"time"
)

// WaitFor polls snapshots until cond holds, the timeout elapses, or ctx ends.
// The last snapshot taken is returned in every case where one was captured.
func WaitFor(ctx context.Context, d Driver, timeout, poll time.Duration, cond func(*Snapshot) bool) (*Snapshot, error) {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var last *Snapshot
	for {
		snap, err := d.Snapshot(ctx)
		if err != nil {
			return last, fmt.Errorf("snapshot: %w", err)
		}
		last = snap
		if cond(snap) {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			return last, ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
