package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inreach/internal/logging"
	"inreach/internal/types"
)

// Tracker enforces a daily limit over a Store. The store is re-read on
// every call so the persisted record stays the single source of truth.
type Tracker struct {
	store Store
	limit int
	now   func() time.Time
	mu    sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns a Tracker enforcing limit sends per day.
func NewTracker(store Store, limit int, opts ...Option) *Tracker {
	t := &Tracker{store: store, limit: limit, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Limit returns the configured daily limit.
func (t *Tracker) Limit() int {
	return t.limit
}

// current loads the record for today, rolling it over if the date changed.
// The rolled-over record is persisted on first access of the day.
func (t *Tracker) current(ctx context.Context) (types.QuotaRecord, error) {
	rec, err := t.store.Load(ctx)
	if err != nil {
		return types.QuotaRecord{}, fmt.Errorf("load quota: %w", err)
	}
	today := t.now()
	if !rec.IsFor(today) {
		if rec.Date != "" {
			logging.Quota("new day: resetting quota (was %d on %s)", rec.SentCount, rec.Date)
		}
		rec = types.QuotaRecord{Date: today.Format(types.DateLayout), DailyLimit: t.limit}
		if err := t.store.Persist(ctx, rec); err != nil {
			return types.QuotaRecord{}, fmt.Errorf("persist quota rollover: %w", err)
		}
	}
	rec.DailyLimit = t.limit
	return rec, nil
}

// Status returns today's record.
func (t *Tracker) Status(ctx context.Context) (types.QuotaRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current(ctx)
}

// Remaining returns how many sends are left today, never below zero.
func (t *Tracker) Remaining(ctx context.Context) (int, error) {
	rec, err := t.Status(ctx)
	if err != nil {
		return 0, err
	}
	return rec.Remaining(), nil
}

// Increment durably records one successful send. It refuses with
// types.ErrQuotaExhausted rather than exceed the limit.
func (t *Tracker) Increment(ctx context.Context) (types.QuotaRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.current(ctx)
	if err != nil {
		return types.QuotaRecord{}, err
	}
	if rec.SentCount >= t.limit {
		return rec, fmt.Errorf("%d/%d sent on %s: %w", rec.SentCount, t.limit, rec.Date, types.ErrQuotaExhausted)
	}
	rec.SentCount++
	if err := t.store.Persist(ctx, rec); err != nil {
		return types.QuotaRecord{}, fmt.Errorf("persist quota: %w", err)
	}
	logging.QuotaDebug("quota %d/%d on %s", rec.SentCount, t.limit, rec.Date)
	return rec, nil
}
