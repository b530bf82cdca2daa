package locator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"inreach/internal/browser"
	"inreach/internal/logging"
	"inreach/internal/types"
)

// Match is a resolved control and how it was found.
type Match struct {
	Element  browser.Element
	Strategy int
	Name     string
	Retried  bool
}

// Options tunes a Locator.
type Options struct {
	ConfidenceFloor float64
	ScrollStep      int
	RetrySettle     time.Duration
}

// Locator runs the strategy chain and keeps per-strategy hit counts.
type Locator struct {
	strategies []Strategy
	opts       Options

	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

// New returns a Locator using DefaultStrategies.
func New(opts Options) *Locator {
	if opts.ConfidenceFloor <= 0 {
		opts.ConfidenceFloor = 0.5
	}
	if opts.ScrollStep == 0 {
		opts.ScrollStep = 600
	}
	return NewWithStrategies(opts, DefaultStrategies(opts.ConfidenceFloor))
}

// NewWithStrategies returns a Locator with a custom chain.
func NewWithStrategies(opts Options, strategies []Strategy) *Locator {
	return &Locator{
		strategies: strategies,
		opts:       opts,
		hits:       make(map[string]int),
		misses:     make(map[string]int),
	}
}

// Resolve runs the chain once against snap. It never touches the page.
func (l *Locator) Resolve(snap *browser.Snapshot, t Target) (Match, bool) {
	for _, s := range l.strategies {
		found := s.Find(snap, t)
		switch len(found) {
		case 0:
			continue
		case 1:
			logging.LocatorDebug("%s: strategy %d (%s) matched %s", t.Name, s.Index, s.Name, found[0])
			return Match{Element: found[0], Strategy: s.Index, Name: s.Name}, true
		default:
			logging.LocatorDebug("%s: strategy %d (%s) ambiguous with %d candidates", t.Name, s.Index, s.Name, len(found))
		}
	}
	return Match{}, false
}

// Locate snapshots the page and resolves t, retrying once after a scroll
// and settle delay. Exhaustion yields types.ErrElementNotFound.
func (l *Locator) Locate(ctx context.Context, d browser.Driver, t Target) (Match, error) {
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("locate %s: %w", t.Name, err)
	}
	if m, ok := l.Resolve(snap, t); ok {
		l.record(t.Name, m)
		return m, nil
	}

	snap, err = l.Retry(ctx, d)
	if err != nil {
		return Match{}, fmt.Errorf("locate %s: %w", t.Name, err)
	}
	if m, ok := l.Resolve(snap, t); ok {
		m.Retried = true
		l.record(t.Name, m)
		return m, nil
	}

	l.recordMiss(t.Name)
	logging.LocatorWarn("%s: all strategies exhausted on %s", t.Name, snap.URL)
	return Match{}, fmt.Errorf("%s: %w", t.Name, types.ErrElementNotFound)
}

// Retry scrolls to force lazy content and waits for it to settle,
// returning a fresh snapshot.
func (l *Locator) Retry(ctx context.Context, d browser.Driver) (*browser.Snapshot, error) {
	if err := d.Scroll(ctx, l.opts.ScrollStep); err != nil {
		return nil, err
	}
	if err := browser.Sleep(ctx, l.opts.RetrySettle); err != nil {
		return nil, err
	}
	return d.Snapshot(ctx)
}

// Observe records a match obtained through Resolve so it is counted in Stats.
func (l *Locator) Observe(target string, m Match, ok bool) {
	if ok {
		l.record(target, m)
	} else {
		l.recordMiss(target)
	}
}

func (l *Locator) record(target string, m Match) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hits[fmt.Sprintf("%s:%d:%s", target, m.Strategy, m.Name)]++
}

func (l *Locator) recordMiss(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.misses[target]++
}

// StrategyStat is one row of hit telemetry. Strategy is keyed
// target:index:name.
type StrategyStat struct {
	Strategy string
	Hits     int
}

// Stats returns hit counts sorted by target then strategy index, and misses
// keyed by target name.
func (l *Locator) Stats() ([]StrategyStat, map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := make([]StrategyStat, 0, len(l.hits))
	for k, v := range l.hits {
		stats = append(stats, StrategyStat{Strategy: k, Hits: v})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Strategy < stats[j].Strategy })
	misses := make(map[string]int, len(l.misses))
	for k, v := range l.misses {
		misses[k] = v
	}
	return stats, misses
}

// LogStats writes the accumulated telemetry to the locator category.
func (l *Locator) LogStats() {
	stats, misses := l.Stats()
	for _, s := range stats {
		logging.Locator("strategy %s: %d hits", s.Strategy, s.Hits)
	}
	for target, n := range misses {
		logging.Locator("target %s: %d misses", target, n)
	}
}
