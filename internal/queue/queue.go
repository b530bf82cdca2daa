// Package queue builds the ordered work list for a run.
package queue

import (
	"context"
	"fmt"
	"strings"

	"inreach/internal/logging"
	"inreach/internal/types"
)

// Source is the read side of a profile store.
type Source interface {
	Load(ctx context.Context) ([]types.Profile, error)
}

// Queue is a finite, ordered sequence of profiles still to contact.
type Queue struct {
	items []types.Profile
}

// Stats describes what Load filtered out.
type Stats struct {
	Total     int
	Settled   int
	Duplicate int
	NoHandle  int
}

// Load reads every profile from src in source order and drops rows whose
// stored status is in settled, rows without an identifier, and repeated
// identifiers after their first occurrence.
func Load(ctx context.Context, src Source, settled []string) (*Queue, Stats, error) {
	profiles, err := src.Load(ctx)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("load queue: %w", err)
	}

	done := make(map[string]bool, len(settled))
	for _, s := range settled {
		done[strings.ToLower(strings.TrimSpace(s))] = true
	}

	stats := Stats{Total: len(profiles)}
	seen := make(map[string]bool, len(profiles))
	q := &Queue{}
	for _, p := range profiles {
		switch {
		case p.Identifier == "":
			stats.NoHandle++
			logging.QueueDebug("row %d has no profile identifier: %q", p.Row, p.ProfileURL)
			continue
		case seen[p.Identifier]:
			stats.Duplicate++
			logging.QueueDebug("row %d duplicates %s", p.Row, p.Identifier)
			continue
		}
		seen[p.Identifier] = true
		if isSettled(p, done) {
			stats.Settled++
			continue
		}
		q.items = append(q.items, p)
	}

	logging.Queue("queue: %d pending of %d rows (%d settled, %d duplicate, %d without identifier)",
		len(q.items), stats.Total, stats.Settled, stats.Duplicate, stats.NoHandle)
	return q, stats, nil
}

func isSettled(p types.Profile, done map[string]bool) bool {
	if done[strings.ToLower(strings.TrimSpace(p.StoredStatus))] {
		return true
	}
	_, delivered := p.Outcome.Action()
	return delivered
}

// Len returns the number of queued profiles.
func (q *Queue) Len() int {
	return len(q.items)
}

// Take returns at most n profiles from the front without consuming them.
// n <= 0 means all.
func (q *Queue) Take(n int) []types.Profile {
	if n <= 0 || n > len(q.items) {
		n = len(q.items)
	}
	out := make([]types.Profile, n)
	copy(out, q.items[:n])
	return out
}

// All returns every queued profile.
func (q *Queue) All() []types.Profile {
	return q.Take(0)
}
