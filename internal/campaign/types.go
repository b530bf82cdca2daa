// Package campaign runs a sequence of outreach attempts inside one
// session, recording every outcome and stopping on quota, limit, cancellation
// or a fatal error.
package campaign

import (
	"context"
	"sort"
	"time"

	"inreach/internal/browser"
	"inreach/internal/session"
	"inreach/internal/types"
	"inreach/internal/workflow"
)

// StopReason says why a run ended.
type StopReason string

const (
	StopQueueDrained   StopReason = "queue_drained"
	StopQuotaExhausted StopReason = "quota_exhausted"
	StopRunLimit       StopReason = "run_limit"
	StopCancelled      StopReason = "cancelled"
	StopAuthFailed     StopReason = "auth_failed"
	StopStoreFailure   StopReason = "store_failure"
)

// Fatal reports whether the reason should produce a non-zero exit.
func (r StopReason) Fatal() bool {
	return r == StopAuthFailed || r == StopStoreFailure
}

// Store is the profile store a run reads from and records into.
type Store interface {
	Load(ctx context.Context) ([]types.Profile, error)
	Record(ctx context.Context, p types.Profile, o types.Outcome, at time.Time) error
}

// Sessions opens and re-validates the browsing session.
type Sessions interface {
	Establish(ctx context.Context, token string) (*session.Session, error)
	IsStillValid(ctx context.Context, s *session.Session) error
}

// Processor runs a single profile attempt.
type Processor interface {
	Process(ctx context.Context, d browser.Driver, p types.Profile) (workflow.Result, error)
}

// Telemetry is flushed when a run ends.
type Telemetry interface {
	LogStats()
}

// Attempt is one recorded profile attempt.
type Attempt struct {
	Identifier string
	Outcome    types.Outcome
	Elapsed    time.Duration
}

// Summary reports what a run did.
type Summary struct {
	RunID     string
	Reason    StopReason
	Queued    int
	Sent      int // invitations
	Messaged  int // direct messages
	Skipped   map[types.OutcomeKind]int
	Failed    map[string]int // by failure reason
	Attempts  []Attempt
	Remaining int // quota left when the run ended, over every tracked action
	Elapsed   time.Duration
}

func newSummary(runID string) Summary {
	return Summary{
		RunID:   runID,
		Skipped: make(map[types.OutcomeKind]int),
		Failed:  make(map[string]int),
	}
}

func (s *Summary) add(a Attempt) {
	s.Attempts = append(s.Attempts, a)
	switch {
	case a.Outcome.Kind == types.OutcomeSent:
		s.Sent++
	case a.Outcome.Kind == types.OutcomeMessaged:
		s.Messaged++
	case a.Outcome.IsSkip():
		s.Skipped[a.Outcome.Kind]++
	case a.Outcome.Kind == types.OutcomeFailed:
		s.Failed[a.Outcome.Reason]++
	}
}

// SkippedTotal sums skips across kinds.
func (s Summary) SkippedTotal() int {
	n := 0
	for _, v := range s.Skipped {
		n += v
	}
	return n
}

// FailedTotal sums failures across reasons.
func (s Summary) FailedTotal() int {
	n := 0
	for _, v := range s.Failed {
		n += v
	}
	return n
}

// FailureReasons returns failure reasons in stable order.
func (s Summary) FailureReasons() []string {
	out := make([]string, 0, len(s.Failed))
	for r := range s.Failed {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// SkipKinds returns skip kinds in stable order.
func (s Summary) SkipKinds() []types.OutcomeKind {
	out := make([]types.OutcomeKind, 0, len(s.Skipped))
	for k := range s.Skipped {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Progress is emitted after each recorded attempt.
type Progress struct {
	Index     int // 1-based position in the queue
	Queued    int
	Profile   string
	Outcome   types.Outcome
	Remaining int
}
