package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inreach/internal/logging"
	"inreach/internal/pacer"
	"inreach/internal/queue"
	"inreach/internal/quota"
	"inreach/internal/session"
	"inreach/internal/types"

	"github.com/google/uuid"
)

// RunnerConfig wires a Runner. At least one of Quota and Messages must be set.
type RunnerConfig struct {
	Store     Store
	Quota     *quota.Tracker // invitations; nil when the run never connects
	Messages  *quota.Tracker // direct messages; nil when the run never messages
	Sessions  Sessions
	Workflow  Processor
	Pacer     pacer.Pacer      // defaults to pacer.None
	Telemetry Telemetry        // optional
	Progress  chan<- Progress  // optional; sends never block the run
	Settled   []string         // stored statuses treated as already done
	Token     string           // session credential
	Limit     int              // max attempts this run; 0 means no limit
	Now       func() time.Time // defaults to time.Now
}

// Runner drives one run. Profiles are processed strictly in order on a
// single session.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner returns a Runner with defaults applied.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Pacer == nil {
		cfg.Pacer = pacer.None{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{cfg: cfg}
}

// Run executes the campaign. The returned error is non-nil only for the
// fatal class (authentication, store load or store write); quota
// exhaustion, the run limit and cancellation are normal stops reported in
// Summary.Reason.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := newSummary(uuid.NewString())
	audit := logging.Audit(sum.RunID)
	finish := func(reason StopReason, err error) (Summary, error) {
		sum.Reason = reason
		sum.Elapsed = time.Since(start)
		if rem, qerr := r.remaining(context.WithoutCancel(ctx)); qerr == nil {
			sum.Remaining = rem
		}
		if r.cfg.Telemetry != nil {
			r.cfg.Telemetry.LogStats()
		}
		audit.RunEnd(string(reason), sum.Sent+sum.Messaged, sum.SkippedTotal(), sum.FailedTotal(), sum.Elapsed)
		if err != nil {
			logging.CampaignError("run %s stopped: %s: %v", sum.RunID, reason, err)
		} else {
			logging.Campaign("run %s stopped: %s (sent=%d messaged=%d skipped=%d failed=%d)",
				sum.RunID, reason, sum.Sent, sum.Messaged, sum.SkippedTotal(), sum.FailedTotal())
		}
		return sum, err
	}

	q, _, err := queue.Load(ctx, r.cfg.Store, r.cfg.Settled)
	if err != nil {
		if ctx.Err() != nil {
			return finish(StopCancelled, nil)
		}
		return finish(StopStoreFailure, asStoreLoad(err))
	}
	sum.Queued = q.Len()
	if q.Len() == 0 {
		logging.Campaign("nothing to do: every profile is settled")
		return finish(StopQueueDrained, nil)
	}

	remaining, err := r.remaining(ctx)
	if err != nil {
		return finish(StopStoreFailure, asStoreLoad(err))
	}
	audit.RunStart(q.Len(), remaining)
	if remaining <= 0 {
		logging.Campaign("daily quota already used")
		return finish(StopQuotaExhausted, nil)
	}

	sess, err := r.cfg.Sessions.Establish(ctx, r.cfg.Token)
	if err != nil {
		audit.SessionFailed(err)
		if ctx.Err() != nil && !errors.Is(err, types.ErrAuth) {
			return finish(StopCancelled, nil)
		}
		return finish(StopAuthFailed, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logging.SessionWarn("close %s: %v", sess, cerr)
		}
	}()
	audit.SessionStart(sess.ID)

	reason, err := r.loop(ctx, sess, q, &sum, audit)
	return finish(reason, err)
}

func (r *Runner) loop(ctx context.Context, sess *session.Session, q *queue.Queue, sum *Summary, audit *logging.AuditLogger) (StopReason, error) {
	profiles := q.All()
	for i, p := range profiles {
		if r.cfg.Limit > 0 && len(sum.Attempts) >= r.cfg.Limit {
			return StopRunLimit, nil
		}
		if ctx.Err() != nil {
			return StopCancelled, nil
		}

		remaining, err := r.remaining(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return StopCancelled, nil
			}
			return StopStoreFailure, asStoreLoad(err)
		}
		if remaining <= 0 {
			return StopQuotaExhausted, nil
		}

		if i > 0 {
			if err := r.cfg.Pacer.Wait(ctx); err != nil {
				return StopCancelled, nil
			}
		}

		if err := r.cfg.Sessions.IsStillValid(ctx, sess); err != nil {
			if ctx.Err() != nil {
				return StopCancelled, nil
			}
			audit.SessionFailed(err)
			return StopAuthFailed, err
		}

		logging.CampaignDebug("[%d/%d] %s", i+1, len(profiles), p.Label())
		started := time.Now()
		res, err := r.cfg.Workflow.Process(ctx, sess.Driver, p)
		if err != nil {
			if errors.Is(err, types.ErrInterrupted) {
				logging.Campaign("interrupted before %s was classified", p.Identifier)
				return StopCancelled, nil
			}
			audit.SessionFailed(err)
			return StopAuthFailed, err
		}

		// The outcome is durable before anything else happens.
		record := context.WithoutCancel(ctx)
		if err := r.cfg.Store.Record(record, p, res.Outcome, r.cfg.Now()); err != nil {
			return StopStoreFailure, asStoreWrite(err)
		}

		if action, ok := res.Outcome.Action(); ok {
			if tr := r.tracker(action); tr != nil {
				rec, err := tr.Increment(record)
				switch {
				case errors.Is(err, types.ErrQuotaExhausted):
					logging.CampaignWarn("%s for %s past the daily limit: %v", action, p.Identifier, err)
				case err != nil:
					return StopStoreFailure, asStoreWrite(err)
				default:
					audit.QuotaIncrement(string(action), rec.Date, rec.SentCount, rec.DailyLimit)
					remaining = min(remaining, rec.Remaining())
				}
			}
		}

		a := Attempt{Identifier: p.Identifier, Outcome: res.Outcome, Elapsed: time.Since(started)}
		sum.add(a)
		audit.Attempt(p.Identifier, res.Outcome.String(), res.Strategies, a.Elapsed, res.Err)
		logging.Campaign("[%d/%d] %s: %s", i+1, len(profiles), p.Label(), res.Outcome)
		r.emit(Progress{Index: i + 1, Queued: len(profiles), Profile: p.Identifier, Outcome: res.Outcome, Remaining: remaining})
	}
	return StopQueueDrained, nil
}

func (r *Runner) tracker(a types.Action) *quota.Tracker {
	switch a {
	case types.ActionConnect:
		return r.cfg.Quota
	case types.ActionMessage:
		return r.cfg.Messages
	}
	return nil
}

// remaining is the smallest allowance across the configured trackers. A run
// with both actions stops as soon as either is used up.
func (r *Runner) remaining(ctx context.Context) (int, error) {
	left, tracked := 0, false
	for _, tr := range []*quota.Tracker{r.cfg.Quota, r.cfg.Messages} {
		if tr == nil {
			continue
		}
		n, err := tr.Remaining(ctx)
		if err != nil {
			return 0, err
		}
		if !tracked || n < left {
			left = n
		}
		tracked = true
	}
	return left, nil
}

func (r *Runner) emit(p Progress) {
	if r.cfg.Progress == nil {
		return
	}
	select {
	case r.cfg.Progress <- p:
	default:
		logging.CampaignDebug("progress consumer is behind, dropped update for %s", p.Profile)
	}
}

func asStoreLoad(err error) error {
	if errors.Is(err, types.ErrStoreLoad) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrStoreLoad, err)
}

func asStoreWrite(err error) error {
	if errors.Is(err, types.ErrStoreWrite) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
}
