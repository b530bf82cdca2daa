// Package workflow drives one profile attempt from navigation to a single
// terminal outcome.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inreach/internal/browser"
	"inreach/internal/locator"
	"inreach/internal/logging"
	"inreach/internal/message"
	"inreach/internal/session"
	"inreach/internal/types"
)

// State is a step of the per-profile state machine.
type State string

const (
	StateNavigated     State = "navigated"
	StateScanned       State = "scanned"
	StateClassified    State = "classified"
	StateActionInvoked State = "action_invoked"
	StateModalOpened   State = "modal_opened"
	StateNoteEntered   State = "note_entered"
	StateSubmitted     State = "submitted"
	StateConfirmed     State = "confirmed"

	StateComposerOpened State = "composer_opened"
	StateMessageEntered State = "message_entered"
)

// Mode selects which action a classified profile receives.
type Mode string

const (
	// ModeConnect invites profiles that offer Connect. It is the default.
	ModeConnect Mode = "connect"
	// ModeMessage messages existing connections and skips everyone else.
	ModeMessage Mode = "message"
	// ModeBoth messages existing connections and invites the rest.
	ModeBoth Mode = "both"
)

func (m Mode) connects() bool { return m != ModeMessage }
func (m Mode) messages() bool { return m == ModeMessage || m == ModeBoth }

// Options holds workflow timings.
type Options struct {
	SettleDelay    time.Duration // after navigation, before scanning
	ElementWait    time.Duration // dialogs, menus and note fields
	ConfirmTimeout time.Duration // post-submit confirmation
	PollInterval   time.Duration
	ScrollStep     int // lazy-load nudge during the scan
	DumpCandidates bool
	Mode           Mode
}

func (o Options) withDefaults() Options {
	if o.ElementWait <= 0 {
		o.ElementWait = 5 * time.Second
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.ScrollStep == 0 {
		o.ScrollStep = 400
	}
	if o.Mode == "" {
		o.Mode = ModeConnect
	}
	return o
}

// Result describes one finished attempt.
type Result struct {
	Profile      types.Profile
	Outcome      types.Outcome
	Relationship types.RelationshipStatus
	Trace        []State
	Strategies   []string // target:index:strategy for every control used
	Note         string   // invitation note or direct message as entered
	Err          error // cause behind a Failed outcome
}

func (r *Result) enter(s State) {
	r.Trace = append(r.Trace, s)
}

func (r *Result) used(target string, m locator.Match) {
	r.Strategies = append(r.Strategies, fmt.Sprintf("%s:%d:%s", target, m.Strategy, m.Name))
}

// Reached reports whether the attempt passed through s.
func (r Result) Reached(s State) bool {
	for _, t := range r.Trace {
		if t == s {
			return true
		}
	}
	return false
}

// Workflow runs attempts. It is safe to reuse across profiles but not to
// run concurrently on the same driver.
type Workflow struct {
	Targets Targets

	loc      *locator.Locator
	composer *message.Composer
	direct   *message.Composer
	opts     Options
}

// New returns a Workflow using DefaultTargets.
func New(loc *locator.Locator, composer *message.Composer, opts Options) *Workflow {
	return &Workflow{
		Targets:  DefaultTargets(),
		loc:      loc,
		composer: composer,
		opts:     opts.withDefaults(),
	}
}

// WithDirectMessage sets the composer for messages to existing connections.
// Modes that message require it.
func (w *Workflow) WithDirectMessage(c *message.Composer) *Workflow {
	w.direct = c
	return w
}

// WithMode sets which action classified profiles receive.
func (w *Workflow) WithMode(m Mode) *Workflow {
	if m == "" {
		m = ModeConnect
	}
	w.opts.Mode = m
	return w
}

// Mode returns the configured mode.
func (w *Workflow) Mode() Mode {
	return w.opts.Mode
}

// Process runs one attempt against p. Every terminal outcome is reported in
// the Result with a nil error. A non-nil error means the attempt has no
// outcome: the session expired (types.ErrSessionExpired) or ctx was
// cancelled before the profile was classified (types.ErrInterrupted).
// Once classified, the attempt runs to completion regardless of ctx.
func (w *Workflow) Process(ctx context.Context, d browser.Driver, p types.Profile) (Result, error) {
	res := Result{Profile: p}
	log := logging.Get(logging.CategoryWorkflow).With("profile", p.Identifier)
	timer := logging.StartTimer(logging.CategoryWorkflow, "attempt "+p.Identifier)
	defer timer.Stop()

	if ctx.Err() != nil {
		return res, interrupted(p, ctx.Err())
	}

	if err := d.Navigate(ctx, p.ProfileURL); err != nil {
		if ctx.Err() != nil {
			return res, interrupted(p, ctx.Err())
		}
		log.Warn("navigation failed: %v", err)
		return w.fail(res, types.ReasonNavigationError, err), nil
	}
	res.enter(StateNavigated)

	if current, err := d.CurrentURL(ctx); err == nil && session.IsAuthWall(current) {
		log.Warn("redirected to %s", current)
		return res, &types.AuthError{Reason: "redirected to sign-in", URL: current, Err: types.ErrSessionExpired}
	}

	snap, err := w.scan(ctx, d)
	if err != nil {
		if ctx.Err() != nil {
			return res, interrupted(p, ctx.Err())
		}
		return w.fail(res, types.ReasonNavigationError, err), nil
	}
	res.enter(StateScanned)
	if w.opts.DumpCandidates {
		w.dump(snap)
	}

	cls, err := w.classify(ctx, d, snap, true)
	if err != nil {
		if ctx.Err() != nil {
			return res, interrupted(p, ctx.Err())
		}
		return w.fail(res, types.ReasonNavigationError, err), nil
	}
	res.Relationship = cls.status
	res.enter(StateClassified)
	if cls.ok && cls.match.Strategy > 0 {
		res.used(cls.target, cls.match)
	}
	log.Debug("classified as %s", cls.status)

	// Past classification the attempt is finished even if the run stops.
	work := context.WithoutCancel(ctx)
	mode := w.opts.Mode
	switch {
	case cls.status == types.StatusAlreadyConnected && mode.messages():
		return w.message(work, d, res, cls), nil
	case cls.status == types.StatusConnectAvailable && mode.connects():
		return w.connect(work, d, res, cls.match), nil
	case !mode.connects() && (cls.status == types.StatusConnectAvailable || cls.status == types.StatusFollowOnly):
		res.Outcome = types.Skipped(types.OutcomeSkippedNotConnected)
		return res, nil
	}
	if outcome, skip := types.OutcomeFor(cls.status); skip {
		res.Outcome = outcome
		return res, nil
	}
	res.Outcome = types.Skipped(types.OutcomeSkippedNoAction)
	return res, nil
}

func (w *Workflow) connect(ctx context.Context, d browser.Driver, res Result, btn locator.Match) Result {
	log := logging.Get(logging.CategoryWorkflow).With("profile", res.Profile.Identifier)

	note, err := w.composer.Compose(res.Profile)
	if err != nil {
		return w.fail(res, types.ReasonModalError, err)
	}
	res.Note = note

	if err := d.Click(ctx, btn.Element); err != nil {
		return w.fail(res, types.ReasonNoConnectButton, err)
	}
	res.enter(StateActionInvoked)

	snap, err := browser.WaitFor(ctx, d, w.opts.ElementWait, w.opts.PollInterval, (*browser.Snapshot).HasDialog)
	if err != nil {
		log.Warn("invitation dialog did not open: %v", err)
		return w.failAndDismiss(ctx, d, res, types.ReasonModalError, err)
	}
	res.enter(StateModalOpened)

	send := w.Targets.SendWithoutNote
	if note != "" {
		if err := w.enterNote(ctx, d, &res, snap, note); err != nil {
			log.Warn("could not enter note: %v", err)
			return w.failAndDismiss(ctx, d, res, types.ReasonModalError, err)
		}
		res.enter(StateNoteEntered)
		send = w.Targets.Send
	}

	m, err := w.loc.Locate(ctx, d, send)
	if err != nil && note == "" {
		m, err = w.loc.Locate(ctx, d, w.Targets.Send)
	}
	if err != nil {
		return w.failAndDismiss(ctx, d, res, types.ReasonSendError, err)
	}
	res.used(send.Name, m)
	if err := d.Click(ctx, m.Element); err != nil {
		return w.failAndDismiss(ctx, d, res, types.ReasonSendError, err)
	}
	res.enter(StateSubmitted)

	_, err = browser.WaitFor(ctx, d, w.opts.ConfirmTimeout, w.opts.PollInterval, w.confirmed)
	if err != nil {
		log.Warn("no confirmation after submit: %v", err)
		return w.failAndDismiss(ctx, d, res, types.ReasonConfirmationTimeout, err)
	}
	res.enter(StateConfirmed)
	res.Outcome = types.Sent()
	log.Info("invitation sent")
	return res
}

// message opens a conversation with an existing connection, types the
// direct message and sends it.
func (w *Workflow) message(ctx context.Context, d browser.Driver, res Result, cls classification) Result {
	log := logging.Get(logging.CategoryWorkflow).With("profile", res.Profile.Identifier)
	t := w.Targets

	if w.direct == nil {
		return w.fail(res, types.ReasonComposerError, errors.New("no direct message configured"))
	}
	body, err := w.direct.Compose(res.Profile)
	if err != nil {
		return w.fail(res, types.ReasonComposerError, err)
	}
	res.Note = body

	btn := cls.match
	if cls.target != t.Message.Name {
		// Classified from the degree badge; the control is still needed.
		btn, err = w.loc.Locate(ctx, d, t.Message)
		if err != nil {
			return w.fail(res, types.ReasonNoMessageButton, err)
		}
		res.used(t.Message.Name, btn)
	}
	if err := d.Click(ctx, btn.Element); err != nil {
		return w.fail(res, types.ReasonNoMessageButton, err)
	}
	res.enter(StateActionInvoked)

	snap, err := browser.WaitFor(ctx, d, w.opts.ElementWait, w.opts.PollInterval, func(s *browser.Snapshot) bool {
		_, found := w.loc.Resolve(s, t.Composer)
		return found
	})
	if err != nil {
		log.Warn("message composer did not open: %v", err)
		w.loc.Observe(t.Composer.Name, locator.Match{}, false)
		err = fmt.Errorf("%s: %w", t.Composer.Name, errors.Join(types.ErrElementNotFound, err))
		return w.failAndClose(ctx, d, res, types.ReasonComposerError, err)
	}
	field, _ := w.loc.Resolve(snap, t.Composer)
	w.loc.Observe(t.Composer.Name, field, true)
	res.used(t.Composer.Name, field)
	res.enter(StateComposerOpened)

	if err := d.Type(ctx, field.Element, body); err != nil {
		return w.failAndClose(ctx, d, res, types.ReasonComposerError, err)
	}
	res.enter(StateMessageEntered)

	send, err := w.loc.Locate(ctx, d, t.MessageSend)
	if err != nil {
		return w.failAndClose(ctx, d, res, types.ReasonSendError, err)
	}
	res.used(t.MessageSend.Name, send)
	if err := d.Click(ctx, send.Element); err != nil {
		return w.failAndClose(ctx, d, res, types.ReasonSendError, err)
	}
	res.enter(StateSubmitted)

	_, err = browser.WaitFor(ctx, d, w.opts.ConfirmTimeout, w.opts.PollInterval, func(s *browser.Snapshot) bool {
		return messageDelivered(s, body)
	})
	if err != nil {
		log.Warn("message not shown in conversation: %v", err)
		return w.failAndClose(ctx, d, res, types.ReasonConfirmationTimeout, err)
	}
	res.enter(StateConfirmed)
	res.Outcome = types.Messaged()
	log.Info("direct message sent")
	w.closeConversation(ctx, d)
	return res
}

func (w *Workflow) enterNote(ctx context.Context, d browser.Driver, res *Result, snap *browser.Snapshot, note string) error {
	field, ok := w.loc.Resolve(snap, w.Targets.NoteField)
	if !ok {
		add, err := w.loc.Locate(ctx, d, w.Targets.AddNote)
		if err != nil {
			return err
		}
		res.used(w.Targets.AddNote.Name, add)
		if err := d.Click(ctx, add.Element); err != nil {
			return fmt.Errorf("click %s: %w", w.Targets.AddNote.Name, err)
		}
		snap, err = browser.WaitFor(ctx, d, w.opts.ElementWait, w.opts.PollInterval, func(s *browser.Snapshot) bool {
			_, found := w.loc.Resolve(s, w.Targets.NoteField)
			return found
		})
		if err != nil {
			w.loc.Observe(w.Targets.NoteField.Name, locator.Match{}, false)
			return fmt.Errorf("%s: %w", w.Targets.NoteField.Name, errors.Join(types.ErrElementNotFound, err))
		}
		field, _ = w.loc.Resolve(snap, w.Targets.NoteField)
	}
	w.loc.Observe(w.Targets.NoteField.Name, field, true)
	res.used(w.Targets.NoteField.Name, field)
	return d.Type(ctx, field.Element, note)
}

// confirmed holds once the dialog has closed, a sent toast shows, or the
// profile now reads as pending.
func (w *Workflow) confirmed(snap *browser.Snapshot) bool {
	if invitationSent(snap) || !snap.HasDialog() {
		return true
	}
	_, pending := w.loc.Resolve(snap, w.Targets.Pending)
	return pending
}

// scan settles the page and nudges lazily rendered sections into the DOM.
func (w *Workflow) scan(ctx context.Context, d browser.Driver) (*browser.Snapshot, error) {
	if err := browser.Sleep(ctx, w.opts.SettleDelay); err != nil {
		return nil, err
	}
	if err := d.Scroll(ctx, w.opts.ScrollStep); err != nil {
		return nil, err
	}
	if err := browser.Sleep(ctx, w.opts.SettleDelay/2); err != nil {
		return nil, err
	}
	if err := d.Scroll(ctx, -w.opts.ScrollStep); err != nil {
		return nil, err
	}
	return d.Snapshot(ctx)
}

type classification struct {
	status types.RelationshipStatus
	target string
	match  locator.Match
	ok     bool
}

// classify determines the relationship. When interact is set it may open
// the overflow menu to look for a connect entry, and it retries once after
// a scroll when nothing is recognised.
func (w *Workflow) classify(ctx context.Context, d browser.Driver, snap *browser.Snapshot, interact bool) (classification, error) {
	cls, err := w.classifySnapshot(ctx, d, snap, interact)
	if err != nil || cls.ok || !interact {
		return cls, err
	}
	logging.WorkflowDebug("nothing recognised on %s, retrying after scroll", snap.URL)
	snap, err = w.loc.Retry(ctx, d)
	if err != nil {
		return cls, err
	}
	cls, err = w.classifySnapshot(ctx, d, snap, false)
	if err == nil && !cls.ok {
		w.loc.Observe(w.Targets.Connect.Name, locator.Match{}, false)
	}
	return cls, err
}

func (w *Workflow) classifySnapshot(ctx context.Context, d browser.Driver, snap *browser.Snapshot, openMenu bool) (classification, error) {
	t := w.Targets
	hit := func(status types.RelationshipStatus, target locator.Target, m locator.Match) classification {
		w.loc.Observe(target.Name, m, true)
		return classification{status: status, target: target.Name, match: m, ok: true}
	}

	if isFirstDegree(snap) {
		return classification{status: types.StatusAlreadyConnected, target: "degree_badge", ok: true}, nil
	}
	if m, ok := w.loc.Resolve(snap, t.Pending); ok {
		return hit(types.StatusPendingRequest, t.Pending, m), nil
	}
	if m, ok := w.loc.Resolve(snap, t.Connect); ok {
		return hit(types.StatusConnectAvailable, t.Connect, m), nil
	}
	if m, ok := w.loc.Resolve(snap, t.Message); ok {
		return hit(types.StatusAlreadyConnected, t.Message, m), nil
	}
	if openMenu {
		if more, ok := w.loc.Resolve(snap, t.More); ok {
			cls, err := w.fromMenu(ctx, d, more)
			if err != nil || cls.ok {
				return cls, err
			}
		}
	}
	if m, ok := w.loc.Resolve(snap, t.Follow); ok {
		return hit(types.StatusFollowOnly, t.Follow, m), nil
	}
	return classification{status: types.StatusUnknown}, nil
}

// fromMenu opens the overflow menu and looks for a connect or pending entry.
func (w *Workflow) fromMenu(ctx context.Context, d browser.Driver, more locator.Match) (classification, error) {
	t := w.Targets
	w.loc.Observe(t.More.Name, more, true)
	if err := d.Click(ctx, more.Element); err != nil {
		if ctx.Err() != nil {
			return classification{}, ctx.Err()
		}
		logging.WorkflowWarn("could not open overflow menu: %v", err)
		return classification{}, nil
	}

	var (
		found locator.Match
		kind  types.RelationshipStatus
	)
	_, err := browser.WaitFor(ctx, d, w.opts.ElementWait, w.opts.PollInterval, func(s *browser.Snapshot) bool {
		if m, ok := w.loc.Resolve(s, t.MenuConnect); ok {
			found, kind = m, types.StatusConnectAvailable
			return true
		}
		if m, ok := w.loc.Resolve(s, t.Pending); ok {
			found, kind = m, types.StatusPendingRequest
			return true
		}
		return false
	})
	switch {
	case ctx.Err() != nil:
		return classification{}, ctx.Err()
	case err != nil:
		logging.WorkflowDebug("overflow menu has no connect entry: %v", err)
		return classification{}, nil
	case kind == types.StatusConnectAvailable:
		w.loc.Observe(t.MenuConnect.Name, found, true)
		return classification{status: kind, target: t.MenuConnect.Name, match: found, ok: true}, nil
	default:
		w.loc.Observe(t.Pending.Name, found, true)
		return classification{status: kind, target: t.Pending.Name, match: found, ok: true}, nil
	}
}

func (w *Workflow) fail(res Result, reason string, err error) Result {
	res.Outcome = types.Failed(reason)
	res.Err = err
	logging.WorkflowWarn("%s: %s: %v", res.Profile.Identifier, reason, err)
	return res
}

func (w *Workflow) failAndDismiss(ctx context.Context, d browser.Driver, res Result, reason string, err error) Result {
	w.dismiss(ctx, d)
	return w.fail(res, reason, err)
}

func (w *Workflow) failAndClose(ctx context.Context, d browser.Driver, res Result, reason string, err error) Result {
	w.closeConversation(ctx, d)
	return w.fail(res, reason, err)
}

// closeConversation closes the messaging overlay if one is open.
func (w *Workflow) closeConversation(ctx context.Context, d browser.Driver) {
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return
	}
	m, ok := w.loc.Resolve(snap, w.Targets.CloseConversation)
	if !ok {
		return
	}
	if err := d.Click(ctx, m.Element); err != nil {
		logging.WorkflowDebug("close conversation failed: %v", err)
	}
}

// dismiss closes an open dialog so the next profile starts clean. Errors
// are logged and otherwise ignored.
func (w *Workflow) dismiss(ctx context.Context, d browser.Driver) {
	snap, err := d.Snapshot(ctx)
	if err != nil || !snap.HasDialog() {
		return
	}
	m, ok := w.loc.Resolve(snap, w.Targets.Dismiss)
	if !ok {
		logging.WorkflowDebug("open dialog has no dismiss control")
		return
	}
	if err := d.Click(ctx, m.Element); err != nil {
		logging.WorkflowDebug("dismiss failed: %v", err)
	}
}

// dump logs every interactive element so selector drift can be diagnosed
// from a run log.
func (w *Workflow) dump(snap *browser.Snapshot) {
	log := logging.Get(logging.CategoryWorkflow)
	candidates := snap.Interactive()
	log.Info("%d interactive candidates on %s", len(candidates), snap.URL)
	for _, el := range candidates {
		log.Info("  %s aria-label=%q", el, el.Attr("aria-label"))
	}
}

func interrupted(p types.Profile, cause error) error {
	return fmt.Errorf("%s: %w", p.Identifier, errors.Join(types.ErrInterrupted, cause))
}
