package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"inreach/internal/browser"
	"inreach/internal/browser/browsertest"
	"inreach/internal/campaign"
	"inreach/internal/locator"
	"inreach/internal/message"
	"inreach/internal/quota"
	"inreach/internal/session"
	"inreach/internal/types"
	"inreach/internal/workflow"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const today = "2026-03-02"

func clock() time.Time {
	ts, _ := time.Parse(types.DateLayout, today)
	return ts.Add(9 * time.Hour)
}

// memStore is an in-memory campaign.Store.
type memStore struct {
	mu        sync.Mutex
	profiles  []types.Profile
	loadErr   error
	recordErr error
	recorded  []types.Profile
}

func (s *memStore) Load(ctx context.Context) ([]types.Profile, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]types.Profile(nil), s.profiles...), nil
}

func (s *memStore) Record(ctx context.Context, p types.Profile, o types.Outcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	p.Outcome = o
	p.LastAttemptedAt = at
	s.recorded = append(s.recorded, p)
	return nil
}

func (s *memStore) outcomes() map[string]types.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.Outcome, len(s.recorded))
	for _, p := range s.recorded {
		out[p.Identifier] = p.Outcome
	}
	return out
}

// scripted is a campaign.Processor returning canned outcomes; unknown
// profiles are sent.
type scripted struct {
	mu       sync.Mutex
	outcomes map[string]types.Outcome
	errs     map[string]error
	calls    []string
}

func (s *scripted) Process(ctx context.Context, d browser.Driver, p types.Profile) (workflow.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p.Identifier)
	if err, ok := s.errs[p.Identifier]; ok {
		return workflow.Result{Profile: p}, err
	}
	o, ok := s.outcomes[p.Identifier]
	if !ok {
		o = types.Sent()
	}
	return workflow.Result{Profile: p, Outcome: o}, nil
}

func (s *scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// stubSessions hands out a session over a fake driver.
type stubSessions struct {
	driver     *browsertest.FakeDriver
	invalidate func(attempt int) error
	checks     int
	opened     int
}

func (s *stubSessions) Establish(ctx context.Context, token string) (*session.Session, error) {
	s.opened++
	return &session.Session{ID: "test-session", Driver: s.driver, StartedAt: time.Now()}, nil
}

func (s *stubSessions) IsStillValid(ctx context.Context, _ *session.Session) error {
	s.checks++
	if s.invalidate != nil {
		return s.invalidate(s.checks)
	}
	return nil
}

func profiles(n int) []types.Profile {
	out := make([]types.Profile, n)
	for i := range out {
		id := fmt.Sprintf("person-%d", i+1)
		out[i] = types.Profile{
			Identifier:  id,
			DisplayName: fmt.Sprintf("Person %d", i+1),
			ProfileURL:  "https://www.linkedin.com/in/" + id + "/",
			Row:         i,
		}
	}
	return out
}

func tracker(sent, limit int) (*quota.Tracker, *quota.MemoryStore) {
	store := quota.NewMemoryStore(types.QuotaRecord{Date: today, SentCount: sent})
	return quota.NewTracker(store, limit, quota.WithClock(clock)), store
}

func TestRun_StopsWhenQuotaExhausted(t *testing.T) {
	store := &memStore{profiles: profiles(3)}
	tr, qs := tracker(23, 25)
	proc := &scripted{}
	sessions := &stubSessions{driver: browsertest.New()}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    store,
		Quota:    tr,
		Sessions: sessions,
		Workflow: proc,
		Now:      clock,
	}).Run(context.Background())
	require.NoError(t, err, "quota exhaustion is not a failure")

	assert.Equal(t, campaign.StopQuotaExhausted, sum.Reason)
	assert.False(t, sum.Reason.Fatal())
	assert.Equal(t, []string{"person-1", "person-2"}, proc.Calls(), "third profile never attempted")
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 25, qs.Record().SentCount)
	assert.Equal(t, 0, sum.Remaining)
	assert.Len(t, store.outcomes(), 2)
	assert.True(t, sessions.driver.Closed())
}

func TestRun_NoQuotaLeftNeverOpensBrowser(t *testing.T) {
	tr, _ := tracker(25, 25)
	sessions := &stubSessions{driver: browsertest.New()}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    &memStore{profiles: profiles(2)},
		Quota:    tr,
		Sessions: sessions,
		Workflow: &scripted{},
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, campaign.StopQuotaExhausted, sum.Reason)
	assert.Zero(t, sessions.opened)
}

func TestRun_AllSettledDoesNothing(t *testing.T) {
	ps := profiles(3)
	ps[0].StoredStatus = "sent"
	ps[1].StoredStatus = "connect_sent"
	ps[2].Outcome = types.Sent()

	fake := browsertest.New()
	opened := 0
	mgr := session.NewManager(session.Options{BaseURL: "https://www.linkedin.com"}, func(ctx context.Context) (browser.Driver, error) {
		opened++
		return fake, nil
	})
	tr, _ := tracker(0, 25)
	proc := &scripted{}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    &memStore{profiles: ps},
		Quota:    tr,
		Sessions: mgr,
		Workflow: proc,
		Settled:  []string{"sent", "connect_sent"},
		Token:    "good-token",
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, campaign.StopQueueDrained, sum.Reason)
	assert.Zero(t, sum.Queued)
	assert.Zero(t, opened)
	assert.Empty(t, fake.Navigations())
	assert.Empty(t, proc.Calls())
}

func TestRun_InvalidTokenWritesNothing(t *testing.T) {
	const login = "https://www.linkedin.com/login"
	fake := browsertest.New().
		SetPage("https://www.linkedin.com/feed/", `<html><body><header id="global-nav"></header></body></html>`).
		SetPage(login, `<html><body><form><button>Sign in</button></form></body></html>`).
		RequireCookie(browser.Cookie{Name: "li_at", Value: "good-token"}, login)
	mgr := session.NewManager(session.Options{
		BaseURL:       "https://www.linkedin.com",
		AuthCheckURL:  "https://www.linkedin.com/feed/",
		CookieName:    "li_at",
		CookieDomain:  ".linkedin.com",
		MarkerTimeout: 50 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}, func(ctx context.Context) (browser.Driver, error) { return fake, nil })

	store := &memStore{profiles: profiles(3)}
	tr, qs := tracker(0, 25)
	proc := &scripted{}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    store,
		Quota:    tr,
		Sessions: mgr,
		Workflow: proc,
		Token:    "expired-token",
	}).Run(context.Background())

	require.Error(t, err)
	var authErr *types.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.True(t, types.IsFatal(err))
	assert.Equal(t, campaign.StopAuthFailed, sum.Reason)
	assert.True(t, sum.Reason.Fatal())
	assert.Empty(t, proc.Calls())
	assert.Empty(t, store.outcomes())
	assert.Zero(t, qs.Record().SentCount)
	assert.True(t, fake.Closed())
}

func TestRun_ContinuesPastSkipsAndFailures(t *testing.T) {
	store := &memStore{profiles: profiles(5)}
	tr, qs := tracker(0, 25)
	proc := &scripted{outcomes: map[string]types.Outcome{
		"person-1": types.Skipped(types.OutcomeSkippedPending),
		"person-2": types.Failed(types.ReasonModalError),
		"person-3": types.Skipped(types.OutcomeSkippedAlreadyConnected),
		"person-5": types.Failed(types.ReasonModalError),
	}}
	paced := &countingPacer{}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    store,
		Quota:    tr,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: proc,
		Pacer:    paced,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, campaign.StopQueueDrained, sum.Reason)
	assert.Len(t, proc.Calls(), 5)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, qs.Record().SentCount, "only sends consume quota")
	assert.Equal(t, 4, paced.calls, "paced between attempts regardless of outcome")

	want := map[types.OutcomeKind]int{
		types.OutcomeSkippedPending:          1,
		types.OutcomeSkippedAlreadyConnected: 1,
	}
	if diff := cmp.Diff(want, sum.Skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{types.ReasonModalError: 2}, sum.Failed); diff != "" {
		t.Errorf("failed mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, types.Failed(types.ReasonModalError), store.outcomes()["person-2"])
}

func TestRun_RunLimit(t *testing.T) {
	tr, _ := tracker(0, 25)
	proc := &scripted{}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    &memStore{profiles: profiles(5)},
		Quota:    tr,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: proc,
		Limit:    2,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, campaign.StopRunLimit, sum.Reason)
	assert.Equal(t, []string{"person-1", "person-2"}, proc.Calls())
}

func TestRun_SessionExpiredMidRun(t *testing.T) {
	store := &memStore{profiles: profiles(3)}
	tr, _ := tracker(0, 25)
	proc := &scripted{errs: map[string]error{
		"person-2": &types.AuthError{Reason: "redirected to sign-in", Err: types.ErrSessionExpired},
	}}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    store,
		Quota:    tr,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: proc,
	}).Run(context.Background())

	assert.ErrorIs(t, err, types.ErrSessionExpired)
	assert.Equal(t, campaign.StopAuthFailed, sum.Reason)
	assert.Equal(t, []string{"person-1", "person-2"}, proc.Calls())
	assert.Len(t, store.outcomes(), 1, "the expired attempt is not recorded")
}

func TestRun_SessionInvalidatedBetweenProfiles(t *testing.T) {
	tr, _ := tracker(0, 25)
	proc := &scripted{}
	sessions := &stubSessions{
		driver: browsertest.New(),
		invalidate: func(attempt int) error {
			if attempt == 2 {
				return &types.AuthError{Reason: "session invalidated", Err: types.ErrSessionExpired}
			}
			return nil
		},
	}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    &memStore{profiles: profiles(3)},
		Quota:    tr,
		Sessions: sessions,
		Workflow: proc,
	}).Run(context.Background())

	assert.ErrorIs(t, err, types.ErrAuth)
	assert.Equal(t, campaign.StopAuthFailed, sum.Reason)
	assert.Equal(t, []string{"person-1"}, proc.Calls())
}

func TestRun_InterruptedAttemptStopsQuietly(t *testing.T) {
	store := &memStore{profiles: profiles(3)}
	tr, _ := tracker(0, 25)
	proc := &scripted{errs: map[string]error{
		"person-2": fmt.Errorf("person-2: %w", types.ErrInterrupted),
	}}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    store,
		Quota:    tr,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: proc,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, campaign.StopCancelled, sum.Reason)
	assert.Len(t, store.outcomes(), 1)
}

// countingPacer counts waits and optionally cancels on the nth.
type countingPacer struct {
	calls    int
	cancelAt int
	cancel   context.CancelFunc
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.calls++
	if p.cancel != nil && p.calls == p.cancelAt {
		p.cancel()
	}
	return ctx.Err()
}

func TestRun_CancelledAtProfileBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &memStore{profiles: profiles(4)}
	tr, _ := tracker(0, 25)
	proc := &scripted{}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    store,
		Quota:    tr,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: proc,
		Pacer:    &countingPacer{cancelAt: 2, cancel: cancel},
	}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, campaign.StopCancelled, sum.Reason)
	assert.Equal(t, []string{"person-1", "person-2"}, proc.Calls())
	assert.Len(t, store.outcomes(), 2)
}

func TestRun_StoreWriteFailureIsFatal(t *testing.T) {
	store := &memStore{profiles: profiles(2), recordErr: errors.New("disk full")}
	tr, qs := tracker(0, 25)
	proc := &scripted{}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    store,
		Quota:    tr,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: proc,
	}).Run(context.Background())

	assert.ErrorIs(t, err, types.ErrStoreWrite)
	assert.Equal(t, campaign.StopStoreFailure, sum.Reason)
	assert.Equal(t, []string{"person-1"}, proc.Calls())
	assert.Zero(t, qs.Record().SentCount, "quota untouched when the outcome was not recorded")
}

func TestRun_StoreLoadFailureIsFatal(t *testing.T) {
	tr, _ := tracker(0, 25)
	sessions := &stubSessions{driver: browsertest.New()}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    &memStore{loadErr: errors.New("permission denied")},
		Quota:    tr,
		Sessions: sessions,
		Workflow: &scripted{},
	}).Run(context.Background())

	assert.ErrorIs(t, err, types.ErrStoreLoad)
	assert.True(t, types.IsFatal(err))
	assert.Equal(t, campaign.StopStoreFailure, sum.Reason)
	assert.Zero(t, sessions.opened)
}

func TestRun_EmitsProgress(t *testing.T) {
	tr, _ := tracker(0, 25)
	progress := make(chan campaign.Progress, 8)

	_, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    &memStore{profiles: profiles(2)},
		Quota:    tr,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: &scripted{},
		Progress: progress,
	}).Run(context.Background())
	require.NoError(t, err)
	close(progress)

	var got []campaign.Progress
	for p := range progress {
		got = append(got, p)
	}
	want := []campaign.Progress{
		{Index: 1, Queued: 2, Profile: "person-1", Outcome: types.Sent(), Remaining: 24},
		{Index: 2, Queued: 2, Profile: "person-2", Outcome: types.Sent(), Remaining: 23},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_CountsEachActionAgainstItsOwnQuota(t *testing.T) {
	store := &memStore{profiles: profiles(3)}
	connects, cs := tracker(0, 25)
	messages, ms := tracker(0, 25)
	proc := &scripted{outcomes: map[string]types.Outcome{
		"person-1": types.Messaged(),
		"person-3": types.Messaged(),
	}}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    store,
		Quota:    connects,
		Messages: messages,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: proc,
		Now:      clock,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, campaign.StopQueueDrained, sum.Reason)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 2, sum.Messaged)
	assert.Equal(t, 1, cs.Record().SentCount)
	assert.Equal(t, 2, ms.Record().SentCount)
	assert.Equal(t, 23, sum.Remaining, "the smaller allowance is reported")
}

func TestRun_StopsWhenEitherQuotaIsUsedUp(t *testing.T) {
	connects, cs := tracker(0, 25)
	messages, _ := tracker(1, 2)
	proc := &scripted{outcomes: map[string]types.Outcome{
		"person-1": types.Messaged(),
		"person-2": types.Messaged(),
	}}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    &memStore{profiles: profiles(3)},
		Quota:    connects,
		Messages: messages,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: proc,
		Now:      clock,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, campaign.StopQuotaExhausted, sum.Reason)
	assert.Equal(t, []string{"person-1"}, proc.Calls())
	assert.Zero(t, cs.Record().SentCount)
}

func TestRun_MessageOnlyNeedsNoConnectQuota(t *testing.T) {
	messages, ms := tracker(0, 5)
	proc := &scripted{outcomes: map[string]types.Outcome{
		"person-1": types.Messaged(),
		"person-2": types.Skipped(types.OutcomeSkippedNotConnected),
	}}

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    &memStore{profiles: profiles(2)},
		Messages: messages,
		Sessions: &stubSessions{driver: browsertest.New()},
		Workflow: proc,
		Now:      clock,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, campaign.StopQueueDrained, sum.Reason)
	assert.Equal(t, 1, ms.Record().SentCount)
	assert.Equal(t, 4, sum.Remaining)
	assert.Equal(t, 1, sum.Skipped[types.OutcomeSkippedNotConnected])
}

const (
	profilePage = `<html><body><header id="global-nav"></header>
<main><section class="pv-top-card"><h1>Person</h1>
<div class="pvs-profile-actions">%s</div></section></main></body></html>`
	inviteDialog = `<div role="dialog" class="artdeco-modal">
<button id="dismiss" aria-label="Dismiss">x</button>
<textarea id="custom-message"></textarea>
<button id="send" aria-label="Send invitation">Send</button></div>`
)

func TestRun_EndToEndWithWorkflow(t *testing.T) {
	ps := profiles(2)
	fake := browsertest.New().
		SetPage(ps[0].ProfileURL, fmt.Sprintf(profilePage, `<button id="pending">Pending</button>`)).
		SetPage(ps[1].ProfileURL, fmt.Sprintf(profilePage, `<button id="connect">Connect</button>`)).
		OnClick("connect", fmt.Sprintf(profilePage, `<button id="connect">Connect</button>`)+inviteDialog).
		OnClick("send", fmt.Sprintf(profilePage, `<button id="pending">Pending</button>`))

	composer, err := message.NewComposer("Hi {{.FirstName}}", message.Ceiling)
	require.NoError(t, err)
	loc := locator.New(locator.Options{})
	wf := workflow.New(loc, composer, workflow.Options{
		ElementWait:    100 * time.Millisecond,
		ConfirmTimeout: 100 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})

	store := &memStore{profiles: ps}
	tr, qs := tracker(0, 25)

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:     store,
		Quota:     tr,
		Sessions:  &stubSessions{driver: fake},
		Workflow:  wf,
		Telemetry: loc,
		Now:       clock,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, campaign.StopQueueDrained, sum.Reason)
	assert.Equal(t, types.Skipped(types.OutcomeSkippedPending), store.outcomes()["person-1"])
	assert.Equal(t, types.Sent(), store.outcomes()["person-2"])
	assert.Equal(t, 1, qs.Record().SentCount, "pending profile does not consume quota")
	assert.False(t, fake.Clicked("pending"))

	typed, ok := fake.Typed("custom-message")
	require.True(t, ok)
	assert.Equal(t, "Hi Person", typed)

	stats, _ := loc.Stats()
	assert.NotEmpty(t, stats)
}

func TestRun_BothModeMessagesConnectionsAndInvitesOthers(t *testing.T) {
	ps := profiles(2)
	overlay := `<div class="msg-overlay-conversation-bubble">
<button class="msg-overlay-bubble-header__control--close" id="close-chat" aria-label="Close your conversation">x</button>
<ul><li class="msg-s-event-listitem">%s</li></ul>
<form class="msg-form"><div id="composer" class="msg-form__contenteditable" contenteditable="true" aria-label="Write a message"></div>
<button id="dm-send" class="msg-form__send-button" type="submit">Send</button></form></div>`
	connected := fmt.Sprintf(profilePage, `<button id="message" aria-label="Message Person 1">Message</button>`)
	fake := browsertest.New().
		SetPage(ps[0].ProfileURL, connected).
		SetPage(ps[1].ProfileURL, fmt.Sprintf(profilePage, `<button id="connect">Connect</button>`)).
		OnClick("message", connected+fmt.Sprintf(overlay, "")).
		OnClick("dm-send", connected+fmt.Sprintf(overlay, "Hello Person, resume: https://example.com/cv")).
		OnClick("connect", fmt.Sprintf(profilePage, `<button id="connect">Connect</button>`)+inviteDialog).
		OnClick("send", fmt.Sprintf(profilePage, `<button id="pending">Pending</button>`))

	note, err := message.NewComposer("Hi {{.FirstName}}", message.Ceiling)
	require.NoError(t, err)
	dm, err := message.NewMessageComposer("Hello {{.FirstName}}, resume: {{.Resume}}", 0)
	require.NoError(t, err)
	wf := workflow.New(locator.New(locator.Options{}), note, workflow.Options{
		ElementWait:    100 * time.Millisecond,
		ConfirmTimeout: 100 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		Mode:           workflow.ModeBoth,
	}).WithDirectMessage(dm.WithResume("https://example.com/cv"))

	store := &memStore{profiles: ps}
	connects, cs := tracker(0, 25)
	messages, ms := tracker(0, 25)

	sum, err := campaign.NewRunner(campaign.RunnerConfig{
		Store:    store,
		Quota:    connects,
		Messages: messages,
		Sessions: &stubSessions{driver: fake},
		Workflow: wf,
		Now:      clock,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.Messaged(), store.outcomes()["person-1"])
	assert.Equal(t, types.Sent(), store.outcomes()["person-2"])
	assert.Equal(t, 1, ms.Record().SentCount)
	assert.Equal(t, 1, cs.Record().SentCount)
	assert.Equal(t, 1, sum.Messaged)
	assert.Equal(t, 1, sum.Sent)

	typed, _ := fake.Typed("composer")
	assert.Equal(t, "Hello Person, resume: https://example.com/cv", typed)
}
