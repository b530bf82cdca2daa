// Package session establishes and re-validates the authenticated browsing
// context a run operates in.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"inreach/internal/browser"
	"inreach/internal/logging"
	"inreach/internal/types"

	"github.com/google/uuid"
)

// DriverFactory opens a fresh browsing context.
type DriverFactory func(ctx context.Context) (browser.Driver, error)

// Options configures a Manager.
type Options struct {
	BaseURL       string
	AuthCheckURL  string
	CookieName    string
	CookieDomain  string
	LoginURL      string
	Email         string
	Password      string
	MarkerTimeout time.Duration
	PollInterval  time.Duration
}

// Session is one authenticated browsing context. It is owned by a single
// run and must be closed on every exit path.
type Session struct {
	ID        string
	Driver    browser.Driver
	StartedAt time.Time

	closeOnce sync.Once
	closeErr  error
}

// Close releases the browsing context. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Driver.Close()
		logging.Session("session %s closed after %v", s.ID, time.Since(s.StartedAt).Round(time.Second))
	})
	return s.closeErr
}

// Manager creates sessions.
type Manager struct {
	opts      Options
	newDriver DriverFactory
}

// NewManager returns a Manager that opens browsers with newDriver.
func NewManager(opts Options, newDriver DriverFactory) *Manager {
	if opts.MarkerTimeout == 0 {
		opts.MarkerTimeout = 10 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	return &Manager{opts: opts, newDriver: newDriver}
}

// Establish injects token into a fresh context, loads an authenticated-only
// page and checks for the signed-in marker. When that fails and an email and
// password are configured, it signs in through the login form instead. Every
// failure is an *types.AuthError and leaves no browser running.
func (m *Manager) Establish(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" && !m.canSignIn() {
		return nil, &types.AuthError{Reason: "no credential token supplied"}
	}

	timer := logging.StartTimer(logging.CategorySession, "establish session")
	defer timer.Stop()

	d, err := m.newDriver(ctx)
	if err != nil {
		return nil, &types.AuthError{Reason: "could not open browser", Err: err}
	}

	s := &Session{ID: uuid.NewString(), Driver: d, StartedAt: time.Now()}
	if err := m.authenticate(ctx, d, token); err != nil {
		if cerr := d.Close(); cerr != nil {
			logging.SessionWarn("close after failed auth: %v", cerr)
		}
		logging.SessionError("%v", err)
		return nil, err
	}
	logging.Session("session %s established", s.ID)
	return s, nil
}

func (m *Manager) canSignIn() bool {
	return m.opts.LoginURL != "" && m.opts.Email != "" && m.opts.Password != ""
}

func (m *Manager) authenticate(ctx context.Context, d browser.Driver, token string) error {
	if token == "" {
		return m.withPassword(ctx, d)
	}
	err := m.withCookie(ctx, d, token)
	if err == nil || !m.canSignIn() || ctx.Err() != nil {
		return err
	}
	logging.SessionWarn("cookie rejected (%v), signing in with password", err)
	return m.withPassword(ctx, d)
}

func (m *Manager) withCookie(ctx context.Context, d browser.Driver, token string) error {
	// Cookies are scoped to a site; load it once so the context has an origin.
	if err := d.Navigate(ctx, m.opts.BaseURL); err != nil {
		return &types.AuthError{Reason: "navigation failed", URL: m.opts.BaseURL, Err: err}
	}
	cookie := browser.Cookie{
		Name:     m.opts.CookieName,
		Value:    token,
		Domain:   m.opts.CookieDomain,
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
	}
	if err := d.SetCookie(ctx, cookie); err != nil {
		return &types.AuthError{Reason: "could not set credential cookie", Err: err}
	}
	if err := d.Navigate(ctx, m.opts.AuthCheckURL); err != nil {
		return &types.AuthError{Reason: "navigation failed", URL: m.opts.AuthCheckURL, Err: err}
	}

	snap, err := browser.WaitFor(ctx, d, m.opts.MarkerTimeout, m.opts.PollInterval, func(s *browser.Snapshot) bool {
		return IsAuthWall(s.URL) || HasAuthMarker(s)
	})
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &types.AuthError{Reason: "interrupted", URL: m.opts.AuthCheckURL, Err: err}
	case snap == nil:
		return &types.AuthError{Reason: "could not read page", URL: m.opts.AuthCheckURL, Err: err}
	case IsAuthWall(snap.URL):
		return &types.AuthError{Reason: "redirected to sign-in", URL: snap.URL}
	case err != nil:
		return &types.AuthError{Reason: "authentication marker not found", URL: snap.URL, Err: err}
	}
	return nil
}

// loginForm holds the controls of the email and password sign-in page.
type loginForm struct {
	user, pass, submit browser.Element
}

func findLoginForm(s *browser.Snapshot) (loginForm, bool) {
	var f loginForm
	var haveUser, havePass, haveSubmit bool
	for _, el := range s.Interactive() {
		switch {
		case !haveUser && el.Tag == "input" && (el.Attr("id") == "username" || el.Attr("name") == "session_key"):
			f.user, haveUser = el, true
		case !havePass && el.Tag == "input" && (el.Attr("id") == "password" || el.Attr("name") == "session_password"):
			f.pass, havePass = el, true
		case !haveSubmit && el.Tag == "button" && el.Attr("type") == "submit":
			f.submit, haveSubmit = el, true
		}
	}
	return f, haveUser && havePass && haveSubmit
}

func (m *Manager) withPassword(ctx context.Context, d browser.Driver) error {
	login := m.opts.LoginURL
	if err := d.Navigate(ctx, login); err != nil {
		return &types.AuthError{Reason: "navigation failed", URL: login, Err: err}
	}
	snap, err := browser.WaitFor(ctx, d, m.opts.MarkerTimeout, m.opts.PollInterval, func(s *browser.Snapshot) bool {
		_, ok := findLoginForm(s)
		return ok
	})
	if err != nil {
		if ctx.Err() != nil {
			return &types.AuthError{Reason: "interrupted", URL: login, Err: err}
		}
		return &types.AuthError{Reason: "sign-in form not found", URL: login, Err: err}
	}
	form, _ := findLoginForm(snap)
	if err := d.Type(ctx, form.user, m.opts.Email); err != nil {
		return &types.AuthError{Reason: "could not enter email", URL: login, Err: err}
	}
	if err := d.Type(ctx, form.pass, m.opts.Password); err != nil {
		return &types.AuthError{Reason: "could not enter password", URL: login, Err: err}
	}
	if err := d.Click(ctx, form.submit); err != nil {
		return &types.AuthError{Reason: "could not submit sign-in", URL: login, Err: err}
	}

	snap, err = browser.WaitFor(ctx, d, m.opts.MarkerTimeout, m.opts.PollInterval, func(s *browser.Snapshot) bool {
		return IsChallenge(s.URL) || HasAuthMarker(s)
	})
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &types.AuthError{Reason: "interrupted", URL: login, Err: err}
	case snap == nil:
		return &types.AuthError{Reason: "could not read page", URL: login, Err: err}
	case IsChallenge(snap.URL):
		return &types.AuthError{Reason: "security verification required", URL: snap.URL}
	case err != nil:
		return &types.AuthError{Reason: "sign-in rejected", URL: snap.URL, Err: err}
	}
	logging.Session("signed in with password")
	return nil
}

// IsChallenge reports whether u is a security checkpoint a human must clear.
func IsChallenge(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	p := strings.ToLower(parsed.Path)
	return strings.HasPrefix(p, "/checkpoint") || strings.Contains(p, "challenge")
}

// IsStillValid checks, without navigating, that the session has not been
// bounced to a sign-in or checkpoint page.
func (m *Manager) IsStillValid(ctx context.Context, s *Session) error {
	current, err := s.Driver.CurrentURL(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &types.AuthError{Reason: "browser unavailable", Err: errors.Join(types.ErrSessionExpired, err)}
	}
	if IsAuthWall(current) {
		logging.SessionWarn("session %s invalidated at %s", s.ID, current)
		return &types.AuthError{Reason: "session invalidated", URL: current, Err: types.ErrSessionExpired}
	}
	return nil
}

var authWallPaths = []string{
	"/login",
	"/uas/login",
	"/checkpoint",
	"/authwall",
	"/signup",
}

// IsAuthWall reports whether u is a sign-in, checkpoint or auth-wall page.
func IsAuthWall(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	p := strings.ToLower(parsed.Path)
	for _, prefix := range authWallPaths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// HasAuthMarker reports whether the page shows signed-in chrome.
func HasAuthMarker(s *browser.Snapshot) bool {
	marks := s.Filter(func(el browser.Element) bool {
		_, testNav := el.Attrs["data-test-global-nav"]
		return testNav ||
			el.Attr("id") == "global-nav" ||
			el.HasClass("global-nav") ||
			el.HasClass("feed-identity-module")
	})
	return len(marks) > 0
}

// String implements fmt.Stringer.
func (s *Session) String() string {
	return fmt.Sprintf("session %s", s.ID)
}
