package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"inreach/internal/browser"
	"inreach/internal/browser/browsertest"
	"inreach/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	base   = "https://www.linkedin.com"
	feed   = "https://www.linkedin.com/feed/"
	login  = "https://www.linkedin.com/login"
	signed = `<html><body><header id="global-nav" class="global-nav"><nav>Home</nav></header><main>Feed</main></body></html>`
	signIn = `<html><body><form><input name="session_key"><button>Sign in</button></form></body></html>`
)

func opts() Options {
	return Options{
		BaseURL:       base,
		AuthCheckURL:  feed,
		CookieName:    "li_at",
		CookieDomain:  ".linkedin.com",
		MarkerTimeout: 50 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
}

func fakeSite() *browsertest.FakeDriver {
	return browsertest.New().
		SetPage(base, `<html><body>home</body></html>`).
		SetPage(feed, signed).
		SetPage(login, signIn).
		RequireCookie(browser.Cookie{Name: "li_at", Value: "good-token"}, login)
}

func factory(d *browsertest.FakeDriver, opened *int) DriverFactory {
	return func(ctx context.Context) (browser.Driver, error) {
		*opened++
		return d, nil
	}
}

func TestEstablish_ValidToken(t *testing.T) {
	d := fakeSite()
	opened := 0
	m := NewManager(opts(), factory(d, &opened))

	s, err := m.Establish(context.Background(), "good-token")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 1, opened)

	cookies := d.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "li_at", cookies[0].Name)
	assert.Equal(t, ".linkedin.com", cookies[0].Domain)
	assert.Contains(t, d.Navigations(), feed)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")
	assert.True(t, d.Closed())
}

func TestEstablish_InvalidToken(t *testing.T) {
	d := fakeSite()
	opened := 0
	m := NewManager(opts(), factory(d, &opened))

	s, err := m.Establish(context.Background(), "expired-token")
	assert.Nil(t, s)
	require.Error(t, err)

	var authErr *types.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "redirected to sign-in", authErr.Reason)
	assert.ErrorIs(t, err, types.ErrAuth)
	assert.True(t, types.IsFatal(err))
	assert.True(t, d.Closed(), "browser released on failure")
}

func TestEstablish_EmptyTokenNeverOpensBrowser(t *testing.T) {
	opened := 0
	m := NewManager(opts(), factory(fakeSite(), &opened))
	_, err := m.Establish(context.Background(), "   ")
	assert.ErrorIs(t, err, types.ErrAuth)
	assert.Zero(t, opened)
}

func TestEstablish_MarkerMissing(t *testing.T) {
	d := fakeSite().SetPage(feed, `<html><body><p>Something went wrong</p></body></html>`)
	m := NewManager(opts(), factory(d, new(int)))

	_, err := m.Establish(context.Background(), "good-token")
	var authErr *types.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "authentication marker not found", authErr.Reason)
	assert.ErrorIs(t, err, browser.ErrWaitTimeout)
}

func TestEstablish_NavigationFailure(t *testing.T) {
	d := fakeSite().FailNavigate(feed, errors.New("net::ERR_TIMED_OUT"))
	m := NewManager(opts(), factory(d, new(int)))

	_, err := m.Establish(context.Background(), "good-token")
	var authErr *types.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "navigation failed", authErr.Reason)
	assert.Equal(t, feed, authErr.URL)
}

func TestEstablish_FactoryError(t *testing.T) {
	m := NewManager(opts(), func(ctx context.Context) (browser.Driver, error) {
		return nil, errors.New("chrome not found")
	})
	_, err := m.Establish(context.Background(), "good-token")
	assert.ErrorIs(t, err, types.ErrAuth)
	assert.Contains(t, err.Error(), "chrome not found")
}

const (
	checkpoint    = "https://www.linkedin.com/checkpoint/challenge/123"
	loginFormHTML = `<html><body><form>
<input id="username" name="session_key">
<input id="password" name="session_password" type="password">
<button id="sign-in" type="submit">Sign in</button>
</form></body></html>`
)

func passwordOpts() Options {
	o := opts()
	o.LoginURL = login
	o.Email = "me@example.com"
	o.Password = "hunter2"
	return o
}

func TestEstablish_FallsBackToPassword(t *testing.T) {
	d := fakeSite().
		SetPage(login, loginFormHTML).
		AcceptCredentials("sign-in", "username", "password", "me@example.com", "hunter2", feed)
	m := NewManager(passwordOpts(), factory(d, new(int)))

	s, err := m.Establish(context.Background(), "expired-token")
	require.NoError(t, err)
	require.NotNil(t, s)

	user, _ := d.Typed("username")
	assert.Equal(t, "me@example.com", user)
	assert.True(t, d.Clicked("sign-in"))
	assert.False(t, d.Closed())
}

func TestEstablish_PasswordWithoutToken(t *testing.T) {
	d := fakeSite().
		SetPage(login, loginFormHTML).
		AcceptCredentials("sign-in", "username", "password", "me@example.com", "hunter2", feed)
	m := NewManager(passwordOpts(), factory(d, new(int)))

	_, err := m.Establish(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, d.Cookies(), "no cookie is injected without a token")
	assert.Equal(t, []string{login}, d.Navigations())
}

func TestEstablish_PasswordCheckpoint(t *testing.T) {
	d := fakeSite().
		SetPage(login, loginFormHTML).
		SetPage(checkpoint, `<html><body><h1>Let's do a quick security check</h1></body></html>`).
		AcceptCredentials("sign-in", "username", "password", "me@example.com", "hunter2", checkpoint)
	m := NewManager(passwordOpts(), factory(d, new(int)))

	_, err := m.Establish(context.Background(), "expired-token")
	var authErr *types.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "security verification required", authErr.Reason)
	assert.Equal(t, checkpoint, authErr.URL)
	assert.True(t, d.Closed())
}

func TestEstablish_PasswordRejected(t *testing.T) {
	d := fakeSite().
		SetPage(login, loginFormHTML).
		AcceptCredentials("sign-in", "username", "password", "me@example.com", "other", feed)
	m := NewManager(passwordOpts(), factory(d, new(int)))

	_, err := m.Establish(context.Background(), "expired-token")
	var authErr *types.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "sign-in rejected", authErr.Reason)
	assert.ErrorIs(t, err, browser.ErrWaitTimeout)
}

func TestEstablish_LoginFormMissing(t *testing.T) {
	d := fakeSite()
	m := NewManager(passwordOpts(), factory(d, new(int)))

	_, err := m.Establish(context.Background(), "")
	var authErr *types.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "sign-in form not found", authErr.Reason)
}

func TestIsChallenge(t *testing.T) {
	assert.True(t, IsChallenge(checkpoint))
	assert.True(t, IsChallenge("https://www.linkedin.com/uas/challenge?x=1"))
	assert.False(t, IsChallenge(feed))
}

func TestIsStillValid(t *testing.T) {
	ctx := context.Background()
	d := fakeSite().
		SetPage("https://www.linkedin.com/in/jane/", `<html><body>profile</body></html>`).
		Redirect("https://www.linkedin.com/in/bob/", "https://www.linkedin.com/checkpoint/challenge/123")
	m := NewManager(opts(), factory(d, new(int)))

	s, err := m.Establish(ctx, "good-token")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, d.Navigate(ctx, "https://www.linkedin.com/in/jane/"))
	assert.NoError(t, m.IsStillValid(ctx, s))

	require.NoError(t, d.Navigate(ctx, "https://www.linkedin.com/in/bob/"))
	err = m.IsStillValid(ctx, s)
	assert.ErrorIs(t, err, types.ErrSessionExpired)
	assert.ErrorIs(t, err, types.ErrAuth)
}

func TestIsAuthWall(t *testing.T) {
	for u, want := range map[string]bool{
		"https://www.linkedin.com/login?session_redirect=x": true,
		"https://www.linkedin.com/uas/login":                true,
		"https://www.linkedin.com/checkpoint/lg/login":      true,
		"https://www.linkedin.com/authwall?trk=x":           true,
		"https://www.linkedin.com/feed/":                    false,
		"https://www.linkedin.com/in/login-expert/":         false,
		"::not a url": false,
	} {
		assert.Equal(t, want, IsAuthWall(u), u)
	}
}
