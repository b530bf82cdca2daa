// Package browsertest provides a scripted, in-memory browser.Driver.
//
// Pages are HTML fixtures keyed by URL. Clicking an element whose id (or
// data-testid) has a registered transition swaps the current page for the
// transition's HTML, which is how dialogs opening and closing are modelled.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"inreach/internal/browser"
)

// FakeDriver is a browser.Driver backed by HTML fixtures.
type FakeDriver struct {
	mu sync.Mutex

	pages       map[string]string
	redirects   map[string]string
	transitions map[string]string
	navErrs     map[string]error
	clickErrs   map[string]error
	onScroll    []string
	authCookie  *browser.Cookie
	loginURL    string
	login       *credentials
	signedIn    bool

	url  string
	html string

	cookies     []browser.Cookie
	navigations []string
	clicks      []string
	typed       map[string]string
	scrolls     int
	snapshots   int
	closed      bool
}

// New returns an empty FakeDriver showing about:blank.
func New() *FakeDriver {
	return &FakeDriver{
		pages:       make(map[string]string),
		redirects:   make(map[string]string),
		transitions: make(map[string]string),
		navErrs:     make(map[string]error),
		clickErrs:   make(map[string]error),
		typed:       make(map[string]string),
		url:         "about:blank",
		html:        "<html><body></body></html>",
	}
}

// SetPage registers the HTML served at url.
func (f *FakeDriver) SetPage(url, html string) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = html
	return f
}

// Redirect makes navigations to from land on to.
func (f *FakeDriver) Redirect(from, to string) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects[from] = to
	return f
}

// RequireCookie redirects every navigation except loginURL to loginURL
// until a cookie matching c's name and value has been set.
func (f *FakeDriver) RequireCookie(c browser.Cookie, loginURL string) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCookie = &c
	f.loginURL = loginURL
	return f
}

type credentials struct {
	submit, userField, passField string
	user, pass                   string
	landing                      string
}

// AcceptCredentials models a sign-in form. Clicking submit after user and
// pass were typed into userField and passField signs the context in, as
// a valid cookie would, and lands on landing.
func (f *FakeDriver) AcceptCredentials(submit, userField, passField, user, pass, landing string) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.login = &credentials{
		submit: submit, userField: userField, passField: passField,
		user: user, pass: pass, landing: landing,
	}
	return f
}

// OnClick replaces the current page with html after the element with the
// given id or data-testid is clicked.
func (f *FakeDriver) OnClick(id, html string) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions[id] = html
	return f
}

// OnScroll queues pages revealed by successive scrolls.
func (f *FakeDriver) OnScroll(html ...string) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onScroll = append(f.onScroll, html...)
	return f
}

// FailNavigate makes navigation to url fail with err.
func (f *FakeDriver) FailNavigate(url string, err error) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navErrs[url] = err
	return f
}

// FailClick makes clicking the element with the given id fail with err.
func (f *FakeDriver) FailClick(id string, err error) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clickErrs[id] = err
	return f
}

// Navigate implements browser.Driver.
func (f *FakeDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("driver closed")
	}
	f.navigations = append(f.navigations, url)
	if err, ok := f.navErrs[url]; ok {
		return err
	}

	target := url
	if to, ok := f.redirects[url]; ok {
		target = to
	}
	if f.authCookie != nil && target != f.loginURL && !f.hasAuthCookie() {
		target = f.loginURL
	}
	html, ok := f.pages[target]
	if !ok {
		html = "<html><head><title>404</title></head><body><h1>Page not found</h1></body></html>"
	}
	f.url = target
	f.html = html
	return nil
}

func (f *FakeDriver) hasAuthCookie() bool {
	if f.signedIn {
		return true
	}
	for _, c := range f.cookies {
		if c.Name == f.authCookie.Name && c.Value == f.authCookie.Value {
			return true
		}
	}
	return false
}

// CurrentURL implements browser.Driver.
func (f *FakeDriver) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

// Snapshot implements browser.Driver.
func (f *FakeDriver) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	snap, err := browser.ParseSnapshot(strings.NewReader(f.html))
	if err != nil {
		return nil, err
	}
	snap.URL = f.url
	return snap, nil
}

// Click implements browser.Driver.
func (f *FakeDriver) Click(ctx context.Context, el browser.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := elementID(el)
	f.clicks = append(f.clicks, id)
	if err, ok := f.clickErrs[id]; ok {
		return err
	}
	if html, ok := f.transitions[id]; ok {
		f.html = html
	}
	if c := f.login; c != nil && id == c.submit &&
		f.typed[c.userField] == c.user && f.typed[c.passField] == c.pass {
		f.signedIn = true
		f.url = c.landing
		if html, ok := f.pages[c.landing]; ok {
			f.html = html
		}
	}
	return nil
}

// Type implements browser.Driver.
func (f *FakeDriver) Type(ctx context.Context, el browser.Element, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[elementID(el)] = text
	return nil
}

// Scroll implements browser.Driver.
func (f *FakeDriver) Scroll(ctx context.Context, dy int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls++
	if len(f.onScroll) > 0 {
		f.html = f.onScroll[0]
		f.onScroll = f.onScroll[1:]
	}
	return nil
}

// SetCookie implements browser.Driver.
func (f *FakeDriver) SetCookie(ctx context.Context, c browser.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies = append(f.cookies, c)
	return nil
}

// Close implements browser.Driver.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Navigations returns every URL passed to Navigate.
func (f *FakeDriver) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Clicks returns the ids of clicked elements in order.
func (f *FakeDriver) Clicks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clicks...)
}

// Clicked reports whether the element with id was clicked.
func (f *FakeDriver) Clicked(id string) bool {
	for _, c := range f.Clicks() {
		if c == id {
			return true
		}
	}
	return false
}

// Typed returns the text typed into the element with id.
func (f *FakeDriver) Typed(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.typed[id]
	return t, ok
}

// Cookies returns cookies set so far.
func (f *FakeDriver) Cookies() []browser.Cookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.Cookie(nil), f.cookies...)
}

// Scrolls returns how many times Scroll was called.
func (f *FakeDriver) Scrolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scrolls
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func elementID(el browser.Element) string {
	if id := el.Attr("id"); id != "" {
		return id
	}
	if id := el.Attr("data-testid"); id != "" {
		return id
	}
	return el.Key
}

var _ browser.Driver = (*FakeDriver)(nil)
