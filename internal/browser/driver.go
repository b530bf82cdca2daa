// Package browser is the capability boundary between inreach and a web page.
// Workflow steps and locator strategies see a page only through Driver and
// the Snapshot it returns, so a scripted double can stand in for Chrome.
package browser

import (
	"context"
	"errors"
)

// ErrWaitTimeout is returned by WaitFor when the condition never held.
var ErrWaitTimeout = errors.New("wait timed out")

// Cookie is a browser cookie to inject before navigation.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Driver drives a single page.
type Driver interface {
	// Navigate loads url and returns once the document is available.
	Navigate(ctx context.Context, url string) error
	// CurrentURL returns the URL after any redirects.
	CurrentURL(ctx context.Context) (string, error)
	// Snapshot captures the current DOM with visibility annotations.
	Snapshot(ctx context.Context) (*Snapshot, error)
	// Click activates an element taken from the latest snapshot.
	Click(ctx context.Context, el Element) error
	// Type replaces the value of an editable element.
	Type(ctx context.Context, el Element, text string) error
	// Scroll scrolls the viewport vertically by dy pixels.
	Scroll(ctx context.Context, dy int) error
	// SetCookie installs a cookie in the page's browsing context.
	SetCookie(ctx context.Context, c Cookie) error
	// Close releases the page and any browser process it owns.
	Close() error
}
