package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"inreach/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// RodConfig holds browser launch settings.
type RodConfig struct {
	Bin               string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	UserAgent         string
	ExtraFlags        []string
}

// GetViewportWidth returns viewport width.
func (c RodConfig) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c RodConfig) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

// GetNavigationTimeout returns the navigation timeout.
func (c RodConfig) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout == 0 {
		return 60 * time.Second
	}
	return c.NavigationTimeout
}

// GetActionTimeout bounds a single click, input or DOM read.
func (c RodConfig) GetActionTimeout() time.Duration {
	if c.ActionTimeout == 0 {
		return 10 * time.Second
	}
	return c.ActionTimeout
}

// stampScript tags every element with a stable key and a computed-visibility
// flag, so the serialized HTML carries what inline styles alone cannot.
const stampScript = `() => {
	let i = 0;
	for (const el of document.querySelectorAll('body *')) {
		el.setAttribute('` + KeyAttr + `', String(i++));
		const s = window.getComputedStyle(el);
		const r = el.getBoundingClientRect();
		const hidden = s.display === 'none' ||
			s.visibility === 'hidden' ||
			s.opacity === '0' ||
			(r.width === 0 && r.height === 0 && s.display !== 'contents' && el.getClientRects().length === 0);
		if (hidden) {
			el.setAttribute('` + HiddenAttr + `', 'true');
		} else {
			el.removeAttribute('` + HiddenAttr + `');
		}
	}
	return i;
}`

// RodDriver drives one incognito page in a Chrome instance it launched.
type RodDriver struct {
	cfg      RodConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	mu       sync.Mutex
}

// NewRodDriver launches Chrome and opens a blank incognito page.
func NewRodDriver(ctx context.Context, cfg RodConfig) (*RodDriver, error) {
	timer := logging.StartTimer(logging.CategoryBrowser, "launch chrome")
	defer timer.Stop()

	l := launcher.New().
		Headless(cfg.Headless).
		Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", cfg.GetViewportWidth(), cfg.GetViewportHeight())).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	for _, rawFlag := range cfg.ExtraFlags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	logging.BrowserDebug("chrome launched: %s", controlURL)

	// The browser outlives ctx so that an in-flight attempt can finish
	// after the run is cancelled; each call scopes itself with page.Context.
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	d := &RodDriver{cfg: cfg, launcher: l, browser: b}
	if err := d.openPage(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *RodDriver) openPage() error {
	incognito, err := d.browser.Incognito()
	if err != nil {
		return fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.GetViewportWidth(),
		Height:            d.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserWarn("failed to set viewport: %v", err)
	}
	if d.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.cfg.UserAgent}); err != nil {
			logging.BrowserWarn("failed to set user agent: %v", err)
		}
	}
	d.page = page
	return nil
}

// Navigate navigates to a URL and waits for the load event.
func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryBrowser, "navigate "+url)
	defer timer.StopWithThreshold(d.cfg.GetNavigationTimeout() / 2)

	p := d.page.Context(ctx).Timeout(d.cfg.GetNavigationTimeout())
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		// Single-page apps often never settle; the caller waits for content.
		logging.BrowserDebug("wait load %s: %v", url, err)
	}
	return nil
}

// CurrentURL returns the page URL.
func (d *RodDriver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// Snapshot stamps the live DOM and parses its serialization.
func (d *RodDriver) Snapshot(ctx context.Context) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.page.Context(ctx).Timeout(d.cfg.GetActionTimeout())
	if _, err := p.Eval(stampScript); err != nil {
		return nil, fmt.Errorf("stamp dom: %w", err)
	}
	raw, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("read dom: %w", err)
	}
	snap, err := ParseSnapshot(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if info, err := p.Info(); err == nil {
		snap.URL = info.URL
		if snap.Title == "" {
			snap.Title = info.Title
		}
	}
	logging.BrowserDebug("snapshot %s: %d elements", snap.URL, len(snap.Elements))
	return snap, nil
}

func (d *RodDriver) element(ctx context.Context, el Element) (*rod.Element, error) {
	sel := el.Selector()
	if sel == "" {
		return nil, fmt.Errorf("element %s has no selector", el)
	}
	found, err := d.page.Context(ctx).Timeout(d.cfg.GetActionTimeout()).Element(sel)
	if err != nil {
		return nil, fmt.Errorf("element not found %s: %w", sel, err)
	}
	return found, nil
}

// Click clicks an element, falling back to a DOM click when the pointer
// path is obstructed by an overlay.
func (d *RodDriver) Click(ctx context.Context, el Element) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	found, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	if err := found.ScrollIntoView(); err != nil {
		logging.BrowserDebug("scroll into view %s: %v", el, err)
	}
	clickErr := found.Click(proto.InputMouseButtonLeft, 1)
	if clickErr == nil {
		return nil
	}
	logging.BrowserDebug("pointer click %s failed, using dom click: %v", el, clickErr)
	if _, err := found.Eval(`() => this.click()`); err != nil {
		return errors.Join(fmt.Errorf("click %s: %w", el, clickErr), err)
	}
	return nil
}

// Type types text into an element, replacing its current value.
func (d *RodDriver) Type(ctx context.Context, el Element, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	found, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	if err := found.Focus(); err != nil {
		return fmt.Errorf("focus %s: %w", el, err)
	}
	// Rich-text composers have no selection API; clear them directly.
	if _, editable := el.Attrs["contenteditable"]; editable {
		if _, err := found.Eval(`() => { this.textContent = "" }`); err != nil {
			logging.BrowserDebug("clear %s: %v", el, err)
		}
	} else if err := found.SelectAllText(); err != nil {
		logging.BrowserDebug("select all %s: %v", el, err)
	}
	if err := found.Input(text); err != nil {
		return fmt.Errorf("input %s: %w", el, err)
	}
	return nil
}

// Scroll scrolls the window.
func (d *RodDriver) Scroll(ctx context.Context, dy int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.page.Context(ctx).Eval(`(dy) => window.scrollBy(0, dy)`, dy); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// SetCookie installs a cookie in the incognito context.
func (d *RodDriver) SetCookie(ctx context.Context, c Cookie) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	path := c.Path
	if path == "" {
		path = "/"
	}
	err := d.page.Context(ctx).SetCookies([]*proto.NetworkCookieParam{{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}})
	if err != nil {
		return fmt.Errorf("set cookie %s: %w", c.Name, err)
	}
	return nil
}

// Close closes the page, the browser and the launched process.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		d.page = nil
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		d.browser = nil
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
		d.launcher = nil
	}
	logging.BrowserDebug("browser closed")
	return errors.Join(errs...)
}
