// Package browser owns the headless Chrome instance used for both reference
// crawling and rebuild capture: page lifecycle, viewport emulation,
// screenshots, and the stabilization pass that makes captures repeatable.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"visualqa/internal/viewport"
)

// Config holds browser configuration.
type Config struct {
	// DebuggerURL attaches to an already-running Chrome instead of
	// launching one.
	DebuggerURL string
	// Bin overrides the Chrome binary the launcher resolves.
	Bin      string
	Headless bool
	// NavigationTimeout bounds each Navigate plus its load wait.
	NavigationTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NavigationTimeout: 45 * time.Second,
	}
}

// Driver owns one Chrome instance shared by all capture stages.
type Driver struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

// NewDriver constructs an unconnected driver. Start launches or attaches.
func NewDriver(cfg Config, log *zap.Logger) *Driver {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultConfig().NavigationTimeout
	}
	return &Driver{cfg: cfg, log: log}
}

// Start connects to an existing Chrome or launches a new one. Calling Start
// on a healthy driver is a no-op; a stale connection is replaced.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return nil
		}
		d.log.Warn("stale browser connection, reconnecting")
		_ = d.browser.Close()
		d.browser = nil
		d.controlURL = ""
	}

	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(d.cfg.Headless)
		if d.cfg.Bin != "" {
			launch = launch.Bin(d.cfg.Bin)
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	d.browser = browser
	d.controlURL = controlURL
	d.log.Info("browser connected", zap.Bool("headless", d.cfg.Headless))
	return nil
}

// Close shuts the browser down.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return nil
	}
	err := d.browser.Close()
	d.browser = nil
	d.controlURL = ""
	return err
}

// OpenPage creates a fresh page at url with the viewport applied. Stealth
// pages carry the fingerprint evasions needed when capturing third-party
// reference sites; rebuild captures against our own renderer don't need them.
func (d *Driver) OpenPage(ctx context.Context, url string, vp viewport.Viewport, useStealth bool) (*Page, error) {
	d.mu.Lock()
	browser := d.browser
	d.mu.Unlock()
	if browser == nil {
		return nil, errors.New("browser not started")
	}

	var (
		page *rod.Page
		err  error
	)
	if useStealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	p := &Page{page: page, log: d.log, navTimeout: d.cfg.NavigationTimeout}
	if err := p.SetViewport(vp); err != nil {
		_ = page.Close()
		return nil, err
	}
	if err := p.Navigate(ctx, url); err != nil {
		_ = page.Close()
		return nil, err
	}
	return p, nil
}

// Page wraps one rod page with the operations the pipeline stages use.
type Page struct {
	page       *rod.Page
	log        *zap.Logger
	navTimeout time.Duration
}

// SetViewport applies device metrics for the given viewport.
func (p *Page) SetViewport(vp viewport.Viewport) error {
	err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            vp.Label == viewport.LabelMobile,
	}).Call(p.page)
	if err != nil {
		return fmt.Errorf("set viewport %s: %w", vp.Label, err)
	}
	return nil
}

// Navigate loads url and waits for the load event, bounded by the
// navigation timeout.
func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// Screenshot captures the page, full height when fullPage is set.
func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(fullPage, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// HTML returns the page's current outer HTML.
func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}

// Evaluate runs a JS function on the page and returns its JSON result.
func (p *Page) Evaluate(ctx context.Context, js string) (json.RawMessage, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal eval result: %w", err)
	}
	return raw, nil
}

// Close closes the page.
func (p *Page) Close() error {
	return p.page.Close()
}
