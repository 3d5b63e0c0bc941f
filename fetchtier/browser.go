package fetchtier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/moisson/urlsafe"
)

// BrowserConfig configures the shared Chrome instance behind the browser
// tiers.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty = launch
	// a local one via the rod launcher.
	RemoteURL string `yaml:"remote_url"`
	// NavTimeout bounds page navigation + load. Default: 30s.
	NavTimeout time.Duration `yaml:"nav_timeout"`
	// SettleDelay is the extra wait after load for JS-rendered content.
	// Default: 2s, only applied by the stealth tier.
	SettleDelay time.Duration `yaml:"settle_delay"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *BrowserConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser owns a lazily-launched Chrome shared by the headless and
// stealth tiers. Launch is mutex-guarded so concurrent first-use never
// starts two Chromes.
type Browser struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates the manager. Chrome is not launched until a browser
// tier first needs it.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

// get returns the connected browser, launching Chrome on first use.
func (b *Browser) get() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("fetchtier: browser closed")
	}
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetchtier: launch chrome: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("fetchtier: launched chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("fetchtier: connect chrome: %w", err)
	}
	b.browser = br
	return br, nil
}

// Close shuts down Chrome. Idempotent.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			return err
		}
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return nil
}

// fetchPage navigates a fresh tab to url and returns the rendered DOM.
func (b *Browser) fetchPage(ctx context.Context, url string, useStealth bool) ([]byte, error) {
	if err := urlsafe.Validate(url); err != nil {
		return nil, fmt.Errorf("fetchtier: URL blocked: %w", err)
	}

	br, err := b.get()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if useStealth {
		page, err = stealth.Page(br)
	} else {
		page, err = br.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("fetchtier: create tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		return nil, fmt.Errorf("fetchtier: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("fetchtier: wait load timeout", "url", url, "error", err)
	}

	if useStealth {
		// JS-heavy pages keep rendering after load.
		select {
		case <-time.After(b.cfg.SettleDelay):
		case <-navCtx.Done():
		}
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("fetchtier: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Headless is tier 2: a scripted crawl in headless Chrome. Handles pages
// that need a real DOM but no anti-bot evasion.
type Headless struct {
	browser *Browser
}

// NewHeadless creates the headless tier over a shared Browser.
func NewHeadless(b *Browser) *Headless {
	return &Headless{browser: b}
}

func (h *Headless) Name() string { return "headless" }

func (h *Headless) Fetch(ctx context.Context, url string) ([]byte, error) {
	return h.browser.fetchPage(ctx, url, false)
}

// Stealth is tier 3: headless Chrome with stealth patches and a settle
// delay, for JS-heavy or mildly bot-hostile pages.
type Stealth struct {
	browser *Browser
}

// NewStealth creates the stealth tier over a shared Browser.
func NewStealth(b *Browser) *Stealth {
	return &Stealth{browser: b}
}

func (s *Stealth) Name() string { return "stealth" }

func (s *Stealth) Fetch(ctx context.Context, url string) ([]byte, error) {
	return s.browser.fetchPage(ctx, url, true)
}
