package fetchtier

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hazyhaar/moisson/netpool"
	"github.com/hazyhaar/moisson/urlsafe"
)

// maxBody caps response reads to prevent runaway downloads.
const maxBody = 10 << 20 // 10MB

// Direct is tier 1: a single HTTP GET through the shared connection pool.
// No browser, no JS. Covers most static pages.
type Direct struct {
	pool *netpool.Pool
	ua   string
}

// NewDirect creates the direct HTTP tier.
func NewDirect(pool *netpool.Pool, userAgent string) *Direct {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; moisson/1.0)"
	}
	return &Direct{pool: pool, ua: userAgent}
}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := urlsafe.Validate(url); err != nil {
		return nil, fmt.Errorf("fetchtier: URL blocked: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetchtier: new request: %w", err)
	}
	req.Header.Set("User-Agent", d.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.pool.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchtier: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetchtier: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetchtier: read body: %w", err)
	}
	return body, nil
}
