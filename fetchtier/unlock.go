package fetchtier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hazyhaar/moisson/netpool"
)

// UnlockConfig configures one paid unlocking/anti-bot provider.
type UnlockConfig struct {
	// Name identifies the tier in outcomes ("unlock", "unlock_pro").
	Name string `yaml:"name"`
	// Endpoint is the provider's fetch API.
	Endpoint string `yaml:"endpoint"`
	// APIKey is sent as a bearer token.
	APIKey string `yaml:"api_key"`
	// Render asks the provider to run JS before returning HTML.
	Render bool `yaml:"render"`
}

// Unlock is a paid managed-unlocking tier. The provider fetches the URL
// on our behalf, solving challenges and rotating residential exits; we
// POST the target and get HTML back. Expensive — sits at the end of the
// chain with a worker ceiling of 1 or 2.
type Unlock struct {
	cfg  UnlockConfig
	pool *netpool.Pool
}

// NewUnlock creates an unlocking tier for one provider.
func NewUnlock(cfg UnlockConfig, pool *netpool.Pool) *Unlock {
	if cfg.Name == "" {
		cfg.Name = "unlock"
	}
	return &Unlock{cfg: cfg, pool: pool}
}

func (u *Unlock) Name() string { return u.cfg.Name }

type unlockRequest struct {
	URL    string `json:"url"`
	Render bool   `json:"render,omitempty"`
}

type unlockResponse struct {
	HTML    string `json:"html"`
	Status  int    `json:"status"`
	Error   string `json:"error,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
}

func (u *Unlock) Fetch(ctx context.Context, url string) ([]byte, error) {
	payload, err := json.Marshal(unlockRequest{URL: url, Render: u.cfg.Render})
	if err != nil {
		return nil, fmt.Errorf("fetchtier: marshal unlock request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("fetchtier: new unlock request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.cfg.APIKey)

	resp, err := u.pool.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchtier: unlock do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("fetchtier: unlock provider rate limited (429)")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetchtier: unlock http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetchtier: read unlock body: %w", err)
	}

	var ur unlockResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return nil, fmt.Errorf("fetchtier: decode unlock response: %w", err)
	}
	if ur.Blocked || ur.Error != "" {
		return nil, fmt.Errorf("fetchtier: unlock provider blocked: %s", ur.Error)
	}
	return []byte(ur.HTML), nil
}
