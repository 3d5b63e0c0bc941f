// Package fetchtier retrieves URL content through an ordered list of
// strategies of increasing cost: plain HTTP, a headless browser, a
// stealth browser for JS-heavy pages, then paid unlocking APIs. The chain
// stops at the first strategy whose output passes the content acceptance
// test, so expensive tiers only ever see the residual failure set.
//
// This is the per-URL mirror of the per-source breaker pattern: a cheap,
// usually-sufficient path first, escalation only on failure.
package fetchtier

import (
	"context"
	"errors"
	"time"
)

// errInsufficient marks a tier whose response came back but failed the
// content acceptance test (SPA shell, block page, empty body).
var errInsufficient = errors.New("fetchtier: content below acceptance threshold")

// Tier is one fetch strategy. Implementations must be safe for concurrent
// use up to their configured worker ceiling.
type Tier interface {
	// Name identifies the tier in outcomes and logs ("direct", "headless",
	// "stealth", "unlock", "unlock_pro").
	Name() string
	// Fetch retrieves the raw page body for url.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Attempt is the ephemeral record of one tier's try for one URL. Only the
// accepted attempt's method and latency are retained on the Outcome.
type Attempt struct {
	Method  string
	Success bool
	Latency time.Duration
	Err     error

	body []byte // accepted content, consumed by the chain
}

// Outcome is the final result of running a URL through the chain.
type Outcome struct {
	URL      string
	Content  []byte
	Markdown string // normalized content, filled when a Normalizer is set
	Title    string
	Method   string // name of the tier that succeeded
	Latency  time.Duration
	Blocked  bool      // every tier exhausted
	Attempts []Attempt // one per tier tried
}
