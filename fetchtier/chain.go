package fetchtier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/moisson/content"
)

// tierSlot pairs a tier with its concurrency ceiling. Ceilings shrink as
// cost increases, reflecting provider rate limits and spend.
type tierSlot struct {
	tier    Tier
	workers chan struct{}
}

// Chain escalates URLs through its tiers in order.
type Chain struct {
	tiers      []tierSlot
	minContent int
	normalizer *content.Normalizer
	logger     *slog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithMinContentLength sets the acceptance threshold for visible text.
func WithMinContentLength(n int) ChainOption {
	return func(c *Chain) { c.minContent = n }
}

// WithNormalizer enables Markdown normalization of accepted content.
func WithNormalizer(n *content.Normalizer) ChainOption {
	return func(c *Chain) { c.normalizer = n }
}

// WithChainLogger sets a custom logger.
func WithChainLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// NewChain builds a chain from tiers in escalation order. Each tier gets
// the worker ceiling at the same index; missing or non-positive ceilings
// default to 1.
func NewChain(tiers []Tier, ceilings []int, opts ...ChainOption) *Chain {
	c := &Chain{
		minContent: content.MinContentLength,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	for i, t := range tiers {
		n := 1
		if i < len(ceilings) && ceilings[i] > 0 {
			n = ceilings[i]
		}
		c.tiers = append(c.tiers, tierSlot{tier: t, workers: make(chan struct{}, n)})
	}
	return c
}

// Fetch runs one URL through the chain. The returned Outcome is never nil:
// on exhaustion Blocked is true and Method empty.
func (c *Chain) Fetch(ctx context.Context, url string) *Outcome {
	out := &Outcome{URL: url}

	for _, slot := range c.tiers {
		if ctx.Err() != nil {
			out.Blocked = true
			return out
		}

		attempt := c.tryTier(ctx, slot, url)
		out.Attempts = append(out.Attempts, attempt)

		if !attempt.Success {
			c.logger.Debug("fetchtier: tier failed",
				"url", url, "tier", attempt.Method, "error", attempt.Err)
			continue
		}

		body := attempt.body
		out.Content = body
		out.Method = attempt.Method
		out.Latency = attempt.Latency
		out.Title = content.Title(body)
		if c.normalizer != nil {
			out.Markdown = c.normalizer.Markdown(body, url)
		}
		c.logger.Info("fetchtier: accepted",
			"url", url, "tier", attempt.Method, "latency", attempt.Latency)
		return out
	}

	out.Blocked = true
	c.logger.Warn("fetchtier: all tiers exhausted", "url", url)
	return out
}

// tryTier runs one tier under its worker ceiling and applies the
// acceptance test.
func (c *Chain) tryTier(ctx context.Context, slot tierSlot, url string) Attempt {
	a := Attempt{Method: slot.tier.Name()}

	select {
	case slot.workers <- struct{}{}:
	case <-ctx.Done():
		a.Err = ctx.Err()
		return a
	}
	defer func() { <-slot.workers }()

	start := time.Now()
	body, err := slot.tier.Fetch(ctx, url)
	a.Latency = time.Since(start)

	if err != nil {
		a.Err = err
		return a
	}
	if !content.Sufficient(body, c.minContent) {
		a.Err = errInsufficient
		return a
	}
	a.Success = true
	a.body = body
	return a
}

// FetchBatch processes URLs wave-by-wave: every URL attempts tier 1 in
// parallel, tier 1's failures become tier 2's input set, and so on. Total
// cost stays bounded because expensive tiers only see residual failures.
// Outcomes are keyed by URL; every input URL gets an entry.
func (c *Chain) FetchBatch(ctx context.Context, urls []string) map[string]*Outcome {
	outcomes := make(map[string]*Outcome, len(urls))
	var mu sync.Mutex

	pending := urls
	for _, slot := range c.tiers {
		if len(pending) == 0 || ctx.Err() != nil {
			break
		}

		var failed []string
		var wg sync.WaitGroup
		for _, url := range pending {
			wg.Add(1)
			go func(url string) {
				defer wg.Done()

				attempt := c.tryTier(ctx, slot, url)

				var title, markdown string
				if attempt.Success {
					title = content.Title(attempt.body)
					if c.normalizer != nil {
						markdown = c.normalizer.Markdown(attempt.body, url)
					}
				}

				mu.Lock()
				defer mu.Unlock()
				out, ok := outcomes[url]
				if !ok {
					out = &Outcome{URL: url}
					outcomes[url] = out
				}
				out.Attempts = append(out.Attempts, attempt)

				if attempt.Success {
					out.Content = attempt.body
					out.Method = attempt.Method
					out.Latency = attempt.Latency
					out.Title = title
					out.Markdown = markdown
				} else {
					failed = append(failed, url)
				}
			}(url)
		}
		wg.Wait()
		pending = failed
	}

	// URLs never attempted (context cancelled early) still get an entry.
	for _, url := range urls {
		if _, ok := outcomes[url]; !ok {
			outcomes[url] = &Outcome{URL: url, Blocked: true}
		}
	}
	for _, url := range pending {
		outcomes[url].Blocked = true
	}
	return outcomes
}
