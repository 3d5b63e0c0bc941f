package fetchtier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// stubTier is a scripted tier: per-URL bodies or errors, with call counting.
type stubTier struct {
	name   string
	bodies map[string][]byte
	err    error
	calls  atomic.Int64
}

func (s *stubTier) Name() string { return s.name }

func (s *stubTier) Fetch(_ context.Context, url string) ([]byte, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	body, ok := s.bodies[url]
	if !ok {
		return nil, errors.New("scripted miss")
	}
	return body, nil
}

// goodPage is long enough to pass the acceptance test at minContent 50.
func goodPage(title string) []byte {
	return []byte(fmt.Sprintf(
		"<html><head><title>%s</title></head><body><p>%s</p></body></html>",
		title,
		"Plenty of visible paragraph text that easily clears the threshold set for these tests.",
	))
}

func TestChain_EscalatesToFirstSufficientTier(t *testing.T) {
	url := "https://a.example/page"
	t1 := &stubTier{name: "direct", err: errors.New("http 403")}
	t2 := &stubTier{name: "headless", bodies: map[string][]byte{}} // scripted miss
	t3 := &stubTier{name: "stealth", bodies: map[string][]byte{url: goodPage("Got it")}}
	t4 := &stubTier{name: "unlock-a", bodies: map[string][]byte{url: goodPage("never")}}
	t5 := &stubTier{name: "unlock-b", bodies: map[string][]byte{url: goodPage("never")}}

	chain := NewChain(
		[]Tier{t1, t2, t3, t4, t5},
		[]int{4, 2, 1, 1, 1},
		WithMinContentLength(50),
	)

	out := chain.Fetch(context.Background(), url)

	if out.Blocked {
		t.Fatal("outcome blocked despite a succeeding tier")
	}
	if out.Method != "stealth" {
		t.Fatalf("Method = %q, want stealth", out.Method)
	}
	if out.Title != "Got it" {
		t.Fatalf("Title = %q, want %q", out.Title, "Got it")
	}
	if got := len(out.Attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	// Tiers past the first success must never be invoked.
	if t4.calls.Load() != 0 || t5.calls.Load() != 0 {
		t.Fatalf("later tiers invoked: t4=%d t5=%d", t4.calls.Load(), t5.calls.Load())
	}
}

func TestChain_InsufficientContentEscalates(t *testing.T) {
	url := "https://a.example/spa"
	shell := []byte(`<html><body><div id="root"></div>` +
		`<script>window.bootstrap()</script>` +
		`<!-- padding so raw length passes while visible text does not --></body></html>`)

	t1 := &stubTier{name: "direct", bodies: map[string][]byte{url: shell}}
	t2 := &stubTier{name: "headless", bodies: map[string][]byte{url: goodPage("Rendered")}}

	chain := NewChain([]Tier{t1, t2}, []int{1, 1}, WithMinContentLength(50))
	out := chain.Fetch(context.Background(), url)

	if out.Method != "headless" {
		t.Fatalf("Method = %q, want headless (SPA shell must not be accepted)", out.Method)
	}
	if !errors.Is(out.Attempts[0].Err, errInsufficient) {
		t.Fatalf("first attempt error = %v, want errInsufficient", out.Attempts[0].Err)
	}
}

func TestChain_AllTiersExhausted(t *testing.T) {
	t1 := &stubTier{name: "direct", err: errors.New("boom")}
	t2 := &stubTier{name: "headless", err: errors.New("boom")}

	chain := NewChain([]Tier{t1, t2}, nil, WithMinContentLength(50))
	out := chain.Fetch(context.Background(), "https://a.example/x")

	if !out.Blocked {
		t.Fatal("outcome not blocked after every tier failed")
	}
	if out.Method != "" {
		t.Fatalf("Method = %q, want empty", out.Method)
	}
	if got := len(out.Attempts); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestChain_CancelledContext(t *testing.T) {
	t1 := &stubTier{name: "direct", bodies: map[string][]byte{"u": goodPage("x")}}
	chain := NewChain([]Tier{t1}, nil, WithMinContentLength(50))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := chain.Fetch(ctx, "u")

	if !out.Blocked {
		t.Fatal("cancelled fetch not blocked")
	}
	if t1.calls.Load() != 0 {
		t.Fatal("tier invoked after cancellation")
	}
}

func TestFetchBatch_WavesFeedResiduals(t *testing.T) {
	u1 := "https://a.example/1"
	u2 := "https://a.example/2"
	u3 := "https://a.example/3"

	// Tier 1 handles u1; tier 2 handles u2; u3 fails everywhere.
	t1 := &stubTier{name: "direct", bodies: map[string][]byte{u1: goodPage("One")}}
	t2 := &stubTier{name: "headless", bodies: map[string][]byte{u2: goodPage("Two")}}

	chain := NewChain([]Tier{t1, t2}, []int{4, 2}, WithMinContentLength(50))
	outcomes := chain.FetchBatch(context.Background(), []string{u1, u2, u3})

	if got := len(outcomes); got != 3 {
		t.Fatalf("outcomes = %d, want 3", got)
	}
	if out := outcomes[u1]; out.Method != "direct" || out.Blocked {
		t.Fatalf("u1 outcome = %+v", out)
	}
	if out := outcomes[u2]; out.Method != "headless" || out.Blocked {
		t.Fatalf("u2 outcome = %+v", out)
	}
	if out := outcomes[u3]; !out.Blocked {
		t.Fatalf("u3 not blocked: %+v", out)
	}

	// Tier 1 saw all three URLs; tier 2 only the two residual failures.
	if got := t1.calls.Load(); got != 3 {
		t.Fatalf("tier 1 calls = %d, want 3", got)
	}
	if got := t2.calls.Load(); got != 2 {
		t.Fatalf("tier 2 calls = %d, want 2", got)
	}
}

// blockingTier reports its peak concurrent call count.
type blockingTier struct {
	name    string
	mu      sync.Mutex
	active  int
	peak    int
	release chan struct{}
}

func (b *blockingTier) Name() string { return b.name }

func (b *blockingTier) Fetch(ctx context.Context, _ string) ([]byte, error) {
	b.mu.Lock()
	b.active++
	if b.active > b.peak {
		b.peak = b.active
	}
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-ctx.Done():
	}

	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return nil, errors.New("scripted failure")
}

func TestFetchBatch_RespectsWorkerCeiling(t *testing.T) {
	tier := &blockingTier{name: "direct", release: make(chan struct{})}
	chain := NewChain([]Tier{tier}, []int{2}, WithMinContentLength(50))

	urls := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	done := make(chan map[string]*Outcome, 1)
	go func() { done <- chain.FetchBatch(context.Background(), urls) }()

	close(tier.release)
	outcomes := <-done

	tier.mu.Lock()
	peak := tier.peak
	tier.mu.Unlock()
	if peak > 2 {
		t.Fatalf("peak concurrency = %d, exceeds ceiling 2", peak)
	}
	if got := len(outcomes); got != len(urls) {
		t.Fatalf("outcomes = %d, want %d", got, len(urls))
	}
}
