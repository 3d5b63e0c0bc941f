package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hazyhaar/moisson/checkpoint"
	"github.com/hazyhaar/moisson/health"
	"github.com/hazyhaar/moisson/pace"
	"github.com/hazyhaar/moisson/source"
)

func newTestOrchestrator(t *testing.T, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	registry := health.NewRegistry(health.BreakerConfig{})
	limiter := pace.New(pace.Config{MaxConcurrent: 16, RequestsPerSecond: 10000})
	return New(cfg, registry, limiter, opts...)
}

// staticQuerier returns n records with URLs derived from the source code.
func staticQuerier(code string, n int) source.Querier {
	return func(_ context.Context, _ string, _ int) ([]source.ResultRecord, error) {
		records := make([]source.ResultRecord, n)
		for i := range records {
			records[i] = source.ResultRecord{
				URL:        fmt.Sprintf("https://%s.example/%d", code, i),
				SourceCode: code,
				Rank:       i + 1,
			}
		}
		return records, nil
	}
}

func failingQuerier(err error) source.Querier {
	return func(_ context.Context, _ string, _ int) ([]source.ResultRecord, error) {
		return nil, err
	}
}

func binding(code string, q source.Querier) Binding {
	return Binding{Source: source.Source{Code: code, Name: code}, Querier: q}
}

func TestSearch_PartialFailureTolerance(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	req := Request{
		Query: "q",
		Merge: MergeDedup,
		Sources: []Binding{
			binding("s1", staticQuerier("s1", 3)),
			binding("s2", failingQuerier(errors.New("connection refused"))),
			binding("s3", staticQuerier("s3", 2)),
			binding("s4", failingQuerier(context.DeadlineExceeded)),
			binding("s5", staticQuerier("s5", 1)),
		},
	}

	report, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("Search returned job error on source failures: %v", err)
	}

	if got := len(report.Results); got != 6 {
		t.Fatalf("Results = %d, want 6 from the three healthy sources", got)
	}
	if got := len(report.PerSource); got != 5 {
		t.Fatalf("PerSource entries = %d, want 5", got)
	}

	if out := report.PerSource["s2"]; out.Status != StatusFailed || out.ErrorKind != source.KindConnectionFailure {
		t.Fatalf("s2 outcome = %+v", out)
	}
	if out := report.PerSource["s4"]; out.Status != StatusTimeout {
		t.Fatalf("s4 outcome = %+v, want timeout status", out)
	}
	for _, code := range []string{"s1", "s3", "s5"} {
		if out := report.PerSource[code]; out.Status != StatusOK {
			t.Fatalf("%s outcome = %+v, want ok", code, out)
		}
	}
}

func TestSearch_MergeDedup(t *testing.T) {
	shared := source.ResultRecord{URL: "https://shared.example/x"}
	o := newTestOrchestrator(t, Config{})

	req := Request{
		Query: "q",
		Merge: MergeDedup,
		Sources: []Binding{
			binding("s1", func(context.Context, string, int) ([]source.ResultRecord, error) {
				return []source.ResultRecord{shared, {URL: "https://s1.example/a"}}, nil
			}),
			binding("s2", func(context.Context, string, int) ([]source.ResultRecord, error) {
				return []source.ResultRecord{shared, {URL: "https://s2.example/b"}}, nil
			}),
		},
	}

	report, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if report.UniqueCount != 3 {
		t.Fatalf("UniqueCount = %d, want 3 (shared URL deduplicated)", report.UniqueCount)
	}
}

func TestSearch_MergeAppend(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	req := Request{
		Query: "q",
		Merge: MergeAppend,
		Sources: []Binding{
			binding("s1", staticQuerier("s1", 2)),
			binding("s2", staticQuerier("s2", 3)),
		},
	}

	report, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(report.BySource["s1"]); got != 2 {
		t.Fatalf("BySource[s1] = %d, want 2", got)
	}
	if got := len(report.BySource["s2"]); got != 3 {
		t.Fatalf("BySource[s2] = %d, want 3", got)
	}
	if got := len(report.Results); got != 5 {
		t.Fatalf("Results = %d, want 5 (no dedup under append)", got)
	}
}

func TestSearch_MergeRanked(t *testing.T) {
	shared := "https://shared.example/x"
	o := newTestOrchestrator(t, Config{})

	req := Request{
		Query: "q",
		Merge: MergeRanked,
		Sources: []Binding{
			binding("s1", func(context.Context, string, int) ([]source.ResultRecord, error) {
				return []source.ResultRecord{{URL: shared}}, nil
			}),
			binding("s2", func(context.Context, string, int) ([]source.ResultRecord, error) {
				return []source.ResultRecord{{URL: shared}}, nil
			}),
		},
	}

	report, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(report.RankedSources[shared]); got != 2 {
		t.Fatalf("RankedSources[%s] = %v, want both sources", shared, report.RankedSources[shared])
	}
	if report.UniqueCount != 1 {
		t.Fatalf("UniqueCount = %d, want 1", report.UniqueCount)
	}
}

func TestSearch_BreakerGate(t *testing.T) {
	registry := health.NewRegistry(health.BreakerConfig{
		FailureThreshold: 2,
		MinRequests:      2,
		RecoveryTimeout:  time.Hour,
	})
	limiter := pace.New(pace.Config{MaxConcurrent: 4, RequestsPerSecond: 10000})
	o := New(Config{}, registry, limiter)

	// Pre-trip the breaker for s1.
	registry.Register(source.Source{Code: "s1"})
	for i := 0; i < 2; i++ {
		start := registry.RecordStart("s1")
		registry.RecordFailure("s1", start, errors.New("boom"))
	}

	req := Request{
		Query: "q",
		Sources: []Binding{
			binding("s1", staticQuerier("s1", 3)),
			binding("s2", staticQuerier("s2", 2)),
		},
	}

	report, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if out := report.PerSource["s1"]; out.Status != StatusCircuitOpen {
		t.Fatalf("s1 outcome = %+v, want circuit_open", out)
	}
	if got := len(report.Results); got != 2 {
		t.Fatalf("Results = %d, want only s2's 2", got)
	}
}

func TestSearch_JobTimeoutReturnsPartial(t *testing.T) {
	o := newTestOrchestrator(t, Config{JobTimeout: 100 * time.Millisecond})

	req := Request{
		Query: "q",
		Sources: []Binding{
			binding("fast", staticQuerier("fast", 2)),
			binding("stuck", func(ctx context.Context, _ string, _ int) ([]source.ResultRecord, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		},
	}

	report, err := o.Search(context.Background(), req)
	if err == nil {
		t.Fatal("Search returned nil error after job timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded in chain", err)
	}
	if report == nil {
		t.Fatal("report nil on timeout")
	}
	if got := len(report.Results); got != 2 {
		t.Fatalf("partial Results = %d, want fast source's 2", got)
	}
	if out := report.PerSource["stuck"]; out.Status == StatusOK {
		t.Fatalf("stuck outcome = %+v, want failure", out)
	}
}

func TestSearch_ResumeSkipsCompletedSources(t *testing.T) {
	dir := t.TempDir()

	ckpt, err := checkpoint.NewManager(dir, "job-r")
	if err != nil {
		t.Fatal(err)
	}
	if err := ckpt.UpdateQueryInfo("q", []string{"s1", "s2"}); err != nil {
		t.Fatal(err)
	}
	if err := ckpt.MarkEngineCompleted("s1", 7); err != nil {
		t.Fatal(err)
	}

	// Reload, as a restarted process would.
	ckpt2, err := checkpoint.NewManager(dir, "job-r")
	if err != nil {
		t.Fatal(err)
	}

	s1Calls := 0
	o := newTestOrchestrator(t, Config{}, WithCheckpoint(ckpt2))
	req := Request{
		Query: "q",
		Sources: []Binding{
			binding("s1", func(context.Context, string, int) ([]source.ResultRecord, error) {
				s1Calls++
				return nil, nil
			}),
			binding("s2", staticQuerier("s2", 2)),
		},
	}

	report, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if s1Calls != 0 {
		t.Fatalf("completed source called %d times on resume", s1Calls)
	}
	if out := report.PerSource["s1"]; out.Status != StatusSkipped {
		t.Fatalf("s1 outcome = %+v, want skipped", out)
	}
	if out := report.PerSource["s2"]; out.Status != StatusOK {
		t.Fatalf("s2 outcome = %+v", out)
	}
}

func TestSearch_SourceCodeBackfilled(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	req := Request{
		Query: "q",
		Merge: MergeDedup,
		Sources: []Binding{
			binding("s1", func(context.Context, string, int) ([]source.ResultRecord, error) {
				return []source.ResultRecord{{URL: "https://a.example/1"}}, nil
			}),
		},
	}

	report, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := report.Results[0].SourceCode; got != "s1" {
		t.Fatalf("SourceCode = %q, want backfilled s1", got)
	}
}
