// Package orchestrate fans a query out to many independent, unreliable
// sources under bounded concurrency and merges what comes back.
//
// Failure isolation is the contract: an error from one source is caught
// at its call boundary, recorded in the health registry and the per-source
// outcome map, and never aborts the job for the others. The only error a
// caller of Search ever sees is the job-level timeout or cancellation,
// reported alongside — not instead of — the partial results.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/moisson/checkpoint"
	"github.com/hazyhaar/moisson/health"
	"github.com/hazyhaar/moisson/pace"
	"github.com/hazyhaar/moisson/resultbuf"
	"github.com/hazyhaar/moisson/sink"
	"github.com/hazyhaar/moisson/source"
)

// Config configures an Orchestrator.
type Config struct {
	// Workers is the global concurrency ceiling across sources,
	// independent of per-source limits. Default: 8.
	Workers int `yaml:"workers"`
	// CallTimeout bounds a single source call. Default: 45s.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// JobTimeout bounds the whole fan-out; zero means no job timeout.
	JobTimeout time.Duration `yaml:"job_timeout"`
	// BufferMaxSize is the dedup buffer capacity. Default: 10000.
	BufferMaxSize int `yaml:"buffer_max_size"`
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 45 * time.Second
	}
	if c.BufferMaxSize <= 0 {
		c.BufferMaxSize = resultbuf.DefaultMaxSize
	}
}

// Orchestrator executes fan-out searches. All shared state — health
// registry, rate limiter — is constructor-injected, never global, so
// tests get fresh instances.
type Orchestrator struct {
	cfg      Config
	registry *health.Registry
	limiter  *pace.Limiter
	logger   *slog.Logger

	ckpt       *checkpoint.Manager
	dispatcher *sink.Dispatcher
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithCheckpoint enables progress persistence and resume: sources already
// completed or failed in the loaded checkpoint are skipped.
func WithCheckpoint(m *checkpoint.Manager) Option {
	return func(o *Orchestrator) { o.ckpt = m }
}

// WithSink enables fire-and-forget delivery of merged results.
func WithSink(d *sink.Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// New creates an Orchestrator over the given registry and limiter.
func New(cfg Config, registry *health.Registry, limiter *pace.Limiter, opts ...Option) *Orchestrator {
	cfg.defaults()
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		limiter:  limiter,
		logger:   slog.Default(),
	}
	for _, op := range opts {
		op(o)
	}
	return o
}

// Search fans req.Query out to every admitted source and merges the
// results per req.Merge. The Report is never nil; the returned error is
// non-nil only when the job-level timeout or cancellation fired, and the
// Report still carries whatever was gathered before it did.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Report, error) {
	if req.Merge == "" {
		req.Merge = MergeDedup
	}

	jobCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, o.cfg.JobTimeout)
		defer cancel()
	}

	report := &Report{
		PerSource: make(map[string]SourceOutcome, len(req.Sources)),
	}
	if req.Merge == MergeAppend {
		report.BySource = make(map[string][]source.ResultRecord, len(req.Sources))
	}
	if req.Merge == MergeRanked {
		report.RankedSources = make(map[string][]string)
	}

	skip := o.resumeSkips(req)

	buffer := resultbuf.New(o.cfg.BufferMaxSize)
	workers := make(chan struct{}, o.cfg.Workers)

	var (
		mu sync.Mutex // guards report
		wg sync.WaitGroup
	)

	for _, b := range req.Sources {
		code := b.Source.Code
		o.registry.Register(b.Source)

		if skip[code] {
			mu.Lock()
			report.PerSource[code] = SourceOutcome{Status: StatusSkipped}
			mu.Unlock()
			continue
		}

		// Breaker gate: rejected sources get a synthetic outcome, no attempt.
		if !o.registry.Allow(code) {
			o.logger.Info("orchestrate: source rejected by breaker", "source", code)
			mu.Lock()
			report.PerSource[code] = SourceOutcome{
				Status:    StatusCircuitOpen,
				ErrorKind: source.KindCircuitOpen,
				Error:     (&source.ErrCircuitOpen{Source: code}).Error(),
			}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(b Binding) {
			defer wg.Done()

			select {
			case workers <- struct{}{}:
				defer func() { <-workers }()
			case <-jobCtx.Done():
				o.record(&mu, report, b.Source.Code, nil, jobCtx.Err())
				return
			}

			records, err := o.callSource(jobCtx, b, req)
			o.record(&mu, report, b.Source.Code, records, err)

			if err == nil {
				o.merge(&mu, report, buffer, b.Source.Code, records, req.Merge)
			}
		}(b)
	}

	wg.Wait()

	if req.Merge != MergeAppend {
		report.Results = buffer.All()
		report.UniqueCount = len(report.Results)
	} else {
		for _, records := range report.BySource {
			report.Results = append(report.Results, records...)
		}
		report.UniqueCount = len(report.Results)
	}

	if o.ckpt != nil {
		o.ckpt.SetUniqueURLs(report.UniqueCount)
		if err := o.ckpt.Flush(); err != nil {
			o.logger.Warn("orchestrate: checkpoint flush failed", "error", err)
		}
	}

	if o.dispatcher != nil && len(report.Results) > 0 {
		o.dispatcher.Enqueue(report.Results)
	}

	if jobCtx.Err() != nil {
		return report, fmt.Errorf("orchestrate: job cancelled: %w", jobCtx.Err())
	}
	return report, nil
}

// callSource wraps one source call with the rate limiter, health
// recording, and the per-call timeout.
func (o *Orchestrator) callSource(ctx context.Context, b Binding, req Request) ([]source.ResultRecord, error) {
	code := b.Source.Code

	release, err := o.limiter.Acquire(ctx)
	if err != nil {
		return nil, &source.Error{Kind: source.KindTimeout, Source: code, Cause: err}
	}
	defer release()

	if o.ckpt != nil {
		o.ckpt.MarkEngineStarted(code)
	}

	start := o.registry.RecordStart(code)

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	records, err := b.Querier(callCtx, req.Query, req.MaxResultsPerSource)
	if err != nil {
		o.registry.RecordFailure(code, start, err)
		if o.ckpt != nil {
			if cerr := o.ckpt.MarkEngineFailed(code, err.Error()); cerr != nil {
				o.logger.Warn("orchestrate: checkpoint mark failed", "source", code, "error", cerr)
			}
		}
		return nil, &source.Error{Kind: source.Classify(err), Source: code, Cause: err}
	}

	o.registry.RecordSuccess(code, start, len(records))
	if o.ckpt != nil {
		if cerr := o.ckpt.MarkEngineCompleted(code, len(records)); cerr != nil {
			o.logger.Warn("orchestrate: checkpoint mark completed", "source", code, "error", cerr)
		}
	}
	return records, nil
}

// record writes the per-source outcome. Failures are data here, not
// control flow.
func (o *Orchestrator) record(mu *sync.Mutex, report *Report, code string, records []source.ResultRecord, err error) {
	out := SourceOutcome{Status: StatusOK, ResultCount: len(records)}
	if err != nil {
		kind := source.Classify(err)
		out = SourceOutcome{
			Status:    StatusFailed,
			ErrorKind: kind,
			Error:     err.Error(),
		}
		if kind == source.KindTimeout {
			out.Status = StatusTimeout
		}
	}
	mu.Lock()
	report.PerSource[code] = out
	mu.Unlock()
}

// merge folds one source's records into the report under the requested
// strategy. Order within a single source's stream is preserved; ordering
// across sources is first-arrived-first-merged.
func (o *Orchestrator) merge(mu *sync.Mutex, report *Report, buffer *resultbuf.Buffer, code string, records []source.ResultRecord, strategy MergeStrategy) {
	for i := range records {
		if records[i].SourceCode == "" {
			records[i].SourceCode = code
		}
	}

	switch strategy {
	case MergeAppend:
		mu.Lock()
		report.BySource[code] = append(report.BySource[code], records...)
		mu.Unlock()
	case MergeRanked:
		for _, r := range records {
			if r.URL == "" {
				continue
			}
			buffer.Add(r)
			mu.Lock()
			report.RankedSources[r.URL] = appendUnique(report.RankedSources[r.URL], code)
			mu.Unlock()
		}
	default: // MergeDedup
		buffer.AddBatch(records)
	}
}

// resumeSkips returns the set of sources a loaded checkpoint says are
// already done.
func (o *Orchestrator) resumeSkips(req Request) map[string]bool {
	skip := make(map[string]bool)
	if o.ckpt == nil {
		return skip
	}

	codes := make([]string, 0, len(req.Sources))
	for _, b := range req.Sources {
		codes = append(codes, b.Source.Code)
	}
	if err := o.ckpt.UpdateQueryInfo(req.Query, codes); err != nil {
		o.logger.Warn("orchestrate: checkpoint init failed", "error", err)
	}

	info := o.ckpt.GetResumeInfo()
	for _, code := range info.CompletedEngines {
		skip[code] = true
	}
	for _, code := range info.FailedEngines {
		skip[code] = true
	}
	if len(skip) > 0 {
		o.logger.Info("orchestrate: resuming job",
			"job_id", info.JobID, "skipping", len(skip), "pending", len(info.PendingEngines))
	}
	return skip
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
