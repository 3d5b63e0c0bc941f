package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/moisson/source"
)

// BreakerConfig configures the per-source circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`
	// TimeoutThreshold is the minimum timeout count before the timeout-rate
	// trip condition applies. Default: 3.
	TimeoutThreshold int `yaml:"timeout_threshold"`
	// RecoveryTimeout is how long a tripped circuit stays open before a
	// half-open probe is allowed. Default: 60s.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
	// MinRequests is the minimum total attempts before the breaker can
	// trip at all. Default: 10.
	MinRequests int `yaml:"min_requests"`
}

func (c *BreakerConfig) defaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.TimeoutThreshold <= 0 {
		c.TimeoutThreshold = 3
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.MinRequests <= 0 {
		c.MinRequests = 10
	}
}

// engineState pairs a source's metrics with its breaker timers.
// The breaker has no state of its own beyond Status and these fields.
type engineState struct {
	src              source.Source
	metrics          Metrics
	circuitOpenUntil time.Time
	halfOpen         bool // circuit expired, probe phase
	probeUsed        bool // the single half-open probe has been handed out
}

// Registry tracks metrics and breaker state for every registered source.
// One mutex guards the whole registry; every update is O(1) and does no
// I/O under the lock.
type Registry struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	engines map[string]*engineState
	logger  *slog.Logger
	now     func() time.Time // injectable clock for testing
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// NewRegistry creates a Registry with the given breaker configuration.
func NewRegistry(cfg BreakerConfig, opts ...Option) *Registry {
	cfg.defaults()
	r := &Registry{
		cfg:     cfg,
		engines: make(map[string]*engineState),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register creates metrics and a breaker for a source. Idempotent.
func (r *Registry) Register(src source.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[src.Code]; ok {
		return
	}
	r.engines[src.Code] = &engineState{src: src, metrics: Metrics{Status: Healthy}}
}

// Allow reports whether a call to the source should be attempted.
// Unregistered sources are always allowed (fail-open). While a circuit is
// open only the recovery timer can readmit; once it expires exactly one
// caller receives the half-open probe and further callers are rejected
// until the probe's outcome is recorded.
func (r *Registry) Allow(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.engines[code]
	if !ok {
		return true
	}

	// Probe phase: the status reads Degraded, but admission stays gated
	// until the single probe's outcome is recorded.
	if e.halfOpen {
		if e.probeUsed {
			return false
		}
		e.probeUsed = true
		return true
	}

	if e.metrics.Status != CircuitOpen {
		return true
	}

	now := r.now()
	if now.Before(e.circuitOpenUntil) {
		return false
	}

	// Recovery window elapsed: enter half-open (reported as Degraded) and
	// hand out the probe to this caller.
	e.halfOpen = true
	e.probeUsed = true
	e.metrics.Status = Degraded
	r.logger.Info("health: circuit half-open", "source", code)
	return true
}

// RecordStart notes an attempt and returns its start time for latency
// computation.
func (r *Registry) RecordStart(code string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[code]; ok {
		e.metrics.Total++
	}
	return r.now()
}

// RecordSuccess records a completed call. A success closes a half-open
// circuit; otherwise the descriptive status is recomputed from the rolling
// success rate (>=95% healthy, >=80% degraded, else down). An open circuit
// is never touched here — the breaker owns that transition.
func (r *Registry) RecordSuccess(code string, start time.Time, resultCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.engines[code]
	if !ok {
		return
	}

	now := r.now()
	m := &e.metrics
	m.Successful++
	m.Consecutive = 0
	m.LastSuccessAt = now
	m.recordLatency(now.Sub(start))

	if e.halfOpen {
		e.halfOpen = false
		e.probeUsed = false
		e.circuitOpenUntil = time.Time{}
		r.logger.Info("health: circuit closed", "source", code, "results", resultCount)
	} else if m.Status == CircuitOpen {
		// Breaker owns the status while open.
		return
	}

	switch rate := m.successRate(); {
	case rate >= 0.95:
		m.Status = Healthy
	case rate >= 0.80:
		m.Status = Degraded
	default:
		m.Status = Down
	}
}

// RecordFailure records a failed call, classifies it into the timeout or
// rate-limited sub-counters, and either trips the breaker or recomputes
// the descriptive status from the rolling failure rate.
func (r *Registry) RecordFailure(code string, start time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.engines[code]
	if !ok {
		return
	}

	now := r.now()
	m := &e.metrics
	m.Failed++
	m.Consecutive++
	m.LastFailureAt = now
	m.recordLatency(now.Sub(start))

	kind := source.Classify(err)
	switch kind {
	case source.KindTimeout:
		m.Timeouts++
	case source.KindRateLimited:
		m.RateLimited++
	}

	// A failure during the half-open probe re-opens with a fresh window.
	if e.halfOpen {
		e.halfOpen = false
		e.probeUsed = false
		r.tripLocked(e, now)
		return
	}
	if m.Status == CircuitOpen {
		return
	}

	if r.shouldTripLocked(m) {
		r.tripLocked(e, now)
		return
	}

	switch rate := 1 - m.successRate(); {
	case rate > 0.5:
		m.Status = Down
	case rate > 0.2:
		m.Status = Degraded
	}
}

// shouldTripLocked applies the trip conditions: after MinRequests total
// attempts, either FailureThreshold consecutive failures or a timeout rate
// above 50% with at least TimeoutThreshold timeouts.
func (r *Registry) shouldTripLocked(m *Metrics) bool {
	if m.Total < int64(r.cfg.MinRequests) {
		return false
	}
	if m.Consecutive >= int64(r.cfg.FailureThreshold) {
		return true
	}
	if m.Timeouts >= int64(r.cfg.TimeoutThreshold) {
		done := m.Successful + m.Failed
		if done > 0 && float64(m.Timeouts)/float64(done) > 0.5 {
			return true
		}
	}
	return false
}

func (r *Registry) tripLocked(e *engineState, now time.Time) {
	e.metrics.Status = CircuitOpen
	e.circuitOpenUntil = now.Add(r.cfg.RecoveryTimeout)
	r.logger.Warn("health: circuit open",
		"source", e.src.Code,
		"consecutive_failures", e.metrics.Consecutive,
		"until", e.circuitOpenUntil)
}

// Metrics returns a copy of the metrics for a source, or false if the
// source was never registered.
func (r *Registry) Metrics(code string) (Metrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[code]
	if !ok {
		return Metrics{}, false
	}
	m := e.metrics
	m.latencies = append([]time.Duration(nil), e.metrics.latencies...)
	return m, ok
}
