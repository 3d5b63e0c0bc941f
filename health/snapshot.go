package health

import "time"

// EngineSnapshot is a point-in-time, JSON-friendly view of one source's
// metrics, served by the admin endpoint.
type EngineSnapshot struct {
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	Total         int64     `json:"total_requests"`
	Successful    int64     `json:"successful_requests"`
	Failed        int64     `json:"failed_requests"`
	Timeouts      int64     `json:"timeout_requests"`
	RateLimited   int64     `json:"rate_limited_requests"`
	Consecutive   int64     `json:"consecutive_failures"`
	AvgLatencyMs  int64     `json:"avg_latency_ms"`
	LastSuccessAt time.Time `json:"last_success_at,omitzero"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
}

// Snapshot returns a copy of every registered source's metrics.
func (r *Registry) Snapshot() []EngineSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EngineSnapshot, 0, len(r.engines))
	for _, e := range r.engines {
		m := &e.metrics
		out = append(out, EngineSnapshot{
			Code:          e.src.Code,
			Name:          e.src.Name,
			Status:        m.Status.String(),
			Total:         m.Total,
			Successful:    m.Successful,
			Failed:        m.Failed,
			Timeouts:      m.Timeouts,
			RateLimited:   m.RateLimited,
			Consecutive:   m.Consecutive,
			AvgLatencyMs:  m.AvgLatency().Milliseconds(),
			LastSuccessAt: m.LastSuccessAt,
			LastFailureAt: m.LastFailureAt,
		})
	}
	return out
}
