// Package health tracks per-source reliability and gates calls through a
// circuit breaker.
//
// Two concerns are deliberately separate: the rolling success/failure rate
// gives operators a descriptive status (a source trends Degraded well
// before it breaks), while the breaker's hard trip and recovery timer
// decide whether a call is attempted at all. While a circuit is open the
// breaker owns the status; the rate heuristic never overrides it.
package health

import "time"

// Status describes a source's current condition.
type Status int

const (
	Healthy Status = iota
	Degraded
	Down
	CircuitOpen
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Down:
		return "down"
	case CircuitOpen:
		return "circuit_open"
	}
	return "unknown"
}

// latencyWindowSize caps the trailing latency sample count.
const latencyWindowSize = 100

// Metrics is the rolling reliability record for one source. Mutated only
// through the Registry's synchronised methods. Invariant:
// Successful + Failed <= Total (requests may be in flight).
type Metrics struct {
	Total         int64
	Successful    int64
	Failed        int64
	Timeouts      int64
	RateLimited   int64
	Consecutive   int64 // consecutive failures
	LastSuccessAt time.Time
	LastFailureAt time.Time
	Status        Status

	latencies []time.Duration // trailing window, capped at latencyWindowSize
}

// AvgLatency returns the rolling average over the trailing window.
func (m *Metrics) AvgLatency() time.Duration {
	if len(m.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range m.latencies {
		sum += d
	}
	return sum / time.Duration(len(m.latencies))
}

func (m *Metrics) recordLatency(d time.Duration) {
	if len(m.latencies) >= latencyWindowSize {
		copy(m.latencies, m.latencies[1:])
		m.latencies = m.latencies[:latencyWindowSize-1]
	}
	m.latencies = append(m.latencies, d)
}

// successRate returns Successful/(Successful+Failed), or 1 when no
// request has completed yet.
func (m *Metrics) successRate() float64 {
	done := m.Successful + m.Failed
	if done == 0 {
		return 1
	}
	return float64(m.Successful) / float64(done)
}
