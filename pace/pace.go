// Package pace paces outbound calls against a shared concurrency ceiling
// and a maximum request rate. Every source call in a job goes through one
// Limiter, so aggregate load on the network stays bounded no matter how
// many sources are fanned out to.
package pace

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter admits callers when both a concurrency slot and a rate token
// are available. It never fails except on context cancellation — at worst
// it delays.
type Limiter struct {
	slots  chan struct{}
	bucket *rate.Limiter
}

// Config configures a Limiter.
type Config struct {
	// MaxConcurrent is the ceiling on outstanding acquisitions. Default: 10.
	MaxConcurrent int `yaml:"max_concurrent"`
	// RequestsPerSecond is the admission rate. Default: 5.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
}

// New creates a Limiter. Burst is fixed at 1 so admissions are spaced at
// least 1/RequestsPerSecond apart; the token bucket serialises the
// "time since last admission" computation internally, so two concurrent
// callers can never both proceed early.
func New(cfg Config) *Limiter {
	cfg.defaults()
	return &Limiter{
		slots:  make(chan struct{}, cfg.MaxConcurrent),
		bucket: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// Acquire blocks until a concurrency slot and a rate token are available.
// The returned release function must be called exactly once, typically via
// defer, when the caller's work is done; calling it more than once is a
// no-op. Returns an error only if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := l.bucket.Wait(ctx); err != nil {
		<-l.slots
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-l.slots })
	}, nil
}

// InFlight reports the number of currently outstanding acquisitions.
func (l *Limiter) InFlight() int {
	return len(l.slots)
}
