// Package netpool owns the shared HTTP client used by every fetch path.
// The client is built lazily on first use, carries bounded connection
// limits and a TTL-bounded DNS cache, and is torn down exactly once at
// shutdown. After Close, the next Client call rebuilds it.
package netpool

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Config configures the pool.
type Config struct {
	// MaxConns bounds total connections across all hosts. Default: 100.
	MaxConns int `yaml:"max_conns"`
	// MaxConnsPerHost bounds connections to a single host. Default: 10.
	MaxConnsPerHost int `yaml:"max_conns_per_host"`
	// IdleTimeout is how long idle connections are kept. Default: 90s.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// DNSCacheTTL is how long resolved addresses are reused. Default: 5min.
	DNSCacheTTL time.Duration `yaml:"dns_cache_ttl"`
	// RequestTimeout is the client-level timeout. Default: 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func (c *Config) defaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 100
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 10
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.DNSCacheTTL <= 0 {
		c.DNSCacheTTL = 5 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Pool lazily constructs and owns a shared *http.Client.
// Construction and teardown are mutex-guarded so concurrent first-use
// never double-constructs.
type Pool struct {
	cfg    Config
	mu     sync.Mutex
	client *http.Client
	closed bool
}

// New creates a Pool. No client is built until the first Client call.
func New(cfg Config) *Pool {
	cfg.defaults()
	return &Pool{cfg: cfg}
}

// Client returns the shared client, building it if none exists or the
// previous one was closed.
func (p *Pool) Client() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil || p.closed {
		p.client = p.build()
		p.closed = false
	}
	return p.client
}

// Close tears down the client's idle connections. Idempotent: closing an
// already-closed or never-built pool is a no-op.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.client == nil {
		return
	}
	p.client.CloseIdleConnections()
	p.closed = true
}

func (p *Pool) build() *http.Client {
	dialer := &cachingDialer{
		ttl:  p.cfg.DNSCacheTTL,
		dial: (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        p.cfg.MaxConns,
		MaxConnsPerHost:     p.cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: p.cfg.MaxConnsPerHost,
		IdleConnTimeout:     p.cfg.IdleTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   p.cfg.RequestTimeout,
	}
}
