package netpool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

type dnsEntry struct {
	addrs   []string
	expires time.Time
}

// cachingDialer wraps a DialContext with a TTL-bounded hostname cache.
// Go's resolver does not cache; repeated fetches against the same handful
// of hosts otherwise pay a lookup per connection.
type cachingDialer struct {
	ttl  time.Duration
	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	mu    sync.Mutex
	cache map[string]dnsEntry
	now   func() time.Time // injectable for tests
}

func (d *cachingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return d.dial(ctx, network, addr)
	}
	// Literal IPs bypass the cache.
	if net.ParseIP(host) != nil {
		return d.dial(ctx, network, addr)
	}

	addrs, err := d.lookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		return d.dial(ctx, network, addr)
	}

	var firstErr error
	for _, ip := range addrs {
		conn, err := d.dial(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("netpool: dial %s: %w", addr, firstErr)
}

func (d *cachingDialer) lookup(ctx context.Context, host string) ([]string, error) {
	d.mu.Lock()
	if d.now == nil {
		d.now = time.Now
	}
	if d.cache == nil {
		d.cache = make(map[string]dnsEntry)
	}
	if e, ok := d.cache[host]; ok && d.now().Before(e.expires) {
		d.mu.Unlock()
		return e.addrs, nil
	}
	d.mu.Unlock()

	// Resolve outside the lock — no I/O under the mutex.
	ips, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache[host] = dnsEntry{addrs: ips, expires: d.now().Add(d.ttl)}
	d.mu.Unlock()
	return ips, nil
}
