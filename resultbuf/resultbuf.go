// Package resultbuf implements a bounded, deduplicating collection of
// result records.
//
// The buffer is a recency cache, not a permanent ledger: when full it
// evicts the oldest 10% and forgets their URLs, so an evicted URL can be
// re-admitted later in the same run. Callers needing full history must
// persist elsewhere (see the sink package).
package resultbuf

import (
	"sync"

	"github.com/hazyhaar/moisson/source"
)

// DefaultMaxSize is the buffer capacity when none is configured.
const DefaultMaxSize = 10000

// Buffer is a capacity-bounded, URL-deduplicating store of records.
// All operations are serialised by a single mutex; nothing under the lock
// does I/O, so hold time is O(1) per record.
type Buffer struct {
	mu      sync.Mutex
	maxSize int
	records []source.ResultRecord
	seen    map[string]struct{}
}

// New creates a Buffer holding at most maxSize records.
func New(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Buffer{
		maxSize: maxSize,
		seen:    make(map[string]struct{}),
	}
}

// Add inserts a record. Returns false without inserting if the URL is
// empty or already present. When the buffer is full, the oldest 10%
// (minimum 1) are evicted first and their URLs removed from the dedup set.
func (b *Buffer) Add(r source.ResultRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.URL == "" {
		return false
	}
	if _, dup := b.seen[r.URL]; dup {
		return false
	}

	if len(b.records) >= b.maxSize {
		b.evictLocked()
	}

	b.records = append(b.records, r)
	b.seen[r.URL] = struct{}{}
	return true
}

// AddBatch inserts records in order and returns how many were admitted.
func (b *Buffer) AddBatch(records []source.ResultRecord) int {
	admitted := 0
	for _, r := range records {
		if b.Add(r) {
			admitted++
		}
	}
	return admitted
}

// Contains reports whether a URL is currently in the buffer.
func (b *Buffer) Contains(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.seen[url]
	return ok
}

// Len returns the current record count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// All returns a defensive copy of the records in insertion order.
func (b *Buffer) All() []source.ResultRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]source.ResultRecord, len(b.records))
	copy(out, b.records)
	return out
}

// evictLocked drops the oldest 10% (minimum 1) and forgets their URLs.
// Must be called with mu held.
func (b *Buffer) evictLocked() {
	n := len(b.records) / 10
	if n < 1 {
		n = 1
	}
	for _, r := range b.records[:n] {
		delete(b.seen, r.URL)
	}
	b.records = append(b.records[:0], b.records[n:]...)
}
