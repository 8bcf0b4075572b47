// Package cache implements the in-memory response cache: a size-bounded
// LRU keyed by request fingerprint with per-entry expiry. Expired entries
// stay resident until evicted so they can still serve degraded offline
// reads through PeekStale.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"
)

// shardCount spreads fingerprints over independent locks so writes to
// different fingerprints do not block each other.
const shardCount = 16

// Cloneable values know how to deep-copy themselves; the cache never
// shares stored values by reference with callers.
type Cloneable[V any] interface {
	Clone() V
}

// Entry is one cached value. Callers always receive copies.
type Entry[V Cloneable[V]] struct {
	Fingerprint string
	Value       V
	StoredAt    time.Time
	TTL         time.Duration
}

// Expired reports whether the entry is past storedAt + ttl.
func (e *Entry[V]) Expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(e.TTL))
}

// shard serializes all reads and writes for its fingerprints; a read can
// never observe a partially written entry.
type shard[V Cloneable[V]] struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
}

// ResponseCache is the process-wide cache of normalized provider results.
// It is memory-resident and cleared on restart by design.
type ResponseCache[V Cloneable[V]] struct {
	shards [shardCount]*shard[V]
	now    func() time.Time
}

// NewResponseCache creates a cache holding at most capacity entries
// overall. Capacity below shardCount is raised so every shard holds at
// least one entry.
func NewResponseCache[V Cloneable[V]](capacity int) *ResponseCache[V] {
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}
	c := &ResponseCache[V]{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard[V]{
			entries:  make(map[string]*list.Element),
			order:    list.New(),
			capacity: perShard,
		}
	}
	return c
}

func (c *ResponseCache[V]) shardFor(fingerprint string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(fingerprint)) //nolint:errcheck // fnv never fails
	return c.shards[h.Sum32()%shardCount]
}

// Get returns a copy of the entry for fingerprint, or nil when the
// fingerprint was never cached or has expired. The two cases are
// indistinguishable on purpose; PeekStale exists for degraded serving.
func (c *ResponseCache[V]) Get(fingerprint string) *Entry[V] {
	s := c.shardFor(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[fingerprint]
	if !ok {
		return nil
	}
	entry := el.Value.(*Entry[V])
	if entry.Expired(c.now()) {
		return nil
	}
	s.order.MoveToFront(el)
	return copyEntry(entry)
}

// PeekStale returns a copy of the entry even when expired, with a flag
// reporting staleness. Used only when no fresher data can be obtained.
func (c *ResponseCache[V]) PeekStale(fingerprint string) (*Entry[V], bool) {
	s := c.shardFor(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[fingerprint]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*Entry[V])
	return copyEntry(entry), entry.Expired(c.now())
}

// Set inserts or replaces the entry for fingerprint. At most one entry
// exists per fingerprint; over capacity, the least recently used entry of
// the shard is evicted first.
func (c *ResponseCache[V]) Set(fingerprint string, value V, ttl time.Duration) {
	s := c.shardFor(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[fingerprint]; ok {
		entry := el.Value.(*Entry[V])
		entry.Value = value.Clone()
		entry.StoredAt = c.now()
		entry.TTL = ttl
		s.order.MoveToFront(el)
		return
	}

	if s.order.Len() >= s.capacity {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*Entry[V]).Fingerprint)
		}
	}

	s.entries[fingerprint] = s.order.PushFront(&Entry[V]{
		Fingerprint: fingerprint,
		Value:       value.Clone(),
		StoredAt:    c.now(),
		TTL:         ttl,
	})
}

// EvictExpired removes every expired entry. Stale values become
// unavailable to PeekStale after this runs.
func (c *ResponseCache[V]) EvictExpired() {
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for el := s.order.Front(); el != nil; {
			next := el.Next()
			entry := el.Value.(*Entry[V])
			if entry.Expired(now) {
				s.order.Remove(el)
				delete(s.entries, entry.Fingerprint)
			}
			el = next
		}
		s.mu.Unlock()
	}
}

// Len reports the number of resident entries, expired included.
func (c *ResponseCache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}

func copyEntry[V Cloneable[V]](e *Entry[V]) *Entry[V] {
	return &Entry[V]{
		Fingerprint: e.Fingerprint,
		Value:       e.Value.Clone(),
		StoredAt:    e.StoredAt,
		TTL:         e.TTL,
	}
}
