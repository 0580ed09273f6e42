// Package cache provides the TTL+LRU metadata cache shared by the source
// clients. Keys are two-level (kind, identifier); a normalized paper stored
// once is reachable through any of its alternate identifiers.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Kind partitions the key space and selects the default TTL.
type Kind string

const (
	KindPaper  Kind = "paper"
	KindSearch Kind = "search"
	KindAuthor Kind = "author"
)

// Key addresses one cached object.
type Key struct {
	Kind Kind
	ID   string
}

// Stats is an observability snapshot of the cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Size      int
	MaxSize   int
	Evictions uint64
}

type entry struct {
	key       Key
	value     any
	expiresAt time.Time
	aliases   []Key
	elem      *list.Element
}

// Response is the TTL+LRU cache. One mutex guards the whole structure; the
// cache sits in front of network calls, so shard-level locking does not pay
// for itself here.
type Response struct {
	mu      sync.Mutex
	entries map[Key]*entry // primary and alias keys both resolve here
	lru     *list.List     // front = most recently used, values are *entry
	maxSize int
	ttls    map[Kind]time.Duration
	hits    uint64
	misses  uint64
	evicted uint64
	nowFunc func() time.Time
}

// Option configures a Response cache.
type Option func(*Response)

// WithTTL overrides the default TTL for a kind.
func WithTTL(kind Kind, ttl time.Duration) Option {
	return func(c *Response) { c.ttls[kind] = ttl }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Response) { c.nowFunc = now }
}

// NewResponse creates a cache holding at most maxSize primary entries.
// Default TTLs: paper and author 7 days, search 1 hour.
func NewResponse(maxSize int, opts ...Option) *Response {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Response{
		entries: make(map[Key]*entry),
		lru:     list.New(),
		maxSize: maxSize,
		ttls: map[Kind]time.Duration{
			KindPaper:  7 * 24 * time.Hour,
			KindSearch: time.Hour,
			KindAuthor: 7 * 24 * time.Hour,
		},
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the stored value if present and unexpired. With bypass set it
// always misses, which lets callers force a refresh while still recording
// the result via Set.
func (c *Response) Get(key Key, bypass bool) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bypass {
		c.misses++
		return nil, false
	}

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.nowFunc().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Set stores value under key. Alias keys make the same object reachable by
// alternate identifiers (doi, arxiv_id, s2_id, openalex id); aliases share
// the primary entry's TTL and lifetime. ttl <= 0 uses the kind default.
func (c *Response) Set(key Key, value any, ttl time.Duration, aliases ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.ttls[key.Kind]
		if ttl <= 0 {
			ttl = time.Hour
		}
	}

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	e := &entry{
		key:       key,
		value:     value,
		expiresAt: c.nowFunc().Add(ttl),
	}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	for _, alias := range aliases {
		if alias == key || alias.ID == "" {
			continue
		}
		if old, ok := c.entries[alias]; ok && old != e {
			// Alias collides with an existing primary entry; the newer
			// object wins the identifier.
			if old.key == alias {
				c.removeLocked(old)
			}
		}
		c.entries[alias] = e
		e.aliases = append(e.aliases, alias)
	}

	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
		c.evicted++
	}
}

// Invalidate removes the exact key (and its aliases). Returns whether
// anything was removed.
func (c *Response) Invalidate(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// InvalidatePattern removes every entry whose identifier contains substr
// (within the given kind). Returns the number of primary entries removed.
func (c *Response) InvalidatePattern(kind Kind, substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*entry
	seen := make(map[*entry]bool)
	for k, e := range c.entries {
		if k.Kind != kind || !strings.Contains(k.ID, substr) || seen[e] {
			continue
		}
		seen[e] = true
		victims = append(victims, e)
	}
	for _, e := range victims {
		c.removeLocked(e)
	}
	return len(victims)
}

// Stats returns a snapshot of the counters.
func (c *Response) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      c.lru.Len(),
		MaxSize:   c.maxSize,
		Evictions: c.evicted,
	}
}

// removeLocked deletes the entry, its aliases, and its LRU slot.
func (c *Response) removeLocked(e *entry) {
	if cur, ok := c.entries[e.key]; ok && cur == e {
		delete(c.entries, e.key)
	}
	for _, alias := range e.aliases {
		if cur, ok := c.entries[alias]; ok && cur == e {
			delete(c.entries, alias)
		}
	}
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
}
