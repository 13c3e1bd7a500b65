// Package cache provides the in-process TTL cache that fronts the
// persistent store.
//
// The cache is best-effort and never the source of truth: a caller that
// misses goes to the persistent store and re-populates via Set. Freshness
// is bounded by "TTL or last external change, whichever is sooner" -- the
// storage adapter's change feed drives invalidation so that a write from
// another process never leaves a stale mirror behind.
package cache

import (
	"sync"
	"time"

	"github.com/davidshq/forgetfulme-sub002/internal/domain/storage"
	"github.com/davidshq/forgetfulme-sub002/internal/observe"
)

const (
	// DefaultTTL is the freshness window applied when Set is called with
	// a zero TTL.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries bounds the cache. When full, inserting a new key
	// evicts the oldest-inserted entry.
	DefaultMaxEntries = 100
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Config holds cache construction parameters.
type Config struct {
	// TTL is the default time-to-live for entries. Default: 5 minutes.
	TTL time.Duration
	// MaxEntries bounds the entry count. Default: 100.
	MaxEntries int
	// Metrics receives hit/miss/eviction counters. Optional.
	Metrics *observe.Metrics
}

// Cache is a bounded TTL map keyed by string.
//
// Eviction is oldest-inserted-first, not LRU-by-access: overwriting an
// existing key keeps its original insertion position. All methods are safe
// for concurrent use; the map is only mutated synchronously inside them.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	order      []string // insertion order, oldest first
	ttl        time.Duration
	maxEntries int
	metrics    *observe.Metrics

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Cache with the given configuration.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopMetrics()
	}
	return &Cache{
		entries:    make(map[string]entry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
}

// Get returns the cached value for key, or (nil, false) on a miss.
// An expired entry is deleted as a side effect of being observed, never
// returned.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.metrics.CacheMisses.Inc()
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.deleteLocked(key)
		c.metrics.CacheMisses.Inc()
		return nil, false
	}
	c.metrics.CacheHits.Inc()
	return e.value, true
}

// Set stores value under key with the given TTL (zero means the cache
// default). If the cache is full and key is new, the oldest-inserted entry
// is evicted first.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Invalidate forces a miss on the next Get for key, regardless of TTL.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.deleteLocked(key)
		c.metrics.CacheInvalidations.Inc()
	}
}

// InvalidatePrefix drops every entry whose key starts with prefix.
// Used by services that namespace their keys (e.g. "bookmarks:") to clear
// their slice of the cache on sign-out.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, key := range c.order {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
			c.metrics.CacheInvalidations.Inc()
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.order = c.order[:0]
}

// Len returns the current entry count, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// WatchStore subscribes the cache to a storage adapter's change feed so
// that an external write to a mirrored key evicts it immediately.
// Invalidation always wins: the named key is dropped even if a Set for it
// raced the change event. Returns the subscription cancel function.
func (c *Cache) WatchStore(s storage.Store) (cancel func()) {
	return s.Watch(func(ch storage.Change) {
		c.Invalidate(ch.Key)
	})
}

// deleteLocked removes key from both indexes. Caller must hold c.mu.
func (c *Cache) deleteLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// evictOldestLocked drops the least-recently-inserted entry. Caller must
// hold c.mu.
func (c *Cache) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
	c.metrics.CacheEvictions.Inc()
}
