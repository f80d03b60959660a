package cache

import (
	"container/list"
	"sync"
	"time"
)

// Kind categorizes cached answers for different TTL handling.
type Kind int

const (
	Positive Kind = iota // Records for the name and type
	NXDomain             // Name does not exist
	NoData               // Name exists but has no records of the type
	ServFail             // Resolution failed
)

// item holds a cached value with expiration and LRU tracking.
type item[V any] struct {
	value     V
	expiresAt time.Time
	kind      Kind
	elem      *list.Element // position in the LRU list
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries      int
	Hits         uint64
	Misses       uint64
	NegativeHits uint64
	Evictions    uint64
}

// TTLCache is a thread-safe, TTL-aware LRU store.
//
// Entries expire individually; when full, the least recently used entry is
// evicted. Negative kinds are capped separately from positive ones.
type TTLCache[K comparable, V any] struct {
	mu sync.Mutex

	maxTTL         time.Duration // cap for positive entries
	maxNegativeTTL time.Duration // cap for negative entries
	maxEntries     int

	lru  *list.List // front = least recently used
	data map[K]*item[V]

	hits, misses, negativeHits, evictions uint64
}

// NewTTLCache creates a store holding at most maxEntries entries.
func NewTTLCache[K comparable, V any](maxEntries int) *TTLCache[K, V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &TTLCache[K, V]{
		maxTTL:         7 * 24 * time.Hour,
		maxNegativeTTL: 3 * time.Hour,
		maxEntries:     maxEntries,
		lru:            list.New(),
		data:           map[K]*item[V]{},
	}
}

// Get returns the value, its expiry and kind. Expired entries are removed and
// count as misses.
func (c *TTLCache[K, V]) Get(key K) (V, time.Time, Kind, bool) {
	var zero V
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.data[key]
	if e == nil {
		c.misses++
		return zero, time.Time{}, Positive, false
	}
	if !e.expiresAt.After(now) {
		c.removeLocked(key, e)
		c.misses++
		return zero, time.Time{}, Positive, false
	}

	c.lru.MoveToBack(e.elem)
	c.hits++
	if e.kind != Positive {
		c.negativeHits++
	}
	return e.value, e.expiresAt, e.kind, true
}

// Set stores val for ttl (capped by kind). Entries with ttl <= 0 are not stored.
func (c *TTLCache[K, V]) Set(key K, val V, ttl time.Duration, kind Kind) {
	ttl = c.capTTL(ttl, kind)
	if ttl <= 0 {
		return
	}
	expires := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.data[key]; existing != nil {
		existing.value = val
		existing.expiresAt = expires
		existing.kind = kind
		c.lru.MoveToBack(existing.elem)
		return
	}

	e := &item[V]{value: val, expiresAt: expires, kind: kind}
	e.elem = c.lru.PushBack(key)
	c.data[key] = e

	for len(c.data) > c.maxEntries {
		front := c.lru.Front()
		if front == nil {
			break
		}
		k := front.Value.(K)
		c.removeLocked(k, c.data[k])
		c.evictions++
	}
}

func (c *TTLCache[K, V]) capTTL(ttl time.Duration, kind Kind) time.Duration {
	limit := c.maxTTL
	if kind != Positive {
		limit = c.maxNegativeTTL
	}
	return min(ttl, limit)
}

func (c *TTLCache[K, V]) removeLocked(key K, e *item[V]) {
	c.lru.Remove(e.elem)
	delete(c.data, key)
}

// RemoveExpired drops every expired entry and returns how many were removed.
func (c *TTLCache[K, V]) RemoveExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.data {
		if !e.expiresAt.After(now) {
			c.removeLocked(k, e)
			n++
		}
	}
	return n
}

// Purge empties the store.
func (c *TTLCache[K, V]) Purge() {
	c.mu.Lock()
	c.lru.Init()
	clear(c.data)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Range calls fn for each unexpired entry in LRU order until fn returns false.
// fn must not call back into the cache.
func (c *TTLCache[K, V]) Range(fn func(key K, val V, expiresAt time.Time, kind Kind) bool) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.lru.Front(); el != nil; el = el.Next() {
		k := el.Value.(K)
		e := c.data[k]
		if !e.expiresAt.After(now) {
			continue
		}
		if !fn(k, e.value, e.expiresAt, e.kind) {
			return
		}
	}
}

// Stats returns the current counters.
func (c *TTLCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:      len(c.data),
		Hits:         c.hits,
		Misses:       c.misses,
		NegativeHits: c.negativeHits,
		Evictions:    c.evictions,
	}
}
