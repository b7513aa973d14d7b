// Package lru provides a bounded least-recently-used cache whose contents can
// be snapshotted into a document store.
package lru

import (
	"container/list"
	"sync"
)

// Stats are cumulative counters for the lifetime of the cache.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	HitRate   float64 `json:"hit_rate"`
}

// EvictFunc is called with each entry removed to restore the size bound.
type EvictFunc func(key string, value any)

type entry struct {
	key   string
	value any
}

// Cache is a bounded LRU cache. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List // front = most recently used
	items   map[string]*list.Element

	hits, misses, evictions int64

	onEvict   EvictFunc
	snapshots *snapshotter
}

// Option configures a Cache.
type Option func(*Cache)

// WithOnEvict registers a callback for evicted entries.
// The callback runs while the cache lock is held and must not call back into the cache.
func WithOnEvict(fn EvictFunc) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// New creates a cache holding at most maxSize entries. maxSize below 1 is treated as 1.
func New(maxSize int, opts ...Option) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key and marks it most recently used.
// On a miss it returns def.
func (c *Cache) Get(key string, def any) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return def
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*entry).value
}

// Peek returns the value without touching recency or counters.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).value, true
}

// Set inserts or replaces key, marks it most recently used, then evicts
// from the least recently used end until the bound holds.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value})
	c.evictLocked()
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// Keys returns keys ordered from least to most recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keysLocked()
}

func (c *Cache) keysLocked() []string {
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Back(); el != nil; el = el.Prev() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Cache) statsLocked() Stats {
	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.order.Len(),
		MaxSize:   c.maxSize,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache) evictLocked() {
	for c.order.Len() > c.maxSize {
		el := c.order.Back()
		e := el.Value.(*entry)
		c.order.Remove(el)
		delete(c.items, e.key)
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(e.key, e.value)
		}
	}
}
