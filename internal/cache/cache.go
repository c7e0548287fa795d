// Package cache memoizes slow VCS and hosting calls with per-entry TTL,
// LRU eviction above a fixed bound and a periodic expiry sweep.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/vibetree/vibetree/internal/logger"
)

const (
	// MaxEntries is the LRU size bound.
	MaxEntries = 1000
	// SweepPeriod is how often the background sweep drops expired entries.
	SweepPeriod = 5 * time.Minute
)

type entry struct {
	key        string
	value      any
	insertedAt time.Time
	ttl        time.Duration
	lastAccess time.Time
}

// Stats is a point-in-time view of cache behavior.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"maxSize"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hitRate"`
}

// Cache is a string-keyed TTL+LRU cache. Two concurrent misses for the same
// key may both call the fetcher; fetchers must be idempotent.
type Cache struct {
	mu           sync.Mutex
	items        map[string]*list.Element
	evictionList *list.List
	maxSize      int
	hits         int64
	misses       int64
	evictions    int64

	clock func() time.Time

	stopSweep chan struct{}
	sweepDone chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a cache with the standard bound.
func New() *Cache {
	return newWithClock(MaxEntries, time.Now)
}

func newWithClock(maxSize int, clock func() time.Time) *Cache {
	return &Cache{
		items:        make(map[string]*list.Element),
		evictionList: list.New(),
		maxSize:      maxSize,
		clock:        clock,
		stopSweep:    make(chan struct{}),
		sweepDone:    make(chan struct{}),
	}
}

// StartSweeper begins the background expiry sweep. Idempotent.
func (c *Cache) StartSweeper() {
	c.startOnce.Do(func() {
		go c.sweepLoop()
	})
}

// Stop halts the sweeper if it was started.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopSweep)
	})
}

func (c *Cache) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(SweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed := c.sweep(); removed > 0 {
				logger.Debugf("cache sweep removed %d expired entries", removed)
			}
		case <-c.stopSweep:
			return
		}
	}
}

// Get returns the cached value for key. Expired entries read as misses.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := element.Value.(*entry)
	if c.expired(e) {
		c.removeElement(element)
		c.misses++
		return nil, false
	}

	e.lastAccess = c.clock()
	c.evictionList.MoveToFront(element)
	c.hits++
	return e.value, true
}

// Set stores value under key with the given TTL, evicting the
// least-recently-accessed entry when the cache is over its bound.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if element, ok := c.items[key]; ok {
		e := element.Value.(*entry)
		e.value = value
		e.insertedAt = now
		e.ttl = ttl
		e.lastAccess = now
		c.evictionList.MoveToFront(element)
		return
	}

	element := c.evictionList.PushFront(&entry{
		key:        key,
		value:      value,
		insertedAt: now,
		ttl:        ttl,
		lastAccess: now,
	})
	c.items[key] = element

	if c.evictionList.Len() > c.maxSize {
		if oldest := c.evictionList.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}
}

// GetOrFetch returns the cached value for key or runs fetch and caches its
// result. Fetch errors are returned uncached.
func (c *Cache) GetOrFetch(key string, ttl time.Duration, fetch func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Invalidate drops a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if element, ok := c.items[key]; ok {
		c.removeElement(element)
	}
}

// InvalidateByPrefix drops every key with the given prefix.
func (c *Cache) InvalidateByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		c.removeElement(c.items[key])
	}
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.evictionList = list.New()
}

// Stats returns counters for monitoring.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:      len(c.items),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// sweep removes expired entries and returns how many were dropped.
func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for key, element := range c.items {
		if c.expired(element.Value.(*entry)) {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		c.removeElement(c.items[key])
	}
	return len(keys)
}

func (c *Cache) expired(e *entry) bool {
	return e.ttl > 0 && c.clock().Sub(e.insertedAt) > e.ttl
}

// removeElement drops an element; caller holds the lock.
func (c *Cache) removeElement(element *list.Element) {
	e := element.Value.(*entry)
	delete(c.items, e.key)
	c.evictionList.Remove(element)
}
