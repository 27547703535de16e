// ABOUTME: Bounded in-process TTL set of recently claimed keys, oldest evicted first
// ABOUTME: Front cache for Guard; clock is injectable so expiry is testable

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores when a key was marked and its position in the order list.
type cacheEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited set of keys.
// A doubly-linked list keeps insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewCache creates a cache holding at most maxSize keys for ttl each.
// A nil clock uses time.Now. Expired keys are dropped lazily and by Sweep.
func NewCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// Contains reports whether key was marked within the TTL.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// MarkIfAbsent marks key unless it is already live. It returns true when the
// key was newly marked, mirroring a store SetNX.
func (c *Cache) MarkIfAbsent(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return false
	}
	c.markLocked(key, c.now())
	return true
}

// Mark records key, refreshing its timestamp if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.now())
}

// markAt records key as marked at the given time.
func (c *Cache) markAt(key string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, at)
}

// Len returns the number of keys held, including any not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Sweep removes every expired key. Keys are in mark order, so the scan stops
// at the first live one.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		entry := c.seen[key]
		if entry == nil || now.Sub(entry.markedAt) < c.ttl {
			break
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.seen, key)
		removed++
		e = next
	}
	return removed
}

// liveLocked must be called with mu held.
func (c *Cache) liveLocked(key string) bool {
	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	if c.now().Sub(entry.markedAt) >= c.ttl {
		c.order.Remove(entry.element)
		delete(c.seen, key)
		return false
	}
	return true
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string, now time.Time) {
	if entry, exists := c.seen[key]; exists {
		entry.markedAt = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{markedAt: now, element: elem}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
