// Package cache provides the in-process read tier in front of the cache store.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is a thread-safe LRU of store reads with per-entry expiry.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List

	// version changes on every invalidation so a read that raced a write
	// cannot repopulate stale rows.
	version uint64

	hits   int64
	misses int64
}

type lruEntry struct {
	key       string
	entries   []domain.Entry
	limit     int
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the stored rows for key if they can answer a read of limit
// rows. A read for more rows than were stored misses unless the stored
// read already held the complete set.
func (c *LRUCache) Get(key string, limit int, now time.Time) ([]domain.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	e := elem.Value.(*lruEntry)
	if !now.Before(e.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return nil, false
	}

	complete := e.limit <= 0 || len(e.entries) < e.limit
	switch {
	case limit <= 0 && !complete:
		c.misses++
		return nil, false
	case limit > 0 && limit > len(e.entries) && !complete:
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++

	out := e.entries
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return append([]domain.Entry(nil), out...), true
}

// Version returns the current invalidation version.
func (c *LRUCache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Set stores a read of limit rows under key until expiresAt, unless an
// invalidation happened since version was observed.
func (c *LRUCache) Set(version uint64, key string, entries []domain.Entry, limit int, expiresAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if version != c.version {
		return false
	}

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		e := elem.Value.(*lruEntry)
		e.entries = entries
		e.limit = limit
		e.expiresAt = expiresAt
		return true
	}

	elem := c.order.PushFront(&lruEntry{
		key:       key,
		entries:   entries,
		limit:     limit,
		expiresAt: expiresAt,
	})
	c.items[key] = elem

	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}
	return true
}

// Delete removes key.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Purge drops every entry.
func (c *LRUCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.items = make(map[string]*list.Element)
	c.order = list.New()
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:     c.order.Len(),
		Capacity: c.maxSize,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}

func (c *LRUCache) removeOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}
