package adapters

import (
	"container/list"
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
)

// LRUCache is a bounded in-memory cache with per-entry TTL.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	now      func() time.Time
}

type cacheEntry struct {
	key     string
	value   []byte
	expires time.Time // zero means no expiry
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the value for key and marks it as recently used. Expired entries
// are dropped on access.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if !entry.expires.IsZero() && c.now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

// Set stores value under key. A ttlSeconds of zero or less keeps the entry until
// it is evicted.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttlSeconds > 0 {
		expires = c.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expires = expires
		c.order.MoveToFront(el)
		return nil
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: value, expires: expires})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
	return nil
}

// Len reports the number of live and not-yet-collected entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

var _ ports.Cache = (*LRUCache)(nil)
