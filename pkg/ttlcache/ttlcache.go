// Package ttlcache provides a mutex-guarded in-memory map whose entries
// expire after a fixed TTL. Expiry is checked on every read; Sweep and
// RunSweeper remove expired entries in bulk so memory does not grow with keys
// that are never read again.
package ttlcache

import (
	"context"
	"sync"
	"time"
)

type item[V any] struct {
	value   V
	expires time.Time
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]item[V]
	ttl   time.Duration
	now   func() time.Time
}

// New creates a cache whose entries live for ttl.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]item[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *Cache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the value for key if present and not expired. An expired entry
// is removed on the way out.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(it.expires) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores value under key with the cache TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expires: c.now().Add(c.ttl)}
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes every entry and returns how many were dropped.
func (c *Cache[K, V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	c.items = make(map[K]item[V])
	return n
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, it := range c.items {
		if !now.Before(it.expires) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done. A non-positive
// interval disables sweeping and returns immediately.
func (c *Cache[K, V]) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
