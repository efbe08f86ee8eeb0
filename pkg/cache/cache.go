package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

func (i item[V]) expired(now time.Time) bool {
	return now.After(i.expiresAt)
}

// Cache is a thread-safe in-memory cache with TTL support
type Cache[V any] struct {
	mu          sync.RWMutex
	items       map[string]item[V]
	defaultTTL  time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

// New creates a cache whose entries live for defaultTTL. A background
// goroutine sweeps expired entries until Stop is called.
func New[V any](defaultTTL time.Duration) *Cache[V] {
	return newWithClock[V](defaultTTL, time.Now)
}

func newWithClock[V any](defaultTTL time.Duration, now func() time.Time) *Cache[V] {
	c := &Cache[V]{
		items:       make(map[string]item[V]),
		defaultTTL:  defaultTTL,
		stopCleanup: make(chan struct{}),
		now:         now,
	}
	go c.cleanup(defaultTTL / 2)
	return c
}

// Get retrieves a value from cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || it.expired(c.now()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores a value with the default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expiresAt: c.now().Add(c.defaultTTL)}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *Cache[V]) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, it := range c.items {
		if it.expired(now) {
			delete(c.items, key)
		}
	}
}

// Size returns the number of stored entries, expired or not.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[V]) cleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop ends the cleanup goroutine. It is idempotent.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}
