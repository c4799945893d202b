package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

type CacheItem[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Cache is a TTL cache that keeps expired entries around so a failing loader
// can fall back to the last good value.
type Cache[V any] struct {
	mu       sync.RWMutex
	items    map[string]CacheItem[V]
	ttl      time.Duration
	staleFor time.Duration
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

type Option[V any] func(*Cache[V])

// WithStaleFor bounds how long past expiry an entry may still be served on error.
func WithStaleFor[V any](d time.Duration) Option[V] {
	return func(c *Cache[V]) { c.staleFor = d }
}

func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		items:    make(map[string]CacheItem[V]),
		ttl:      ttl,
		staleFor: time.Hour,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	go c.cleanupLoop()

	return c
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = CacheItem[V]{
		Value:     value,
		ExpiresAt: c.now().Add(c.ttl),
	}
}

// Get returns a fresh value only.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || c.now().After(item.ExpiresAt) {
		var zero V
		return zero, false
	}
	return item.Value, true
}

func (c *Cache[V]) stale(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || c.now().After(item.ExpiresAt.Add(c.staleFor)) {
		var zero V
		return zero, false
	}
	return item.Value, true
}

// GetOrLoad returns the cached value or calls load. When load fails and a stale
// value is still held, the stale value is returned with stale=true and a nil error.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (v V, stale bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, false, nil
	}

	v, err = load(ctx)
	if err != nil {
		if old, ok := c.stale(key); ok {
			return old, true, nil
		}
		var zero V
		return zero, false, err
	}

	c.Set(key, v)
	return v, false, nil
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

// GenerateKey builds a stable key from its parts.
func GenerateKey(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache[V]) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.ExpiresAt.Add(c.staleFor)) {
			delete(c.items, key)
		}
	}
}
