package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache is the default in-process decision cache, backed by a
// cost-based admission cache so hot decisions survive under memory pressure.
type RistrettoCache struct {
	inner *ristretto.Cache
}

// NewRistrettoCache builds a decision cache sized for roughly maxItems
// entries.
func NewRistrettoCache(maxItems int64) (*RistrettoCache, error) {
	if maxItems <= 0 {
		maxItems = 100_000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{inner: c}, nil
}

func (c *RistrettoCache) Get(_ context.Context, key string) (*Decision, bool) {
	v, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	dec, ok := v.(*Decision)
	return dec, ok
}

func (c *RistrettoCache) Set(_ context.Context, key string, dec *Decision, ttl time.Duration) {
	c.inner.SetWithTTL(key, dec, 1, ttl)
}

func (c *RistrettoCache) Delete(_ context.Context, key string) {
	c.inner.Del(key)
}

func (c *RistrettoCache) Clear(_ context.Context) {
	c.inner.Clear()
}

// Wait blocks until pending writes are applied. Ristretto admits entries
// asynchronously, so tests call this before asserting on hits.
func (c *RistrettoCache) Wait() {
	c.inner.Wait()
}

// MemoryCache is a plain map-backed cache with per-entry expiry. Simpler
// semantics than ristretto (writes are immediately visible), at the cost of
// no admission policy. Suits tests and small deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	clock   func() time.Time
}

type memoryCacheEntry struct {
	dec     *Decision
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		clock:   time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Decision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.clock().After(entry.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.dec, true
}

func (c *MemoryCache) Set(_ context.Context, key string, dec *Decision, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = memoryCacheEntry{dec: dec, expires: c.clock().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]memoryCacheEntry)
	c.mu.Unlock()
}

// Len reports live entry count, expired entries included until read.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
