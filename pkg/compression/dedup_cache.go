package compression

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupCache is the content-addressed store backing delta/dictionary
// compression: a fingerprint hash maps to the last raw blob seen with that
// hash, so a later write with the same hash can be answered from it instead
// of compressed from scratch. Lookups match the exact hash only; content
// that differs in any byte is not found here.
//
// Grounded on pkg/models/bandwidth_manager.go's two-tier cache pattern
// (hot in-process map backed by a shared store); here the shared store is
// Redis rather than a cluster-wide KV, through a redis/go-redis client the
// caller supplies (nil keeps the cache purely in-process).
type DedupCache struct {
	mu  sync.RWMutex
	hot map[string][]byte

	rdb *redis.Client
	ttl time.Duration
}

// NewDedupCache creates a cache with an optional Redis-backed second tier.
// rdb may be nil, in which case the cache is purely in-process.
func NewDedupCache(rdb *redis.Client, ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupCache{
		hot: make(map[string][]byte),
		rdb: rdb,
		ttl: ttl,
	}
}

// Lookup returns the raw blob previously stored under hash, if any.
func (c *DedupCache) Lookup(hash string) ([]byte, bool) {
	c.mu.RLock()
	data, ok := c.hot[hash]
	c.mu.RUnlock()
	if ok {
		return data, true
	}
	if c.rdb == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := c.rdb.Get(ctx, dedupKey(hash)).Bytes()
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	c.hot[hash] = raw
	c.mu.Unlock()
	return raw, true
}

// Store records data under hash, in the hot tier and (if configured) Redis.
func (c *DedupCache) Store(hash string, data []byte) {
	c.mu.Lock()
	c.hot[hash] = data
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.rdb.Set(ctx, dedupKey(hash), data, c.ttl).Err()
}

// Evict removes hash from both tiers, used by emergency cleanup (spec §6).
func (c *DedupCache) Evict(hash string) {
	c.mu.Lock()
	delete(c.hot, hash)
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.rdb.Del(ctx, dedupKey(hash)).Err()
}

// Len reports the number of entries held in the hot tier.
func (c *DedupCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hot)
}

// Clear drops every hot-tier entry, used by emergency cleanup.
func (c *DedupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hot = make(map[string][]byte)
}

func dedupKey(hash string) string {
	return "a2a:compression:dedup:" + hash
}
