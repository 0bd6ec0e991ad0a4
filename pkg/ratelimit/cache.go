package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/config"
)

// DefaultCacheTTL is the recommended upper bound from spec.md §9: "cache TTL
// must be <= 1s by default".
const DefaultCacheTTL = time.Second

// cacheValue pairs a cached Decision with its expiry instant, mirroring the
// cacheEntry shape in byte4ever/r8e's StaleCache (stalecache.go) — a plain
// value-plus-timestamp struct, no eviction machinery beyond a TTL check on
// read.
type cacheValue struct {
	decision Decision
	expires  time.Time
}

// Cache is the local decision cache (C4): a process-local, mutex-guarded
// map from (identity, endpoint, tier) to a recently allowed Decision. Only
// allow decisions are ever stored (spec.md §4.4); there is no background
// sweeper, matching spec.md §9's explicit guidance.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheValue
	now     func() time.Time
}

// NewCache creates a Cache with the given TTL. A zero or negative ttl
// disables caching entirely (every Lookup is a miss, every Put is a no-op).
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheValue),
		now:     time.Now,
	}
}

func cacheKey(identity, endpoint string, tier config.Tier) string {
	return fmt.Sprintf("check:%s:%s:%s", identity, endpoint, tier)
}

// Lookup returns the cached decision for (identity, endpoint, tier) if
// present and unexpired.
func (c *Cache) Lookup(identity, endpoint string, tier config.Tier) (Decision, bool) {
	if c.ttl <= 0 {
		return Decision{}, false
	}

	key := cacheKey(identity, endpoint, tier)

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	if c.now().After(v.expires) {
		delete(c.entries, key)
		return Decision{}, false
	}
	return v.decision, true
}

// Put stores decision for (identity, endpoint, tier). Denials are silently
// ignored: caching them would extend an outage of service past its true
// duration (spec.md §4.4).
func (c *Cache) Put(identity, endpoint string, tier config.Tier, decision Decision) {
	if c.ttl <= 0 || !decision.Allowed {
		return
	}

	key := cacheKey(identity, endpoint, tier)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheValue{decision: decision, expires: c.now().Add(c.ttl)}
}

// ClearFor evicts every cache entry for identity, across all endpoints and
// tiers, for use when a caller's tier is reassigned (spec.md §4.4).
func (c *Cache) ClearFor(identity string) {
	prefix := fmt.Sprintf("check:%s:", identity)

	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}
