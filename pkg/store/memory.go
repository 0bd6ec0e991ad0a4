package store

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// MemoryDriver is an in-process fake of Driver for tests, following the
// teacher pack's convention of backing rate-limiter tests with a plain
// mutex-guarded map rather than a live Redis (see dmitrymomot/saaskit's
// MemoryStore and gofr.dev's LocalRateLimiterStore, both under
// other_examples/). It has no network, keeps TTLs exactly, and interprets
// the one script this engine ever issues — the bucket evaluator defined by
// spec.md §4.3 — directly in Go rather than running a Lua interpreter,
// since there is exactly one script in this system and pattern-matching on
// its source would be no more faithful than reimplementing its contract.
type MemoryDriver struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryDriver creates an empty in-memory store.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{entries: make(map[string]memEntry)}
}

func (d *MemoryDriver) getLocked(key string, now time.Time) (string, bool) {
	e, ok := d.entries[key]
	if !ok {
		return "", false
	}
	if !now.Before(e.expiresAt) {
		delete(d.entries, key)
		return "", false
	}
	return e.value, true
}

// Get implements Driver.
func (d *MemoryDriver) Get(_ context.Context, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.getLocked(key, time.Now())
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetEX implements Driver.
func (d *MemoryDriver) SetEX(_ context.Context, key string, ttl time.Duration, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Ping implements Driver. The in-memory fake is always reachable.
func (d *MemoryDriver) Ping(_ context.Context) error {
	return nil
}

// Eval implements Driver for the bucket evaluator script only (spec.md
// §4.3). keys must be [tokensKey, lastRefillKey, countKey]; args must be
// [now, adjustedMax, adjustedBurst, windowSeconds, cost], all as int64 or
// values convertible to int64. It returns []interface{}{allowed, remaining,
// countAfter}, matching the shape a real Lua EVAL reply would take.
func (d *MemoryDriver) Eval(_ context.Context, _ string, keys []string, args ...interface{}) (interface{}, error) {
	if len(keys) != 3 {
		return nil, fmt.Errorf("%w: memory driver expects 3 keys, got %d", ErrScriptFailed, len(keys))
	}
	if len(args) != 5 {
		return nil, fmt.Errorf("%w: memory driver expects 5 args, got %d", ErrScriptFailed, len(args))
	}

	now, err := toInt64(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: now: %v", ErrScriptFailed, err)
	}
	adjustedMax, err := toInt64(args[1])
	if err != nil {
		return nil, fmt.Errorf("%w: adjustedMax: %v", ErrScriptFailed, err)
	}
	adjustedBurst, err := toInt64(args[2])
	if err != nil {
		return nil, fmt.Errorf("%w: adjustedBurst: %v", ErrScriptFailed, err)
	}
	windowSeconds, err := toInt64(args[3])
	if err != nil {
		return nil, fmt.Errorf("%w: windowSeconds: %v", ErrScriptFailed, err)
	}
	cost, err := toInt64(args[4])
	if err != nil {
		return nil, fmt.Errorf("%w: cost: %v", ErrScriptFailed, err)
	}

	tokensKey, lastRefillKey, countKey := keys[0], keys[1], keys[2]

	d.mu.Lock()
	defer d.mu.Unlock()

	nowTime := time.Unix(now, 0)

	tokens := adjustedBurst
	if v, ok := d.getLocked(tokensKey, nowTime); ok {
		tokens = parseInt64Or(v, adjustedBurst)
	}

	lastRefill := now
	if v, ok := d.getLocked(lastRefillKey, nowTime); ok {
		lastRefill = parseInt64Or(v, now)
	}

	count := int64(0)
	if v, ok := d.getLocked(countKey, nowTime); ok {
		count = parseInt64Or(v, 0)
	}

	deltaT := now - lastRefill
	if deltaT < 0 {
		deltaT = 0
	}

	var refill float64
	if windowSeconds > 0 {
		refill = float64(deltaT) * float64(adjustedMax) / float64(windowSeconds)
	}

	tokensAfterRefill := math.Min(float64(adjustedBurst), float64(tokens)+refill)
	if tokensAfterRefill < 0 {
		tokensAfterRefill = 0
	}

	allowed := tokensAfterRefill >= float64(cost) && count < adjustedMax

	var (
		tokensToPersist float64
		countAfter      int64
	)

	if allowed {
		tokensToPersist = tokensAfterRefill - float64(cost)
		countAfter = count + cost
	} else {
		tokensToPersist = tokensAfterRefill
		countAfter = count
	}

	remaining := int64(math.Max(0, math.Floor(tokensToPersist)))

	ttl := time.Duration(windowSeconds) * time.Second
	d.entries[tokensKey] = memEntry{value: fmt.Sprintf("%d", remaining), expiresAt: nowTime.Add(ttl)}
	d.entries[lastRefillKey] = memEntry{value: fmt.Sprintf("%d", now), expiresAt: nowTime.Add(ttl)}
	d.entries[countKey] = memEntry{value: fmt.Sprintf("%d", countAfter), expiresAt: nowTime.Add(ttl)}

	allowedFlag := int64(0)
	if allowed {
		allowedFlag = 1
	}

	return []interface{}{allowedFlag, remaining, countAfter}, nil
}

func parseInt64Or(s string, fallback int64) int64 {
	v, err := toInt64(s)
	if err != nil {
		return fallback
	}
	return v
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		var out int64
		_, err := fmt.Sscanf(t, "%d", &out)
		if err != nil {
			return 0, err
		}
		return out, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
