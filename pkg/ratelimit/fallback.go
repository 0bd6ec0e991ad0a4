package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

// evaluateFallback is the non-atomic bucket evaluator (C6), used when C3
// cannot execute on the shared store. It performs the same refill/admission
// arithmetic as bucketScript, but as three independent Get calls followed
// by three independent SetEX writes, racy across frontends by design
// (spec.md §4.6). If the reads themselves fail, the engine fails open:
// allow, unbounded, no retry.
func evaluateFallback(
	ctx context.Context,
	driver store.Driver,
	identity, endpoint string,
	now time.Time,
	adjustedMax, adjustedBurst, windowSeconds, cost int64,
) (bucketResult, bool, error) {
	tokensKey, lastRefillKey, countKey := bucketKeys(identity, endpoint)

	tokens, tokensOK, err := readInt64(ctx, driver, tokensKey)
	if err != nil {
		return bucketResult{}, false, err
	}
	lastRefill, lastRefillOK, err := readInt64(ctx, driver, lastRefillKey)
	if err != nil {
		return bucketResult{}, false, err
	}
	count, countOK, err := readInt64(ctx, driver, countKey)
	if err != nil {
		return bucketResult{}, false, err
	}

	if !tokensOK {
		tokens = adjustedBurst
	}
	if !lastRefillOK {
		lastRefill = now.Unix()
	}
	if !countOK {
		count = 0
	}

	deltaT := now.Unix() - lastRefill
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

	tokensToPersist := tokensAfterRefill
	countAfter := count
	if allowed {
		tokensToPersist = tokensAfterRefill - float64(cost)
		countAfter = count + cost
	}

	remaining := int64(math.Max(0, math.Floor(tokensToPersist)))

	ttl := time.Duration(windowSeconds) * time.Second
	writeErr1 := driver.SetEX(ctx, tokensKey, ttl, fmt.Sprintf("%d", remaining))
	writeErr2 := driver.SetEX(ctx, lastRefillKey, ttl, fmt.Sprintf("%d", now.Unix()))
	writeErr3 := driver.SetEX(ctx, countKey, ttl, fmt.Sprintf("%d", countAfter))
	// Fallback writes are best-effort: a write failure doesn't invalidate the
	// decision we already computed from a successful read, it only means the
	// next evaluation (on this or another frontend) may re-derive state from
	// a stale write. This is consistent with C6 being racy-by-design.
	_, _, _ = writeErr1, writeErr2, writeErr3

	return bucketResult{Allowed: allowed, Remaining: remaining, Count: countAfter}, true, nil
}

// readInt64 reads key and parses it as an int64, returning ok=false (with no
// error) when the key is absent so the caller can apply its own default.
// Any other error is a genuine store failure.
func readInt64(ctx context.Context, driver store.Driver, key string) (int64, bool, error) {
	raw, err := driver.Get(ctx, key)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}

	v, parseErr := toInt64(raw)
	if parseErr != nil {
		return 0, false, nil
	}
	return v, true, nil
}
