package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

// bucketScript is the atomic routine of C3 (spec.md §4.3), executed as a
// single unit against the three bucket keys. It follows the structure of
// the tokenBucketScript in gofr.dev's rate_limiter_store.go
// (other_examples/): fetch, refill, gate, write, return — but against three
// discrete string keys rather than one hash, per spec.md §3's bucket-state
// layout, and with the extra count < adjusted_max gate spec.md §4.3
// requires on top of the token check.
//
// KEYS[1] = tokens key
// KEYS[2] = last_refill key
// KEYS[3] = count key
// ARGV[1] = now (unix seconds)
// ARGV[2] = adjusted_max
// ARGV[3] = adjusted_burst
// ARGV[4] = window_seconds
// ARGV[5] = cost
//
// Returns {allowed (0/1), remaining_tokens, count_after}.
const bucketScript = `
local tokens_key = KEYS[1]
local last_refill_key = KEYS[2]
local count_key = KEYS[3]

local now = tonumber(ARGV[1])
local adjusted_max = tonumber(ARGV[2])
local adjusted_burst = tonumber(ARGV[3])
local window_seconds = tonumber(ARGV[4])
local cost = tonumber(ARGV[5])

local tokens = tonumber(redis.call("GET", tokens_key))
if tokens == nil then
    tokens = adjusted_burst
end

local last_refill = tonumber(redis.call("GET", last_refill_key))
if last_refill == nil then
    last_refill = now
end

local count = tonumber(redis.call("GET", count_key))
if count == nil then
    count = 0
end

local delta_t = now - last_refill
if delta_t < 0 then
    delta_t = 0
end

local refill = 0
if window_seconds > 0 then
    refill = delta_t * adjusted_max / window_seconds
end

local tokens_after_refill = math.min(adjusted_burst, tokens + refill)
if tokens_after_refill < 0 then
    tokens_after_refill = 0
end

local allowed = 0
local tokens_to_persist = tokens_after_refill
local count_after = count

if tokens_after_refill >= cost and count < adjusted_max then
    allowed = 1
    tokens_to_persist = tokens_after_refill - cost
    count_after = count + cost
end

local remaining = math.max(0, math.floor(tokens_to_persist))

redis.call("SET", tokens_key, remaining, "EX", window_seconds)
redis.call("SET", last_refill_key, now, "EX", window_seconds)
redis.call("SET", count_key, count_after, "EX", window_seconds)

return {allowed, remaining, count_after}
`

// bucketKeys derives the three store keys for a (identity, endpoint) pair.
func bucketKeys(identity, endpoint string) (tokensKey, lastRefillKey, countKey string) {
	base := fmt.Sprintf("bucket:%s:%s", identity, endpoint)
	return base + ":tokens", base + ":last_refill", base + ":count"
}

// bucketResult is the parsed reply of bucketScript.
type bucketResult struct {
	Allowed   bool
	Remaining int64
	Count     int64
}

// evaluateBucket runs C3 against driver for one (identity, endpoint)
// evaluation. A driver-level failure is always reported as ErrUnavailable
// (transport) or ErrScriptFailed (bad reply shape) per spec.md §7; the
// caller (the orchestrator) is responsible for routing either into the
// fallback evaluator.
func evaluateBucket(
	ctx context.Context,
	driver store.Driver,
	identity, endpoint string,
	now time.Time,
	adjustedMax, adjustedBurst, windowSeconds, cost int64,
) (bucketResult, error) {
	tokensKey, lastRefillKey, countKey := bucketKeys(identity, endpoint)

	raw, err := driver.Eval(ctx, bucketScript,
		[]string{tokensKey, lastRefillKey, countKey},
		now.Unix(), adjustedMax, adjustedBurst, windowSeconds, cost,
	)
	if err != nil {
		return bucketResult{}, err
	}

	return parseBucketResult(raw)
}

func parseBucketResult(raw interface{}) (bucketResult, error) {
	row, ok := raw.([]interface{})
	if !ok || len(row) != 3 {
		return bucketResult{}, fmt.Errorf("%w: unexpected eval reply shape %T", store.ErrScriptFailed, raw)
	}

	allowedN, err := toInt64(row[0])
	if err != nil {
		return bucketResult{}, fmt.Errorf("%w: allowed field: %v", store.ErrScriptFailed, err)
	}
	remaining, err := toInt64(row[1])
	if err != nil {
		return bucketResult{}, fmt.Errorf("%w: remaining field: %v", store.ErrScriptFailed, err)
	}
	count, err := toInt64(row[2])
	if err != nil {
		return bucketResult{}, fmt.Errorf("%w: count field: %v", store.ErrScriptFailed, err)
	}

	return bucketResult{Allowed: allowedN == 1, Remaining: remaining, Count: count}, nil
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
		return out, err
	default:
		return 0, fmt.Errorf("unsupported reply element type %T", v)
	}
}

// adjust applies region and slow-start multipliers to a base value, flooring
// the result, per spec.md's adjusted_max / adjusted_burst formula.
func adjust(base int64, multipliers ...float64) int64 {
	v := float64(base)
	for _, m := range multipliers {
		v *= m
	}
	return int64(math.Floor(v))
}
