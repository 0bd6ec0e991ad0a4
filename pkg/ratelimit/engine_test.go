package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/config"
	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

func newTestEngine(t *testing.T, registry *config.Registry, driver store.Driver) *Engine {
	t.Helper()
	analytics := NewAnalyticsRecorder(prometheus.NewRegistry())
	return NewEngine(EngineConfig{
		Registry: registry,
		Store:    driver,
		// No cache by default so each scenario's call count is exact (a
		// negative TTL disables the cache; 0 would select DefaultCacheTTL);
		// individual tests opt into a positive TTL where that's the point.
		CacheTTL: -1,
	}, analytics)
}

// primeEstablished seeds a slow-start marker old enough that the identity is
// already past its last ramp stage (multiplier 1.0), for scenarios that are
// about burst/window arithmetic rather than the slow-start ramp itself.
func primeEstablished(t *testing.T, driver store.Driver, identity, endpoint string) {
	t.Helper()
	key := slowStartKey(identity, endpoint)
	ancient := time.Now().Add(-time.Hour).Unix()
	err := driver.SetEX(context.Background(), key, time.Hour, fmt.Sprintf("%d", ancient))
	require.NoError(t, err)
}

// Scenario 1: burst exhaustion (free/search/US), spec.md §8.
func TestEngine_BurstExhaustion_FreeSearchUS(t *testing.T) {
	t.Parallel()

	registry := config.NewWithDefaults()
	driver := store.NewMemoryDriver()
	primeEstablished(t, driver, "u1", "/api/search")
	engine := newTestEngine(t, registry, driver)

	var allowed, denied int
	for i := 0; i < 25; i++ {
		d := engine.CheckLimit(context.Background(), NewRequest("u1", "/api/search", "free", "US", 1))
		if d.Allowed {
			allowed++
		} else {
			denied++
			assert.Equal(t, int64(0), d.Remaining)
			assert.GreaterOrEqual(t, d.RetryAfterSeconds, int64(1))
		}
	}

	assert.Equal(t, 20, allowed)
	assert.Equal(t, 5, denied)
}

// Scenario 3: geographic stricter (premium/checkout/CN, cost=5), spec.md §8.
func TestEngine_GeographicStricter_PremiumCheckoutCN(t *testing.T) {
	t.Parallel()

	registry := config.NewWithDefaults()
	driver := store.NewMemoryDriver()
	primeEstablished(t, driver, "u1", "/api/checkout")
	engine := newTestEngine(t, registry, driver)

	req := NewRequest("u1", "/api/checkout", "premium", "CN", 5)

	first := engine.CheckLimit(context.Background(), req)
	require.True(t, first.Allowed)
	assert.Equal(t, int64(5), first.Remaining)

	second := engine.CheckLimit(context.Background(), req)
	require.True(t, second.Allowed)
	assert.Equal(t, int64(0), second.Remaining)

	third := engine.CheckLimit(context.Background(), req)
	assert.False(t, third.Allowed)
}

// Scenario 4: unlimited tier at scale, spec.md §8.
func TestEngine_UnlimitedTier_NeverTouchesStore(t *testing.T) {
	t.Parallel()

	registry := config.NewWithDefaults()
	driver := &countingDriver{Driver: store.NewMemoryDriver()}
	engine := newTestEngine(t, registry, driver)

	var wg sync.WaitGroup
	for u := 0; u < 10; u++ {
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(identity string) {
				defer wg.Done()
				d := engine.CheckLimit(context.Background(), NewRequest(identity, "/api/search", "unlimited", "US", 1))
				assert.True(t, d.Allowed)
				assert.True(t, d.Unbounded())
			}(fmt.Sprintf("u%d", u))
		}
	}
	wg.Wait()

	assert.Equal(t, int64(0), driver.evalCalls.Load())
	assert.Equal(t, int64(0), driver.getCalls.Load())
}

// Scenario 5: slow-start stage 0, spec.md §8.
func TestEngine_SlowStartStageZero(t *testing.T) {
	t.Parallel()

	registry := config.NewWithDefaults()
	driver := store.NewMemoryDriver()
	engine := newTestEngine(t, registry, driver)

	var allowed, denied int
	for i := 0; i < 10; i++ {
		d := engine.CheckLimit(context.Background(), NewRequest("new-user", "/api/search", "free", "US", 1))
		if d.Allowed {
			allowed++
		} else {
			denied++
		}
	}

	assert.Equal(t, 6, allowed, "adjusted_burst = floor(20*0.3) = 6")
	assert.Equal(t, 4, denied)

	newUserEvents := engine.GetAuditLog(AuditFilter{Type: AuditNewUser})
	assert.Len(t, newUserEvents, 1)

	deniedEvents := engine.GetAuditLog(AuditFilter{Type: AuditRateLimitExceeded})
	assert.Len(t, deniedEvents, 4)
}

// Scenario 6: cache collapse, spec.md §8.
func TestEngine_CacheCollapse(t *testing.T) {
	t.Parallel()

	registry := config.NewWithDefaults()
	driver := &countingDriver{Driver: store.NewMemoryDriver()}

	analytics := NewAnalyticsRecorder(prometheus.NewRegistry())
	engine := NewEngine(EngineConfig{
		Registry: registry,
		Store:    driver,
		CacheTTL: time.Second,
	}, analytics)

	req := NewRequest("u1", "/api/search", "premium", "US", 1)

	var results []Decision
	for i := 0; i < 50; i++ {
		results = append(results, engine.CheckLimit(context.Background(), req))
	}

	for _, r := range results {
		assert.True(t, r.Allowed)
	}

	assert.Equal(t, int64(1), driver.evalCalls.Load(), "50 identical calls within the cache TTL should hit the store exactly once")
}

// Missing policy => unconditional allow, spec.md §4.9 step 3.
func TestEngine_MissingPolicyAllowsUnconditionally(t *testing.T) {
	t.Parallel()

	registry := config.New() // empty, no default policies
	driver := store.NewMemoryDriver()
	engine := newTestEngine(t, registry, driver)

	d := engine.CheckLimit(context.Background(), NewRequest("u1", "/api/unknown", "free", "US", 1))
	assert.True(t, d.Allowed)
	assert.True(t, d.Unbounded())
}

// Unknown tier coerces to free, spec.md §3 / §4.9 step 2.
func TestEngine_UnknownTierCoercesToFree(t *testing.T) {
	t.Parallel()

	registry := config.NewWithDefaults()
	driver := store.NewMemoryDriver()
	engine := newTestEngine(t, registry, driver)

	reqUnknown := RequestDescriptor{Identity: "u1", Endpoint: "/api/checkout", Tier: config.Tier("bogus"), Region: "US", Cost: 1}
	reqFree := RequestDescriptor{Identity: "u2", Endpoint: "/api/checkout", Tier: config.TierFree, Region: "US", Cost: 1}

	dUnknown := engine.CheckLimit(context.Background(), reqUnknown)
	dFree := engine.CheckLimit(context.Background(), reqFree)

	assert.Equal(t, dFree.Remaining, dUnknown.Remaining)
}

// Store failure routes to the fallback evaluator and still admits traffic.
func TestEngine_StoreFailureFallsBackAndStillAdmits(t *testing.T) {
	t.Parallel()

	registry := config.NewWithDefaults()
	driver := store.NewFlakyDriver(store.NewMemoryDriver(), 2) // every other Eval fails
	primeEstablished(t, driver, "u1", "/api/profile")
	engine := newTestEngine(t, registry, driver)

	var allowed int
	for i := 0; i < 10; i++ {
		d := engine.CheckLimit(context.Background(), NewRequest("u1", "/api/profile", "free", "US", 1))
		if d.Allowed {
			allowed++
		}
	}

	assert.GreaterOrEqual(t, allowed, 9, "the vast majority of legitimate traffic should still be admitted via fallback")
}

// cost > adjusted_burst => every call denies, bucket state stays bounded.
func TestEngine_CostExceedsBurstAlwaysDenies(t *testing.T) {
	t.Parallel()

	registry := config.New()
	registry.SetPolicy(config.TierFree, "/api/search", config.Policy{WindowSeconds: 60, Max: 10, Burst: 10})
	driver := store.NewMemoryDriver()
	engine := newTestEngine(t, registry, driver)

	for i := 0; i < 3; i++ {
		d := engine.CheckLimit(context.Background(), NewRequest("u1", "/api/search", "free", "US", 100))
		assert.False(t, d.Allowed)
		assert.GreaterOrEqual(t, d.RetryAfterSeconds, int64(1))
	}
}

// Region absent from the table falls back to DEFAULT.
func TestEngine_UnknownRegionUsesDefaultMultiplier(t *testing.T) {
	t.Parallel()

	registry := config.NewWithDefaults()
	driverA := store.NewMemoryDriver()
	driverB := store.NewMemoryDriver()
	engineA := newTestEngine(t, registry, driverA)
	engineB := newTestEngine(t, registry, driverB)

	reqDefault := NewRequest("u1", "/api/search", "free", "US", 1)       // US multiplier = 1.0 = DEFAULT
	reqUnknown := NewRequest("u1", "/api/search", "free", "ZZ-unknown", 1) // falls back to DEFAULT

	dDefault := engineA.CheckLimit(context.Background(), reqDefault)
	dUnknown := engineB.CheckLimit(context.Background(), reqUnknown)

	assert.Equal(t, dDefault.Remaining, dUnknown.Remaining)
}

// SetPolicy -> PolicyFor round trip, and it fires a configuration_change
// audit event (spec.md §8 round-trip property, §4.1, §4.8).
func TestEngine_SetPolicyRoundTripsAndAudits(t *testing.T) {
	t.Parallel()

	registry := config.New()
	driver := store.NewMemoryDriver()
	engine := newTestEngine(t, registry, driver)

	policy := config.Policy{WindowSeconds: 120, Max: 50, Burst: 10}
	engine.SetPolicy(config.TierFree, "/api/widgets", policy)

	got, ok := registry.PolicyFor(config.TierFree, "/api/widgets")
	require.True(t, ok)
	assert.Equal(t, policy, got)

	changes := engine.GetAuditLog(AuditFilter{Type: AuditConfigurationChange})
	require.Len(t, changes, 1)
	assert.Equal(t, "/api/widgets", changes[0].Endpoint)
}

// countingDriver wraps a store.Driver and counts Eval/Get calls, to assert
// "zero store operations" and "exactly one store evaluation" properties.
type countingDriver struct {
	store.Driver
	evalCalls atomic.Int64
	getCalls  atomic.Int64
}

func (d *countingDriver) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	d.evalCalls.Add(1)
	return d.Driver.Eval(ctx, script, keys, args...)
}

func (d *countingDriver) Get(ctx context.Context, key string) (string, error) {
	d.getCalls.Add(1)
	return d.Driver.Get(ctx, key)
}
