package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/config"
	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

// EngineConfig bundles the collaborators CheckLimit needs. All fields are
// required except Logger, CacheTTL, SlowStart, and AuditCap, which fall back to sane
// defaults — matching the teacher's NewLimiter constructor shape, which
// pre-fills every field of Limiter rather than requiring the caller to know
// every knob up front.
type EngineConfig struct {
	Registry   *config.Registry
	Store      store.Driver
	CacheTTL   time.Duration // 0 uses DefaultCacheTTL
	SlowStart  SlowStartConfig
	AuditCap   int // 0 uses DefaultAuditCapacity
	Logger     *zap.Logger
}

// Engine is the decision orchestrator (C9): the single entry point
// CheckLimit normalizes inputs, applies configuration and slow-start,
// selects the atomic or fallback evaluator, updates the cache, analytics,
// and audit log, and returns a Decision. It never returns an error
// (spec.md §7): every failure is recovered internally and logged.
type Engine struct {
	registry  *config.Registry
	store     store.Driver
	cache     *Cache
	slowStart *SlowStartController
	analytics *AnalyticsRecorder
	audit     *AuditLog
	logger    *zap.Logger
}

// NewEngine wires C1–C8 into an orchestrator per cfg.
func NewEngine(cfg EngineConfig, analytics *AnalyticsRecorder) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}

	slowStartCfg := cfg.SlowStart
	if len(slowStartCfg.Stages) == 0 {
		slowStartCfg = DefaultSlowStartConfig()
	}

	audit := NewAuditLog(cfg.AuditCap)

	e := &Engine{
		registry:  cfg.Registry,
		store:     cfg.Store,
		cache:     NewCache(cacheTTL),
		slowStart: NewSlowStartController(cfg.Store, slowStartCfg),
		analytics: analytics,
		audit:     audit,
		logger:    logger,
	}

	cfg.Registry.OnChange(func(change config.ChangeEvent) {
		e.audit.Append(AuditEvent{
			Type:     AuditConfigurationChange,
			Tier:     string(change.Tier),
			Endpoint: change.Endpoint,
			Detail:   policyDetail(change.Policy),
		})
	})

	return e
}

func policyDetail(p config.Policy) string {
	return fmt.Sprintf("window=%ds max=%d burst=%d", p.WindowSeconds, p.Max, p.Burst)
}

// CheckLimit implements spec.md §4.9's procedure end to end.
func (e *Engine) CheckLimit(ctx context.Context, req RequestDescriptor) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("ratelimit: internal panic recovered, failing open",
				zap.Any("panic", r), zap.String("identity", req.Identity), zap.String("endpoint", req.Endpoint))
			decision = unboundedAllow(req.Cost)
		}
	}()

	// Step 1: unlimited tier bypasses everything.
	if req.Tier == config.TierUnlimited {
		d := unboundedAllow(req.Cost)
		e.analytics.Record(req.Endpoint, string(req.Tier), req.Region, true)
		return d
	}

	// Step 2 is already applied by NewRequest/ParseTier upstream, but a
	// caller constructing RequestDescriptor directly might still pass an
	// unrecognized tier.
	tier := config.ParseTier(string(req.Tier))

	// Step 3: missing policy means unconditional allow, no bookkeeping.
	policy, ok := e.registry.PolicyFor(tier, req.Endpoint)
	if !ok {
		return Decision{Allowed: true, Remaining: UnboundedRemaining, RetryAfterSeconds: 0, Cost: req.Cost}
	}

	// Step 4: cache probe.
	if cached, hit := e.cache.Lookup(req.Identity, req.Endpoint, tier); hit {
		e.analytics.Record(req.Endpoint, string(tier), req.Region, cached.Allowed)
		return cached
	}

	now := time.Now()

	// Step 5: compute adjusted max/burst.
	regionMult := e.registry.RegionMultiplier(req.Region)
	slowStartOutcome := e.slowStart.Multiplier(ctx, req.Identity, req.Endpoint, now)
	if slowStartOutcome.IsNew {
		e.audit.Append(AuditEvent{
			Type:     AuditNewUser,
			Identity: req.Identity,
			Endpoint: req.Endpoint,
			Tier:     string(tier),
			Region:   req.Region,
		})
	}

	adjustedMax := adjust(policy.Max, regionMult, slowStartOutcome.Multiplier)
	adjustedBurst := adjust(policy.Burst, regionMult, slowStartOutcome.Multiplier)

	// Step 6: atomic evaluation, falling back on driver error.
	result, usedFallback, err := e.evaluate(ctx, req, now, adjustedMax, adjustedBurst, policy.WindowSeconds)
	if err != nil {
		// Both the atomic and fallback reads failed: fail open.
		e.logger.Warn("ratelimit: store unreachable on both atomic and fallback paths, failing open",
			zap.Error(err), zap.String("identity", req.Identity), zap.String("endpoint", req.Endpoint))
		d := unboundedAllow(req.Cost)
		e.analytics.Record(req.Endpoint, string(tier), req.Region, true)
		return d
	}
	if usedFallback {
		e.logger.Warn("ratelimit: atomic evaluator unavailable, used fallback evaluator",
			zap.String("identity", req.Identity), zap.String("endpoint", req.Endpoint))
	}

	// Step 7: construct the decision.
	decision = e.buildDecision(req, result, adjustedMax, policy.WindowSeconds)

	// Step 8: analytics always, audit only on denial.
	e.analytics.Record(req.Endpoint, string(tier), req.Region, decision.Allowed)
	if !decision.Allowed {
		e.audit.Append(AuditEvent{
			Type:     AuditRateLimitExceeded,
			Identity: req.Identity,
			Endpoint: req.Endpoint,
			Tier:     string(tier),
			Region:   req.Region,
		})
	} else {
		e.cache.Put(req.Identity, req.Endpoint, tier, decision)
	}

	return decision
}

// evaluate attempts the atomic evaluator first, routing any store failure to
// the fallback evaluator. It reports usedFallback so the caller can log the
// degradation; a non-nil error means both paths failed.
func (e *Engine) evaluate(
	ctx context.Context,
	req RequestDescriptor,
	now time.Time,
	adjustedMax, adjustedBurst, windowSeconds int64,
) (bucketResult, bool, error) {
	result, err := evaluateBucket(ctx, e.store, req.Identity, req.Endpoint, now, adjustedMax, adjustedBurst, windowSeconds, req.Cost)
	if err == nil {
		return result, false, nil
	}

	fallbackResult, ok, fallbackErr := evaluateFallback(ctx, e.store, req.Identity, req.Endpoint, now, adjustedMax, adjustedBurst, windowSeconds, req.Cost)
	if fallbackErr != nil || !ok {
		return bucketResult{}, true, fallbackErr
	}

	return fallbackResult, true, nil
}

// buildDecision turns a bucketResult into the spec's Decision shape,
// including the retry-after calculation from spec.md §4.9 step 7.
func (e *Engine) buildDecision(req RequestDescriptor, result bucketResult, adjustedMax, windowSeconds int64) Decision {
	if result.Allowed {
		return Decision{Allowed: true, Remaining: result.Remaining, RetryAfterSeconds: 0, Cost: req.Cost}
	}

	if adjustedMax <= 0 {
		return Decision{Allowed: false, Remaining: 0, RetryAfterSeconds: windowSeconds, Cost: req.Cost}
	}

	if result.Count >= adjustedMax {
		return Decision{Allowed: false, Remaining: result.Remaining, RetryAfterSeconds: windowSeconds, Cost: req.Cost}
	}

	deficit := req.Cost - result.Remaining
	if deficit < 0 {
		deficit = 0
	}
	secondsPerToken := float64(windowSeconds) / float64(adjustedMax)
	retry := int64(math.Ceil(float64(deficit) * secondsPerToken))
	if retry < 1 {
		retry = 1
	}

	return Decision{Allowed: false, Remaining: result.Remaining, RetryAfterSeconds: retry, Cost: req.Cost}
}

// GetAnalyticsReport exposes C7's snapshot.
func (e *Engine) GetAnalyticsReport() AnalyticsReport {
	return e.analytics.Report()
}

// GetAuditLog exposes C8's filtered query.
func (e *Engine) GetAuditLog(filter AuditFilter) []AuditEvent {
	return e.audit.Query(filter)
}

// SetPolicy exposes C1's mutator, routed through the registry so the
// configuration_change audit event fires via the OnChange hook wired in
// NewEngine.
func (e *Engine) SetPolicy(tier config.Tier, endpoint string, policy config.Policy) {
	e.registry.SetPolicy(tier, endpoint, policy)
}

// ClearCacheFor exposes C4's eviction hook, for use when a caller's tier is
// reassigned (spec.md §4.4).
func (e *Engine) ClearCacheFor(identity string) {
	e.cache.ClearFor(identity)
}
