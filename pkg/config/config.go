// Package config implements the configuration registry (C1): it resolves
// (tier, endpoint) pairs to rate-limit policies and regions to multipliers,
// and is mutable at runtime by the operator-facing SetPolicy call.
package config

import (
	"sync"
)

// Tier selects a row in the policy table. Unknown tiers are coerced to
// TierFree by the orchestrator before Registry is consulted.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
	TierUnlimited  Tier = "unlimited"
)

// ParseTier maps an arbitrary input string to a known Tier, defaulting to
// TierFree for anything it doesn't recognize (spec.md §3).
func ParseTier(raw string) Tier {
	switch Tier(raw) {
	case TierFree, TierPremium, TierEnterprise, TierUnlimited:
		return Tier(raw)
	default:
		return TierFree
	}
}

// Policy is the per-(tier, endpoint) rate-limit rule: window_seconds, max,
// and burst from spec.md §3.
type Policy struct {
	WindowSeconds int64
	Max           int64
	Burst         int64
}

// policyKey identifies a row in the policy table.
type policyKey struct {
	tier     Tier
	endpoint string
}

// ChangeEvent describes a SetPolicy mutation, surfaced to C8's audit log by
// the caller (the orchestrator). Registry itself does not depend on the
// audit package, keeping the two components independently testable.
type ChangeEvent struct {
	Tier     Tier
	Endpoint string
	Policy   Policy
}

// DefaultRegion is applied whenever a request's region is absent from the
// multiplier table or the empty string.
const DefaultRegion = "DEFAULT"

// Registry holds policies and region multipliers. It is safe for concurrent
// use: reads never observe a torn write, per spec.md §4.1.
type Registry struct {
	mu          sync.RWMutex
	policies    map[policyKey]Policy
	multipliers map[string]float64
	// onChange receives a copy of every SetPolicy mutation. Set once at
	// construction; the orchestrator wires it to the audit log.
	onChange func(ChangeEvent)
}

// New creates an empty registry. Use NewWithDefaults for the shipped policy
// table and region multipliers (spec.md §6).
func New() *Registry {
	return &Registry{
		policies:    make(map[policyKey]Policy),
		multipliers: make(map[string]float64),
	}
}

// OnChange registers a callback invoked synchronously, under no lock, after
// every successful SetPolicy call. Only one callback is supported; the
// orchestrator is the only intended caller.
func (r *Registry) OnChange(fn func(ChangeEvent)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// PolicyFor resolves the policy for (tier, endpoint). The unlimited tier has
// no policies by construction (spec.md §4.1); an unknown endpoint likewise
// resolves to ok=false, meaning the caller should admit unconditionally.
func (r *Registry) PolicyFor(tier Tier, endpoint string) (Policy, bool) {
	if tier == TierUnlimited {
		return Policy{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[policyKey{tier: tier, endpoint: endpoint}]
	return p, ok
}

// SetPolicy installs or replaces the policy for (tier, endpoint) and fires
// the registered change callback. Setting a policy for TierUnlimited is a
// no-op: unlimited requests never consult the registry.
func (r *Registry) SetPolicy(tier Tier, endpoint string, policy Policy) {
	if tier == TierUnlimited {
		return
	}

	r.mu.Lock()
	r.policies[policyKey{tier: tier, endpoint: endpoint}] = policy
	cb := r.onChange
	r.mu.Unlock()

	if cb != nil {
		cb(ChangeEvent{Tier: tier, Endpoint: endpoint, Policy: policy})
	}
}

// SetRegionMultiplier installs the scaling factor applied to max/burst for
// the given region before evaluation.
func (r *Registry) SetRegionMultiplier(region string, multiplier float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.multipliers[region] = multiplier
}

// RegionMultiplier resolves the multiplier for region, falling back to
// DefaultRegion when region is absent from the table (spec.md §3).
func (r *Registry) RegionMultiplier(region string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.multipliers[region]; ok {
		return m
	}
	if m, ok := r.multipliers[DefaultRegion]; ok {
		return m
	}
	return 1.0
}

// NewWithDefaults returns a Registry preloaded with the default policy
// table and region multipliers shipped in spec.md §6.
func NewWithDefaults() *Registry {
	r := New()

	type row struct {
		tier     Tier
		endpoint string
		max      int64
		burst    int64
		window   int64
	}

	rows := []row{
		{TierFree, "/api/search", 100, 20, 3600},
		{TierFree, "/api/checkout", 10, 2, 3600},
		{TierFree, "/api/profile", 50, 10, 3600},
		{TierPremium, "/api/search", 1000, 100, 3600},
		{TierPremium, "/api/checkout", 100, 20, 3600},
		{TierPremium, "/api/profile", 200, 40, 3600},
		{TierEnterprise, "/api/search", 10000, 1000, 3600},
		{TierEnterprise, "/api/checkout", 1000, 200, 3600},
		{TierEnterprise, "/api/profile", 1000, 200, 3600},
	}

	for _, row := range rows {
		r.policies[policyKey{tier: row.tier, endpoint: row.endpoint}] = Policy{
			WindowSeconds: row.window,
			Max:           row.max,
			Burst:         row.burst,
		}
	}

	r.multipliers["US"] = 1.0
	r.multipliers["EU"] = 1.0
	r.multipliers["CN"] = 0.5
	r.multipliers["IN"] = 2.0
	r.multipliers[DefaultRegion] = 1.0

	return r
}
