// Package ratelimit implements the distributed rate-limiting decision
// engine: the atomic bucket evaluator (C3), the local decision cache (C4),
// the slow-start controller (C5), the non-atomic fallback evaluator (C6),
// the analytics recorder (C7), the audit log (C8), and the orchestrator
// (C9) that ties them together behind CheckLimit.
package ratelimit

import (
	"fmt"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/config"
)

// UnboundedRemaining is the sentinel Decision.Remaining carries for the
// unlimited tier, where no bucket is ever consulted (spec.md §3).
const UnboundedRemaining int64 = -1

// RequestDescriptor is the normalized input to CheckLimit (spec.md §3).
type RequestDescriptor struct {
	Identity string
	Endpoint string
	Tier     config.Tier
	Region   string
	// Cost is the number of tokens this request consumes. NewRequest
	// replaces zero or negative values with 1, matching the spec's "positive
	// integer, default 1"; CheckLimit uses the field as given.
	Cost int64
}

// NewRequest builds a RequestDescriptor with Cost defaulting to 1, since Go
// has no struct field defaults. Tier is coerced via config.ParseTier and
// Region defaults to "DEFAULT" when empty, matching spec.md §3.
func NewRequest(identity, endpoint, tier, region string, cost int64) RequestDescriptor {
	if cost <= 0 {
		cost = 1
	}
	if region == "" {
		region = config.DefaultRegion
	}
	return RequestDescriptor{
		Identity: identity,
		Endpoint: endpoint,
		Tier:     config.ParseTier(tier),
		Region:   region,
		Cost:     cost,
	}
}

// Decision is the output of CheckLimit (spec.md §3).
type Decision struct {
	Allowed           bool
	Remaining         int64
	RetryAfterSeconds int64
	Cost              int64
}

// Unbounded reports whether this decision carries the "unbounded" sentinel,
// i.e. it was produced for the unlimited tier, for an endpoint with no
// policy, or by the fail-open path.
func (d Decision) Unbounded() bool {
	return d.Remaining == UnboundedRemaining
}

// String renders a Decision for logs and error messages.
func (d Decision) String() string {
	remaining := fmt.Sprintf("%d", d.Remaining)
	if d.Unbounded() {
		remaining = "unbounded"
	}
	return fmt.Sprintf("Decision{allowed=%t remaining=%s retry_after=%ds cost=%d}",
		d.Allowed, remaining, d.RetryAfterSeconds, d.Cost)
}

func unboundedAllow(cost int64) Decision {
	return Decision{Allowed: true, Remaining: UnboundedRemaining, RetryAfterSeconds: 0, Cost: cost}
}
