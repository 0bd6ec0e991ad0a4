package ratelimit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// analyticsKey identifies one (endpoint, tier, region) bucket.
type analyticsKey struct {
	endpoint string
	tier     string
	region   string
}

// AnalyticsCombination is one row of AnalyticsReport.
type AnalyticsCombination struct {
	Endpoint  string
	Tier      string
	Region    string
	Allowed   int64
	Denied    int64
	Total     int64
	AllowRate float64
}

// AnalyticsReport is the snapshot returned by AnalyticsRecorder.Report
// (spec.md §4.7).
type AnalyticsReport struct {
	Combinations  []AnalyticsCombination
	TotalAllowed  int64
	TotalDenied   int64
	TotalRequests int64
}

type analyticsCounts struct {
	allowed int64
	denied  int64
}

// AnalyticsRecorder is the in-memory counters keyed by (endpoint, tier,
// region) (C7). Every decision the engine returns increments it exactly
// once, independent of whether it was served from cache, the atomic path,
// or the fallback path (spec.md §4.7); the unconditional allow for an
// endpoint with no policy is not recorded.
//
// Counts are mirrored into a prometheus.CounterVec so the same numbers are
// scrapeable, re-homing the teacher's prometheus/client_golang dependency
// from a metrics *query* client (the teacher's pkg/health, pulling
// CPU/latency/error-rate for an adaptive throttle this spec doesn't have)
// onto the *instrumentation* side of the same library — the natural Go use
// for a service that wants to emit, not consume, its own request counters.
type AnalyticsRecorder struct {
	mu      sync.Mutex
	counts  map[analyticsKey]*analyticsCounts
	counter *prometheus.CounterVec
}

// NewAnalyticsRecorder creates a recorder and registers its Prometheus
// counter vector. If registry is nil, prometheus.DefaultRegisterer is used.
// A registration conflict (e.g. in tests that construct multiple recorders
// against the same default registry) is tolerated by reusing the
// already-registered collector.
func NewAnalyticsRecorder(registry prometheus.Registerer) *AnalyticsRecorder {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratelimitd",
		Name:      "decisions_total",
		Help:      "Total rate-limit decisions by endpoint, tier, region, and outcome.",
	}, []string{"endpoint", "tier", "region", "outcome"})

	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	if err := registry.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			counter = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return &AnalyticsRecorder{
		counts:  make(map[analyticsKey]*analyticsCounts),
		counter: counter,
	}
}

// Record increments the counters for (endpoint, tier, region) according to
// allowed.
func (a *AnalyticsRecorder) Record(endpoint, tier, region string, allowed bool) {
	key := analyticsKey{endpoint: endpoint, tier: tier, region: region}

	a.mu.Lock()
	c, ok := a.counts[key]
	if !ok {
		c = &analyticsCounts{}
		a.counts[key] = c
	}
	if allowed {
		c.allowed++
	} else {
		c.denied++
	}
	a.mu.Unlock()

	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	a.counter.WithLabelValues(endpoint, tier, region, outcome).Inc()
}

// Report returns a snapshot of all counters (spec.md §4.7).
func (a *AnalyticsRecorder) Report() AnalyticsReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := AnalyticsReport{Combinations: make([]AnalyticsCombination, 0, len(a.counts))}

	for k, c := range a.counts {
		total := c.allowed + c.denied
		rate := 0.0
		if total > 0 {
			rate = float64(c.allowed) / float64(total)
		}

		report.Combinations = append(report.Combinations, AnalyticsCombination{
			Endpoint:  k.endpoint,
			Tier:      k.tier,
			Region:    k.region,
			Allowed:   c.allowed,
			Denied:    c.denied,
			Total:     total,
			AllowRate: rate,
		})

		report.TotalAllowed += c.allowed
		report.TotalDenied += c.denied
		report.TotalRequests += total
	}

	return report
}
