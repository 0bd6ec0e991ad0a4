package health

import (
	"math/rand"
)

// SimulatedSource generates synthetic fleet health data, for local
// development and tests where no real Prometheus is wired up.
type SimulatedSource struct {
	rng *rand.Rand
}

// NewSimulatedSource creates a SimulatedSource seeded from seed, so its
// output is reproducible in tests.
func NewSimulatedSource(seed int64) *SimulatedSource {
	return &SimulatedSource{rng: rand.New(rand.NewSource(seed))}
}

// FetchSnapshot implements Source by generating synthetic data around a
// fixed baseline with bounded noise.
func (s *SimulatedSource) FetchSnapshot() (Snapshot, error) {
	const (
		cpuBase     = 75.0
		latencyBase = 600.0
		errorBase   = 2.0
	)

	cpu := cpuBase + (s.rng.Float64()*10 - 5)
	latency := latencyBase + (s.rng.Float64()*100 - 50)
	errorRate := errorBase + (s.rng.Float64()*1 - 0.5)

	if cpu < 1 {
		cpu = 1
	}
	if latency < 1 {
		latency = 1
	}
	if errorRate < 0.1 {
		errorRate = 0.1
	}

	return Snapshot{
		CPUUtilizationPercent: cpu,
		P95LatencyMs:          latency,
		ErrorRatePercent:      errorRate,
	}, nil
}
