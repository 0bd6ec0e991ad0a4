package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

// DefaultSlowStartStages is the shipped ascending ramp from spec.md §4.5.
var DefaultSlowStartStages = []float64{0.3, 0.6, 1.0}

// SlowStartConfig configures the ramp: a duration and a non-empty ascending
// sequence of multipliers, each <= 1.0.
type SlowStartConfig struct {
	DurationSeconds int64
	Stages          []float64
}

// DefaultSlowStartConfig returns the shipped 60-second, three-stage ramp.
func DefaultSlowStartConfig() SlowStartConfig {
	return SlowStartConfig{DurationSeconds: 60, Stages: DefaultSlowStartStages}
}

// SlowStartController tracks first-seen time per (identity, endpoint) in the
// shared store and produces a ramp multiplier (spec.md §4.5).
type SlowStartController struct {
	cfg   SlowStartConfig
	store store.Driver
}

// NewSlowStartController creates a controller backed by driver.
func NewSlowStartController(driver store.Driver, cfg SlowStartConfig) *SlowStartController {
	if len(cfg.Stages) == 0 {
		cfg = DefaultSlowStartConfig()
	}
	return &SlowStartController{cfg: cfg, store: driver}
}

func slowStartKey(identity, endpoint string) string {
	return fmt.Sprintf("slowstart:%s:%s", identity, endpoint)
}

// slowStartOutcome reports the multiplier and whether this call observed a
// brand-new identity (so the orchestrator can emit a new_user audit event).
type slowStartOutcome struct {
	Multiplier float64
	IsNew      bool
}

// Multiplier resolves the ramp factor for (identity, endpoint) at time now.
// On a store error it fails open for this factor only, returning 1.0
// (spec.md §4.5).
func (c *SlowStartController) Multiplier(ctx context.Context, identity, endpoint string, now time.Time) slowStartOutcome {
	key := slowStartKey(identity, endpoint)

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if err == store.ErrNotFound {
			ttl := time.Duration(c.cfg.DurationSeconds) * time.Second
			// Best-effort write; a failure here still means "new", we just
			// couldn't persist the marker. A concurrent racer writing the
			// same marker is harmless (spec.md §5: "races only produce
			// redundant new_user audit events").
			_ = c.store.SetEX(ctx, key, ttl, fmt.Sprintf("%d", now.Unix()))
			return slowStartOutcome{Multiplier: c.cfg.Stages[0], IsNew: true}
		}
		return slowStartOutcome{Multiplier: 1.0, IsNew: false}
	}

	var startUnix int64
	if _, scanErr := fmt.Sscanf(raw, "%d", &startUnix); scanErr != nil {
		return slowStartOutcome{Multiplier: 1.0, IsNew: false}
	}

	age := now.Unix() - startUnix
	if age < 0 {
		age = 0
	}

	stageLength := float64(c.cfg.DurationSeconds) / float64(len(c.cfg.Stages))
	stageIndex := 0
	if stageLength > 0 {
		stageIndex = int(math.Floor(float64(age) / stageLength))
	}
	if stageIndex >= len(c.cfg.Stages) {
		stageIndex = len(c.cfg.Stages) - 1
	}
	if stageIndex < 0 {
		stageIndex = 0
	}

	return slowStartOutcome{Multiplier: c.cfg.Stages[stageIndex], IsNew: false}
}
