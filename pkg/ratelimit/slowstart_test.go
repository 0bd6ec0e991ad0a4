package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

func TestSlowStartController_NewIdentityGetsStageZero(t *testing.T) {
	t.Parallel()

	driver := store.NewMemoryDriver()
	sc := NewSlowStartController(driver, SlowStartConfig{DurationSeconds: 60, Stages: []float64{0.3, 0.6, 1.0}})

	outcome := sc.Multiplier(context.Background(), "u1", "/api/search", time.Now())
	assert.True(t, outcome.IsNew)
	assert.Equal(t, 0.3, outcome.Multiplier)
}

func TestSlowStartController_AdvancesThroughStages(t *testing.T) {
	t.Parallel()

	driver := store.NewMemoryDriver()
	sc := NewSlowStartController(driver, SlowStartConfig{DurationSeconds: 60, Stages: []float64{0.3, 0.6, 1.0}})

	start := time.Now()
	first := sc.Multiplier(context.Background(), "u1", "/api/search", start)
	require.True(t, first.IsNew)

	mid := sc.Multiplier(context.Background(), "u1", "/api/search", start.Add(25*time.Second))
	assert.False(t, mid.IsNew)
	assert.Equal(t, 0.6, mid.Multiplier)

	late := sc.Multiplier(context.Background(), "u1", "/api/search", start.Add(55*time.Second))
	assert.Equal(t, 1.0, late.Multiplier)
}

func TestSlowStartController_ExpiredMarkerReEntersStageZero(t *testing.T) {
	t.Parallel()

	driver := store.NewMemoryDriver()
	sc := NewSlowStartController(driver, SlowStartConfig{DurationSeconds: 1, Stages: []float64{0.3, 0.6, 1.0}})

	start := time.Now()
	first := sc.Multiplier(context.Background(), "u1", "/api/search", start)
	require.True(t, first.IsNew)

	time.Sleep(1100 * time.Millisecond)

	after := sc.Multiplier(context.Background(), "u1", "/api/search", time.Now())
	assert.True(t, after.IsNew, "an identity dormant longer than the ramp duration should re-enter stage 0")
}
