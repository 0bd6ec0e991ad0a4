package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

func TestMemoryDriver_GetSetEX(t *testing.T) {
	t.Parallel()

	d := store.NewMemoryDriver()
	ctx := context.Background()

	_, err := d.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, d.SetEX(ctx, "k", 50*time.Millisecond, "v"))

	v, err := d.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	time.Sleep(80 * time.Millisecond)

	_, err = d.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryDriver_Eval_FreshBucketAdmits(t *testing.T) {
	t.Parallel()

	d := store.NewMemoryDriver()
	ctx := context.Background()
	now := time.Now().Unix()

	result, err := d.Eval(ctx, "bucket", []string{"tokens", "last_refill", "count"},
		now, int64(20), int64(20), int64(3600), int64(1))
	require.NoError(t, err)

	row, ok := result.([]interface{})
	require.True(t, ok)
	require.Len(t, row, 3)

	assert.Equal(t, int64(1), row[0])
	assert.Equal(t, int64(19), row[1])
	assert.Equal(t, int64(1), row[2])
}

func TestMemoryDriver_Eval_ExhaustsBurst(t *testing.T) {
	t.Parallel()

	d := store.NewMemoryDriver()
	ctx := context.Background()
	now := time.Now().Unix()

	var lastAllowed int64
	for i := 0; i < 25; i++ {
		result, err := d.Eval(ctx, "bucket", []string{"tokens", "last_refill", "count"},
			now, int64(20), int64(20), int64(3600), int64(1))
		require.NoError(t, err)
		row := result.([]interface{})
		lastAllowed = row[0].(int64)
	}

	assert.Equal(t, int64(0), lastAllowed, "21st+ request should be denied once burst is exhausted")
}

func TestMemoryDriver_Eval_RefillsOverTime(t *testing.T) {
	t.Parallel()

	d := store.NewMemoryDriver()
	ctx := context.Background()
	now := time.Now().Unix()

	// Drain the bucket (burst=10, max=10, window=10s -> 1 token/sec).
	for i := 0; i < 10; i++ {
		_, err := d.Eval(ctx, "bucket", []string{"tokens", "last_refill", "count"},
			now, int64(10), int64(10), int64(10), int64(1))
		require.NoError(t, err)
	}

	result, err := d.Eval(ctx, "bucket", []string{"tokens", "last_refill", "count"},
		now, int64(10), int64(10), int64(10), int64(1))
	require.NoError(t, err)
	row := result.([]interface{})
	assert.Equal(t, int64(0), row[0], "no refill has happened yet, same timestamp")

	// After the window, the count gate resets because keys expire.
	later := now + 10
	result, err = d.Eval(ctx, "bucket", []string{"tokens", "last_refill", "count"},
		later, int64(10), int64(10), int64(10), int64(1))
	require.NoError(t, err)
	row = result.([]interface{})
	assert.Equal(t, int64(1), row[0], "bucket should refill fully after a TTL-expiring idle window")
}

func TestMemoryDriver_Eval_BackwardClockSkewNeverGoesNegative(t *testing.T) {
	t.Parallel()

	d := store.NewMemoryDriver()
	ctx := context.Background()
	now := time.Now().Unix()

	_, err := d.Eval(ctx, "bucket", []string{"tokens", "last_refill", "count"},
		now, int64(10), int64(10), int64(3600), int64(1))
	require.NoError(t, err)

	// Second call appears to come from a frontend 30s behind.
	result, err := d.Eval(ctx, "bucket", []string{"tokens", "last_refill", "count"},
		now-30, int64(10), int64(10), int64(3600), int64(1))
	require.NoError(t, err)
	row := result.([]interface{})
	assert.GreaterOrEqual(t, row[1].(int64), int64(0))
}

func TestFlakyDriver_FailsEveryNth(t *testing.T) {
	t.Parallel()

	inner := store.NewMemoryDriver()
	flaky := store.NewFlakyDriver(inner, 3)
	ctx := context.Background()

	var failures int
	for i := 0; i < 9; i++ {
		_, err := flaky.Eval(ctx, "bucket", []string{"t", "l", "c"},
			time.Now().Unix(), int64(10), int64(10), int64(60), int64(1))
		if err != nil {
			failures++
			assert.ErrorIs(t, err, store.ErrUnavailable)
		}
	}

	assert.Equal(t, 3, failures)
}
