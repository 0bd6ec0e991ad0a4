package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// FlakyDriver wraps another Driver and fails a configurable fraction of Eval
// calls, for exercising the orchestrator's fallback routing (spec.md §4.6,
// §8 "store fails 10% of operations"). Modeled on the mockFailingStore
// pattern in dmitrymomot/saaskit's critical_test.go (other_examples/), but
// implemented as a reusable decorator rather than a single-purpose test
// double, since this repo's boundary tests need it from multiple packages.
type FlakyDriver struct {
	inner     Driver
	failEvery uint64 // fail one call out of every failEvery, 0 disables
	calls     atomic.Uint64
}

// NewFlakyDriver wraps inner, failing Eval on every failEvery-th call.
// failEvery <= 0 disables injected failures (equivalent to inner directly).
func NewFlakyDriver(inner Driver, failEvery int) *FlakyDriver {
	fe := uint64(0)
	if failEvery > 0 {
		fe = uint64(failEvery)
	}
	return &FlakyDriver{inner: inner, failEvery: fe}
}

// Get passes through to inner.
func (d *FlakyDriver) Get(ctx context.Context, key string) (string, error) {
	return d.inner.Get(ctx, key)
}

// SetEX passes through to inner.
func (d *FlakyDriver) SetEX(ctx context.Context, key string, ttl time.Duration, value string) error {
	return d.inner.SetEX(ctx, key, ttl, value)
}

// Ping passes through to inner.
func (d *FlakyDriver) Ping(ctx context.Context) error {
	return d.inner.Ping(ctx)
}

// Eval fails with ErrUnavailable on every failEvery-th call, otherwise
// delegates to inner.
func (d *FlakyDriver) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	n := d.calls.Add(1)
	if d.failEvery > 0 && n%d.failEvery == 0 {
		return nil, fmt.Errorf("%w: injected failure on call %d", ErrUnavailable, n)
	}
	return d.inner.Eval(ctx, script, keys, args...)
}
