package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDriver is the production binding of Driver, generalized from the
// teacher's ad hoc redis.Client.Pipeline() calls (pkg/static_limiter in the
// reference port) into the get/setex/eval shape spec.md §4.2 specifies.
type RedisDriver struct {
	client *redis.Client
}

// NewRedisDriver wraps an existing *redis.Client. The caller owns the
// client's lifecycle (construction and Close).
func NewRedisDriver(client *redis.Client) *RedisDriver {
	return &RedisDriver{client: client}
}

// Get implements Driver.
func (d *RedisDriver) Get(ctx context.Context, key string) (string, error) {
	val, err := d.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val, nil
	case err == redis.Nil:
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("%w: redis GET %q: %v", ErrUnavailable, key, err)
	}
}

// SetEX implements Driver.
func (d *RedisDriver) SetEX(ctx context.Context, key string, ttl time.Duration, value string) error {
	if err := d.client.SetEX(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis SETEX %q: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Eval implements Driver. A non-nil error from the Redis client itself
// (connection, timeout, context) is reported as ErrUnavailable; a script
// that ran but signalled failure through its return shape is the caller's
// responsibility to detect and map to ErrScriptFailed — RedisDriver doesn't
// inspect the script's result.
func (d *RedisDriver) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	result, err := d.client.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis EVAL: %v", ErrUnavailable, err)
	}
	return result, nil
}

// Ping implements Driver.
func (d *RedisDriver) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis PING: %v", ErrUnavailable, err)
	}
	return nil
}
