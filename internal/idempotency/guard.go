// Package idempotency provides a Redis backed in-flight guard for
// operations that must not run twice concurrently, such as a booking
// confirm that a user double-taps.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/servly/servly-platform/pkg/logging"
)

const keyPrefix = "guard:"

// RedisGuard implements an acquire/release guard with SET NX and a TTL so
// a crashed holder cannot wedge the key forever.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisGuard creates a guard. ttl bounds how long an unreleased key
// blocks later attempts.
func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisGuard {
	if client == nil {
		panic("idempotency: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisGuard{client: client, ttl: ttl, logger: logger}
}

// Acquire returns true if the key was free and is now held by the caller.
// False means another attempt holds it.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release frees the key. Best effort: an error just means the TTL cleans
// up instead.
func (g *RedisGuard) Release(ctx context.Context, key string) {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		g.logger.Warn("failed to release guard key", "error", err, "key", key)
	}
}
