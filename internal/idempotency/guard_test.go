package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisGuard(client, 5*time.Second, nil), mr
}

func TestAcquireThenConflict(t *testing.T) {
	guard, _ := newTestGuard(t)

	ok, err := guard.Acquire(context.Background(), "confirm:tpl-1:2024-06-03")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Acquire(context.Background(), "confirm:tpl-1:2024-06-03")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire while held must fail")
}

func TestReleaseFreesKey(t *testing.T) {
	guard, _ := newTestGuard(t)

	ok, err := guard.Acquire(context.Background(), "confirm:tpl-1:2024-06-03")
	require.NoError(t, err)
	require.True(t, ok)

	guard.Release(context.Background(), "confirm:tpl-1:2024-06-03")

	ok, err = guard.Acquire(context.Background(), "confirm:tpl-1:2024-06-03")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTTLExpiryFreesKey(t *testing.T) {
	guard, mr := newTestGuard(t)

	ok, err := guard.Acquire(context.Background(), "confirm:tpl-1:2024-06-03")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	ok, err = guard.Acquire(context.Background(), "confirm:tpl-1:2024-06-03")
	require.NoError(t, err)
	assert.True(t, ok, "expired key must be acquirable again")
}

func TestDistinctKeysIndependent(t *testing.T) {
	guard, _ := newTestGuard(t)

	ok, err := guard.Acquire(context.Background(), "confirm:tpl-1:2024-06-03")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = guard.Acquire(context.Background(), "confirm:tpl-2:2024-06-03")
	require.NoError(t, err)
	assert.True(t, ok)
}
