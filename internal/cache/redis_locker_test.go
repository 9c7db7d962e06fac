package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLocker(rdb, time.Minute), mr
}

func TestTryLockIsExclusive(t *testing.T) {
	l, _ := newLocker(t)
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "payment-event", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryLock(ctx, "payment-event", "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.TryLock(ctx, "payment-event", "evt_2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseAllowsRelock(t *testing.T) {
	l, _ := newLocker(t)
	ctx := context.Background()

	_, err := l.TryLock(ctx, "payment-event", "evt_1")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, "payment-event", "evt_1"))

	ok, err := l.TryLock(ctx, "payment-event", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryLockForExpires(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()

	ok, err := l.TryLockFor(ctx, "poller", "tick", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(6 * time.Second)

	ok, err = l.TryLockFor(ctx, "poller", "tick", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockerAlwaysGrants(t *testing.T) {
	var l LocalLocker
	ok, err := l.TryLock(context.Background(), "a", "b")
	assert.NoError(t, err)
	assert.True(t, ok)
}
