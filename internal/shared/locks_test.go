package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client), mr
}

func TestTryLockFailsFastWhileHeld(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()
	key := RevaluationLockKey("1000", "L1", 2025, 3)
	require.Equal(t, "fx:reval:1000:L1:2025:03:lock", key)

	release, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, key, time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.TryLock(ctx, RevaluationLockKey("1000", "L2", 2025, 3), time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists(key))
	_, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
}

func TestLockExpires(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()
	_, err := locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	_, err = locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
}

func TestAbortSignal(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()
	runID := uuid.New()
	aborted, err := locker.Aborted(ctx, runID)
	require.NoError(t, err)
	require.False(t, aborted)

	require.NoError(t, locker.RequestAbort(ctx, runID, time.Hour))
	aborted, err = locker.Aborted(ctx, runID)
	require.NoError(t, err)
	require.True(t, aborted)
}
