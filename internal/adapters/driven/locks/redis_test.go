package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

func setupRedisLocker(t *testing.T) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisLocker(client, "test:")
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, locker := setupRedisLocker(t)
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "version:v1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:version:v1"))
	assert.Equal(t, 5*time.Second, mr.TTL("test:version:v1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:version:v1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	_, locker := setupRedisLocker(t)
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "changeset:cs1", 5*time.Second)
	require.NoError(t, err)
	defer unlock(ctx)

	_, err = locker.TryLock(ctx, "changeset:cs1", 5*time.Second)

	var conflict *domain.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "changeset:cs1", conflict.ID)
}

func TestRedisLocker_ExpiredLockIsNotStolenBack(t *testing.T) {
	mr, locker := setupRedisLocker(t)
	ctx := context.Background()

	stale, err := locker.TryLock(ctx, "version:v1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.TryLock(ctx, "version:v1", time.Second)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("test:version:v1"))
	require.NoError(t, fresh(ctx))
	assert.False(t, mr.Exists("test:version:v1"))
}

func TestRedisLocker_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	unlock, err := NewRedisLocker(client, "").TryLock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer unlock(context.Background())

	assert.True(t, mr.Exists(DefaultPrefix+"k"))
}
