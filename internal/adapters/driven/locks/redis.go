package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

// DefaultPrefix namespaces lock keys in Redis.
const DefaultPrefix = "ratebook:lock:"

// Ensure RedisLocker implements the interface.
var _ driven.Locker = (*RedisLocker)(nil)

// unlockScript deletes the key only while it still holds our token, so an
// expired lock re-taken by someone else is left alone.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between processes using SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a locker whose keys start with prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock implements driven.Locker. It never waits: a held key is a
// ConcurrencyConflictError.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (driven.UnlockFunc, error) {
	lockKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, &domain.ConcurrencyConflictError{Subject: "lock", ID: key}
	}
	return func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
