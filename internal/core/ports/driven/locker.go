package driven

import (
	"context"
	"time"
)

// UnlockFunc releases a lock taken by TryLock.
type UnlockFunc func(ctx context.Context) error

// Locker guards against two transitions running on the same record at once.
type Locker interface {
	// TryLock takes key without waiting. When another holder has the key it
	// returns an error matching domain.ErrConcurrencyConflict. The lock
	// expires after ttl if never released.
	TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
