// Package locks provides driven.Locker implementations that keep two
// transitions from running on the same version or change set at once.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

// Ensure MemoryLocker implements the interface.
var _ driven.Locker = (*MemoryLocker)(nil)

// MemoryLocker is a process-local keyed try-lock with expiry.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]lease
	clock func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]lease), clock: time.Now}
}

// TryLock implements driven.Locker.
func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (driven.UnlockFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if current, ok := l.held[key]; ok && (current.expires.IsZero() || now.Before(current.expires)) {
		return nil, &domain.ConcurrencyConflictError{Subject: "lock", ID: key}
	}
	token := uuid.NewString()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	l.held[key] = lease{token: token, expires: expires}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.held[key]; ok && current.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
