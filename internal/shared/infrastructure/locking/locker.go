// Package locking provides distributed locks so only one process runs the
// renewal sweep at a time.
package locking

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// Lock is a held lock that must be released.
type Lock interface {
	// Release frees the lock. Releasing a lock that expired or is held by
	// someone else is a no-op.
	Release(ctx context.Context) error
}

// Locker acquires named locks with a TTL.
type Locker interface {
	// Acquire takes the lock or returns ErrNotAcquired if it is held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// LocalLocker is an in-process Locker for single-instance deployments and
// tests.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expiry, ok := l.held[key]; ok && expiry.After(now) {
		return nil, ErrNotAcquired
	}

	l.held[key] = now.Add(ttl)
	return &localLock{locker: l, key: key}, nil
}

type localLock struct {
	locker *LocalLocker
	key    string
}

func (l *localLock) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	return nil
}
