// Package lock provides the mutual-exclusion primitive the view
// refresher uses to keep concurrent refreshes of the same view from
// racing. The local implementation covers a single process; the Redis
// implementation extends the guarantee across processes that share a
// mart database.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld reports that another holder owns the lock. Callers treat it as
// "someone else is already refreshing" and skip rather than fail.
var ErrHeld = errors.New("lock: already held")

// Release frees an acquired lock. Releasing twice is a no-op.
type Release func(ctx context.Context) error

// Locker hands out named exclusive locks with a time bound. Acquire
// either returns a Release or ErrHeld; it never blocks waiting for the
// holder.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Release, error)
}

// LocalLocker implements Locker with in-process mutual exclusion. The
// zero value is ready to use.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (l *LocalLocker) Acquire(_ context.Context, name string, _ time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == nil {
		l.held = make(map[string]struct{})
	}
	if _, ok := l.held[name]; ok {
		return nil, ErrHeld
	}
	l.held[name] = struct{}{}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}
	return release, nil
}
