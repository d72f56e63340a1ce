package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker is a process-local Locker for tests and single-node
// deployments without redis. Each acquisition carries a token, mirroring the
// redis compare-and-delete release: a guard whose hold TTL has lapsed cannot
// free the key from a later holder.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	clock func() time.Time
}

type memoryLease struct {
	token  string
	expiry time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryLease),
		clock: time.Now,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, acquireTimeout, holdTimeout time.Duration) (Guard, error) {
	deadline := l.clock().Add(acquireTimeout)
	for {
		if token, ok := l.tryAcquire(key, holdTimeout); ok {
			return &memoryGuard{locker: l, key: key, token: token}, nil
		}
		if l.clock().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

func (l *MemoryLocker) tryAcquire(key string, holdTimeout time.Duration) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if lease, ok := l.held[key]; ok && lease.expiry.After(now) {
		return "", false
	}
	token := uuid.NewString()
	l.held[key] = memoryLease{token: token, expiry: now.Add(holdTimeout)}
	return token, true
}

type memoryGuard struct {
	locker   *MemoryLocker
	key      string
	token    string
	released bool
}

func (g *memoryGuard) Release(ctx context.Context) error {
	_ = ctx
	if g.released {
		return nil
	}
	g.released = true
	g.locker.mu.Lock()
	if lease, ok := g.locker.held[g.key]; ok && lease.token == g.token {
		delete(g.locker.held, g.key)
	}
	g.locker.mu.Unlock()
	return nil
}
