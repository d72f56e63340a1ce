// Package lock provides named mutual exclusion for fulfillers that need a
// serialized read-modify-write across concurrently scheduled tasks.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock is still held elsewhere after the
// acquire timeout.
var ErrNotAcquired = errors.New("lock_not_acquired")

// Locker hands out named locks with a bounded hold time. The hold TTL is the
// crash-safety bound: a holder that dies releases the lock by expiry.
type Locker interface {
	Acquire(ctx context.Context, key string, acquireTimeout, holdTimeout time.Duration) (Guard, error)
}

// Guard is a held lock. Release is safe to call more than once.
type Guard interface {
	Release(ctx context.Context) error
}
