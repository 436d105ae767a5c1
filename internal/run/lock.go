package run

import (
	"context"
	"time"
)

// Lock is a process-wide mutual exclusion token with a bounded
// acquisition wait. Overlapping scheduled runs contend on it; the loser
// exits without side effects.
type Lock struct {
	ch chan struct{}
}

func NewLock() *Lock {
	return &Lock{ch: make(chan struct{}, 1)}
}

// TryAcquire blocks up to wait for the lock. It returns false when the
// lock stays busy or the context is cancelled.
func (l *Lock) TryAcquire(ctx context.Context, wait time.Duration) bool {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case l.ch <- struct{}{}:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release frees the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() {
	select {
	case <-l.ch:
	default:
	}
}
