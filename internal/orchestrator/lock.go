package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Locker serializes runs per key. Two runs against the same table would
// truncate each other's data, so the pipeline holds the table's lock from
// the first remote call to the last write.
type Locker struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{sems: make(map[string]*semaphore.Weighted)}
}

func (l *Locker) sem(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[key] = s
	}
	return s
}

// Acquire takes the lock for key. With wait <= 0 it fails at once when the
// lock is held; otherwise it waits up to wait. Both cases report
// ErrRunInProgress; a done ctx reports ctx.Err().
func (l *Locker) Acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error) {
	s := l.sem(key)

	if wait <= 0 {
		if !s.TryAcquire(1) {
			return nil, ErrRunInProgress
		}
		return sync.OnceFunc(func() { s.Release(1) }), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := s.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRunInProgress
		}
		return nil, err
	}
	return sync.OnceFunc(func() { s.Release(1) }), nil
}
