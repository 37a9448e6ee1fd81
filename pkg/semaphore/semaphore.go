// Package semaphore limits how many accepted connections a listener serves
// at the same time.
package semaphore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrNoSlot is returned when no slot became free within the timeout.
var ErrNoSlot = errors.New("no free connection slot")

// ConnSemaphore hands out a fixed number of connection slots. A nil
// *ConnSemaphore is unbounded: every method succeeds immediately.
type ConnSemaphore struct {
	sem     chan struct{}
	timeout time.Duration
	inUse   atomic.Int64
}

// New creates a semaphore with n slots and the time Acquire waits for one.
// It returns nil, an unbounded semaphore, for n <= 0.
func New(n int, timeout time.Duration) *ConnSemaphore {
	if n <= 0 {
		return nil
	}
	sem := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
	}
	return &ConnSemaphore{sem: sem, timeout: timeout}
}

// Acquire takes a slot, waiting at most the semaphore's timeout.
func (s *ConnSemaphore) Acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case <-s.sem:
		s.inUse.Add(1)
		return nil
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("waiting %v: %w", s.timeout, ErrNoSlot)
	}
}

// TryAcquire takes a slot if one is free right now.
func (s *ConnSemaphore) TryAcquire() bool {
	if s == nil {
		return true
	}

	select {
	case <-s.sem:
		s.inUse.Add(1)
		return true
	default:
		return false
	}
}

// Release returns a slot. Releasing more slots than were acquired is a
// programming error and panics.
func (s *ConnSemaphore) Release() {
	if s == nil {
		return
	}
	if s.inUse.Add(-1) < 0 {
		panic("semaphore: Release without Acquire")
	}
	s.sem <- struct{}{}
}

// InUse returns the number of acquired slots.
func (s *ConnSemaphore) InUse() int {
	if s == nil {
		return 0
	}
	return int(s.inUse.Load())
}

// Capacity returns the number of slots, or 0 for an unbounded semaphore.
func (s *ConnSemaphore) Capacity() int {
	if s == nil {
		return 0
	}
	return cap(s.sem)
}
