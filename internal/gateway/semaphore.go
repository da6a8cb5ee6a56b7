package gateway

import (
	"context"
	"sync"
)

// Semaphore is a bounded-concurrency gate with FIFO waiters. It throttles
// calls to the external inference provider: at most capacity operations are
// in flight, and freed slots are handed to the longest-waiting caller first.
type Semaphore struct {
	mu      sync.Mutex
	active  int
	cap     int
	waiters []chan struct{}
}

// NewSemaphore creates a gate admitting at most capacity concurrent holders.
// Capacity below 1 is treated as 1.
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{cap: capacity}
}

// Acquire blocks until a slot is free or ctx is done. On success the caller
// owns one slot and must call Release on every exit path.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.active < s.cap {
		s.active++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// The slot was granted while we were cancelling; give it back.
		select {
		case <-ready:
			s.Release()
		default:
		}
		return ctx.Err()
	}
}

// Release frees one slot, waking the oldest waiter if any.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) > 0 {
		ready := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(ready)
		return
	}
	if s.active > 0 {
		s.active--
	}
}

// InFlight reports the number of currently held slots.
func (s *Semaphore) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
