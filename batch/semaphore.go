package batch

import (
	"context"
	"sync"
)

// Semaphore is a counting concurrency gate with strict FIFO fairness. A
// released permit is handed directly to the oldest waiter instead of being
// returned to the pool, so a fresh Acquire can never race ahead of callers
// already queued.
type Semaphore struct {
	mu      sync.Mutex
	permits int
	waiters []chan struct{}
}

// NewSemaphore creates a gate with the given number of permits. It panics on
// a non-positive count, which is always a programmer error.
func NewSemaphore(permits int) *Semaphore {
	if permits <= 0 {
		panic("batch: semaphore permits must be positive")
	}
	return &Semaphore{permits: permits}
}

// Acquire takes a permit, blocking while none are free. Waiters are served
// strictly in arrival order. A context cancellation while queued removes the
// waiter and returns ctx.Err().
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.permits > 0 && len(s.waiters) == 0 {
		s.permits--
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
		// The permit was handed over between Done and the lock; pass it on
		// so it is not lost.
		s.Release()
		return ctx.Err()
	}
}

// TryAcquire takes a permit without blocking and reports whether it got one.
// It never jumps the queue: when waiters exist it fails even if a permit
// happens to be free.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permits > 0 && len(s.waiters) == 0 {
		s.permits--
		return true
	}
	return false
}

// Release returns a permit. When waiters are queued the permit goes straight
// to the head of the queue and the free count stays unchanged.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) > 0 {
		ready := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(ready)
		return
	}
	s.permits++
}

// Available reports the number of free permits, for tests and diagnostics.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permits
}
