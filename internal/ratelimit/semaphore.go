package ratelimit

import "context"

// Semaphore gates concurrent holders independently of any throughput
// discipline. It is a thin wrapper over a buffered channel, the same
// acquisition idiom used throughout the tool executor and orchestrator.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a semaphore with n concurrent holders. n <= 0 means
// unbounded (Acquire/Release become no-ops).
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// TryAcquire acquires a slot only if one is immediately available.
func (s *Semaphore) TryAcquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot.
func (s *Semaphore) Release() {
	if s.slots == nil {
		return
	}
	<-s.slots
}
