package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// concurrencyGate is the adaptive concurrency bound workers draw permits
// from. A fixed buffered channel cannot change capacity at runtime, so this
// wraps a golang.org/x/sync/semaphore.Weighted behind a pointer that Resize
// swaps out every 5s. Permits already held against the old semaphore are
// released against the same instance they were acquired from, so resizing
// never double-counts or leaks a permit; it only changes the ceiling new
// acquisitions are measured against.
type concurrencyGate struct {
	mu sync.RWMutex
	sem *semaphore.Weighted
	cap int64
}

func newConcurrencyGate(capacity int64) *concurrencyGate {
	if capacity < 1 {
		capacity = 1
	}
	return &concurrencyGate{sem: semaphore.NewWeighted(capacity), cap: capacity}
}

// Acquire blocks for one permit, honouring ctx cancellation, and returns the
// semaphore instance the permit was drawn from — release against that same
// instance.
func (g *concurrencyGate) Acquire(ctx context.Context) (*semaphore.Weighted, error) {
	g.mu.RLock()
	sem:= g.sem
	g.mu.RUnlock()

	if err:= sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return sem, nil
}

// Resize changes the effective concurrency ceiling for future acquisitions.
// Never drops below 1.
func (g *concurrencyGate) Resize(newCap int64) {
	if newCap < 1 {
		newCap = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if newCap == g.cap {
		return
	}
	g.cap = newCap
	g.sem = semaphore.NewWeighted(newCap)
}

// Cap returns the current effective concurrency ceiling.
func (g *concurrencyGate) Cap() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cap
}

// effectiveCap applies a saturation-scaled multiplier to base.
func effectiveCap(base int, saturation float64) int64 {
	multiplier:= 1.0
	switch {
	case saturation > 0.80:
		multiplier = 0.5
	case saturation > 0.70:
		multiplier = 0.7
	}
	n:= int64(float64(base) * multiplier)
	if n < 1 {
		n = 1
	}
	return n
}
