// Package breaker implements a process-wide, per-operation-name circuit
// breaker table: threshold + reset timeout, mutex-guarded struct, and an
// Allow/RecordSuccess/RecordFailure-style API modeled on the hand-rolled
// breaker in the example pack's tobi-techy-RAIL-BACKEND-SERVICE funding
// webhook processor rather than on an external state-machine library — see
// DESIGN.md.
package breaker

import (
	"sync"
	"time"

	"github.com/autobolt/runner/internal/models"
)

const (
	// DefaultThreshold is the consecutive-failure count that opens a breaker.
	DefaultThreshold = 5
	// DefaultResetTimeout is how long an open breaker waits before half-opening.
	DefaultResetTimeout = 60 * time.Second
)

// breakerState is one operation's mutable circuit-breaker state.
type breakerState struct {
	mu sync.Mutex
	state models.BreakerState
	consecutiveFailures int
	lastFailureAt time.Time
	nextAttemptAt time.Time
	halfOpenProbeInUse bool
}

// Registry is the per-operation-name circuit breaker table. It holds no
// lazily-initialised singleton state — callers construct one with
// NewRegistry at runner start and pass it explicitly (Design Notes: "Global
// state... must be behind an interface with explicit lifecycle").
type Registry struct {
	threshold int
	resetTimeout time.Duration

	mu sync.RWMutex
	table map[string]*breakerState
}

// NewRegistry creates a circuit breaker registry with the given threshold and reset timeout.
func NewRegistry(threshold int, resetTimeout time.Duration) *Registry {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Registry{
		threshold: threshold,
		resetTimeout: resetTimeout,
		table: make(map[string]*breakerState),
	}
}

func (r *Registry) get(operation string) *breakerState {
	r.mu.RLock()
	s, ok:= r.table[operation]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok:= r.table[operation]; ok {
		return s
	}
	s = &breakerState{state: models.BreakerClosed}
	r.table[operation] = s
	return s
}

// Allow reports whether a call to operation may proceed. A half-open breaker
// allows exactly one probe through until that probe's outcome is recorded.
func (r *Registry) Allow(operation string) bool {
	s:= r.get(operation)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case models.BreakerClosed:
		return true
	case models.BreakerOpen:
		if time.Now().Before(s.nextAttemptAt) {
			return false
		}
		s.state = models.BreakerHalfOpen
		s.halfOpenProbeInUse = true
		return true
	case models.BreakerHalfOpen:
		if s.halfOpenProbeInUse {
			return false
		}
		s.halfOpenProbeInUse = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets its failure counter.
func (r *Registry) RecordSuccess(operation string) {
	s:= r.get(operation)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = models.BreakerClosed
	s.consecutiveFailures = 0
	s.halfOpenProbeInUse = false
}

// RecordFailure registers a failure, opening the breaker once the threshold
// is reached (or immediately, if the failing call was the half-open probe).
func (r *Registry) RecordFailure(operation string) {
	s:= r.get(operation)
	s.mu.Lock()
	defer s.mu.Unlock()

	now:= time.Now()
	s.lastFailureAt = now
	s.halfOpenProbeInUse = false

	if s.state == models.BreakerHalfOpen {
		s.state = models.BreakerOpen
		s.nextAttemptAt = now.Add(r.resetTimeout)
		return
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= r.threshold {
		s.state = models.BreakerOpen
		s.nextAttemptAt = now.Add(r.resetTimeout)
	}
}

// Snapshot returns a copy of operation's breaker state for diagnostics and tests.
func (r *Registry) Snapshot(operation string) models.CircuitBreakerSnapshot {
	s:= r.get(operation)
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CircuitBreakerSnapshot{
		Operation: operation,
		State: s.state,
		ConsecutiveFailures: s.consecutiveFailures,
		LastFailureAt: s.lastFailureAt,
		NextAttemptAt: s.nextAttemptAt,
	}
}
