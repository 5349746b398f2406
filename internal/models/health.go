package models

import "time"

// HealthEWMAAlpha is the exponential weighting used by the health monitor.
const HealthEWMAAlpha = 0.2

// HealthRecord is the per-directory rolling availability record. It is
// process-wide mutable state, owned exclusively by the Health Monitor; the
// catalog only ever reads a snapshot of it.
type HealthRecord struct {
	DirectoryID string
	SuccessRate float64
	AverageResponseTimeMS float64
	LastCheckedAt time.Time
	Observations int

	// Unhealthy observations/recovery tracking
	Unhealthy bool
	ObservationsBelowLow int // consecutive observations with success_rate < 0.20
	ObservationsSinceUnhealthy int // observations since flagged unhealthy; recovery needs >= 10 of them and success_rate >= 0.50

	Bucket PriorityBucket
}

// Observe folds a completed attempt's outcome into the EWMA rolling stats and
// updates the unhealthy/healthy availability flag against the thresholds below.
func (h *HealthRecord) Observe(success bool, responseTimeMS int64, now time.Time) {
	obs:= 0.0
	if success {
		obs = 1.0
	}
	if h.Observations == 0 {
		h.SuccessRate = obs
		h.AverageResponseTimeMS = float64(responseTimeMS)
	} else {
		h.SuccessRate = (1-HealthEWMAAlpha)*h.SuccessRate + HealthEWMAAlpha*obs
		h.AverageResponseTimeMS = (1-HealthEWMAAlpha)*h.AverageResponseTimeMS + HealthEWMAAlpha*float64(responseTimeMS)
	}
	h.Observations++
	h.LastCheckedAt = now

	if !h.Unhealthy {
		if h.SuccessRate < 0.20 {
			h.ObservationsBelowLow++
		} else {
			h.ObservationsBelowLow = 0
		}
		if h.ObservationsBelowLow >= 20 {
			h.Unhealthy = true
			h.ObservationsSinceUnhealthy = 0
		}
	} else {
		h.ObservationsSinceUnhealthy++
		if h.ObservationsSinceUnhealthy >= 10 && h.SuccessRate >= 0.50 {
			h.Unhealthy = false
			h.ObservationsBelowLow = 0
		}
	}
}

// HealthCheckCadence is the base synthetic-health-check interval for a priority bucket.
func HealthCheckCadence(bucket PriorityBucket) time.Duration {
	switch bucket {
	case BucketCritical:
		return 5 * time.Minute
	case BucketHigh:
		return 15 * time.Minute
	case BucketMedium:
		return 30 * time.Minute
	default:
		return 60 * time.Minute
	}
}

// BreakerState is one of the three circuit-breaker states.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerSnapshot is a read-only view of one operation's breaker state,
// used for tests and diagnostics without exposing the mutex-guarded internals.
type CircuitBreakerSnapshot struct {
	Operation string
	State BreakerState
	ConsecutiveFailures int
	LastFailureAt time.Time
	NextAttemptAt time.Time
}
