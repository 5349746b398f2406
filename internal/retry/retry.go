// Package retry implements failure classification and backoff policy for
// both the per-directory retry/circuit-breaker path and the generic
// control-plane/reporter backoff.
package retry

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// retryableSubstrings is the case-insensitive substring table that classifies
// a failure message as locally retryable.
var retryableSubstrings = []string{
	"timeout",
	"network error",
	"temporarily unavailable",
	"rate limit",
	"service unavailable",
	"connection reset",
}

// IsRetryable classifies a failed attempt's message substring table.
func IsRetryable(message string) bool {
	lower:= strings.ToLower(message)
	for _, s:= range retryableSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// DirectoryPolicy is the per-(job,directory) retry policy from 
type DirectoryPolicy struct {
	MaxRetries int
	Base time.Duration
	MaxDelay time.Duration
}

// DefaultDirectoryPolicy returns the standard defaults: up to 3 retries, base 5s, cap 60s.
func DefaultDirectoryPolicy() DirectoryPolicy {
	return DirectoryPolicy{MaxRetries: 3, Base: 5 * time.Second, MaxDelay: 60 * time.Second}
}

// Delay returns d_k = min(base*2^(k-1), max_delay) plus uniform jitter in [0, 0.1*d_k],
// for the k-th retry (k starting at 1).
func (p DirectoryPolicy) Delay(k int) time.Duration {
	return jitteredExponential(p.Base, p.MaxDelay, k, 0.1)
}

// APIPolicy is the generic control-plane/reporter backoff from: base
// 500ms, x2, capped at 30s, +-25% jitter, up to 3 attempts per call.
type APIPolicy struct {
	MaxAttempts int
	Base time.Duration
	MaxDelay time.Duration
}

// DefaultAPIPolicy returns the / default backoff for control-plane calls.
func DefaultAPIPolicy() APIPolicy {
	return APIPolicy{MaxAttempts: 3, Base: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// Delay returns the backoff for the k-th attempt (k starting at 1), with +-25% jitter.
func (p APIPolicy) Delay(k int) time.Duration {
	d:= p.Base * time.Duration(math.Pow(2, float64(k-1)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	// +-25% jitter: d * (0.75.. 1.25)
	jitter:= 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}

// jitteredExponential computes min(base*2^(k-1), max) plus uniform jitter in [0, frac*d].
func jitteredExponential(base, max time.Duration, k int, frac float64) time.Duration {
	if k < 1 {
		k = 1
	}
	d:= base * time.Duration(math.Pow(2, float64(k-1)))
	if d > max {
		d = max
	}
	jitter:= time.Duration(rand.Float64() * frac * float64(d))
	return d + jitter
}

// BoostedPriority re-enqueues a retried item at min(1, current+0.05),
// giving retried items a small boost relative to the bucket's score scale (0..1).
func BoostedPriority(current float64) float64 {
	boosted:= current + 0.05
	if boosted > 1 {
		boosted = 1
	}
	return boosted
}
