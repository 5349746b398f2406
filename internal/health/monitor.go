// Package health implements the directory health/compliance monitor:
// per-directory rolling availability stats, the unhealthy/healthy flag, and
// the adaptive synthetic-check cadence. It runs independently of any job.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/autobolt/runner/internal/models"

	"github.com/autobolt/runner/internal/common"
)

// ResourceProxy reports the scheduler's current saturation, used to stretch
// or shrink the health-check cadence (: "stretch... when saturated").
type ResourceProxy interface {
	Saturation() float64
}

// Monitor is the process-wide health record table. Like the circuit breaker
// registry, it has no lazily-initialised singleton state: callers construct
// one explicitly at runner start.
type Monitor struct {
	logger *common.Logger
	proxy ResourceProxy

	mu sync.RWMutex
	records map[string]*models.HealthRecord
}

// NewMonitor creates a health monitor. proxy may be nil, in which case the
// cadence multiplier stays at 1.0.
func NewMonitor(logger *common.Logger, proxy ResourceProxy) *Monitor {
	return &Monitor{
		logger: logger,
		proxy: proxy,
		records: make(map[string]*models.HealthRecord),
	}
}

func (m *Monitor) recordFor(directoryID string) *models.HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok:= m.records[directoryID]
	if !ok {
		r = &models.HealthRecord{DirectoryID: directoryID}
		m.records[directoryID] = r
	}
	return r
}

// Observe folds a completed attempt outcome into the rolling stats.
func (m *Monitor) Observe(ctx context.Context, directoryID string, status models.AttemptStatus, responseTimeMS int64) {
	if status == models.AttemptSkipped {
		// Skipped attempts made no driver call; they carry no availability signal.
		return
	}
	r:= m.recordFor(directoryID)

	m.mu.Lock()
	wasUnhealthy:= r.Unhealthy
	r.Observe(status == models.AttemptSubmitted, responseTimeMS, time.Now())
	becameUnhealthy:= !wasUnhealthy && r.Unhealthy
	becameHealthy:= wasUnhealthy && !r.Unhealthy
	m.mu.Unlock()

	if becameUnhealthy {
		m.logger.Warn().Str("directory_id", directoryID).Msg("Health monitor: directory marked unhealthy")
	} else if becameHealthy {
		m.logger.Info().Str("directory_id", directoryID).Msg("Health monitor: directory recovered")
	}
}

// IsUnhealthy reports whether directoryID is currently excluded from selection.
func (m *Monitor) IsUnhealthy(directoryID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok:= m.records[directoryID]
	if !ok {
		return false
	}
	return r.Unhealthy
}

// Snapshot returns a copy of directoryID's record for tests and diagnostics.
func (m *Monitor) Snapshot(directoryID string) (models.HealthRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok:= m.records[directoryID]
	if !ok {
		return models.HealthRecord{}, false
	}
	return *r, true
}

// SetBucket records which priority bucket a directory currently falls into,
// used to pick its synthetic-check cadence.
func (m *Monitor) SetBucket(directoryID string, bucket models.PriorityBucket) {
	r:= m.recordFor(directoryID)
	m.mu.Lock()
	r.Bucket = bucket
	m.mu.Unlock()
}

// cadenceFor returns the adaptive synthetic-check interval for a directory's
// bucket, stretched up to x1.2 when saturated and shrunk down to x0.9 when
// under-utilised, clamped to +-40% of the base default.
func (m *Monitor) cadenceFor(directoryID string) time.Duration {
	m.mu.RLock()
	r, ok:= m.records[directoryID]
	bucket:= models.BucketLow
	if ok {
		bucket = r.Bucket
	}
	m.mu.RUnlock()

	base:= models.HealthCheckCadence(bucket)
	multiplier:= 1.0
	if m.proxy != nil {
		sat:= m.proxy.Saturation()
		switch {
		case sat > 0.80:
			multiplier = 1.2
		case sat < 0.30:
			multiplier = 0.9
		}
	}

	lower:= float64(base) * 0.6
	upper:= float64(base) * 1.4
	scaled:= float64(base) * multiplier
	if scaled < lower {
		scaled = lower
	}
	if scaled > upper {
		scaled = upper
	}
	return time.Duration(scaled)
}

// SyntheticChecker performs one off-job availability probe against a directory.
type SyntheticChecker func(ctx context.Context, directoryID string) (success bool, responseTimeMS int64)

// DefaultCheckerTimeout bounds one synthetic check's HTTP round trip.
const DefaultCheckerTimeout = 15 * time.Second

// NewHTTPSyntheticChecker builds a SyntheticChecker that issues a GET against
// urlFor(directoryID) and treats any non-5xx response as available. It never
// submits or mutates anything on the remote directory; this is an
// availability probe, not a submission attempt.
func NewHTTPSyntheticChecker(client *http.Client, urlFor func(directoryID string) string) SyntheticChecker {
	if client == nil {
		client = &http.Client{Timeout: DefaultCheckerTimeout}
	}
	return func(ctx context.Context, directoryID string) (bool, int64) {
		target:= urlFor(directoryID)
		if target == "" {
			return false, 0
		}

		started:= time.Now()
		req, err:= http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return false, time.Since(started).Milliseconds()
		}

		resp, err:= client.Do(req)
		elapsed:= time.Since(started).Milliseconds()
		if err != nil {
			return false, elapsed
		}
		defer resp.Body.Close()
		return resp.StatusCode < 500, elapsed
	}
}

// RunCadence runs checker against directoryID on its adaptive cadence until ctx
// is cancelled. Intended to be launched once per tracked directory by the
// caller that owns the catalog (the job runner composition root).
func (m *Monitor) RunCadence(ctx context.Context, directoryID string, checker SyntheticChecker) {
	for {
		interval:= m.cadenceFor(directoryID)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			success, responseTimeMS:= checker(ctx, directoryID)
			status:= models.AttemptFailed
			if success {
				status = models.AttemptSubmitted
			}
			m.Observe(ctx, directoryID, status, responseTimeMS)
		}
	}
}
