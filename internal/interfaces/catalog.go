package interfaces

import (
	"context"

	"github.com/autobolt/runner/internal/models"
)

// DirectoryCatalog produces the ordered, filtered, scored directory list eligible
// for a given job. The catalog itself is loaded once and read-only
// thereafter; rolling stats live in the HealthMonitor.
type DirectoryCatalog interface {
	// Select returns the ordered, filtered, budget-limited directories for driverCaps.
	Select(job models.Job, driverCaps DriverCapabilities) ([]models.ScoredDirectory, error)

	// Len returns the number of loaded catalog entries, for diagnostics.
	Len() int

	// Entries returns a copy of every loaded catalog entry, independent of any
	// job, used to seed the health monitor's per-directory synthetic-check cadence.
	Entries() []models.DirectoryDescriptor
}

// HealthMonitor maintains per-directory rolling availability stats and an
// availability flag, independent of any single job.
type HealthMonitor interface {
	// Observe folds a completed attempt outcome into the rolling stats.
	Observe(ctx context.Context, directoryID string, status models.AttemptStatus, responseTimeMS int64)

	// IsUnhealthy reports whether directoryID is currently excluded from selection.
	IsUnhealthy(directoryID string) bool

	// Snapshot returns a copy of the current record for directoryID, for tests
	// and diagnostics (Design Notes: "explicit snapshot for tests").
	Snapshot(directoryID string) (models.HealthRecord, bool)
}

// CircuitBreakerRegistry is the process-wide, per-operation-name breaker table.
type CircuitBreakerRegistry interface {
	// Allow reports whether a call to operation may proceed, transitioning
	// open->half_open internally once reset_timeout has elapsed.
	Allow(operation string) bool

	// RecordSuccess closes the breaker for operation and resets its counter.
	RecordSuccess(operation string)

	// RecordFailure registers a failure for operation, possibly opening the breaker.
	RecordFailure(operation string)

	// Snapshot returns a copy of operation's breaker state for diagnostics.
	Snapshot(operation string) models.CircuitBreakerSnapshot
}

// ProgressReporter delivers per-attempt outcomes and final summaries to the
// control plane with at-least-once semantics.
type ProgressReporter interface {
	// Report enqueues one attempt outcome into the per-job batch buffer.
	Report(jobID string, attempt models.SubmissionAttempt)

	// Flush drains the current buffer for jobID immediately, used at job completion.
	Flush(ctx context.Context, jobID string)

	// Complete delivers the mandatory, retried-to-exhaustion final call.
	Complete(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error

	// DeadLetters returns a snapshot of batches that exhausted retries undelivered.
	DeadLetters() []DeadLetterEntry

	// Start launches the background flush loop; Stop drains and releases it.
	Start(ctx context.Context)
	Stop()
}

// DeadLetterEntry is one batch that could not be delivered after exhausting retries.
type DeadLetterEntry struct {
	JobID string
	Batch []models.SubmissionAttempt
	Timestamp int64
}
