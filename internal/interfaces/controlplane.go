// Package interfaces defines the contracts the job-processing engine
// consumes from its external collaborators, mirroring the small,
// single-method-rich service interfaces the rest of the codebase is built
// against rather than reaching for concrete types.
package interfaces

import (
	"context"

	"github.com/autobolt/runner/internal/models"
)

// ControlPlane is the HTTP control-plane API the runner polls and reports to.
type ControlPlane interface {
	// GetNextJob returns the next job to run, or nil if none is queued.
	GetNextJob(ctx context.Context) (*models.Job, error)

	// IsQueuePaused reports the control plane's queue_paused flag.
	IsQueuePaused(ctx context.Context) (bool, error)

	// UpdateProgress reports a batch of directory results for an in-flight job.
	UpdateProgress(ctx context.Context, jobID string, results []models.SubmissionAttempt, status models.JobStatus, errorMessage string) error

	// CompleteJob reports the final outcome of a job.
	CompleteJob(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error

	// Heartbeat upserts this worker's liveness record.
	Heartbeat(ctx context.Context, workerID string, jobsProcessed int, status string) error
}
