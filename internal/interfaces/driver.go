package interfaces

import (
	"context"
	"time"

	"github.com/autobolt/runner/internal/models"
)

// SubmitOptions carries the per-attempt knobs the scheduler hands to the driver.
type SubmitOptions struct {
	AttemptTimeout time.Duration
}

// SubmitResult is the opaque outcome of one submission attempt.
type SubmitResult struct {
	Status models.AttemptStatus
	Message string
	StartedAt time.Time
	FinishedAt time.Time
	FilledFieldsCount int
	Diagnostics map[string]string
}

// SubmissionDriver is the single opaque per-directory attempt abstraction the
// core consumes. Implementations own everything about form detection, CAPTCHA
// solving and humanised typing; the core never reaches inside it.
//
// Submit must be blocking but cancellable via ctx, reentrancy-safe across
// different (job, directory) pairs, and must return rather than panic on
// recoverable failure — only an unrecoverable driver crash may surface as an
// error. The scheduler records such an error as a failed, non-retryable
// attempt for that directory and continues the job.
type SubmissionDriver interface {
	Submit(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile, mapping models.FormMapping, opts SubmitOptions) (SubmitResult, error)

	// Capabilities reports which gated directory features this driver can handle,
	// consumed by the catalog filter ("unless the submission driver advertises
	// the corresponding capability").
	Capabilities() DriverCapabilities

	// Close releases driver resources (e.g. the underlying browser process).
	Close() error
}

// DriverCapabilities describes which capability-gated directories a driver can attempt.
type DriverCapabilities struct {
	HandlesLogin bool
	HandlesCaptcha bool
}
