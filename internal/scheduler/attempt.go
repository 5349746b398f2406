package scheduler

import (
	"context"
	"time"

	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
	"github.com/autobolt/runner/internal/retry"
)

// runAttempt carries one queueItem through the rate limiter, AI advisors,
// and submission driver, returning the terminal SubmissionAttempt and
// whether the outcome is retryable.
func (s *Scheduler) runAttempt(ctx context.Context, job models.Job, item *queueItem) (models.SubmissionAttempt, bool) {
	startedAt:= time.Now()

	if err:= s.limiterFor(item.directory.DirectoryID).Wait(ctx); err != nil {
		return s.terminal(job, item, models.AttemptSkipped, "cancelled", startedAt), false
	}

	profile:= job.Profile
	mapping:= item.directory.FormMapping

	if s.deps.Advisors.Oracle != nil && s.deps.Breaker.Allow("advisor.success_oracle") {
		advisorCtx, cancel:= context.WithTimeout(ctx, s.cfg.AdvisorTimeout)
		probability, err:= s.deps.Advisors.Oracle.Score(advisorCtx, item.directory, profile)
		cancel()
		if err != nil {
			s.deps.Breaker.RecordFailure("advisor.success_oracle")
		} else {
			s.deps.Breaker.RecordSuccess("advisor.success_oracle")
			if probability < s.cfg.AIProbabilityThreshold && !ShouldEscalate(item.directory, item.failureRate, s.cfg.EscalationThreshold) {
				return s.terminal(job, item, models.AttemptSkipped, "low probability", startedAt), false
			}
		}
	}

	if s.deps.Advisors.Customiser != nil && s.deps.Breaker.Allow("advisor.description_customiser") {
		advisorCtx, cancel:= context.WithTimeout(ctx, s.cfg.AdvisorTimeout)
		description, err:= s.deps.Advisors.Customiser.Customise(advisorCtx, item.directory, profile)
		cancel()
		if err != nil {
			s.deps.Breaker.RecordFailure("advisor.description_customiser")
		} else {
			s.deps.Breaker.RecordSuccess("advisor.description_customiser")
			profile.Description = description
		}
	}

	if len(mapping) == 0 && s.deps.Advisors.FieldMapper != nil && s.deps.Breaker.Allow("advisor.form_field_mapper") {
		advisorCtx, cancel:= context.WithTimeout(ctx, s.cfg.AdvisorTimeout)
		fields, err:= s.deps.Advisors.FieldMapper.MapFields(advisorCtx, item.directory, profile)
		cancel()
		if err != nil {
			s.deps.Breaker.RecordFailure("advisor.form_field_mapper")
		} else {
			s.deps.Breaker.RecordSuccess("advisor.form_field_mapper")
			mapping = synthesiseMapping(fields)
		}
	}

	opts:= interfaces.SubmitOptions{AttemptTimeout: s.cfg.AttemptTimeout}

	viaAlternate:= false
	var result interfaces.SubmitResult
	var err error

	if ShouldEscalate(item.directory, item.failureRate, s.cfg.EscalationThreshold) && s.deps.AlternateDriver != nil && s.deps.Breaker.Allow("submit.alternate") {
		result, err = s.submit(ctx, s.deps.AlternateDriver, item.directory, profile, mapping, opts)
		if err == nil && result.Status != models.AttemptFailed {
			s.deps.Breaker.RecordSuccess("submit.alternate")
			viaAlternate = true
		} else {
			s.deps.Breaker.RecordFailure("submit.alternate")
		}
	}

	if !viaAlternate {
		result, err = s.submit(ctx, s.deps.Driver, item.directory, profile, mapping, opts)
		if err != nil {
			s.deps.Breaker.RecordFailure("submit")
		} else {
			s.deps.Breaker.RecordSuccess("submit")
		}
	}

	if err != nil {
		// A driver error is recorded as a failed, non-retryable attempt for
		// this directory only; the job goes on with the remaining directories
		// and Run does not return the error.
		return s.terminal(job, item, models.AttemptFailed, "driver error: "+err.Error(), startedAt), false
	}

	attempt:= models.SubmissionAttempt{
		JobID: job.JobID,
		DirectoryID: item.directory.DirectoryID,
		DirectoryName: item.directory.Name,
		AttemptOrdinal: item.attemptOrdinal,
		Status: result.Status,
		Message: result.Message,
		StartedAt: result.StartedAt,
		FinishedAt: result.FinishedAt,
		FilledFieldsCount: result.FilledFieldsCount,
		ViaAlternate: viaAlternate,
		ResponseTimeMS: result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	}

	retryable:= result.Status == models.AttemptFailed && retry.IsRetryable(result.Message)
	return attempt, retryable
}

func (s *Scheduler) submit(ctx context.Context, driver interfaces.SubmissionDriver, directory models.DirectoryDescriptor, profile models.BusinessProfile, mapping models.FormMapping, opts interfaces.SubmitOptions) (interfaces.SubmitResult, error) {
	attemptCtx, cancel:= context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()
	return driver.Submit(attemptCtx, directory, profile, mapping, opts)
}

func (s *Scheduler) terminal(job models.Job, item *queueItem, status models.AttemptStatus, message string, startedAt time.Time) models.SubmissionAttempt {
	return models.SubmissionAttempt{
		JobID: job.JobID,
		DirectoryID: item.directory.DirectoryID,
		DirectoryName: item.directory.Name,
		AttemptOrdinal: item.attemptOrdinal,
		Status: status,
		Message: message,
		StartedAt: startedAt,
		FinishedAt: time.Now(),
	}
}

// synthesiseMapping converts advisor field confidences into a FormMapping,
// dropping fields below the 0.70 confidence floor.
func synthesiseMapping(fields []interfaces.FieldConfidence) models.FormMapping {
	mapping:= make(models.FormMapping)
	for _, f:= range fields {
		if f.Confidence < 0.70 {
			continue
		}
		mapping[f.Field] = f.Selectors
	}
	return mapping
}
