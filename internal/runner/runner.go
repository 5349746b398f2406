// Package runner implements the top-level job runner: the process-wide
// poll loop, job lifecycle, heartbeat emission and graceful shutdown.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/health"
	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
	"github.com/autobolt/runner/internal/scheduler"
)

// JobScheduler is the subset of scheduler.Scheduler the runner drives.
type JobScheduler interface {
	Run(ctx context.Context, job models.Job, directories []models.ScoredDirectory) (*models.JobProgressState, error)
}

// Dependencies bundles the runner's collaborators.
type Dependencies struct {
	ControlPlane interfaces.ControlPlane
	Catalog interfaces.DirectoryCatalog
	Scheduler JobScheduler
	Reporter interfaces.ProgressReporter
	Driver interfaces.SubmissionDriver
	// AlternateDriver may be nil, meaning escalation always falls back to Driver.
	// Its capabilities are still consulted at catalog selection time, since a
	// directory gated on a capability only the alternate driver has (login,
	// CAPTCHA) must still reach the scheduler for escalation to ever see it.
	AlternateDriver interfaces.SubmissionDriver
	// Health, if set, drives the adaptive synthetic-check cadence for every
	// loaded catalog entry once Start is called; nil disables the cadence.
	Health *health.Monitor
	Logger *common.Logger
}

// Config is the runner's tunable knobs, sourced from common.Config.
type Config struct {
	WorkerID string
	PollInterval time.Duration
	HeartbeatInterval time.Duration
}

// Runner owns the process-wide poll loop and lifecycle.
type Runner struct {
	cfg Config
	deps Dependencies

	jobsProcessed int
	jobsMu sync.Mutex

	cancel context.CancelFunc
	wg sync.WaitGroup

	currentAttemptMu sync.Mutex
	currentCancel context.CancelFunc

	shutdownOnce sync.Once
}

// New creates a Runner. Call Start to begin polling.
func New(cfg Config, deps Dependencies) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Runner{cfg: cfg, deps: deps}
}

// safeGo launches a goroutine with panic recovery and logging.
func (r *Runner) safeGo(name string, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec:= recover(); rec != nil {
				r.deps.Logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", rec)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in job runner goroutine")
			}
		}()
		fn()
	}()
}

// Start blocks until Shutdown is called or the driver fails to initialise.
// It launches the poll loop and the heartbeat loop and waits for both to exit.
func (r *Runner) Start(ctx context.Context) error {
	if r.deps.Driver == nil {
		return fmt.Errorf("submission driver is not initialised")
	}

	runCtx, cancel:= context.WithCancel(ctx)
	r.cancel = cancel

	r.deps.Reporter.Start(runCtx)
	r.safeGo("poll-loop", func() { r.pollLoop(runCtx) })
	r.safeGo("heartbeat-loop", func() { r.heartbeatLoop(runCtx) })
	if r.deps.Health != nil && r.deps.Catalog != nil {
		r.startHealthCadence(runCtx)
	}

	r.wg.Wait()
	r.deps.Reporter.Stop()
	return nil
}

// Shutdown stops polling, waits for any in-flight job to reach a safe
// checkpoint (the running attempt finishing or timing out), then releases
// driver resources. Idempotent.
func (r *Runner) Shutdown() {
	r.shutdownOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		if r.deps.Driver != nil {
			if err:= r.deps.Driver.Close(); err != nil {
				r.deps.Logger.Warn().Err(err).Msg("error closing submission driver")
			}
		}
	})
}

func (r *Runner) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if r.pollOnce(ctx) {
			return
		}
	}
}

// pollOnce runs one poll-loop iteration (check queue_paused, poll for work,
// dispatch) and reports whether the runner should stop (ctx cancelled). It
// emits no heartbeat; heartbeats come only from heartbeatLoop's own ticker.
func (r *Runner) pollOnce(ctx context.Context) bool {
	paused, err:= r.deps.ControlPlane.IsQueuePaused(ctx)
	if err != nil {
		r.deps.Logger.Warn().Err(err).Msg("failed to check queue_paused, will retry next poll")
	}
	if paused {
		return r.sleep(ctx, r.cfg.PollInterval)
	}

	job, err:= r.deps.ControlPlane.GetNextJob(ctx)
	if err != nil {
		r.deps.Logger.Warn().Err(err).Msg("failed to fetch next job, will retry next poll")
		return r.sleep(ctx, r.cfg.PollInterval)
	}
	if job == nil {
		return r.sleep(ctx, r.cfg.PollInterval)
	}

	r.runJob(ctx, *job)
	return r.sleep(ctx, r.cfg.PollInterval)
}

func (r *Runner) runJob(ctx context.Context, job models.Job) {
	logger:= r.deps.Logger.WithCorrelationId(job.JobID)
	logger.Info().Str("job_id", job.JobID).Msg("acquired job")

	if err:= r.deps.ControlPlane.UpdateProgress(ctx, job.JobID, nil, models.JobStatusInProgress, ""); err != nil {
		logger.Warn().Err(err).Msg("failed to acknowledge job acquisition")
	}

	jobCtx, cancel:= context.WithCancel(ctx)
	r.currentAttemptMu.Lock()
	r.currentCancel = cancel
	r.currentAttemptMu.Unlock()
	defer func() {
		r.currentAttemptMu.Lock()
		r.currentCancel = nil
		r.currentAttemptMu.Unlock()
		cancel()
	}()

	start:= time.Now()
	directories, err:= r.deps.Catalog.Select(job, r.selectionCapabilities())
	if err != nil {
		r.completeFailed(ctx, job, start, fmt.Sprintf("catalog selection failed: %s", truncate(err.Error())))
		return
	}

	progress, err:= r.runWithRecovery(jobCtx, job, directories)
	if err != nil {
		r.completeFailed(ctx, job, start, fmt.Sprintf("driver crash: %s", truncate(err.Error())))
		return
	}

	r.jobsMu.Lock()
	r.jobsProcessed++
	r.jobsMu.Unlock()

	summary:= models.JobSummary{
		TotalDirectories: progress.TotalSelected,
		SuccessfulSubmissions: progress.Submitted,
		FailedSubmissions: progress.Failed,
		ProcessingTimeSeconds: time.Since(start).Seconds(),
	}

	if err:= r.deps.Reporter.Complete(ctx, job.JobID, models.JobStatusComplete, summary, ""); err != nil {
		logger.Error().Err(err).Msg("completion-lost: CompleteJob failed after exhausting retries")
	}
}

// selectionCapabilities combines the local driver's capabilities with the
// alternate driver's, if one is configured, so the catalog filter admits a
// directory requiring login or CAPTCHA handling whenever EITHER driver can
// attempt it. Selecting on the local driver alone would drop those
// directories before the scheduler's escalation logic ever saw them.
func (r *Runner) selectionCapabilities() interfaces.DriverCapabilities {
	caps:= r.deps.Driver.Capabilities()
	if r.deps.AlternateDriver != nil {
		alt:= r.deps.AlternateDriver.Capabilities()
		caps.HandlesLogin = caps.HandlesLogin || alt.HandlesLogin
		caps.HandlesCaptcha = caps.HandlesCaptcha || alt.HandlesCaptcha
	}
	return caps
}

// runWithRecovery runs the scheduler, converting a driver panic into the
// fatal-driver-failure path (job completed with final_status=failed) rather
// than crashing the runner.
func (r *Runner) runWithRecovery(ctx context.Context, job models.Job, directories []models.ScoredDirectory) (progress *models.JobProgressState, err error) {
	defer func() {
		if rec:= recover(); rec != nil {
			r.deps.Logger.Error().
				Str("job_id", job.JobID).
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", string(debug.Stack())).
				Msg("recovered from panic running job")
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.deps.Scheduler.Run(ctx, job, directories)
}

// completeFailed reports a job as failed with zero counters,
// fatal-driver-failure semantics.
func (r *Runner) completeFailed(ctx context.Context, job models.Job, start time.Time, message string) {
	summary:= models.JobSummary{ProcessingTimeSeconds: time.Since(start).Seconds()}
	if err:= r.deps.Reporter.Complete(ctx, job.JobID, models.JobStatusFailed, summary, message); err != nil {
		r.deps.Logger.Error().Str("job_id", job.JobID).Err(err).Msg("completion-lost: failed to report failed job")
	}
}

const maxErrorMessageLen = 500

func truncate(s string) string {
	if len(s) <= maxErrorMessageLen {
		return s
	}
	return s[:maxErrorMessageLen] + "..."
}

// startHealthCadence seeds the health monitor's priority bucket for every
// loaded directory and launches one adaptive-cadence goroutine per
// directory, each probing independently of any job until ctx is cancelled.
func (r *Runner) startHealthCadence(ctx context.Context) {
	entries:= r.deps.Catalog.Entries()

	urls:= make(map[string]string, len(entries))
	for _, d:= range entries {
		urls[d.DirectoryID] = d.SubmissionURL
	}
	checker:= health.NewHTTPSyntheticChecker(nil, func(directoryID string) string { return urls[directoryID] })

	for _, d:= range entries {
		r.deps.Health.SetBucket(d.DirectoryID, models.BucketFor(d.Priority))
		directoryID:= d.DirectoryID
		r.safeGo("health-cadence-"+directoryID, func() {
			r.deps.Health.RunCadence(ctx, directoryID, checker)
		})
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker:= time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.emitHeartbeat(ctx)
		}
	}
}

func (r *Runner) emitHeartbeat(ctx context.Context) {
	r.jobsMu.Lock()
	processed:= r.jobsProcessed
	r.jobsMu.Unlock()

	if err:= r.deps.ControlPlane.Heartbeat(ctx, r.cfg.WorkerID, processed, "active"); err != nil {
		r.deps.Logger.Warn().Err(err).Msg("heartbeat failed")
	}
}

// sleep waits for d or ctx cancellation, returning true if ctx was cancelled.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}

var _ = scheduler.Config{} // keeps the scheduler import meaningful if Dependencies.Scheduler is ever swapped for *scheduler.Scheduler directly
