// Package scheduler implements the per-job priority worker pool:
// strict-priority bucket draw, adaptive concurrency, per-directory rate
// limiting, retry/circuit-breaker integration, and batched progress
// reporting. One Scheduler instance is scoped to a single job at a time:
// exactly one job active, up to max_concurrent_attempts running in parallel.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
	"github.com/autobolt/runner/internal/retry"
)

// ResourceProxy reports a coarse saturation figure (process heap-used proxy
// blended with in-flight count) driving adaptive concurrency.
type ResourceProxy interface {
	Saturation() float64
}

// inFlightAcquirer is an optional capability a ResourceProxy may implement to
// fold the in-flight attempt count into its saturation reading. resource.Proxy
// implements this; a bare Saturation()-only proxy (e.g. in tests) need not.
type inFlightAcquirer interface {
	Acquire() func()
}

// Dependencies bundles the collaborators a Scheduler dispatches through.
// AlternateDriver may be nil, meaning escalation always falls back to Driver.
type Dependencies struct {
	Driver interfaces.SubmissionDriver
	AlternateDriver interfaces.SubmissionDriver
	Advisors interfaces.Advisors
	Breaker interfaces.CircuitBreakerRegistry
	Health interfaces.HealthMonitor
	Reporter interfaces.ProgressReporter
	Logger *common.Logger
	Proxy ResourceProxy
}

// Config is the scheduler's tunable knobs, sourced from common.Config.
type Config struct {
	MaxConcurrentAttempts int
	DirDelayMin time.Duration
	DirDelayMax time.Duration
	AttemptTimeout time.Duration
	AdvisorTimeout time.Duration
	AIProbabilityThreshold float64
	EscalationThreshold int
	RetryPolicy retry.DirectoryPolicy
}

// Scheduler runs one job's worker pool to completion.
type Scheduler struct {
	cfg Config
	deps Dependencies

	limiterMu sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Scheduler. Call Run once per job.
func New(cfg Config, deps Dependencies) *Scheduler {
	if cfg.AdvisorTimeout <= 0 {
		cfg.AdvisorTimeout = 5 * time.Second
	}
	return &Scheduler{cfg: cfg, deps: deps, limiters: make(map[string]*rate.Limiter)}
}

func (s *Scheduler) limiterFor(directoryID string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok:= s.limiters[directoryID]
	if !ok {
		interval:= s.cfg.DirDelayMin
		if interval <= 0 {
			interval = time.Second
		}
		l = rate.NewLimiter(rate.Every(interval), 1)
		s.limiters[directoryID] = l
	}
	return l
}

// Run dispatches directories through the worker pool and returns the job's
// final progress tally. It returns once the queue drains or ctx is cancelled;
// the error result is always nil, since a driver error is recorded as a failed
// attempt and the remaining directories still run.
func (s *Scheduler) Run(ctx context.Context, job models.Job, directories []models.ScoredDirectory) (*models.JobProgressState, error) {
	progress:= &models.JobProgressState{TotalSelected: len(directories)}
	if len(directories) == 0 {
		return progress, nil
	}

	q:= newPriorityQueue()
	for _, d:= range directories {
		q.Push(&queueItem{
			directory: d.Descriptor,
			failureRate: d.FailureRate,
			attemptOrdinal: 1,
			score: d.CompositeScore,
			retriesLeft: s.cfg.RetryPolicy.MaxRetries,
		})
	}
	q.Close()

	gate:= newConcurrencyGate(int64(s.cfg.MaxConcurrentAttempts))
	gateCtx, stopGate:= context.WithCancel(ctx)
	defer stopGate()
	if s.deps.Proxy != nil {
		go s.runAdaptiveConcurrency(gateCtx, gate)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	workers:= s.cfg.MaxConcurrentAttempts
	if workers < 1 {
		workers = 1
	}

	for i:= 0; i < workers; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, &mu, progress, job, q, gate)
	}
	wg.Wait()

	return progress, nil
}

func (s *Scheduler) runAdaptiveConcurrency(ctx context.Context, gate *concurrencyGate) {
	ticker:= time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sat:= s.deps.Proxy.Saturation()
			gate.Resize(effectiveCap(s.cfg.MaxConcurrentAttempts, sat))
		}
	}
}

// worker pulls items until the queue drains or ctx is cancelled, running each
// attempt to a terminal outcome (recording it) or re-enqueuing a retry.
func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, mu *sync.Mutex, progress *models.JobProgressState, job models.Job, q *priorityQueue, gate *concurrencyGate) {
	defer wg.Done()

	for {
		item, ok:= q.Pop(ctx)
		if !ok {
			return
		}

		if ctx.Err() != nil {
			s.record(mu, progress, job, item, models.AttemptSkipped, "cancelled", time.Now(), time.Now())
			q.Finish()
			continue
		}

		if !s.deps.Breaker.Allow("submit") {
			s.record(mu, progress, job, item, models.AttemptSkipped, "circuit breaker open", time.Now(), time.Now())
			q.Finish()
			continue
		}

		sem, err:= gate.Acquire(ctx)
		if err != nil {
			s.record(mu, progress, job, item, models.AttemptSkipped, "cancelled", time.Now(), time.Now())
			q.Finish()
			continue
		}

		var release func()
		if acquirer, ok:= s.deps.Proxy.(inFlightAcquirer); ok {
			release = acquirer.Acquire()
		}
		attempt, retryable:= s.runAttempt(ctx, job, item)

		s.deps.Reporter.Report(job.JobID, attempt)
		if s.deps.Health != nil {
			s.deps.Health.Observe(ctx, item.directory.DirectoryID, attempt.Status, attempt.ResponseTimeMS)
		}

		mu.Lock()
		progress.Record(attempt.Status)
		if attempt.Status == models.AttemptFailed {
			progress.RecordError(fmt.Sprintf("%s: %s", item.directory.DirectoryID, attempt.Message))
		}
		mu.Unlock()

		// The inter-attempt pacing delay is served while still holding the
		// concurrency permit and the resource-proxy slot, so the human-like
		// pacing throttle counts against the concurrency bound instead of
		// letting another worker start a new attempt during this worker's delay.
		if retryable && item.retriesLeft > 0 {
			s.sleepInterAttemptDelay(ctx)
			if release != nil {
				release()
			}
			sem.Release(1)
			// Back off d_k before the k-th retry re-enters the queue. The item
			// is still counted as active, so the queue cannot drain meanwhile.
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.RetryPolicy.Delay(item.attemptOrdinal)):
			}
			item.retriesLeft--
			item.attemptOrdinal++
			item.score = retry.BoostedPriority(item.score)
			q.Push(item)
			q.Finish()
			continue
		}

		s.sleepInterAttemptDelay(ctx)
		if release != nil {
			release()
		}
		sem.Release(1)
		q.Finish()
	}
}

func (s *Scheduler) record(mu *sync.Mutex, progress *models.JobProgressState, job models.Job, item *queueItem, status models.AttemptStatus, message string, started, finished time.Time) {
	attempt:= models.SubmissionAttempt{
		JobID: job.JobID,
		DirectoryID: item.directory.DirectoryID,
		DirectoryName: item.directory.Name,
		AttemptOrdinal: item.attemptOrdinal,
		Status: status,
		Message: message,
		StartedAt: started,
		FinishedAt: finished,
	}
	s.deps.Reporter.Report(job.JobID, attempt)

	mu.Lock()
	progress.Record(status)
	mu.Unlock()
}

func (s *Scheduler) sleepInterAttemptDelay(ctx context.Context) {
	lo, hi:= s.cfg.DirDelayMin, s.cfg.DirDelayMax
	if hi < lo {
		hi = lo
	}
	span:= hi - lo
	d:= lo
	if span > 0 {
		d = lo + time.Duration(rand.Int63n(int64(span)+1))
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
