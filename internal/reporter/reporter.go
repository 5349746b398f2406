// Package reporter implements interfaces.ProgressReporter: a
// per-job batching buffer that flushes to the control plane on a size or
// time trigger, retries failed flushes with the shared API backoff policy,
// and falls back to a bounded in-memory dead-letter list when retries are
// exhausted. The batching-buffer-plus-background-flush-loop shape mirrors
// the hub's broadcast buffering pattern used for WebSocket fan-out.
package reporter

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
	"github.com/autobolt/runner/internal/retry"
)

const (
	// BatchSize triggers an immediate flush once a job's buffer reaches this many entries.
	BatchSize = 10
	// FlushInterval triggers a flush on a timer even if BatchSize hasn't been reached.
	FlushInterval = 2 * time.Second
	// DeadLetterCap bounds the in-memory dead-letter list (diagnostic export only).
	DeadLetterCap = 100
	// BufferCap bounds a single job's pending buffer; oldest entries are dropped on overflow
	// so a wedged control plane cannot grow the buffer without bound.
	BufferCap = 1000
	// maxCompleteAttempts backstops CompleteJob's "retry to exhaustion" policy
	// against looping forever should the job's context never be
	// cancelled; no finite cap is specified, so this is set far above any
	// realistic outage window.
	maxCompleteAttempts = 1000
)

// ControlPlane is the subset of interfaces.ControlPlane the reporter calls.
type ControlPlane interface {
	UpdateProgress(ctx context.Context, jobID string, results []models.SubmissionAttempt, status models.JobStatus, errorMessage string) error
	CompleteJob(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error
}

type jobBuffer struct {
	mu sync.Mutex
	pending []models.SubmissionAttempt
}

// Reporter batches per-job attempt outcomes and flushes them to the control
// plane with at-least-once delivery semantics.
type Reporter struct {
	plane ControlPlane
	logger *common.Logger
	policy retry.APIPolicy
	idKey [32]byte

	mu sync.Mutex
	buffers map[string]*jobBuffer

	deadMu sync.Mutex
	deadLetters []interfaces.DeadLetterEntry

	ctxMu sync.RWMutex
	runCtx context.Context

	stop chan struct{}
	done chan struct{}
}

// New creates a Reporter. idempotencySeed keys the digest that
// IdempotencyKey and VerifyIdempotencyKey compute per (job, directory,
// attempt); the Reporter itself neither logs nor sends it — any stable per-worker
// secret is suitable; it need not be the control-plane API key.
func New(plane ControlPlane, logger *common.Logger, idempotencySeed string) *Reporter {
	key:= blake2b.Sum256([]byte(idempotencySeed))
	return &Reporter{
		plane: plane,
		logger: logger,
		policy: retry.DefaultAPIPolicy(),
		idKey: key,
		buffers: make(map[string]*jobBuffer),
	}
}

// IdempotencyKey returns a stable digest for (jobID, directoryID,
// attemptOrdinal), suitable as a dedup header so a re-sent batch after a
// partial delivery failure is recognisably the same attempt ('s
// at-least-once guarantee requires idempotent consumers).
func (r *Reporter) IdempotencyKey(jobID, directoryID string, attemptOrdinal int) string {
	mac, err:= blake2b.New256(r.idKey[:])
	if err != nil {
		// blake2b.New256 only errors on an oversized key, which Sum256's fixed
		// 32-byte output can never produce.
		panic(fmt.Sprintf("blake2b keyed hash: %v", err))
	}
	fmt.Fprintf(mac, "%s|%s|%d", jobID, directoryID, attemptOrdinal)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyIdempotencyKey reports whether key matches the digest this reporter
// would compute for (jobID, directoryID, attemptOrdinal), using a
// constant-time comparison.
func (r *Reporter) VerifyIdempotencyKey(key, jobID, directoryID string, attemptOrdinal int) bool {
	expected:= r.IdempotencyKey(jobID, directoryID, attemptOrdinal)
	return subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1
}

func (r *Reporter) bufferFor(jobID string) *jobBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok:= r.buffers[jobID]
	if !ok {
		b = &jobBuffer{}
		r.buffers[jobID] = b
	}
	return b
}

// Report enqueues one attempt outcome into the per-job batch buffer. Once
// the buffer reaches BatchSize it triggers an immediate background flush,
// rather than waiting for the next FlushInterval tick.
func (r *Reporter) Report(jobID string, attempt models.SubmissionAttempt) {
	b:= r.bufferFor(jobID)
	b.mu.Lock()
	b.pending = append(b.pending, attempt)
	trigger:= len(b.pending) >= BatchSize
	if len(b.pending) > BufferCap {
		overflow:= len(b.pending) - BufferCap
		b.pending = b.pending[overflow:]
		r.logger.Warn().Str("job_id", jobID).Int("dropped", overflow).Msg("progress buffer overflowed, dropped oldest entries")
	}
	b.mu.Unlock()

	if trigger {
		go r.Flush(r.flushCtx(), jobID)
	}
}

// flushCtx returns the context passed to Start, for background flushes
// triggered outside the ticker loop (e.g. a size-triggered flush from
// Report, which has no context of its own). Falls back to
// context.Background() if Start has not been called yet.
func (r *Reporter) flushCtx() context.Context {
	r.ctxMu.RLock()
	defer r.ctxMu.RUnlock()
	if r.runCtx != nil {
		return r.runCtx
	}
	return context.Background()
}

// Start launches the background flush loop that ticks every FlushInterval
// across all buffered jobs until Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	r.ctxMu.Lock()
	r.runCtx = ctx
	r.ctxMu.Unlock()

	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(ctx)
}

func (r *Reporter) run(ctx context.Context) {
	defer close(r.done)
	ticker:= time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.flushDue(ctx)
		}
	}
}

func (r *Reporter) flushDue(ctx context.Context) {
	r.mu.Lock()
	jobIDs:= make([]string, 0, len(r.buffers))
	for id:= range r.buffers {
		jobIDs = append(jobIDs, id)
	}
	r.mu.Unlock()

	for _, jobID:= range jobIDs {
		r.Flush(ctx, jobID)
	}
}

// Flush drains the current buffer for jobID immediately. Called both by the
// background loop (on a timer) and by workers once a buffer reaches
// BatchSize, and unconditionally at job completion.
func (r *Reporter) Flush(ctx context.Context, jobID string) {
	b:= r.bufferFor(jobID)

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch:= b.pending
	b.pending = nil
	b.mu.Unlock()

	if err:= r.sendWithRetry(ctx, jobID, batch); err != nil {
		r.logger.Warn().Str("job_id", jobID).Int("batch_size", len(batch)).Err(err).Msg("progress batch exhausted retries, moved to dead letter")
		r.appendDeadLetter(jobID, batch)
	}
}

func (r *Reporter) sendWithRetry(ctx context.Context, jobID string, batch []models.SubmissionAttempt) error {
	var lastErr error
	for attempt:= 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err:= r.plane.UpdateProgress(ctx, jobID, batch, models.JobStatusInProgress, "")
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < r.policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.policy.Delay(attempt)):
			}
		}
	}
	return lastErr
}

func (r *Reporter) appendDeadLetter(jobID string, batch []models.SubmissionAttempt) {
	r.deadMu.Lock()
	defer r.deadMu.Unlock()
	r.deadLetters = append(r.deadLetters, interfaces.DeadLetterEntry{
		JobID: jobID,
		Batch: batch,
		Timestamp: time.Now().Unix(),
	})
	if len(r.deadLetters) > DeadLetterCap {
		r.deadLetters = r.deadLetters[len(r.deadLetters)-DeadLetterCap:]
	}
}

// DeadLetters returns a snapshot of batches that exhausted retries undelivered.
func (r *Reporter) DeadLetters() []interfaces.DeadLetterEntry {
	r.deadMu.Lock()
	defer r.deadMu.Unlock()
	out:= make([]interfaces.DeadLetterEntry, len(r.deadLetters))
	copy(out, r.deadLetters)
	return out
}

// Complete delivers the mandatory, retried-to-exhaustion final call. If it
// ultimately fails, the caller (Job Runner) logs the durable
// "completion-lost" marker; the reporter itself only reports the error.
func (r *Reporter) Complete(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error {
	r.Flush(ctx, jobID)

	var lastErr error
	for attempt:= 1;; attempt++ {
		err:= r.plane.CompleteJob(ctx, jobID, finalStatus, summary, errorMessage)
		if err == nil {
			r.mu.Lock()
			delete(r.buffers, jobID)
			r.mu.Unlock()
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
		delay:= r.policy.Delay(attempt)
		r.logger.Debug().Str("job_id", jobID).Int("attempt", attempt).Err(err).Msg("CompleteJob failed, retrying to exhaustion")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if attempt >= maxCompleteAttempts {
			return lastErr
		}
	}
}

// Stop drains any in-flight flush and releases the background loop.
func (r *Reporter) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
}

var _ interfaces.ProgressReporter = (*Reporter)(nil)
