package reporter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/models"
	"github.com/autobolt/runner/internal/retry"
)

type fakePlane struct {
	mu            sync.Mutex
	updateCalls   int
	failNextN     int
	lastBatch     []models.SubmissionAttempt
	completeCalls int
	completeFails int
}

func (f *fakePlane) UpdateProgress(ctx context.Context, jobID string, results []models.SubmissionAttempt, status models.JobStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failNextN > 0 {
		f.failNextN--
		return assert.AnError
	}
	f.lastBatch = results
	return nil
}

func (f *fakePlane) CompleteJob(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	if f.completeFails > 0 {
		f.completeFails--
		return assert.AnError
	}
	return nil
}

func fastPolicy() retry.APIPolicy {
	return retry.APIPolicy{MaxAttempts: 3, Base: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestReporter(plane ControlPlane) *Reporter {
	r := New(plane, common.NewSilentLogger(), "test-seed")
	r.policy = fastPolicy()
	return r
}

func TestReporter_FlushSendsBufferedAttempts(t *testing.T) {
	plane := &fakePlane{}
	r := newTestReporter(plane)

	r.Report("job-1", models.SubmissionAttempt{DirectoryID: "a"})
	r.Report("job-1", models.SubmissionAttempt{DirectoryID: "b"})
	r.Flush(context.Background(), "job-1")

	assert.Equal(t, 1, plane.updateCalls)
	assert.Len(t, plane.lastBatch, 2)
}

func TestReporter_FlushEmptyBufferIsNoop(t *testing.T) {
	plane := &fakePlane{}
	r := newTestReporter(plane)
	r.Flush(context.Background(), "job-1")
	assert.Equal(t, 0, plane.updateCalls)
}

func TestReporter_RetriesOnFailureThenSucceeds(t *testing.T) {
	plane := &fakePlane{failNextN: 2}
	r := newTestReporter(plane)

	r.Report("job-1", models.SubmissionAttempt{DirectoryID: "a"})
	r.Flush(context.Background(), "job-1")

	assert.Equal(t, 3, plane.updateCalls)
	assert.Empty(t, r.DeadLetters())
}

func TestReporter_ExhaustedRetriesGoesToDeadLetter(t *testing.T) {
	plane := &fakePlane{failNextN: 100}
	r := newTestReporter(plane)

	r.Report("job-1", models.SubmissionAttempt{DirectoryID: "a"})
	r.Flush(context.Background(), "job-1")

	assert.Equal(t, 3, plane.updateCalls)
	dead := r.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "job-1", dead[0].JobID)
}

func TestReporter_DeadLetterListIsBounded(t *testing.T) {
	plane := &fakePlane{}
	r := newTestReporter(plane)

	for i := 0; i < DeadLetterCap+10; i++ {
		r.appendDeadLetter("job-1", []models.SubmissionAttempt{{DirectoryID: "a"}})
	}
	assert.Len(t, r.DeadLetters(), DeadLetterCap)
}

func TestReporter_SizeTriggeredFlushFiresWithoutWaitingForTicker(t *testing.T) {
	plane := &fakePlane{}
	r := newTestReporter(plane)

	for i := 0; i < BatchSize-1; i++ {
		r.Report("job-1", models.SubmissionAttempt{DirectoryID: "a", AttemptOrdinal: i + 1})
	}
	plane.mu.Lock()
	callsBeforeTrigger := plane.updateCalls
	plane.mu.Unlock()
	assert.Equal(t, 0, callsBeforeTrigger, "flush must not fire before the buffer reaches BatchSize")

	r.Report("job-1", models.SubmissionAttempt{DirectoryID: "a", AttemptOrdinal: BatchSize})

	require.Eventually(t, func() bool {
		plane.mu.Lock()
		defer plane.mu.Unlock()
		return plane.updateCalls == 1 && len(plane.lastBatch) == BatchSize
	}, time.Second, 5*time.Millisecond)
}

func TestReporter_BufferOverflowDropsOldest(t *testing.T) {
	plane := &fakePlane{}
	r := newTestReporter(plane)

	for i := 0; i < BufferCap+50; i++ {
		r.Report("job-1", models.SubmissionAttempt{AttemptOrdinal: i})
	}

	b := r.bufferFor("job-1")
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Len(t, b.pending, BufferCap)
	assert.Equal(t, BufferCap+50-1, b.pending[len(b.pending)-1].AttemptOrdinal)
}

func TestReporter_CompleteFlushesPendingAndSendsSummary(t *testing.T) {
	plane := &fakePlane{}
	r := newTestReporter(plane)

	r.Report("job-1", models.SubmissionAttempt{DirectoryID: "a"})
	err := r.Complete(context.Background(), "job-1", models.JobStatusComplete, models.JobSummary{TotalDirectories: 1}, "")
	require.NoError(t, err)

	assert.Equal(t, 1, plane.updateCalls)
	assert.Equal(t, 1, plane.completeCalls)
}

func TestReporter_CompleteRetriesOnFailure(t *testing.T) {
	plane := &fakePlane{completeFails: 2}
	r := newTestReporter(plane)

	err := r.Complete(context.Background(), "job-1", models.JobStatusComplete, models.JobSummary{}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, plane.completeCalls)
}

func TestReporter_StartStopRunsBackgroundFlush(t *testing.T) {
	plane := &fakePlane{}
	r := newTestReporter(plane)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	r.Report("job-1", models.SubmissionAttempt{DirectoryID: "a"})

	require.Eventually(t, func() bool {
		return plane.updateCalls >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestReporter_IdempotencyKey_StableAndVerifiable(t *testing.T) {
	plane := &fakePlane{}
	r := newTestReporter(plane)

	key1 := r.IdempotencyKey("job-1", "yelp", 1)
	key2 := r.IdempotencyKey("job-1", "yelp", 1)
	key3 := r.IdempotencyKey("job-1", "yelp", 2)

	assert.Equal(t, key1, key2)
	assert.NotEqual(t, key1, key3)
	assert.True(t, r.VerifyIdempotencyKey(key1, "job-1", "yelp", 1))
	assert.False(t, r.VerifyIdempotencyKey(key1, "job-1", "yelp", 2))
}
