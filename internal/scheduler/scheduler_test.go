package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobolt/runner/internal/breaker"
	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
	"github.com/autobolt/runner/internal/retry"
)

// fakeDriver records concurrent call depth and simulates either a fixed
// outcome or a per-directory sequence of outcomes (for retry tests).
type fakeDriver struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	delay       time.Duration
	outcomes    map[string][]interfaces.SubmitResult
	calls       map[string]int
	caps        interfaces.DriverCapabilities
	fixed       interfaces.SubmitResult
	fixedErr    error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		outcomes: make(map[string][]interfaces.SubmitResult),
		calls:    make(map[string]int),
		fixed:    interfaces.SubmitResult{Status: models.AttemptSubmitted},
	}
}

func (f *fakeDriver) Submit(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile, mapping models.FormMapping, opts interfaces.SubmitOptions) (interfaces.SubmitResult, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.inFlight--
			f.mu.Unlock()
			return interfaces.SubmitResult{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	f.mu.Lock()
	defer func() {
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.fixedErr != nil {
		return interfaces.SubmitResult{}, f.fixedErr
	}

	if seq, ok := f.outcomes[directory.DirectoryID]; ok {
		idx := f.calls[directory.DirectoryID]
		f.calls[directory.DirectoryID]++
		if idx >= len(seq) {
			idx = len(seq) - 1
		}
		r := seq[idx]
		r.StartedAt, r.FinishedAt = time.Now(), time.Now()
		return r, nil
	}

	f.calls[directory.DirectoryID]++
	r := f.fixed
	r.StartedAt, r.FinishedAt = time.Now(), time.Now()
	return r, nil
}

func (f *fakeDriver) Capabilities() interfaces.DriverCapabilities { return f.caps }
func (f *fakeDriver) Close() error                                { return nil }

func (f *fakeDriver) maxObservedInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *fakeDriver) callCount(directoryID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[directoryID]
}

// fakeReporter collects reported attempts.
type fakeReporter struct {
	mu       sync.Mutex
	attempts []models.SubmissionAttempt
}

func (r *fakeReporter) Report(jobID string, attempt models.SubmissionAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
}
func (r *fakeReporter) Flush(ctx context.Context, jobID string) {}
func (r *fakeReporter) Complete(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error {
	return nil
}
func (r *fakeReporter) DeadLetters() []interfaces.DeadLetterEntry { return nil }
func (r *fakeReporter) Start(ctx context.Context)                 {}
func (r *fakeReporter) Stop()                                     {}

func (r *fakeReporter) snapshot() []models.SubmissionAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SubmissionAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

// fakeHealth is a no-op HealthMonitor.
type fakeHealth struct{}

func (fakeHealth) Observe(ctx context.Context, directoryID string, status models.AttemptStatus, responseTimeMS int64) {
}
func (fakeHealth) IsUnhealthy(directoryID string) bool { return false }
func (fakeHealth) Snapshot(directoryID string) (models.HealthRecord, bool) {
	return models.HealthRecord{}, false
}

func testDirectory(id string) models.DirectoryDescriptor {
	return models.DirectoryDescriptor{
		DirectoryID: id,
		Name:        id,
		FormMapping: models.FormMapping{"business_name": {"#name"}},
	}
}

func testJob() models.Job {
	return models.Job{JobID: "job-1", Profile: models.BusinessProfile{Name: "Acme"}}
}

func baseConfig() Config {
	return Config{
		MaxConcurrentAttempts:  2,
		DirDelayMin:            time.Millisecond,
		DirDelayMax:            2 * time.Millisecond,
		AttemptTimeout:         time.Second,
		AdvisorTimeout:         time.Second,
		AIProbabilityThreshold: 0,
		EscalationThreshold:    3,
		RetryPolicy:            retry.DirectoryPolicy{MaxRetries: 2, Base: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func TestScheduler_ConcurrencyNeverExceedsCap(t *testing.T) {
	driver := newFakeDriver()
	driver.delay = 20 * time.Millisecond

	var dirs []models.ScoredDirectory
	for i := 0; i < 8; i++ {
		dirs = append(dirs, models.ScoredDirectory{Descriptor: testDirectory(string(rune('a' + i))), CompositeScore: 0.9})
	}

	s := New(baseConfig(), Dependencies{
		Driver:   driver,
		Advisors: interfaces.Advisors{},
		Breaker:  breaker.NewRegistry(5, time.Minute),
		Health:   fakeHealth{},
		Reporter: &fakeReporter{},
	})

	progress, err := s.Run(context.Background(), testJob(), dirs)
	require.NoError(t, err)
	assert.LessOrEqual(t, driver.maxObservedInFlight(), 2)
	assert.Equal(t, 8, progress.TotalSelected)
}

func TestScheduler_CancellationStopsPromptly(t *testing.T) {
	driver := newFakeDriver()
	driver.delay = 200 * time.Millisecond

	var dirs []models.ScoredDirectory
	for i := 0; i < 10; i++ {
		dirs = append(dirs, models.ScoredDirectory{Descriptor: testDirectory(string(rune('a' + i))), CompositeScore: 0.9})
	}

	s := New(baseConfig(), Dependencies{
		Driver:   driver,
		Advisors: interfaces.Advisors{},
		Breaker:  breaker.NewRegistry(5, time.Minute),
		Health:   fakeHealth{},
		Reporter: &fakeReporter{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, testJob(), dirs)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop within 1s of cancellation")
	}
}

// acquireRecorderProxy records how long each resource-proxy slot is held,
// from Acquire to its matching release call.
type acquireRecorderProxy struct {
	mu   sync.Mutex
	held []time.Duration
}

func (p *acquireRecorderProxy) Saturation() float64 { return 0 }

func (p *acquireRecorderProxy) Acquire() func() {
	acquiredAt := time.Now()
	return func() {
		p.mu.Lock()
		p.held = append(p.held, time.Since(acquiredAt))
		p.mu.Unlock()
	}
}

func TestScheduler_PermitHeldThroughInterAttemptPacingDelay(t *testing.T) {
	driver := newFakeDriver()
	driver.delay = 5 * time.Millisecond

	proxy := &acquireRecorderProxy{}
	cfg := baseConfig()
	cfg.MaxConcurrentAttempts = 1
	cfg.DirDelayMin = 40 * time.Millisecond
	cfg.DirDelayMax = 50 * time.Millisecond
	cfg.RetryPolicy = retry.DirectoryPolicy{MaxRetries: 0, Base: time.Millisecond, MaxDelay: time.Millisecond}

	s := New(cfg, Dependencies{
		Driver:   driver,
		Advisors: interfaces.Advisors{},
		Breaker:  breaker.NewRegistry(5, time.Minute),
		Health:   fakeHealth{},
		Reporter: &fakeReporter{},
		Proxy:    proxy,
	})

	dirs := []models.ScoredDirectory{{Descriptor: testDirectory("a"), CompositeScore: 0.9}}
	_, err := s.Run(context.Background(), testJob(), dirs)
	require.NoError(t, err)

	require.Len(t, proxy.held, 1)
	// The permit must still be held through the pacing sleep: the measured
	// hold duration should cover both the submit delay and most of the
	// minimum inter-attempt delay, not just the submit call.
	assert.GreaterOrEqual(t, proxy.held[0], driver.delay+cfg.DirDelayMin/2)
}

func TestScheduler_RetryReenqueuesWithIncrementedOrdinal(t *testing.T) {
	driver := newFakeDriver()
	driver.outcomes["flaky"] = []interfaces.SubmitResult{
		{Status: models.AttemptFailed, Message: "connection reset"},
		{Status: models.AttemptSubmitted},
	}

	reporter := &fakeReporter{}
	cfg := baseConfig()
	cfg.MaxConcurrentAttempts = 1

	s := New(cfg, Dependencies{
		Driver:   driver,
		Advisors: interfaces.Advisors{},
		Breaker:  breaker.NewRegistry(5, time.Minute),
		Health:   fakeHealth{},
		Reporter: reporter,
	})

	dirs := []models.ScoredDirectory{{Descriptor: testDirectory("flaky"), CompositeScore: 0.5}}
	_, err := s.Run(context.Background(), testJob(), dirs)
	require.NoError(t, err)

	attempts := reporter.snapshot()
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].AttemptOrdinal)
	assert.Equal(t, models.AttemptFailed, attempts[0].Status)
	assert.Equal(t, 2, attempts[1].AttemptOrdinal)
	assert.Equal(t, models.AttemptSubmitted, attempts[1].Status)
}

func TestScheduler_CircuitBreakerOpenSkipsAttempts(t *testing.T) {
	driver := newFakeDriver()
	reporter := &fakeReporter{}
	reg := breaker.NewRegistry(1, time.Hour)
	// Trip the submit breaker before Run starts.
	reg.RecordFailure("submit")

	s := New(baseConfig(), Dependencies{
		Driver:   driver,
		Advisors: interfaces.Advisors{},
		Breaker:  reg,
		Health:   fakeHealth{},
		Reporter: reporter,
	})

	dirs := []models.ScoredDirectory{{Descriptor: testDirectory("x"), CompositeScore: 0.9}}
	_, err := s.Run(context.Background(), testJob(), dirs)
	require.NoError(t, err)

	assert.Equal(t, 0, driver.callCount("x"))
	attempts := reporter.snapshot()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptSkipped, attempts[0].Status)
	assert.Equal(t, "circuit breaker open", attempts[0].Message)
}

func TestScheduler_EmptyDirectoryListReturnsImmediately(t *testing.T) {
	s := New(baseConfig(), Dependencies{
		Driver:   newFakeDriver(),
		Advisors: interfaces.Advisors{},
		Breaker:  breaker.NewRegistry(5, time.Minute),
		Health:   fakeHealth{},
		Reporter: &fakeReporter{},
	})

	progress, err := s.Run(context.Background(), testJob(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.TotalSelected)
}

func TestScheduler_HighEscalationScoreRoutesToAlternateDriver(t *testing.T) {
	primary := newFakeDriver()
	alternate := newFakeDriver()

	hard := testDirectory("hard")
	hard.RequiresLogin = true
	hard.HasCaptcha = true
	hard.HasAntiBot = true
	hard.Difficulty = models.DifficultyHard

	cfg := baseConfig()
	cfg.EscalationThreshold = 2

	s := New(cfg, Dependencies{
		Driver:          primary,
		AlternateDriver: alternate,
		Advisors:        interfaces.Advisors{},
		Breaker:         breaker.NewRegistry(5, time.Minute),
		Health:          fakeHealth{},
		Reporter:        &fakeReporter{},
	})

	dirs := []models.ScoredDirectory{{Descriptor: hard, CompositeScore: 0.9, FailureRate: 0.7}}
	_, err := s.Run(context.Background(), testJob(), dirs)
	require.NoError(t, err)

	assert.Equal(t, 1, alternate.callCount("hard"))
	assert.Equal(t, 0, primary.callCount("hard"))
}

func TestScheduler_AlternateDriverFailureFallsBackToPrimary(t *testing.T) {
	primary := newFakeDriver()
	alternate := newFakeDriver()
	alternate.fixedErr = assert.AnError

	hard := testDirectory("hard")
	hard.RequiresLogin = true
	hard.HasCaptcha = true
	hard.HasAntiBot = true

	cfg := baseConfig()
	cfg.EscalationThreshold = 2

	s := New(cfg, Dependencies{
		Driver:          primary,
		AlternateDriver: alternate,
		Advisors:        interfaces.Advisors{},
		Breaker:         breaker.NewRegistry(5, time.Minute),
		Health:          fakeHealth{},
		Reporter:        &fakeReporter{},
	})

	dirs := []models.ScoredDirectory{{Descriptor: hard, CompositeScore: 0.9, FailureRate: 0.7}}
	_, err := s.Run(context.Background(), testJob(), dirs)
	require.NoError(t, err)

	assert.Equal(t, 1, primary.callCount("hard"))
}

func TestEffectiveCap(t *testing.T) {
	assert.Equal(t, int64(10), effectiveCap(10, 0.5))
	assert.Equal(t, int64(7), effectiveCap(10, 0.75))
	assert.Equal(t, int64(5), effectiveCap(10, 0.85))
	assert.Equal(t, int64(1), effectiveCap(1, 0.9))
}

func TestEscalationScore(t *testing.T) {
	d := testDirectory("x")
	d.FormMapping = models.FormMapping{"businessName": {"#n"}, "email": {"#e"}, "phone": {"#p"}}
	assert.Equal(t, 0, EscalationScore(d, 0.1))

	d.RequiresLogin = true
	d.HasCaptcha = true
	assert.Equal(t, 2, EscalationScore(d, 0.1))

	assert.True(t, ShouldEscalate(d, 0.65, 3))
	assert.False(t, ShouldEscalate(d, 0.1, 3))
}
