package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/models"
)

type fakeProxy struct{ saturation float64 }

func (p fakeProxy) Saturation() float64 { return p.saturation }

func newTestMonitor() *Monitor {
	return NewMonitor(common.NewSilentLogger(), nil)
}

func TestMonitor_UnhealthyAfter20LowObservations(t *testing.T) {
	m := newTestMonitor()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		m.Observe(ctx, "dir-1", models.AttemptFailed, 100)
	}

	assert.True(t, m.IsUnhealthy("dir-1"))
}

func TestMonitor_RecoversAfter10HighObservations(t *testing.T) {
	m := newTestMonitor()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		m.Observe(ctx, "dir-1", models.AttemptFailed, 100)
	}
	assert.True(t, m.IsUnhealthy("dir-1"))

	for i := 0; i < 10; i++ {
		m.Observe(ctx, "dir-1", models.AttemptSubmitted, 100)
	}
	assert.False(t, m.IsUnhealthy("dir-1"))
}

func TestMonitor_SkippedDoesNotAffectStats(t *testing.T) {
	m := newTestMonitor()
	ctx := context.Background()

	m.Observe(ctx, "dir-1", models.AttemptSubmitted, 50)
	m.Observe(ctx, "dir-1", models.AttemptSkipped, 0)

	snap, ok := m.Snapshot("dir-1")
	assert.True(t, ok)
	assert.Equal(t, 1, snap.Observations)
}

func TestMonitor_SnapshotUnknownDirectory(t *testing.T) {
	m := newTestMonitor()
	_, ok := m.Snapshot("missing")
	assert.False(t, ok)
	assert.False(t, m.IsUnhealthy("missing"))
}

func TestMonitor_CadenceForUsesBucketDefaultWhenSaturationNeutral(t *testing.T) {
	m := NewMonitor(common.NewSilentLogger(), fakeProxy{saturation: 0.5})
	m.SetBucket("dir-1", models.BucketCritical)
	assert.Equal(t, models.HealthCheckCadence(models.BucketCritical), m.cadenceFor("dir-1"))
}

func TestMonitor_CadenceForStretchesWhenSaturated(t *testing.T) {
	m := NewMonitor(common.NewSilentLogger(), fakeProxy{saturation: 0.9})
	m.SetBucket("dir-1", models.BucketHigh)
	base := models.HealthCheckCadence(models.BucketHigh)
	assert.Equal(t, time.Duration(float64(base)*1.2), m.cadenceFor("dir-1"))
}

func TestMonitor_CadenceForShrinksWhenUnderutilised(t *testing.T) {
	m := NewMonitor(common.NewSilentLogger(), fakeProxy{saturation: 0.1})
	m.SetBucket("dir-1", models.BucketMedium)
	base := models.HealthCheckCadence(models.BucketMedium)
	assert.Equal(t, time.Duration(float64(base)*0.9), m.cadenceFor("dir-1"))
}

func TestMonitor_CadenceForUnknownDirectoryFallsBackToLowBucket(t *testing.T) {
	m := newTestMonitor()
	assert.Equal(t, models.HealthCheckCadence(models.BucketLow), m.cadenceFor("missing"))
}

func TestMonitor_RunCadenceReturnsOnContextCancellation(t *testing.T) {
	m := newTestMonitor()
	m.SetBucket("dir-1", models.BucketCritical)

	ctx, cancel := context.WithCancel(context.Background())
	checker := func(ctx context.Context, directoryID string) (bool, int64) { return true, 5 }

	done := make(chan struct{})
	go func() {
		m.RunCadence(ctx, "dir-1", checker)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunCadence did not return after context cancellation")
	}
}

func TestNewHTTPSyntheticChecker_SuccessOnNon5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewHTTPSyntheticChecker(nil, func(directoryID string) string { return srv.URL })
	success, responseTimeMS := checker(context.Background(), "dir-1")
	assert.True(t, success)
	assert.GreaterOrEqual(t, responseTimeMS, int64(0))
}

func TestNewHTTPSyntheticChecker_FailureOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := NewHTTPSyntheticChecker(nil, func(directoryID string) string { return srv.URL })
	success, _ := checker(context.Background(), "dir-1")
	assert.False(t, success)
}

func TestNewHTTPSyntheticChecker_EmptyURLFailsWithoutDialing(t *testing.T) {
	checker := NewHTTPSyntheticChecker(nil, func(directoryID string) string { return "" })
	success, responseTimeMS := checker(context.Background(), "missing")
	assert.False(t, success)
	assert.Equal(t, int64(0), responseTimeMS)
}

func TestNewHTTPSyntheticChecker_UnreachableURLFails(t *testing.T) {
	checker := NewHTTPSyntheticChecker(&http.Client{Timeout: time.Second}, func(directoryID string) string {
		return "http://127.0.0.1:1"
	})
	success, _ := checker(context.Background(), "dir-1")
	assert.False(t, success)
}
