// Package driver implements the two concrete interfaces.SubmissionDriver
// collaborators the Job Runner wires in: a local HTTP form-poster for
// straightforward directories, and an HTTP call to an external alternate
// worker for the escalation path. HTML parsing, CAPTCHA solving, and
// humanised typing are out of scope here; both drivers only cross the
// network boundary the contract defines.
package driver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
)

const (
	// DefaultTimeout bounds the local driver's own HTTP round trip; the
	// scheduler's per-attempt deadline ('s 60s default) still wraps it.
	DefaultTimeout = 45 * time.Second
)

// LocalDriver posts a business profile's mapped fields directly to a
// directory's submission URL as a form-encoded request. It handles neither
// login walls nor CAPTCHAs (Capabilities reports both false), matching the
// directories the catalog filter leaves un-escalated.
type LocalDriver struct {
	httpClient *http.Client
	logger *common.Logger
}

// LocalDriverOption configures a LocalDriver.
type LocalDriverOption func(*LocalDriver)

// WithHTTPClient overrides the default HTTP client (tests inject one
// pointed at an httptest.Server).
func WithHTTPClient(client *http.Client) LocalDriverOption {
	return func(d *LocalDriver) { d.httpClient = client }
}

// WithLogger sets the driver's logger.
func WithLogger(logger *common.Logger) LocalDriverOption {
	return func(d *LocalDriver) { d.logger = logger }
}

// NewLocalDriver creates a LocalDriver.
func NewLocalDriver(opts...LocalDriverOption) *LocalDriver {
	d:= &LocalDriver{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger: common.NewSilentLogger(),
	}
	for _, opt:= range opts {
		opt(d)
	}
	return d
}

// Submit fills directory's mapped form fields from profile and posts them.
// mapping is expected to already be normalised (canonical field names); a
// field with no candidate selector is skipped rather than attempted blind.
func (d *LocalDriver) Submit(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile, mapping models.FormMapping, opts interfaces.SubmitOptions) (interfaces.SubmitResult, error) {
	started:= time.Now()

	if len(mapping) == 0 {
		return interfaces.SubmitResult{
			Status: models.AttemptSkipped,
			Message: "no form mapping available",
			StartedAt: started,
			FinishedAt: time.Now(),
		}, nil
	}

	form:= buildFormValues(mapping, profile)
	if len(form) == 0 {
		return interfaces.SubmitResult{
			Status: models.AttemptSkipped,
			Message: "no mapped fields had profile data",
			StartedAt: started,
			FinishedAt: time.Now(),
		}, nil
	}

	if directory.SubmissionURL == "" {
		return interfaces.SubmitResult{
			Status: models.AttemptFailed,
			Message: "directory has no submission URL",
			StartedAt: started,
			FinishedAt: time.Now(),
		}, nil
	}

	req, err:= http.NewRequestWithContext(ctx, http.MethodPost, directory.SubmissionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return interfaces.SubmitResult{}, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	d.logger.Debug().Str("directory_id", directory.DirectoryID).Int("fields", len(form)).Msg("posting directory submission")

	resp, err:= d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return interfaces.SubmitResult{
				Status: models.AttemptFailed,
				Message: "timeout",
				StartedAt: started,
				FinishedAt: time.Now(),
			}, nil
		}
		return interfaces.SubmitResult{
			Status: models.AttemptFailed,
			Message: fmt.Sprintf("network error: %s", err.Error()),
			StartedAt: started,
			FinishedAt: time.Now(),
		}, nil
	}
	defer resp.Body.Close()

	finished:= time.Now()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return interfaces.SubmitResult{
			Status: models.AttemptSubmitted,
			Message: "accepted",
			StartedAt: started,
			FinishedAt: finished,
			FilledFieldsCount: len(form),
		}, nil
	}

	return interfaces.SubmitResult{
		Status: models.AttemptFailed,
		Message: fmt.Sprintf("directory returned status %d", resp.StatusCode),
		StartedAt: started,
		FinishedAt: finished,
	}, nil
}

// Capabilities reports that the local driver handles neither login walls
// nor CAPTCHAs; directories requiring either are filtered out by the catalog
// or escalated to the alternate driver.
func (d *LocalDriver) Capabilities() interfaces.DriverCapabilities {
	return interfaces.DriverCapabilities{HandlesLogin: false, HandlesCaptcha: false}
}

// Close releases the driver's HTTP transport idle connections.
func (d *LocalDriver) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}

// buildFormValues sets one form value per mapped canonical field, keyed by the
// canonical field name (the mapping's selectors are not used as names),
// skipping fields the profile has no value for or that have no selectors.
func buildFormValues(mapping models.FormMapping, profile models.BusinessProfile) url.Values {
	source:= map[string]string{
		"businessName": profile.Name,
		"email": profile.Email,
		"phone": profile.Phone,
		"website": profile.Website,
		"address": profile.Address,
		"description": profile.Description,
		"category": profile.Category,
	}

	form:= url.Values{}
	for field, selectors:= range mapping {
		value, ok:= source[field]
		if !ok || value == "" || len(selectors) == 0 {
			continue
		}
		form.Set(field, value)
	}
	return form
}
