package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
)

const (
	// DefaultAlternateTimeout bounds the HTTP round trip to the external worker.
	DefaultAlternateTimeout = 45 * time.Second
)

// AlternateDriver dispatches the attempt to an external worker over HTTP
// instead of attempting it locally — the escalation path for directories
// whose escalation score meets ESCALATION_THRESHOLD. "The contract is
// identical; only transport differs."
type AlternateDriver struct {
	baseURL string
	apiKey string
	httpClient *http.Client
	logger *common.Logger
}

// AlternateDriverOption configures an AlternateDriver.
type AlternateDriverOption func(*AlternateDriver)

// WithAlternateHTTPClient overrides the default HTTP client.
func WithAlternateHTTPClient(client *http.Client) AlternateDriverOption {
	return func(d *AlternateDriver) { d.httpClient = client }
}

// WithAlternateLogger sets the driver's logger.
func WithAlternateLogger(logger *common.Logger) AlternateDriverOption {
	return func(d *AlternateDriver) { d.logger = logger }
}

// NewAlternateDriver creates an AlternateDriver that posts escalated
// attempts to baseURL + "/submissions".
func NewAlternateDriver(baseURL, apiKey string, opts...AlternateDriverOption) *AlternateDriver {
	d:= &AlternateDriver{
		baseURL: baseURL,
		apiKey: apiKey,
		httpClient: &http.Client{Timeout: DefaultAlternateTimeout},
		logger: common.NewSilentLogger(),
	}
	for _, opt:= range opts {
		opt(d)
	}
	return d
}

// submissionRequest is the wire body posted to the external worker.
type submissionRequest struct {
	DirectoryID string `json:"directoryId"`
	SubmissionURL string `json:"submissionUrl"`
	RequiresLogin bool `json:"requiresLogin"`
	HasCaptcha bool `json:"hasCaptcha"`
	Profile models.BusinessProfile `json:"profile"`
	Mapping models.FormMapping `json:"formMapping"`
}

// submissionResponse is the external worker's reply.
type submissionResponse struct {
	Status string `json:"status"`
	Message string `json:"message"`
	FilledFieldsCount int `json:"filledFieldsCount"`
}

// apiError captures a non-2xx reply from the alternate worker.
type apiError struct {
	StatusCode int
	Body string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("alternate driver error: status %d: %s", e.StatusCode, e.Body)
}

// Submit posts the attempt to the external worker and maps its reply onto
// interfaces.SubmitResult. A non-2xx reply, a malformed body or a transport
// failure is returned as a failed attempt, not an error ("timeout" when ctx
// is done, otherwise "network error: ..."); only a failure to marshal or
// build the request propagates as err.
func (d *AlternateDriver) Submit(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile, mapping models.FormMapping, opts interfaces.SubmitOptions) (interfaces.SubmitResult, error) {
	started:= time.Now()

	body, err:= json.Marshal(submissionRequest{
		DirectoryID: directory.DirectoryID,
		SubmissionURL: directory.SubmissionURL,
		RequiresLogin: directory.RequiresLogin,
		HasCaptcha: directory.HasCaptcha,
		Profile: profile,
		Mapping: mapping,
	})
	if err != nil {
		return interfaces.SubmitResult{}, fmt.Errorf("marshal submission request: %w", err)
	}

	req, err:= http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/submissions", bytes.NewReader(body))
	if err != nil {
		return interfaces.SubmitResult{}, fmt.Errorf("build alternate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", d.apiKey)

	d.logger.Debug().Str("directory_id", directory.DirectoryID).Msg("dispatching escalated submission to alternate driver")

	resp, err:= d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return interfaces.SubmitResult{Status: models.AttemptFailed, Message: "timeout", StartedAt: started, FinishedAt: time.Now()}, nil
		}
		return interfaces.SubmitResult{Status: models.AttemptFailed, Message: fmt.Sprintf("network error: %s", err.Error()), StartedAt: started, FinishedAt: time.Now()}, nil
	}
	defer resp.Body.Close()

	finished:= time.Now()
	raw, _:= io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr:= &apiError{StatusCode: resp.StatusCode, Body: string(raw)}
		return interfaces.SubmitResult{Status: models.AttemptFailed, Message: apiErr.Error(), StartedAt: started, FinishedAt: finished}, nil
	}

	var parsed submissionResponse
	if err:= json.Unmarshal(raw, &parsed); err != nil {
		return interfaces.SubmitResult{Status: models.AttemptFailed, Message: "malformed alternate driver response", StartedAt: started, FinishedAt: finished}, nil
	}

	status:= models.AttemptFailed
	switch parsed.Status {
	case "submitted":
		status = models.AttemptSubmitted
	case "skipped":
		status = models.AttemptSkipped
	}

	return interfaces.SubmitResult{
		Status: status,
		Message: parsed.Message,
		StartedAt: started,
		FinishedAt: finished,
		FilledFieldsCount: parsed.FilledFieldsCount,
	}, nil
}

// Capabilities reports that the alternate driver can handle the friction
// signals that triggered escalation in the first place.
func (d *AlternateDriver) Capabilities() interfaces.DriverCapabilities {
	return interfaces.DriverCapabilities{HandlesLogin: true, HandlesCaptcha: true}
}

// Close releases the driver's HTTP transport idle connections.
func (d *AlternateDriver) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}
