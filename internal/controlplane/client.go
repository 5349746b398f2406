// Package controlplane implements interfaces.ControlPlane over the job
// queue's HTTP API: a functional-options-configured *http.Client, a rate
// limiter guarding outbound calls, and a typed APIError for non-2xx replies —
// the same shape as this codebase's other HTTP API clients.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/models"
	"github.com/autobolt/runner/internal/retry"
)

const (
	// DefaultTimeout is the per-call HTTP deadline.
	DefaultTimeout = 30 * time.Second
	// DefaultRateLimit bounds outbound control-plane calls per second.
	DefaultRateLimit = 10
)

// Client implements interfaces.ControlPlane.
type Client struct {
	baseURL string
	apiKey string
	workerID string
	httpClient *http.Client
	limiter *rate.Limiter
	logger *common.Logger
	retryPolicy retry.APIPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the client's logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit sets the outbound requests-per-second cap.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond) }
}

// WithRetryPolicy overrides the default API retry/backoff policy.
func WithRetryPolicy(policy retry.APIPolicy) ClientOption {
	return func(c *Client) { c.retryPolicy = policy }
}

// NewClient creates a control-plane client for baseURL, authenticating with
// apiKey and identifying this process as workerID.
func NewClient(baseURL, apiKey, workerID string, opts...ClientOption) *Client {
	c:= &Client{
		baseURL: baseURL,
		apiKey: apiKey,
		workerID: workerID,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger: common.NewSilentLogger(),
		retryPolicy: retry.DefaultAPIPolicy(),
	}
	for _, opt:= range opts {
		opt(c)
	}
	return c
}

// APIError represents a non-2xx control-plane response.
type APIError struct {
	StatusCode int
	Message string
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// apiEnvelope is the {success, data, message} shape every endpoint replies with.
type apiEnvelope struct {
	Success bool `json:"success"`
	Data json.RawMessage `json:"data"`
	Message string `json:"message"`
}

// do sends one HTTP request with auth headers, rate limiting and retry/backoff
// per retry.APIPolicy, decoding a successful envelope's data into result (if
// non-nil).
func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var lastErr error
	for attempt:= 1; attempt <= c.retryPolicy.MaxAttempts; attempt++ {
		if err:= c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		err:= c.doOnce(ctx, method, path, body, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}

		var apiErr *APIError
		if ok:= asAPIError(err, &apiErr); ok && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return lastErr
		}

		if attempt < c.retryPolicy.MaxAttempts {
			c.logger.Debug().Str("endpoint", path).Int("attempt", attempt).Err(err).Msg("control plane call failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryPolicy.Delay(attempt)):
			}
		}
	}
	return lastErr
}

func asAPIError(err error, target **APIError) bool {
	apiErr, ok:= err.(*APIError)
	if ok {
		*target = apiErr
	}
	return ok
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err:= json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err:= http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if c.workerID != "" {
		req.Header.Set("X-Worker-ID", c.workerID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err:= c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err:= io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: string(raw), Endpoint: path}
	}

	var envelope apiEnvelope
	if err:= json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !envelope.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Message, Endpoint: path}
	}

	if result != nil && len(envelope.Data) > 0 {
		if err:= json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("decode envelope data: %w", err)
		}
	}
	return nil
}

// GetNextJob fetches the next queued job, or nil if none is available.
func (c *Client) GetNextJob(ctx context.Context) (*models.Job, error) {
	var job *models.Job
	if err:= c.do(ctx, http.MethodGet, "/api/jobs/next", nil, &job); err != nil {
		return nil, err
	}
	return job, nil
}

// IsQueuePaused reports the control plane's queue_paused flag. It makes its
// own GET /api/queue/status call, separate from /api/jobs/next, and reads the
// queuePaused field of the response data.
func (c *Client) IsQueuePaused(ctx context.Context) (bool, error) {
	var status struct {
		QueuePaused bool `json:"queuePaused"`
	}
	if err:= c.do(ctx, http.MethodGet, "/api/queue/status", nil, &status); err != nil {
		return false, err
	}
	return status.QueuePaused, nil
}

// updateProgressRequest mirrors 's /api/jobs/update request body.
type updateProgressRequest struct {
	JobID string `json:"jobId"`
	DirectoryResults []resultPayload `json:"directoryResults"`
	Status models.JobStatus `json:"status,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// resultPayload is the wire shape of a Result from 
type resultPayload struct {
	DirectoryID string `json:"directoryId,omitempty"`
	DirectoryName string `json:"directoryName"`
	Status string `json:"status"`
	Message string `json:"message"`
	Timestamp string `json:"timestamp"`
	AIScore float64 `json:"aiScore,omitempty"`
	AICustomized bool `json:"aiCustomized,omitempty"`
	ViaAlternate bool `json:"viaAlternate,omitempty"`
}

func toResultPayload(a models.SubmissionAttempt) resultPayload {
	return resultPayload{
		DirectoryID: a.DirectoryID,
		DirectoryName: a.DirectoryName,
		Status: string(a.Status),
		Message: a.Message,
		Timestamp: a.FinishedAt.Format(time.RFC3339),
		AIScore: a.AIProbability,
		AICustomized: a.AICustomized,
		ViaAlternate: a.ViaAlternate,
	}
}

// UpdateProgress reports a batch of directory results for an in-flight job.
func (c *Client) UpdateProgress(ctx context.Context, jobID string, results []models.SubmissionAttempt, status models.JobStatus, errorMessage string) error {
	payload:= updateProgressRequest{JobID: jobID, Status: status, ErrorMessage: errorMessage}
	for _, r:= range results {
		payload.DirectoryResults = append(payload.DirectoryResults, toResultPayload(r))
	}
	return c.do(ctx, http.MethodPost, "/api/jobs/update", payload, nil)
}

// completeJobRequest mirrors 's /api/jobs/complete request body.
type completeJobRequest struct {
	JobID string `json:"jobId"`
	FinalStatus models.JobStatus `json:"finalStatus"`
	Summary summaryPayload `json:"summary"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type summaryPayload struct {
	TotalDirectories int `json:"totalDirectories"`
	SuccessfulSubmissions int `json:"successfulSubmissions"`
	FailedSubmissions int `json:"failedSubmissions"`
	ProcessingTimeSeconds float64 `json:"processingTimeSeconds"`
}

// CompleteJob reports the final outcome of a job.
func (c *Client) CompleteJob(ctx context.Context, jobID string, finalStatus models.JobStatus, summary models.JobSummary, errorMessage string) error {
	payload:= completeJobRequest{
		JobID: jobID,
		FinalStatus: finalStatus,
		ErrorMessage: errorMessage,
		Summary: summaryPayload{
			TotalDirectories: summary.TotalDirectories,
			SuccessfulSubmissions: summary.SuccessfulSubmissions,
			FailedSubmissions: summary.FailedSubmissions,
			ProcessingTimeSeconds: summary.ProcessingTimeSeconds,
		},
	}
	return c.do(ctx, http.MethodPost, "/api/jobs/complete", payload, nil)
}

// heartbeatRequest is the upserted worker liveness record.
type heartbeatRequest struct {
	WorkerID string `json:"workerId"`
	JobsProcessed int `json:"jobsProcessed"`
	Status string `json:"status"`
}

// Heartbeat upserts this worker's liveness record. Like IsQueuePaused, 
// names the heartbeat behaviour without a dedicated endpoint row; POSTing to
// /api/workers/heartbeat keeps it symmetric with the job endpoints.
func (c *Client) Heartbeat(ctx context.Context, workerID string, jobsProcessed int, status string) error {
	payload:= heartbeatRequest{WorkerID: workerID, JobsProcessed: jobsProcessed, Status: status}
	return c.do(ctx, http.MethodPost, "/api/workers/heartbeat", payload, nil)
}

// Close releases the client's HTTP transport idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
