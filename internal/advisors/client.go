// Package advisors implements the three optional AI collaborators (success
// oracle, description customiser, form field mapper) as a single
// Gemini-backed client, built with the same functional-options and
// google.golang.org/genai wiring pattern used elsewhere in this codebase.
//
// The composition root (app.NewApp, via buildAdvisors) wires
// interfaces.Advisors directly from a *Client's three
// methods when a Gemini API key is configured, and leaves every field nil
// otherwise (Any field may be nil, meaning that advisor is unavailable) — so
// there is no separate "disabled" implementation to maintain here.
package advisors

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/autobolt/runner/internal/common"
)

const (
	// DefaultModel is the Gemini model used for all three advisor calls.
	DefaultModel = "gemini-2.0-flash"
)

// Client implements interfaces.SuccessOracle, DescriptionCustomiser and
// FormFieldMapper over a single Gemini backend.
type Client struct {
	client *genai.Client
	model string
	logger *common.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel overrides the default Gemini model.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithLogger sets the client's logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Gemini-backed advisor client.
func NewClient(ctx context.Context, apiKey string, opts...ClientOption) (*Client, error) {
	genaiClient, err:= genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	c:= &Client{
		client: genaiClient,
		model: DefaultModel,
		logger: common.NewSilentLogger(),
	}
	for _, opt:= range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying Gemini client. The genai SDK has no Close
// method of its own, so this is a no-op kept for symmetry with the other
// collaborators the Job Runner shuts down.
func (c *Client) Close() error {
	return nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	contents:= genai.Text(prompt)
	result, err:= c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return extractText(result)
}

func extractText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}
	text:= ""
	for _, part:= range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}
