package advisors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobolt/runner/internal/models"
)

func TestDecodeJSON_StripsMarkdownFence(t *testing.T) {
	var parsed struct {
		Probability float64 `json:"probability"`
	}
	err := decodeJSON("```json\n{\"probability\": 0.73}\n```", &parsed)
	require.NoError(t, err)
	assert.Equal(t, 0.73, parsed.Probability)
}

func TestDecodeJSON_PlainJSON(t *testing.T) {
	var parsed struct {
		Description string `json:"description"`
	}
	err := decodeJSON(`{"description": "A trusted local plumber."}`, &parsed)
	require.NoError(t, err)
	assert.Equal(t, "A trusted local plumber.", parsed.Description)
}

func TestDecodeJSON_InvalidReturnsError(t *testing.T) {
	var parsed struct{}
	err := decodeJSON("not json at all", &parsed)
	assert.Error(t, err)
}

func TestScorePrompt_IncludesFrictionSignals(t *testing.T) {
	d := models.DirectoryDescriptor{
		DirectoryID:   "yelp",
		Name:          "Yelp",
		Category:      "review-sites",
		RequiresLogin: true,
		HasCaptcha:    true,
		Difficulty:    models.DifficultyHard,
	}
	p := models.BusinessProfile{Name: "Acme Plumbing", Category: "plumbing"}

	prompt := scorePrompt(d, p)
	assert.Contains(t, prompt, "Yelp")
	assert.Contains(t, prompt, "Requires login: true")
	assert.Contains(t, prompt, "Has captcha: true")
	assert.Contains(t, prompt, "hard")
	assert.Contains(t, prompt, "Acme Plumbing")
}

func TestCustomisePrompt_IncludesOriginalDescription(t *testing.T) {
	d := models.DirectoryDescriptor{Category: "local-business"}
	p := models.BusinessProfile{Name: "Acme Plumbing", Description: "We fix pipes."}

	prompt := customisePrompt(d, p)
	assert.Contains(t, prompt, "We fix pipes.")
	assert.Contains(t, prompt, "Acme Plumbing")
	assert.Contains(t, prompt, "local-business")
}

func TestMapFieldsPrompt_IncludesSubmissionURL(t *testing.T) {
	d := models.DirectoryDescriptor{SubmissionURL: "https://example.com/submit", Name: "Example", Category: "maps-services"}
	p := models.BusinessProfile{}

	prompt := mapFieldsPrompt(d, p)
	assert.Contains(t, prompt, "https://example.com/submit")
	assert.Contains(t, prompt, "businessName")
}
