package advisors

import (
	"encoding/json"
	"fmt"
	"strings"

	"context"

	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/models"
)

// Score implements interfaces.SuccessOracle: it asks the model to rate the
// likelihood that a submission to directory will succeed for profile, given
// the directory's known friction signals.
func (c *Client) Score(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile) (float64, error) {
	prompt:= scorePrompt(directory, profile)
	text, err:= c.generate(ctx, prompt)
	if err != nil {
		c.logger.Debug().Str("directory", directory.DirectoryID).Err(err).Msg("success oracle call failed")
		return 0, err
	}

	var parsed struct {
		Probability float64 `json:"probability"`
	}
	if err:= decodeJSON(text, &parsed); err != nil {
		return 0, fmt.Errorf("parse oracle response: %w", err)
	}
	if parsed.Probability < 0 {
		parsed.Probability = 0
	}
	if parsed.Probability > 1 {
		parsed.Probability = 1
	}
	return parsed.Probability, nil
}

// Customise implements interfaces.DescriptionCustomiser: it rewrites
// profile's description to fit directory's category and tone.
func (c *Client) Customise(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile) (string, error) {
	prompt:= customisePrompt(directory, profile)
	text, err:= c.generate(ctx, prompt)
	if err != nil {
		c.logger.Debug().Str("directory", directory.DirectoryID).Err(err).Msg("description customiser call failed")
		return "", err
	}

	var parsed struct {
		Description string `json:"description"`
	}
	if err:= decodeJSON(text, &parsed); err != nil {
		return "", fmt.Errorf("parse customiser response: %w", err)
	}
	if strings.TrimSpace(parsed.Description) == "" {
		return "", fmt.Errorf("empty description returned")
	}
	return parsed.Description, nil
}

// MapFields implements interfaces.FormFieldMapper: it infers candidate CSS
// selectors for a directory's submission form from its landing page URL and
// category, used only when the catalog entry carries no static mapping.
func (c *Client) MapFields(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile) ([]interfaces.FieldConfidence, error) {
	prompt:= mapFieldsPrompt(directory, profile)
	text, err:= c.generate(ctx, prompt)
	if err != nil {
		c.logger.Debug().Str("directory", directory.DirectoryID).Err(err).Msg("form field mapper call failed")
		return nil, err
	}

	var parsed struct {
		Fields []struct {
			Field string `json:"field"`
			Selectors []string `json:"selectors"`
			Confidence float64 `json:"confidence"`
		} `json:"fields"`
	}
	if err:= decodeJSON(text, &parsed); err != nil {
		return nil, fmt.Errorf("parse field mapper response: %w", err)
	}

	out:= make([]interfaces.FieldConfidence, 0, len(parsed.Fields))
	for _, f:= range parsed.Fields {
		out = append(out, interfaces.FieldConfidence{
			Field: f.Field,
			Selectors: f.Selectors,
			Confidence: f.Confidence,
		})
	}
	return out, nil
}

// decodeJSON unmarshals v from text, stripping a markdown code fence if the
// model wrapped its JSON response in one.
func decodeJSON(text string, v interface{}) error {
	trimmed:= strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	return json.Unmarshal([]byte(trimmed), v)
}
