package advisors

import (
	"fmt"

	"github.com/autobolt/runner/internal/models"
)

func scorePrompt(d models.DirectoryDescriptor, p models.BusinessProfile) string {
	return fmt.Sprintf(`You are scoring whether a directory submission will succeed.

Directory: %s (%s)
Category: %s
Requires login: %t
Has captcha: %t
Has anti-bot protection: %t
Difficulty: %s

Business: %s, category %s

Respond with strict JSON only, no prose, no markdown fence:
{"probability": <float between 0 and 1>}`,
		d.Name, d.DirectoryID, d.Category, d.RequiresLogin, d.HasCaptcha, d.HasAntiBot, d.Difficulty,
		p.Name, p.Category)
}

func customisePrompt(d models.DirectoryDescriptor, p models.BusinessProfile) string {
	return fmt.Sprintf(`Rewrite the following business description to fit the tone and length
conventions of a %q category directory listing. Keep all facts, do not invent
new ones.

Business name: %s
Original description: %s

Respond with strict JSON only, no prose, no markdown fence:
{"description": "<rewritten description>"}`,
		d.Category, p.Name, p.Description)
}

func mapFieldsPrompt(d models.DirectoryDescriptor, p models.BusinessProfile) string {
	return fmt.Sprintf(`Infer likely CSS selectors for the submission form fields at %s.
The directory is named %q, category %q.

Canonical fields to map: businessName, email, phone, website, address,
description, category. Only include fields you are reasonably confident
about; give each one a confidence between 0 and 1.

Respond with strict JSON only, no prose, no markdown fence:
{"fields": [{"field": "businessName", "selectors": ["#company-name"], "confidence": 0.8}]}`,
		d.SubmissionURL, d.Name, d.Category)
}
