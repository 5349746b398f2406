package interfaces

import (
	"context"

	"github.com/autobolt/runner/internal/models"
)

// FieldConfidence is one candidate field mapping with the form-field mapper's
// confidence in it; fields below 0.70 are dropped by the caller.
type FieldConfidence struct {
	Field string
	Selectors []string
	Confidence float64
}

// SuccessOracle scores the likelihood that a submission attempt will succeed.
// Every advisor "produces advice or nothing in <=5s"; the core never
// special-cases a particular advisor implementation.
type SuccessOracle interface {
	Score(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile) (probability float64, err error)
}

// DescriptionCustomiser rewrites a business description for one directory.
type DescriptionCustomiser interface {
	Customise(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile) (description string, err error)
}

// FormFieldMapper synthesises a form mapping when the catalog entry has none.
type FormFieldMapper interface {
	MapFields(ctx context.Context, directory models.DirectoryDescriptor, profile models.BusinessProfile) ([]FieldConfidence, error)
}

// Advisors bundles the three optional AI collaborators behind one composition
// point so the Job Runner can wire in whichever are configured without the
// Scheduler or SubmissionDriver contract changing (Design Notes,).
// Any field may be nil, meaning that advisor is unavailable.
type Advisors struct {
	Oracle SuccessOracle
	Customiser DescriptionCustomiser
	FieldMapper FormFieldMapper
}
