// Package models defines the data types shared across the job-processing engine.
package models

import "time"

// PackageSize is the ordered enum budget a job may be expressed in.
type PackageSize string

const (
	PackageStarter      PackageSize = "starter"
	PackageGrowth       PackageSize = "growth"
	PackageProfessional PackageSize = "professional"
	PackageEnterprise   PackageSize = "enterprise"
)

// packageSizeCounts maps a package size to its directory count budget.
// The values are fixed; Config has no setting that overrides them.
var packageSizeCounts = map[PackageSize]int{
	PackageStarter:      50,
	PackageGrowth:       150,
	PackageProfessional: 300,
	PackageEnterprise:   500,
}

// PackageSizeCount returns the directory budget for a package size, or 0 if unknown.
func PackageSizeCount(p PackageSize) int {
	return packageSizeCounts[p]
}

// PackageSizeRank orders package sizes so tier comparisons ("tier exceeds job's
// package tier") can be expressed as an integer comparison.
var packageSizeRank = map[PackageSize]int{
	PackageStarter:      0,
	PackageGrowth:       1,
	PackageProfessional: 2,
	PackageEnterprise:   3,
}

// PackageSizeAtLeast reports whether tier is within budget for the job's package.
func PackageSizeAtLeast(jobPackage, tier PackageSize) bool {
	return packageSizeRank[tier] <= packageSizeRank[jobPackage]
}

// BusinessProfile is the normalised customer business record a job submits.
// All fields are optional. The local submission driver leaves a mapped field
// with no value out of the post and skips a directory only when none of its
// mapped fields has a value; it does not skip a directory for one absent field.
type BusinessProfile struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Website     string `json:"website"`
	Address     string `json:"address"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Job is the immutable input record describing one customer's submission batch.
// It is read-only from the core's perspective; the control plane owns lifecycle.
type Job struct {
	JobID      string `json:"jobId"`
	CustomerID string `json:"customerId"`

	Profile BusinessProfile `json:"profile"`

	// Budget: DirectoryLimit wins if both are set (non-zero).
	DirectoryLimit int         `json:"directoryLimit"`
	PackageSize    PackageSize `json:"packageSize"`
}

// ResolvedDirectoryLimit returns the effective directory budget for the job,
// honouring the "DirectoryLimit wins if both present" rule from the data model.
func (j *Job) ResolvedDirectoryLimit() int {
	if j.DirectoryLimit > 0 {
		return j.DirectoryLimit
	}
	return PackageSizeCount(j.PackageSize)
}

// JobStatus is the lifecycle status reported to the control plane.
type JobStatus string

const (
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// AttemptStatus is the terminal outcome of one submission attempt.
type AttemptStatus string

const (
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptFailed    AttemptStatus = "failed"
	AttemptSkipped   AttemptStatus = "skipped"
)

// SubmissionAttempt is a single attempt at one directory for one job.
type SubmissionAttempt struct {
	JobID          string        `json:"jobId"`
	DirectoryID    string        `json:"directoryId"`
	DirectoryName  string        `json:"directoryName"`
	AttemptOrdinal int           `json:"attemptOrdinal"`
	Status         AttemptStatus `json:"status"`
	Message        string        `json:"message"`
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`

	AIProbability     float64 `json:"aiProbability,omitempty"`
	AICustomized      bool    `json:"aiCustomized,omitempty"`
	FilledFieldsCount int     `json:"filledFieldsCount,omitempty"`
	ViaAlternate      bool    `json:"viaAlternate,omitempty"`
	ResponseTimeMS    int64   `json:"responseTimeMs,omitempty"`
}

// JobSummary is the aggregate reported at job completion.
type JobSummary struct {
	TotalDirectories      int     `json:"totalDirectories"`
	SuccessfulSubmissions int     `json:"successfulSubmissions"`
	FailedSubmissions     int     `json:"failedSubmissions"`
	ProcessingTimeSeconds float64 `json:"processingTimeSeconds"`
}

// JobProgressState is the mutable, runner-owned tally for an in-flight job.
type JobProgressState struct {
	Submitted     int
	Failed        int
	Skipped       int
	TotalSelected int

	// ErrorTail is a bounded FIFO of the most recent error messages.
	ErrorTail []string
}

// ErrorTailCap bounds the JobProgressState error tail.
const ErrorTailCap = 20

// RecordError appends to the bounded error tail, dropping the oldest entry on overflow.
func (s *JobProgressState) RecordError(msg string) {
	s.ErrorTail = append(s.ErrorTail, msg)
	if len(s.ErrorTail) > ErrorTailCap {
		s.ErrorTail = s.ErrorTail[len(s.ErrorTail)-ErrorTailCap:]
	}
}

// ProgressPercent returns the fraction of selected directories that have a terminal outcome.
func (s *JobProgressState) ProgressPercent() float64 {
	if s.TotalSelected == 0 {
		return 1
	}
	done := s.Submitted + s.Failed + s.Skipped
	return float64(done) / float64(s.TotalSelected)
}

// Record applies a terminal attempt outcome to the tally.
func (s *JobProgressState) Record(status AttemptStatus) {
	switch status {
	case AttemptSubmitted:
		s.Submitted++
	case AttemptFailed:
		s.Failed++
	case AttemptSkipped:
		s.Skipped++
	}
}
