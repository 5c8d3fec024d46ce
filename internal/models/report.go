package models

import "time"

// RunStatus classifies the outcome of a backup run.
type RunStatus string

// Run outcomes.
const (
	StatusSuccess RunStatus = "success"
	StatusFailure RunStatus = "failure"
)

// RunReport is built over the course of one backup run and consumed by
// the notifier. It is never reused across runs.
type RunReport struct {
	Project     string
	Repository  string
	Status      RunStatus
	SnapshotID  string
	TotalSize   string // empty when stats were unavailable
	StartTime   time.Time
	Duration    time.Duration
	LogFilePath string

	// Retention stats, zero when no policy is configured.
	SnapshotsKept    int
	SnapshotsRemoved int

	// Failure details, empty on success. FailedStep records the first
	// step that failed; later failures are logged but do not overwrite it.
	FailedStep   string
	ErrorMessage string
}

// Fail marks the report as failed, keeping the first failure's step.
func (r *RunReport) Fail(step string, err error) {
	r.Status = StatusFailure
	if r.FailedStep == "" {
		r.FailedStep = step
		r.ErrorMessage = err.Error()
	}
}

// MailResult holds the result of a notification attempt.
type MailResult struct {
	Sent  bool
	Error error
}
