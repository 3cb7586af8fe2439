package models

import "time"

// JobStatus is the closed enumeration of an evolution JobRun's outcome.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
	JobTimeout JobStatus = "timeout"
)

// JobReport summarises one completed (or failed/timed-out) job execution.
type JobReport struct {
	MemoriesProcessed int           `json:"memories_processed"`
	ChangesMade       int           `json:"changes_made"`
	Duration          time.Duration `json:"duration"`
	Errors            int           `json:"errors"`
	ErrorMessage      string        `json:"error_message,omitempty"`
}

// JobRun is a single execution record for an evolution job, persisted for
// get_job_history queries.
type JobRun struct {
	ID          string     `json:"id"`
	JobName     string     `json:"job_name"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      JobStatus  `json:"status"`
	Report      *JobReport `json:"report,omitempty"`
}
