package types

import "time"

// JobType identifies which pipeline stage a job drives
type JobType string

const (
	JobIngest JobType = "ingest"
	JobIndex  JobType = "index"
	JobDocs   JobType = "docs"
)

// JobStatus represents a job's execution state
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job tracks one attempt at one asynchronous pipeline stage. A repository
// accumulates a history of jobs; rows are never reused for retries.
type Job struct {
	ID           string
	RepoID       string
	Type         JobType
	Status       JobStatus
	Progress     int // 0-100
	ErrorMessage string

	// Retry headroom, recorded but not consulted for automatic requeue
	Attempt     int
	MaxAttempts int

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// IsTerminal reports whether the job has finished, successfully or not
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
