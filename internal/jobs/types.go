package jobs

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned by a JobStore for an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrPermanent marks a handler failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent job failure")
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeProcessRecurrences runs one recurrence batch.
	JobTypeProcessRecurrences JobType = "process_recurrences"
	// JobTypeExportLedger writes a user's ledger snapshot to the export sinks.
	JobTypeExportLedger JobType = "export_ledger"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// LedgerJob is a unit of background work against the ledger.
type LedgerJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Type selects the handler.
	Type JobType `json:"type"`

	// AsOf is the YYYY-MM-DD date a process_recurrences job runs for.
	// Empty means the day the job starts.
	AsOf string `json:"as_of,omitempty"`

	// UserID is the ledger owner an export_ledger job exports.
	UserID string `json:"user_id,omitempty"`

	// Sinks names the export destinations ("bigquery", "gcs"). Empty means all configured.
	Sinks []string `json:"sinks,omitempty"`

	// Processed is the number of occurrences a recurrence run spawned, or
	// the number of rows an export wrote.
	Processed int `json:"processed"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *LedgerJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *LedgerJob) GetType() JobType {
	return j.Type
}

// GetStatus implements the Job interface.
func (j *LedgerJob) GetStatus() JobStatus {
	return j.Status
}

// Clone returns a copy that shares no mutable state with j.
func (j *LedgerJob) Clone() *LedgerJob {
	c := *j
	if j.Sinks != nil {
		c.Sinks = append([]string(nil), j.Sinks...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Publish enqueues a job.
	Publish(ctx context.Context, job *LedgerJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *LedgerJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*LedgerJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*LedgerJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Type filters jobs by type.
	Type JobType

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
