// Package jobs defines the asynchronous ingest job model used by the API server.
package jobs

import (
	"context"
	"errors"
	"time"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusRetrying marks a failed attempt that is waiting to be re-enqueued.
	JobStatusRetrying JobStatus = "retrying"
)

// ErrJobNotFound is returned by a JobStore for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// IngestJob asks a worker to ingest one statement file.
type IngestJob struct {
	JobID string `json:"job_id"`

	// URI is a local path or a gs://bucket/object location.
	URI string `json:"uri"`

	// Institution is optional; empty means infer from the file name.
	Institution string `json:"institution,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// RunID links the job to the ingest run ledger entry of its last attempt.
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Publisher enqueues jobs.
type Publisher interface {
	Publish(ctx context.Context, job *IngestJob) error
	Close() error
}

// Consumer drains the queue with a handler.
type Consumer interface {
	// Start launches the workers and returns immediately.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. It may set job.RunID. Returning an error wrapped
// with Permanent fails the job without retrying.
type JobHandler func(ctx context.Context, job *IngestJob) error

// JobStore tracks job state for status queries.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestJob) error
	GetJob(ctx context.Context, jobID string) (*IngestJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Status JobStatus
	Limit  int
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. a malformed file.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
