// Package jobs defines the asynchronous unit of work behind the webhook
// endpoint: the handler acks the gateway immediately and enqueues the raw
// body for reconciliation. Retrying a job is always safe because the engine's
// idempotency guard drops anything already applied.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeReconcileNotification processes one raw gateway notification.
	JobTypeReconcileNotification JobType = "reconcile_notification"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// ReconcileNotificationJob carries one webhook delivery to the worker.
type ReconcileNotificationJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// RawBody is the gateway's form-encoded webhook body, verbatim.
	RawBody string `json:"raw_body"`

	// GatewayTxnID is extracted up front for job listing and logs; the
	// decoder remains the source of truth during processing.
	GatewayTxnID string `json:"gateway_txn_id,omitempty"`

	// ArchiveURI points at the archived copy of the body, when archival is
	// enabled.
	ArchiveURI string `json:"archive_uri,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ReconcileNotificationJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ReconcileNotificationJob) GetType() JobType {
	return JobTypeReconcileNotification
}

// GetStatus implements the Job interface.
func (j *ReconcileNotificationJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations.
type Publisher interface {
	// PublishReconcile publishes a notification reconciliation job.
	PublishReconcile(ctx context.Context, job *ReconcileNotificationJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue. The handler function is
	// called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job. It should return an error if
// the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	SaveJob(ctx context.Context, job *ReconcileNotificationJob) error
	GetJob(ctx context.Context, jobID string) (*ReconcileNotificationJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ReconcileNotificationJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// GatewayTxnID filters jobs by gateway transaction id.
	GatewayTxnID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
