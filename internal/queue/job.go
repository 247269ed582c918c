// Package queue implements a durable, Postgres-backed background job queue:
// a claim protocol that hands each pending job to exactly one worker, a
// handler registry that dispatches by job type, a pure retry/backoff policy,
// a concurrent worker runtime, and a thin producer facade for the HTTP layer.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// DefaultQueue is the queue name assigned when a caller doesn't specify one.
const DefaultQueue = "default"

// Job is the single durable entity the queue operates on. Payload is kept as
// raw JSON at the store boundary; handlers decode it themselves, so the
// store and worker runtime never need to know the shape of any job type's
// payload.
type Job struct {
	ID          int64
	QueueName   string
	JobType     string
	Payload     json.RawMessage
	Status      Status
	ScheduledAt time.Time
	Attempts    int
	MaxTries    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsDeleted   bool
	DeletedAt   *time.Time
}

// FailureEntry is one row of the payload.errors trail appended on every
// failed attempt.
type FailureEntry struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Sentinel errors returned by Store implementations and the producer API.
// Callers match these with errors.Is; never string-compare error text.
var (
	// ErrJobNotFound indicates no job exists with the requested id (or it is
	// soft-deleted, which is equivalent from the caller's point of view).
	ErrJobNotFound = errors.New("job not found")

	// ErrNotCancellable indicates cancel was attempted on a job that is not
	// currently pending.
	ErrNotCancellable = errors.New("job is not in a cancellable state")

	// ErrNotRetryable indicates a manual retry was attempted on a job that
	// is not currently failed.
	ErrNotRetryable = errors.New("job is not in a retryable state")

	// ErrTooManyJobs indicates a bulk-enqueue request exceeded the
	// per-request cap enforced by the Producer API.
	ErrTooManyJobs = errors.New("bulk request exceeds maximum job count")

	// ErrInvalidLimit indicates a pagination limit outside the allowed range.
	ErrInvalidLimit = errors.New("limit out of allowed range")

	// ErrEmptyBulk indicates a bulk-enqueue request with zero jobs.
	ErrEmptyBulk = errors.New("bulk request must contain at least one job")
)

// Filter narrows a List/Count query. Zero values mean "no filter on this
// field".
type Filter struct {
	QueueName string
	Status    Status
	JobType   string
}

// Stats is the result of Store.Stats: counts by status and by queue. Only
// non-deleted jobs are counted.
type Stats struct {
	PerStatus map[Status]int64
	PerQueue  map[string]int64
}

// EnqueueSpec is the input to Enqueue and EnqueueBulk.
type EnqueueSpec struct {
	JobType     string
	Payload     json.RawMessage
	QueueName   string
	ScheduledAt *time.Time // nil means "now"
	MaxTries    int
}
