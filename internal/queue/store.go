package queue

import (
	"context"
	"time"
)

// Store is the durable backing store for jobs. Implementations must make
// ClaimNext safe for concurrent callers across processes: two callers racing
// to claim work must never be handed the same job.
//
// Get, Update, MarkCompleted, MarkFailed, Cancel and RetryFailedJob operate
// on a single job by id; List, Count, Stats, ClaimNext and the ResetStale /
// CleanupCompleted sweeps select rows by condition.
type Store interface {
	// Enqueue inserts a single pending job and returns it with its assigned
	// id and timestamps filled in.
	Enqueue(ctx context.Context, spec EnqueueSpec) (Job, error)

	// EnqueueBulk inserts many pending jobs in one transaction. The returned
	// slice is in the same order as specs.
	EnqueueBulk(ctx context.Context, specs []EnqueueSpec) ([]Job, error)

	// Get returns a single job by id. Returns ErrJobNotFound if the job
	// doesn't exist or is soft-deleted.
	Get(ctx context.Context, id int64) (Job, error)

	// Update applies upd's non-nil fields (payload, scheduled_at, max_tries)
	// to job id and returns the updated row. Returns ErrJobNotFound if the
	// job doesn't exist or is soft-deleted.
	Update(ctx context.Context, id int64, upd Update) (Job, error)

	// List returns jobs matching filter, newest-created first, bounded by
	// limit/offset.
	List(ctx context.Context, filter Filter, limit, offset int) ([]Job, error)

	// Count returns the number of jobs matching filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// Stats returns aggregate counts across all non-deleted jobs.
	Stats(ctx context.Context) (Stats, error)

	// ClaimNext atomically selects and claims the oldest-scheduled pending
	// job across queues, in (scheduled_at ASC, id ASC) order, that is due
	// (scheduled_at <= now) and is not locked by another claimant. Returns
	// ErrJobNotFound if no job is currently claimable.
	ClaimNext(ctx context.Context, queues []string) (Job, error)

	// MarkCompleted transitions a running job to completed and merges result
	// into the job's stored payload under the "result" key.
	MarkCompleted(ctx context.Context, id int64, result map[string]any) error

	// MarkFailed records a failure on a running job and always appends
	// failure to the job's payload.errors trail. If retryAt is non-nil the
	// job is rescheduled to pending at that time; otherwise it is marked
	// failed terminally. The retry/terminal decision itself is made by the
	// caller (the retry policy), not the store.
	MarkFailed(ctx context.Context, id int64, failure FailureEntry, retryAt *time.Time) error

	// Cancel transitions a pending job to cancelled. Returns
	// ErrNotCancellable if the job isn't currently pending.
	Cancel(ctx context.Context, id int64) error

	// ResetStale finds running jobs whose updated_at is older than
	// staleAfter and resets them to pending so a worker can reclaim them.
	// Returns the number of jobs reset.
	ResetStale(ctx context.Context, staleAfter time.Duration) (int64, error)

	// CleanupCompleted permanently deletes completed jobs older than
	// olderThan. Returns the number of jobs deleted.
	CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error)

	// RetryFailedJob manually moves a failed job back to pending.
	// If resetAttempts is true, attempts is reset to 0. Returns
	// ErrNotRetryable if the job isn't currently failed.
	RetryFailedJob(ctx context.Context, id int64, resetAttempts bool) (Job, error)

	// Close releases the store's underlying resources.
	Close() error
}
