package queue

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// MaxBulkJobs caps EnqueueBulk request size.
	MaxBulkJobs = 100
	// MaxListLimit caps Producer.List's limit parameter.
	MaxListLimit = 1000
)

// Update carries the mutable fields a producer may change on an existing
// job. status is deliberately absent: it is never writable through this
// API.
type Update struct {
	Payload     *json.RawMessage
	ScheduledAt *time.Time
	MaxTries    *int
}

// Producer is the thin facade the HTTP layer calls into. It owns no state
// beyond the Store; its job is translating producer-shaped requests into
// Store calls and producer-shaped errors.
type Producer struct {
	store Store
}

// NewProducer wraps store in a Producer facade.
func NewProducer(store Store) *Producer {
	return &Producer{store: store}
}

// Create enqueues a single job.
func (p *Producer) Create(ctx context.Context, spec EnqueueSpec) (Job, error) {
	return p.store.Enqueue(ctx, spec)
}

// CreateBulk enqueues up to MaxBulkJobs jobs in one call.
func (p *Producer) CreateBulk(ctx context.Context, specs []EnqueueSpec) ([]Job, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyBulk
	}
	if len(specs) > MaxBulkJobs {
		return nil, ErrTooManyJobs
	}
	return p.store.EnqueueBulk(ctx, specs)
}

// List returns jobs matching filter. A limit outside [1, MaxListLimit] is
// rejected with ErrInvalidLimit; a negative skip is treated as 0.
func (p *Producer) List(ctx context.Context, filter Filter, skip, limit int) ([]Job, error) {
	if limit <= 0 || limit > MaxListLimit {
		return nil, ErrInvalidLimit
	}
	if skip < 0 {
		skip = 0
	}
	return p.store.List(ctx, filter, limit, skip)
}

// Get returns a single job by id.
func (p *Producer) Get(ctx context.Context, id int64) (Job, error) {
	return p.store.Get(ctx, id)
}

// Update applies upd's non-nil fields to job id. Only payload, scheduled_at
// and max_tries are mutable; status is never writable through this facade.
func (p *Producer) Update(ctx context.Context, id int64, upd Update) (Job, error) {
	return p.store.Update(ctx, id, upd)
}

// Cancel cancels a pending job.
func (p *Producer) Cancel(ctx context.Context, id int64) error {
	return p.store.Cancel(ctx, id)
}

// Retry manually moves a failed job back to pending.
func (p *Producer) Retry(ctx context.Context, id int64, resetAttempts bool) (Job, error) {
	return p.store.RetryFailedJob(ctx, id, resetAttempts)
}

// Stats returns aggregate job counts.
func (p *Producer) Stats(ctx context.Context) (Stats, error) {
	return p.store.Stats(ctx)
}

// Count returns the number of jobs matching filter.
func (p *Producer) Count(ctx context.Context, filter Filter) (int64, error) {
	return p.store.Count(ctx, filter)
}

// ResetStale reverts stale running jobs back to pending. Operator-only.
func (p *Producer) ResetStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return p.store.ResetStale(ctx, staleAfter)
}

// CleanupCompleted permanently deletes completed jobs older than olderThan.
// Operator-only.
func (p *Producer) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	return p.store.CleanupCompleted(ctx, olderThan)
}
