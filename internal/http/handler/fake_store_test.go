package handler_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/imrahulmane/job-queue/internal/queue"
)

// fakeStore is a minimal in-memory queue.Store used to exercise the HTTP
// handlers without a real database.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]queue.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[int64]queue.Job)}
}

func (s *fakeStore) Enqueue(ctx context.Context, spec queue.EnqueueSpec) (queue.Job, error) {
	jobs, err := s.EnqueueBulk(ctx, []queue.EnqueueSpec{spec})
	if err != nil {
		return queue.Job{}, err
	}
	return jobs[0], nil
}

func (s *fakeStore) EnqueueBulk(ctx context.Context, specs []queue.EnqueueSpec) ([]queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]queue.Job, 0, len(specs))
	for _, spec := range specs {
		s.nextID++
		queueName := spec.QueueName
		if queueName == "" {
			queueName = queue.DefaultQueue
		}
		maxTries := spec.MaxTries
		if maxTries <= 0 {
			maxTries = 3
		}
		scheduledAt := time.Now().UTC()
		if spec.ScheduledAt != nil {
			scheduledAt = *spec.ScheduledAt
		}
		payload := spec.Payload
		if payload == nil {
			payload = json.RawMessage(`{}`)
		}
		job := queue.Job{
			ID:          s.nextID,
			QueueName:   queueName,
			JobType:     spec.JobType,
			Payload:     payload,
			Status:      queue.StatusPending,
			ScheduledAt: scheduledAt,
			MaxTries:    maxTries,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		s.jobs[job.ID] = job
		out = append(out, job)
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id int64) (queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.IsDeleted {
		return queue.Job{}, queue.ErrJobNotFound
	}
	return j, nil
}

func (s *fakeStore) Update(ctx context.Context, id int64, upd queue.Update) (queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.IsDeleted {
		return queue.Job{}, queue.ErrJobNotFound
	}
	if upd.Payload != nil {
		j.Payload = *upd.Payload
	}
	if upd.ScheduledAt != nil {
		j.ScheduledAt = *upd.ScheduledAt
	}
	if upd.MaxTries != nil {
		j.MaxTries = *upd.MaxTries
	}
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return j, nil
}

func (s *fakeStore) List(ctx context.Context, filter queue.Filter, limit, offset int) ([]queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []queue.Job
	for _, j := range s.jobs {
		if j.IsDeleted {
			continue
		}
		if filter.QueueName != "" && j.QueueName != filter.QueueName {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.JobType != "" && j.JobType != filter.JobType {
			continue
		}
		out = append(out, j)
	}
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) Count(ctx context.Context, filter queue.Filter) (int64, error) {
	jobs, _ := s.List(ctx, filter, 1<<30, 0)
	return int64(len(jobs)), nil
}

func (s *fakeStore) Stats(ctx context.Context) (queue.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := queue.Stats{PerStatus: map[queue.Status]int64{}, PerQueue: map[string]int64{}}
	for _, j := range s.jobs {
		if j.IsDeleted {
			continue
		}
		stats.PerStatus[j.Status]++
		stats.PerQueue[j.QueueName]++
	}
	return stats, nil
}

func (s *fakeStore) ClaimNext(ctx context.Context, queues []string) (queue.Job, error) {
	return queue.Job{}, queue.ErrJobNotFound
}

func (s *fakeStore) MarkCompleted(ctx context.Context, id int64, result map[string]any) error {
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id int64, failure queue.FailureEntry, retryAt *time.Time) error {
	return nil
}

func (s *fakeStore) Cancel(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return queue.ErrJobNotFound
	}
	if j.IsDeleted || j.Status != queue.StatusPending {
		return queue.ErrNotCancellable
	}
	j.Status = queue.StatusCancelled
	j.IsDeleted = true
	now := time.Now().UTC()
	j.DeletedAt = &now
	j.UpdatedAt = now
	s.jobs[id] = j
	return nil
}

func (s *fakeStore) ResetStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return 0, nil
}

func (s *fakeStore) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (s *fakeStore) RetryFailedJob(ctx context.Context, id int64, resetAttempts bool) (queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.IsDeleted {
		return queue.Job{}, queue.ErrJobNotFound
	}
	if j.Status != queue.StatusFailed {
		return queue.Job{}, queue.ErrNotRetryable
	}
	j.Status = queue.StatusPending
	if resetAttempts {
		j.Attempts = 0
	}
	s.jobs[id] = j
	return j, nil
}

func (s *fakeStore) Close() error { return nil }

var _ queue.Store = (*fakeStore)(nil)
