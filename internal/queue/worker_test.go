package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workerFakeStore hands out a fixed slice of jobs one at a time via
// ClaimNext and records every completion/failure call.
type workerFakeStore struct {
	mu        sync.Mutex
	pending   []Job
	byID      map[int64]Job
	completed []int64
	failed    []FailureEntry
	retryAt   map[int64]*time.Time
}

func newWorkerFakeStore(jobs ...Job) *workerFakeStore {
	byID := make(map[int64]Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	return &workerFakeStore{pending: jobs, byID: byID, retryAt: make(map[int64]*time.Time)}
}

func (s *workerFakeStore) Enqueue(ctx context.Context, spec EnqueueSpec) (Job, error) {
	return Job{}, nil
}
func (s *workerFakeStore) EnqueueBulk(ctx context.Context, specs []EnqueueSpec) ([]Job, error) {
	return nil, nil
}

func (s *workerFakeStore) Get(ctx context.Context, id int64) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.byID[id]; ok {
		return j, nil
	}
	return Job{ID: id}, nil
}

func (s *workerFakeStore) Update(ctx context.Context, id int64, upd Update) (Job, error) {
	return Job{ID: id}, nil
}
func (s *workerFakeStore) List(ctx context.Context, filter Filter, limit, offset int) ([]Job, error) {
	return nil, nil
}
func (s *workerFakeStore) Count(ctx context.Context, filter Filter) (int64, error) { return 0, nil }
func (s *workerFakeStore) Stats(ctx context.Context) (Stats, error)               { return Stats{}, nil }

func (s *workerFakeStore) ClaimNext(ctx context.Context, queues []string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Job{}, ErrJobNotFound
	}
	job := s.pending[0]
	s.pending = s.pending[1:]
	return job, nil
}

func (s *workerFakeStore) MarkCompleted(ctx context.Context, id int64, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	return nil
}

func (s *workerFakeStore) MarkFailed(ctx context.Context, id int64, failure FailureEntry, retryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, failure)
	s.retryAt[id] = retryAt
	return nil
}

func (s *workerFakeStore) Cancel(ctx context.Context, id int64) error { return nil }
func (s *workerFakeStore) ResetStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return 0, nil
}
func (s *workerFakeStore) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}
func (s *workerFakeStore) RetryFailedJob(ctx context.Context, id int64, resetAttempts bool) (Job, error) {
	return Job{ID: id}, nil
}
func (s *workerFakeStore) Close() error { return nil }

var _ Store = (*workerFakeStore)(nil)

func (s *workerFakeStore) completedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}

func (s *workerFakeStore) failedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerID:          "test-worker",
		Queues:            []string{DefaultQueue},
		PollInterval:      5 * time.Millisecond,
		MaxPollInterval:   20 * time.Millisecond,
		BackoffFactor:     2,
		MaxConcurrentJobs: 2,
		ShutdownGrace:     time.Second,
	}
}

func TestWorkerRunsRegisteredHandlerToCompletion(t *testing.T) {
	store := newWorkerFakeStore(Job{ID: 1, JobType: "echo", MaxTries: 3})
	registry := NewRegistry()
	registry.Register("echo", func(ctx context.Context, payload json.RawMessage) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})

	w := NewWorker(store, registry, DefaultRetryPolicy(), testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	waitFor(t, time.Second, func() bool { return store.completedCount() == 1 })
	cancel()
	<-runDone

	assert.Equal(t, 0, store.failedCount())
}

func TestWorkerRetriesFailedHandlerWithBackoff(t *testing.T) {
	store := newWorkerFakeStore(Job{ID: 7, JobType: "flaky", Attempts: 1, MaxTries: 3})
	registry := NewRegistry()
	registry.Register("flaky", func(ctx context.Context, payload json.RawMessage) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	w := NewWorker(store, registry, DefaultRetryPolicy(), testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	waitFor(t, time.Second, func() bool { return store.failedCount() == 1 })
	cancel()
	<-runDone

	require.Len(t, store.failed, 1)
	assert.Equal(t, "boom", store.failed[0].Error)
	retryAt := store.retryAt[7]
	require.NotNil(t, retryAt)
	assert.True(t, retryAt.After(time.Now()))
}

func TestWorkerUnknownJobTypeFailsPermanently(t *testing.T) {
	store := newWorkerFakeStore(Job{ID: 3, JobType: "nonexistent", MaxTries: 3})
	registry := NewRegistry()

	w := NewWorker(store, registry, DefaultRetryPolicy(), testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	waitFor(t, time.Second, func() bool { return store.failedCount() == 1 })
	cancel()
	<-runDone

	assert.Nil(t, store.retryAt[3])
}

func TestWorkerRecoversFromHandlerPanic(t *testing.T) {
	store := newWorkerFakeStore(Job{ID: 9, JobType: "panics", MaxTries: 3})
	registry := NewRegistry()
	registry.Register("panics", func(ctx context.Context, payload json.RawMessage) (map[string]any, error) {
		panic("handler exploded")
	})

	w := NewWorker(store, registry, DefaultRetryPolicy(), testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	waitFor(t, time.Second, func() bool { return store.failedCount() == 1 })
	cancel()
	<-runDone

	assert.Nil(t, store.retryAt[9])
}
