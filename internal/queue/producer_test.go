package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore implements Store with just enough behavior for Producer's own
// validation logic to be exercised; it never talks to a real database.
type stubStore struct {
	enqueueBulkCalls int
	lastSpecs        []EnqueueSpec
	listLimit        int
	listSkip         int
}

func (s *stubStore) Enqueue(ctx context.Context, spec EnqueueSpec) (Job, error) {
	return Job{JobType: spec.JobType}, nil
}

func (s *stubStore) EnqueueBulk(ctx context.Context, specs []EnqueueSpec) ([]Job, error) {
	s.enqueueBulkCalls++
	s.lastSpecs = specs
	jobs := make([]Job, len(specs))
	for i, spec := range specs {
		jobs[i] = Job{ID: int64(i + 1), JobType: spec.JobType}
	}
	return jobs, nil
}

func (s *stubStore) Get(ctx context.Context, id int64) (Job, error) { return Job{ID: id}, nil }
func (s *stubStore) Update(ctx context.Context, id int64, upd Update) (Job, error) {
	return Job{ID: id}, nil
}
func (s *stubStore) List(ctx context.Context, filter Filter, limit, offset int) ([]Job, error) {
	s.listLimit = limit
	s.listSkip = offset
	return nil, nil
}
func (s *stubStore) Count(ctx context.Context, filter Filter) (int64, error) { return 0, nil }
func (s *stubStore) Stats(ctx context.Context) (Stats, error)               { return Stats{}, nil }
func (s *stubStore) ClaimNext(ctx context.Context, queues []string) (Job, error) {
	return Job{}, ErrJobNotFound
}
func (s *stubStore) MarkCompleted(ctx context.Context, id int64, result map[string]any) error {
	return nil
}
func (s *stubStore) MarkFailed(ctx context.Context, id int64, failure FailureEntry, retryAt *time.Time) error {
	return nil
}
func (s *stubStore) Cancel(ctx context.Context, id int64) error { return nil }
func (s *stubStore) ResetStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return 0, nil
}
func (s *stubStore) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}
func (s *stubStore) RetryFailedJob(ctx context.Context, id int64, resetAttempts bool) (Job, error) {
	return Job{ID: id}, nil
}
func (s *stubStore) Close() error { return nil }

var _ Store = (*stubStore)(nil)

func TestProducerCreateBulkRejectsEmpty(t *testing.T) {
	p := NewProducer(&stubStore{})

	_, err := p.CreateBulk(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyBulk)
}

func TestProducerCreateBulkRejectsOversized(t *testing.T) {
	p := NewProducer(&stubStore{})

	specs := make([]EnqueueSpec, MaxBulkJobs+1)
	for i := range specs {
		specs[i] = EnqueueSpec{JobType: "emails"}
	}

	_, err := p.CreateBulk(context.Background(), specs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyJobs)
}

func TestProducerCreateBulkPassesThroughAtCap(t *testing.T) {
	store := &stubStore{}
	p := NewProducer(store)

	specs := make([]EnqueueSpec, MaxBulkJobs)
	for i := range specs {
		specs[i] = EnqueueSpec{JobType: "emails"}
	}

	jobs, err := p.CreateBulk(context.Background(), specs)
	require.NoError(t, err)
	assert.Len(t, jobs, MaxBulkJobs)
	assert.Equal(t, 1, store.enqueueBulkCalls)
}

func TestProducerListRejectsInvalidLimit(t *testing.T) {
	p := NewProducer(&stubStore{})

	_, err := p.List(context.Background(), Filter{}, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	_, err = p.List(context.Background(), Filter{}, 0, MaxListLimit+1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestProducerListClampsNegativeSkip(t *testing.T) {
	store := &stubStore{}
	p := NewProducer(store)

	_, err := p.List(context.Background(), Filter{}, -5, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, store.listSkip)
	assert.Equal(t, 50, store.listLimit)
}
