package sqlitestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrahulmane/job-queue/internal/queue"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails", Payload: json.RawMessage(`{"to":"a@b"}`)})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, job.Status)
	assert.Equal(t, queue.DefaultQueue, job.QueueName)
	assert.Equal(t, 3, job.MaxTries)

	fetched, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.JSONEq(t, `{"to":"a@b"}`, string(fetched.Payload))
}

func TestGetMissingJobReturnsNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), 999)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestClaimNextOrdersByScheduledAt(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	later := time.Now().Add(time.Hour)
	earlier := time.Now().Add(-time.Hour)

	_, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "a", ScheduledAt: &later})
	require.NoError(t, err)
	earlyJob, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "b", ScheduledAt: &earlier})
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx, []string{queue.DefaultQueue})
	require.NoError(t, err)
	assert.Equal(t, earlyJob.ID, claimed.ID)
	assert.Equal(t, queue.StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
}

func TestClaimNextReturnsNotFoundWhenEmpty(t *testing.T) {
	store := openTestStore(t)

	_, err := store.ClaimNext(context.Background(), []string{queue.DefaultQueue})
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestMarkCompletedMergesResultIntoPayload(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails", Payload: json.RawMessage(`{"to":"a@b"}`)})
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, []string{queue.DefaultQueue})
	require.NoError(t, err)

	require.NoError(t, store.MarkCompleted(ctx, job.ID, map[string]any{"sent": true}))

	fetched, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, fetched.Status)
	assert.JSONEq(t, `{"to":"a@b","result":{"sent":true}}`, string(fetched.Payload))
}

func TestMarkFailedWithoutRetryAtLeavesJobFailed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails", MaxTries: 1})
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, []string{queue.DefaultQueue})
	require.NoError(t, err)

	require.NoError(t, store.MarkFailed(ctx, job.ID, queue.FailureEntry{Attempt: 1, Error: "boom"}, nil))

	fetched, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, fetched.Status)
}

func TestMarkFailedWithRetryAtReschedulesAsPending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails", MaxTries: 5})
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, []string{queue.DefaultQueue})
	require.NoError(t, err)

	retryAt := time.Now().Add(time.Minute)
	require.NoError(t, store.MarkFailed(ctx, job.ID, queue.FailureEntry{Attempt: 1, Error: "boom"}, &retryAt))

	fetched, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, fetched.Status)
	assert.WithinDuration(t, retryAt, fetched.ScheduledAt, time.Second)
}

func TestCancelPendingJobSoftDeletes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails"})
	require.NoError(t, err)

	require.NoError(t, store.Cancel(ctx, job.ID))

	_, err = store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestCancelRunningJobIsRejected(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails"})
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, []string{queue.DefaultQueue})
	require.NoError(t, err)

	err = store.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, queue.ErrNotCancellable)
}

func TestRetryFailedJobResetsAttempts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails", MaxTries: 1})
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, []string{queue.DefaultQueue})
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, job.ID, queue.FailureEntry{Attempt: 1, Error: "boom"}, nil))

	retried, err := store.RetryFailedJob(ctx, job.ID, true)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, retried.Status)
	assert.Equal(t, 0, retried.Attempts)
}

func TestRetryNonFailedJobIsRejected(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails"})
	require.NoError(t, err)

	_, err = store.RetryFailedJob(ctx, job.ID, true)
	assert.ErrorIs(t, err, queue.ErrNotRetryable)
}

func TestResetStaleRevertsOldRunningJobs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails"})
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, []string{queue.DefaultQueue})
	require.NoError(t, err)

	n, err := store.ResetStale(ctx, -time.Hour) // cutoff in the future: everything running looks stale
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	fetched, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, fetched.Status)
}

func TestListFiltersByQueueAndStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails", QueueName: "alerts"})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails", QueueName: "default"})
	require.NoError(t, err)

	jobs, err := store.List(ctx, queue.Filter{QueueName: "alerts"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "alerts", jobs[0].QueueName)
}

func TestStatsCountsByStatusAndQueue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails", QueueName: "alerts"})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, queue.EnqueueSpec{JobType: "emails", QueueName: "alerts"})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PerStatus[queue.StatusPending])
	assert.Equal(t, int64(2), stats.PerQueue["alerts"])
}
