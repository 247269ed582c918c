package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WorkerConfig configures a Worker's behavior. Mirrors the environment
// variables a process wires in from internal/config.
type WorkerConfig struct {
	WorkerID          string
	Queues            []string
	PollInterval      time.Duration
	MaxPollInterval   time.Duration
	BackoffFactor     float64
	MaxConcurrentJobs int
	ShutdownGrace     time.Duration
}

// DefaultWorkerConfig returns sane defaults for local development.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerID:          "worker",
		Queues:            []string{DefaultQueue},
		PollInterval:      time.Second,
		MaxPollInterval:   30 * time.Second,
		BackoffFactor:     2.0,
		MaxConcurrentJobs: 5,
		ShutdownGrace:     60 * time.Second,
	}
}

// Worker is the concurrent runtime that polls a Store for claimable jobs
// and dispatches them to Registry handlers. One Worker corresponds to one
// worker_id; running N workers is how a deployment scales across CPUs and
// machines, since a single Worker never runs handler code in parallel
// beyond MaxConcurrentJobs in-flight executions.
type Worker struct {
	store    Store
	registry *Registry
	retry    RetryPolicy
	cfg      WorkerConfig
	tracer   trace.Tracer
	metrics  Metrics

	mu        sync.Mutex
	active    map[int64]struct{}
	processed int64
	succeeded int64
	failed    int64
}

// Option configures optional Worker behavior.
type Option func(*Worker)

// WithTracer sets the tracer used to span each job execution. Defaults to
// the global OTel tracer provider's tracer if not set.
func WithTracer(t trace.Tracer) Option {
	return func(w *Worker) {
		w.tracer = t
	}
}

// WithMetrics sets the Metrics sink used to record claim/completion/failure
// counters and job duration. Defaults to a no-op implementation.
func WithMetrics(m Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// NewWorker builds a Worker. cfg.MaxConcurrentJobs must be positive;
// cfg.Queues defaults to [DefaultQueue] if empty.
func NewWorker(store Store, registry *Registry, retry RetryPolicy, cfg WorkerConfig, opts ...Option) *Worker {
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{DefaultQueue}
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 60 * time.Second
	}
	w := &Worker{
		store:    store,
		registry: registry,
		retry:    retry,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/imrahulmane/job-queue/worker"),
		metrics:  noopMetrics{},
		active:   make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes the main loop until ctx is cancelled, then waits up to
// cfg.ShutdownGrace for in-flight executions to finish before returning.
// Run always returns nil: all per-iteration and per-job errors are logged
// and swallowed, so the loop never exits on a transient store error.
func (w *Worker) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "worker started",
		"worker_id", w.cfg.WorkerID, "queues", w.cfg.Queues,
		"max_concurrent_jobs", w.cfg.MaxConcurrentJobs)

	done := make(chan int64, w.cfg.MaxConcurrentJobs)
	currentPoll := w.cfg.PollInterval

mainLoop:
	for {
		w.reap(done)

		if ctx.Err() != nil {
			break mainLoop
		}

		available := w.cfg.MaxConcurrentJobs - w.activeCount()
		if available <= 0 {
			if w.sleep(ctx, w.cfg.PollInterval) {
				break mainLoop
			}
			continue
		}

		job, err := w.store.ClaimNext(ctx, w.cfg.Queues)
		switch {
		case errors.Is(err, ErrJobNotFound):
			if w.activeCount() == 0 {
				if w.sleep(ctx, currentPoll) {
					break mainLoop
				}
				currentPoll = nextPollInterval(currentPoll, w.cfg.BackoffFactor, w.cfg.MaxPollInterval)
			} else if w.sleep(ctx, w.cfg.PollInterval) {
				break mainLoop
			}
			continue
		case err != nil:
			slog.ErrorContext(ctx, "claim failed", "error", err)
			if w.sleep(ctx, w.cfg.PollInterval) {
				break mainLoop
			}
			continue
		}

		currentPoll = w.cfg.PollInterval
		w.markActive(job.ID)
		go w.execute(ctx, job, done)
	}

	slog.InfoContext(ctx, "worker shutting down, draining in-flight jobs", "count", w.activeCount())
	w.drain(done, w.cfg.ShutdownGrace)

	w.mu.Lock()
	processed, succeeded, failed := w.processed, w.succeeded, w.failed
	w.mu.Unlock()
	slog.InfoContext(ctx, "worker stopped",
		"processed", processed, "succeeded", succeeded, "failed", failed)
	return nil
}

// nextPollInterval applies geometric backoff capped at max.
func nextPollInterval(current time.Duration, factor float64, max time.Duration) time.Duration {
	if factor <= 1 {
		factor = 2
	}
	next := time.Duration(float64(current) * factor)
	if max > 0 && next > max {
		return max
	}
	return next
}

// sleep blocks for d or until ctx is cancelled, whichever comes first.
// Returns true if ctx was cancelled.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-ctx.Done():
		return true
	}
}

func (w *Worker) markActive(id int64) {
	w.mu.Lock()
	w.active[id] = struct{}{}
	w.mu.Unlock()
}

func (w *Worker) activeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

// reap drains completion notifications without blocking.
func (w *Worker) reap(done <-chan int64) {
	for {
		select {
		case id := <-done:
			w.mu.Lock()
			delete(w.active, id)
			w.mu.Unlock()
		default:
			return
		}
	}
}

// drain waits up to grace for all in-flight executions to report completion.
func (w *Worker) drain(done <-chan int64, grace time.Duration) {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for w.activeCount() > 0 {
		select {
		case id := <-done:
			w.mu.Lock()
			delete(w.active, id)
			w.mu.Unlock()
		case <-deadline.C:
			slog.Warn("shutdown grace period elapsed with jobs still running; leaving them for stale-job recovery", "remaining", w.activeCount())
			return
		}
	}
}

// execute runs exactly one claimed job to completion and reports the
// outcome to the store. It never panics out of the goroutine: a panic in a
// handler is recovered and recorded as a permanent failure.
func (w *Worker) execute(ctx context.Context, job Job, done chan<- int64) {
	defer func() { done <- job.ID }()

	ctx, span := w.tracer.Start(ctx, "job.execute", trace.WithAttributes(
		attribute.Int64("job.id", job.ID),
		attribute.String("job.type", job.JobType),
		attribute.String("job.queue", job.QueueName),
	))
	defer span.End()

	start := time.Now()
	w.incrProcessed()
	w.metrics.JobClaimed(ctx, job.QueueName, job.JobType)

	current, err := w.store.Get(ctx, job.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to re-read claimed job")
		slog.ErrorContext(ctx, "failed to re-read claimed job", "job_id", job.ID, "error", err)
		w.incrFailed()
		w.metrics.JobFailed(ctx, job.QueueName, job.JobType, time.Since(start))
		return
	}

	handler, lookupErr := w.registry.Lookup(current.JobType)
	if lookupErr != nil {
		span.RecordError(lookupErr)
		span.SetStatus(codes.Error, "unknown job type")
		w.finalizeFailure(ctx, current, fmt.Errorf("Invalid job type: %s", current.JobType), false)
		w.metrics.JobFailed(ctx, job.QueueName, job.JobType, time.Since(start))
		return
	}

	result, execErr := w.executeWithRecovery(ctx, handler, current.Payload)
	elapsed := time.Since(start)
	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		retryable := !IsPanic(execErr)
		w.finalizeFailure(ctx, current, execErr, retryable)
		w.metrics.JobFailed(ctx, job.QueueName, job.JobType, elapsed)
	} else {
		if err := w.store.MarkCompleted(ctx, current.ID, result); err != nil {
			span.RecordError(err)
			slog.ErrorContext(ctx, "failed to mark job completed", "job_id", current.ID, "error", err)
		}
		w.incrSucceeded()
		w.metrics.JobCompleted(ctx, job.QueueName, job.JobType, elapsed)
	}

	slog.InfoContext(ctx, "job finished",
		"job_id", current.ID, "job_type", current.JobType, "elapsed", elapsed)
}

// executeWithRecovery invokes handler, converting any panic into a
// PanicError instead of letting it crash the worker process.
func (w *Worker) executeWithRecovery(ctx context.Context, handler Handler, payload json.RawMessage) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
	}()
	return handler(ctx, payload)
}

func (w *Worker) finalizeFailure(ctx context.Context, job Job, execErr error, retryable bool) {
	attempts := job.Attempts
	var retryAt *time.Time
	retry := retryable
	if retry {
		shouldRetry, at := w.retry.Decide(time.Now().UTC(), attempts, job.MaxTries)
		retry = shouldRetry
		if shouldRetry {
			retryAt = &at
		}
	}

	entry := FailureEntry{
		Attempt:   attempts,
		Error:     execErr.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := w.store.MarkFailed(ctx, job.ID, entry, retryAt); err != nil {
		slog.ErrorContext(ctx, "failed to record job failure", "job_id", job.ID, "error", err)
	}
	w.incrFailed()
}

func (w *Worker) incrProcessed() { w.mu.Lock(); w.processed++; w.mu.Unlock() }
func (w *Worker) incrSucceeded() { w.mu.Lock(); w.succeeded++; w.mu.Unlock() }
func (w *Worker) incrFailed()    { w.mu.Lock(); w.failed++; w.mu.Unlock() }
