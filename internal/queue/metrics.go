package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics receives counters and durations for job executions carried out
// by a Worker. A Worker without an explicit WithMetrics option uses a
// no-op implementation, so instrumentation is always optional.
type Metrics interface {
	JobClaimed(ctx context.Context, queueName, jobType string)
	JobCompleted(ctx context.Context, queueName, jobType string, duration time.Duration)
	JobFailed(ctx context.Context, queueName, jobType string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) JobClaimed(context.Context, string, string)                  {}
func (noopMetrics) JobCompleted(context.Context, string, string, time.Duration) {}
func (noopMetrics) JobFailed(context.Context, string, string, time.Duration)    {}

// OtelMetrics is a Metrics implementation backed by the OpenTelemetry
// metrics SDK: a claims/completions/failures counter and a job duration
// histogram, both labeled by queue and job type.
type OtelMetrics struct {
	claimed   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewOtelMetrics registers the worker runtime's instruments against meter.
func NewOtelMetrics(meter metric.Meter) (*OtelMetrics, error) {
	claimed, err := meter.Int64Counter(
		"job_queue.jobs.claimed",
		metric.WithDescription("Total jobs claimed by this worker"),
	)
	if err != nil {
		return nil, err
	}

	completed, err := meter.Int64Counter(
		"job_queue.jobs.completed",
		metric.WithDescription("Total jobs that finished successfully"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter(
		"job_queue.jobs.failed",
		metric.WithDescription("Total jobs that finished in a failed state"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"job_queue.job.duration",
		metric.WithDescription("Job execution duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &OtelMetrics{
		claimed:   claimed,
		completed: completed,
		failed:    failed,
		duration:  duration,
	}, nil
}

func (m *OtelMetrics) JobClaimed(ctx context.Context, queueName, jobType string) {
	m.claimed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queueName),
		attribute.String("job_type", jobType),
	))
}

func (m *OtelMetrics) JobCompleted(ctx context.Context, queueName, jobType string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("queue", queueName),
		attribute.String("job_type", jobType),
	)
	m.completed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
}

func (m *OtelMetrics) JobFailed(ctx context.Context, queueName, jobType string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("queue", queueName),
		attribute.String("job_type", jobType),
	)
	m.failed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
}
