// Package http wires the producer HTTP surface's routes onto a
// net/http.ServeMux. This repository uses the standard library's
// method-and-path ServeMux patterns (Go 1.22+) instead of a third-party
// router: the surface is a small, fixed set of routes, which is exactly
// the case ServeMux's pattern matching was built for, so no dependency
// is warranted here (see DESIGN.md).
package http

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrahulmane/job-queue/internal/http/handler"
)

// NewRouter builds the full producer HTTP surface: job CRUD, bulk
// enqueue, listing/stats, per-queue listing, health-count probes, and
// administrative sweep endpoints.
func NewRouter(server *handler.Server) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthCheck)

	mux.HandleFunc("POST /jobs", server.CreateJob)
	mux.HandleFunc("POST /jobs/bulk", server.CreateJobsBulk)
	mux.HandleFunc("GET /jobs", server.ListJobs)
	mux.HandleFunc("GET /jobs/stats/overview", server.JobStats)
	mux.HandleFunc("GET /jobs/queue/{name}", server.QueueJobs)
	mux.HandleFunc("GET /jobs/health/pending-count", server.PendingCount)
	mux.HandleFunc("GET /jobs/health/running-count", server.RunningCount)
	mux.HandleFunc("GET /jobs/{id}", server.GetJob)
	mux.HandleFunc("PUT /jobs/{id}", server.UpdateJob)
	mux.HandleFunc("DELETE /jobs/{id}", server.CancelJob)
	mux.HandleFunc("POST /jobs/{id}/retry", server.RetryJob)

	mux.HandleFunc("POST /admin/jobs/reset-stale", server.ResetStale)
	mux.HandleFunc("DELETE /admin/jobs/cleanup", server.Cleanup)

	return withLogging(withTracing(mux))
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		slog.ErrorContext(r.Context(), "failed to write health check response", "error", err)
	}
}

// withLogging logs each request's method, path, status, and latency.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed", time.Since(start))
	})
}

var (
	httpTracer   = otel.Tracer("github.com/imrahulmane/job-queue/http")
	httpMeter    = otel.Meter("github.com/imrahulmane/job-queue/http")
	requestCount metric.Int64Counter
	requestDur   metric.Float64Histogram
)

func init() {
	requestCount, _ = httpMeter.Int64Counter(
		"job_queue.http.requests",
		metric.WithDescription("Total HTTP requests served by the producer API"),
	)
	requestDur, _ = httpMeter.Float64Histogram(
		"job_queue.http.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	)
}

// withTracing starts a span and records request-count/duration metrics for
// every request, labeled by method and path.
func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pattern := r.URL.Path

		ctx, span := httpTracer.Start(r.Context(), pattern, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", pattern),
		))
		defer span.End()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", pattern),
			attribute.Int("status", rec.status),
		)
		requestCount.Add(ctx, 1, attrs)
		requestDur.Record(ctx, elapsed.Seconds(), attrs)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
