package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/imrahulmane/job-queue/internal/config"
	"github.com/imrahulmane/job-queue/internal/queue"
	"github.com/imrahulmane/job-queue/internal/queue/handlers"
	"github.com/imrahulmane/job-queue/internal/queue/postgres"
	"github.com/imrahulmane/job-queue/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, cfg.Observability.ServiceName, cfg.Observability.Enabled)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown, "logger provider")
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, cfg.Observability.ServiceName, cfg.Observability.Enabled)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer shutdownWithTimeout(tp.Shutdown, "tracer provider")

	mp, err := observability.InitMeterProvider(ctx, cfg.Observability.ServiceName, cfg.Observability.Enabled)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown, "meter provider")

	workerID := cfg.WorkerID
	if workerID == "" {
		hostname, _ := os.Hostname()
		// Hostnames collide across replicas of the same container image, so
		// append a short random suffix to keep worker IDs distinguishable
		// in logs and job claim history.
		workerID = "worker-" + hostname + "-" + uuid.NewString()[:8]
	}

	slog.InfoContext(ctx, "starting job-queue worker", "worker_id", workerID)

	store, err := postgres.Open(ctx, cfg.Database.DSN, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	registry := queue.NewRegistry()
	handlers.Register(registry)

	workerOpts := []queue.Option{queue.WithTracer(tp.Tracer("github.com/imrahulmane/job-queue/worker"))}
	if workerMetrics, metricsErr := queue.NewOtelMetrics(mp.Meter("github.com/imrahulmane/job-queue/worker")); metricsErr != nil {
		slog.WarnContext(ctx, "failed to register worker metrics, running without them", "error", metricsErr)
	} else {
		workerOpts = append(workerOpts, queue.WithMetrics(workerMetrics))
	}

	worker := queue.NewWorker(store, registry, queue.DefaultRetryPolicy(), queue.WorkerConfig{
		WorkerID:          workerID,
		Queues:            splitQueues(cfg.WorkerQueues),
		PollInterval:      cfg.PollInterval,
		MaxPollInterval:   cfg.MaxPollInterval,
		BackoffFactor:     cfg.BackoffFactor,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	}, workerOpts...)

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(ctx)
	}()

	sweepDone := make(chan struct{})
	go runSweeps(ctx, store, cfg, sweepDone)

	err = <-workerDone
	<-sweepDone
	return err
}

// runSweeps periodically reclaims stale running jobs and permanently
// deletes old completed jobs, stopping when ctx is cancelled. Runs in the same process
// as the worker; there is no separate sweeper binary, and every worker
// process runs its own sweep loop alongside job execution.
func runSweeps(ctx context.Context, store queue.Store, cfg *config.WorkerConfig, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.ResetStale(ctx, cfg.StaleJobTimeout)
			if err != nil {
				slog.ErrorContext(ctx, "stale job sweep failed", "error", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "reset stale jobs", "count", n)
			}

			n, err = store.CleanupCompleted(ctx, cfg.CleanupRetention)
			if err != nil {
				slog.ErrorContext(ctx, "cleanup sweep failed", "error", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "cleaned up completed jobs", "count", n)
			}
		}
	}
}

func splitQueues(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type shutdownFunc func(ctx context.Context) error

func shutdownWithTimeout(fn shutdownFunc, name string) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "failed to shutdown "+name, "error", err)
	}
}
