package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/imrahulmane/job-queue/internal/config"
	httprouter "github.com/imrahulmane/job-queue/internal/http"
	"github.com/imrahulmane/job-queue/internal/http/handler"
	"github.com/imrahulmane/job-queue/internal/queue"
	"github.com/imrahulmane/job-queue/internal/queue/adminlock"
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
	cfg, err := config.LoadServerConfig()
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

	slog.InfoContext(ctx, "starting job-queue server")

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
	slog.InfoContext(ctx, "storage initialized", "dsn", maskDSN(cfg.Database.DSN))

	var lock *adminlock.Locker
	if cfg.Redis.URL != "" {
		lock, err = adminlock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer lock.Close()
		slog.InfoContext(ctx, "admin sweep locking enabled", "redis_url", cfg.Redis.URL)
	} else {
		slog.WarnContext(ctx, "REDIS_URL not set, admin sweeps run unlocked")
	}

	producer := queue.NewProducer(store)
	server := handler.NewServer(producer, lock)
	router := httprouter.NewRouter(server)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errResult := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "http server listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errResult <- fmt.Errorf("failed to serve http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "http server shutdown timed out, forcing close", "error", err)
			return httpServer.Close()
		}
		return nil
	case err := <-errResult:
		return err
	}
}

// maskDSN redacts the password portion of a connection string for logging.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	colon := strings.Index(dsn, "://")
	if at == -1 || colon == -1 || at <= colon {
		return dsn
	}
	userInfo := dsn[colon+3 : at]
	if !strings.Contains(userInfo, ":") {
		return dsn
	}
	user := userInfo[:strings.Index(userInfo, ":")]
	return dsn[:colon+3] + user + ":xxxxxx" + dsn[at:]
}

type shutdownFunc func(ctx context.Context) error

func shutdownWithTimeout(fn shutdownFunc, name string) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "failed to shutdown "+name, "error", err)
	}
}
