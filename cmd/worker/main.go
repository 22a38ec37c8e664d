// Command worker runs the webhook dispatch worker: it polls job_queue for
// a configured queue, dispatches each lease as an outbound HTTP webhook,
// and routes the outcome to complete, retry, or fail. An admin/metrics HTTP
// surface runs alongside it for health probes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hookrelay/hookrelay/internal/admin"
	"github.com/hookrelay/hookrelay/internal/config"
	"github.com/hookrelay/hookrelay/internal/dispatcher"
	"github.com/hookrelay/hookrelay/internal/queue"
	"github.com/hookrelay/hookrelay/internal/queue/overflow"
	sqlstorage "github.com/hookrelay/hookrelay/internal/storage/sql"
	"github.com/hookrelay/hookrelay/internal/webhook"
	"github.com/hookrelay/hookrelay/pkg/observability"
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

	lp, logger, err := observability.InitLogger(ctx, "hookrelay-worker", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown)
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, "hookrelay-worker", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer shutdownWithTimeout(tp.Shutdown)

	mp, err := observability.InitMeterProvider(ctx, "hookrelay-worker", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown)

	slog.InfoContext(ctx, "starting hookrelay worker", "worker_name", cfg.WorkerName, "queue", cfg.QueueName)

	pool, err := sqlstorage.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	slog.InfoContext(ctx, "database pool ready", "dsn", maskPassword(cfg.Database.DSN))

	var overflowStore overflow.Store
	var queueOpts []queue.Option
	if cfg.Overflow.Bucket != "" {
		gcs, err := overflow.NewGCSStore(ctx, cfg.Overflow.Bucket)
		if err != nil {
			return fmt.Errorf("failed to create overflow store: %w", err)
		}
		overflowStore = gcs
		queueOpts = append(queueOpts, queue.WithOverflowStore(overflowStore, cfg.Overflow.InlineThreshold))
		slog.InfoContext(ctx, "overflow store enabled", "bucket", cfg.Overflow.Bucket)
	}

	q := queue.NewPgQueue(pool, cfg.QueueName, cfg.ReclaimAfter, queueOpts...)
	deadLetter := webhook.NewPgDeadLetterRecorder(pool)
	httpDispatcher := dispatcher.NewHTTPDispatcher()

	worker := webhook.NewWebhookWorker(q, httpDispatcher, deadLetter, webhook.Config{
		WorkerName:        cfg.WorkerName,
		PollInterval:      cfg.PollInterval,
		RequestTimeout:    cfg.RequestTimeout,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		Transactional:     cfg.Transactional,
		RetryPolicy: queue.RetryPolicy{
			BackoffCoefficient: cfg.RetryPolicy.BackoffCoefficient,
			InitialInterval:    cfg.RetryPolicy.InitialInterval,
			MaximumInterval:    cfg.RetryPolicy.MaximumInterval,
			RetryQueue:         cfg.RetryPolicy.RetryQueueName,
		},
		Overflow: overflowStore,
	})

	// A worker that goes more than three poll intervals without ticking is
	// considered unhealthy by the admin server's liveness check.
	adminServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindHost, fmt.Sprintf("%d", cfg.BindPort)),
		Handler: admin.NewRouter(worker, 3*cfg.PollInterval),
	}

	errResult := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "admin server listening", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errResult <- fmt.Errorf("admin server failed: %w", err)
		}
	}()

	go func() {
		if err := worker.Run(ctx); err != nil {
			errResult <- fmt.Errorf("worker failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
	case err := <-errResult:
		cancel()
		shutdownAdmin(adminServer)
		return err
	}

	shutdownAdmin(adminServer)
	return nil
}

func shutdownAdmin(s *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "admin server shutdown failed", "error", err)
	}
}

func shutdownWithTimeout(shutdown func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to shut down provider", "error", err)
	}
}

// maskPassword masks the password in a connection string for logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			username := u.User.Username()
			u.User = url.UserPassword(username, "xxxxxx")
		}
	}
	return u.String()
}
