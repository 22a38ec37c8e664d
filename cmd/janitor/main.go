// Command janitor runs the periodic terminal-row cleanup task against the
// job_queue table. It only ever removes rows already in a terminal state,
// and the worker and queue engine never depend on it running at all.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hookrelay/hookrelay/internal/config"
	"github.com/hookrelay/hookrelay/internal/janitor"
	"github.com/hookrelay/hookrelay/internal/queue/overflow"
	sqlstorage "github.com/hookrelay/hookrelay/internal/storage/sql"
	"github.com/hookrelay/hookrelay/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadJanitorConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, "hookrelay-janitor", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown)
	slog.SetDefault(logger)

	mp, err := observability.InitMeterProvider(ctx, "hookrelay-janitor", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown)

	pool, err := sqlstorage.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	var overflowStore overflow.Store
	if cfg.Overflow.Bucket != "" {
		gcs, err := overflow.NewGCSStore(ctx, cfg.Overflow.Bucket)
		if err != nil {
			return fmt.Errorf("failed to create overflow store: %w", err)
		}
		overflowStore = gcs
	}

	j, err := janitor.NewJanitor(pool, janitor.Config{
		Interval:     cfg.Interval,
		RetentionAge: cfg.RetentionAge,
		BatchSize:    cfg.BatchSize,
		Overflow:     overflowStore,
	}, "hookrelay-janitor")
	if err != nil {
		return fmt.Errorf("failed to create janitor: %w", err)
	}

	slog.InfoContext(ctx, "janitor started",
		"interval", cfg.Interval, "retention_age", cfg.RetentionAge, "batch_size", cfg.BatchSize)

	return j.Run(ctx)
}

func shutdownWithTimeout(shutdown func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to shut down provider", "error", err)
	}
}
