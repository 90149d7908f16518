// The worker runs the background half of the gateway: it publishes outbox
// messages to the broker, consumes subscription events into webhook
// deliveries, retries failed deliveries on their backoff schedule and runs
// the renewal sweep on an interval.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/settlr/settlr/internal/app"
	"github.com/settlr/settlr/pkg/config"
	"github.com/settlr/settlr/pkg/observability"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("starting settlr worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logCfg := observability.DefaultLogConfig()
	if cfg.IsProduction() {
		logCfg = observability.ProductionLogConfig()
	}
	logCfg.Level = observability.LogLevel(cfg.LogLevel)
	logger = observability.NewLogger(logCfg)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize gateway", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	if err := container.OutboxProcessor.Start(ctx); err != nil {
		logger.Error("failed to start outbox processor", "error", err)
		os.Exit(1)
	}
	logger.Info("outbox processor started",
		"poll_interval", cfg.OutboxPollInterval,
		"batch_size", cfg.OutboxBatchSize,
	)

	consumer, err := container.NewEventConsumer()
	if err != nil {
		logger.Error("failed to initialize event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()
	go func() {
		// Start blocks until the context is cancelled.
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event consumer stopped", "error", err)
			cancel()
		}
	}()

	go retryWebhooks(ctx, container, logger)
	go sweepOnInterval(ctx, container, cfg.SweepInterval, logger)
	go cleanupOutbox(ctx, container, cfg, logger)

	if cfg.WorkerHealthAddr != "" {
		startHealthServer(ctx, container, cfg.WorkerHealthAddr, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down worker")
	container.OutboxProcessor.Stop()
	logger.Info("worker stopped")
}

// retryWebhooks re-attempts pending deliveries whose backoff has elapsed.
func retryWebhooks(ctx context.Context, container *app.Container, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			retried, err := container.WebhookDispatcher.RetryDue(ctx)
			if err != nil {
				logger.Error("webhook retry pass failed", "error", err)
				continue
			}
			if retried > 0 {
				logger.Info("webhook retry pass completed", "retried", retried)
			}
		}
	}
}

// sweepOnInterval runs the renewal sweep. A cron hitting the API endpoint
// can coexist with this; the sweep lock serializes them.
func sweepOnInterval(ctx context.Context, container *app.Container, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := container.Sweeper.RunOnce(ctx)
			if err != nil {
				logger.Error("sweep failed", "error", err)
				continue
			}
			if summary.Skipped {
				continue
			}
			logger.Info("sweep completed",
				"processed", summary.Processed,
				"trials_converted", summary.TrialsConverted,
				"charged", summary.Charged,
				"failed", summary.Failed,
				"cancelled", summary.Cancelled,
				"reconciled", summary.Reconciled,
			)
		}
	}
}

func cleanupOutbox(ctx context.Context, container *app.Container, cfg *config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.OutboxCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := container.OutboxRepo.DeleteOld(ctx, cfg.OutboxRetentionDays)
			if err != nil {
				logger.Error("outbox cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("outbox cleanup completed",
					"deleted", deleted,
					"retention_days", cfg.OutboxRetentionDays,
				)
			}
		}
	}
}

func startHealthServer(ctx context.Context, container *app.Container, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := container.OutboxProcessor.GetStats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":            "ok",
			"running":           stats.IsRunning,
			"published":         stats.PublishedCount,
			"failed":            stats.FailedCount,
			"dead":              stats.DeadCount,
			"last_processed_at": stats.LastProcessedAt,
			"last_error_at":     stats.LastErrorAt,
			"last_error":        stats.LastError,
		})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := container.DBConn.Ping(checkCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ready"})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("health server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()
}
