// Command worker runs the outbox relay. It drains domain events that the
// API wrote transactionally and publishes them to RabbitMQ, keeping broker
// traffic out of the request path.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/looplinehq/loopline/internal/shared/infrastructure/eventbus"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
	"github.com/looplinehq/loopline/pkg/config"
	"github.com/looplinehq/loopline/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.LoggerFromEnv()
	logger.Info("loopline worker starting")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	publisher, err := buildPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	repo := outbox.NewPostgresRepository(pool)
	relay := outbox.NewProcessor(repo, publisher, outbox.ProcessorConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxRetries:   cfg.OutboxMaxRetries,
	}, logger)

	if err := relay.Start(ctx); err != nil {
		return err
	}
	defer relay.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cleanupLoop(gctx, logger, repo, cfg.OutboxCleanupInterval, cfg.OutboxRetentionDays)
	})
	g.Go(func() error {
		return statsLoop(gctx, logger, relay, cfg.OutboxStatsInterval)
	})
	if cfg.WorkerHealthAddr != "" {
		g.Go(func() error {
			return serveHealth(gctx, logger, relay, pool, cfg.WorkerHealthAddr)
		})
	}

	err = g.Wait()
	logger.Info("loopline worker stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildPublisher falls back to a noop publisher in development so the relay
// can run against a bare Postgres. Production requires a reachable broker.
func buildPublisher(cfg *config.Config, logger *slog.Logger) (eventbus.Publisher, error) {
	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err == nil {
		return publisher, nil
	}
	if cfg.IsDevelopment() {
		logger.Warn("RabbitMQ not available, events will be dropped", "error", err)
		return eventbus.NewNoopPublisher(logger), nil
	}
	return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
}

// cleanupLoop prunes published outbox rows past the retention window.
func cleanupLoop(ctx context.Context, logger *slog.Logger, repo *outbox.PostgresRepository, every time.Duration, retentionDays int) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			deleted, err := repo.DeleteOld(ctx, retentionDays)
			if err != nil {
				logger.Error("outbox cleanup failed", observability.ErrorKey, err.Error())
				continue
			}
			if deleted > 0 {
				logger.Info("outbox pruned", "rows", deleted, "retention_days", retentionDays)
			}
		}
	}
}

// statsLoop periodically logs relay progress so lag shows up in the logs
// even without a metrics backend.
func statsLoop(ctx context.Context, logger *slog.Logger, relay *outbox.Processor, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats := relay.GetStats()
			logger.Info("outbox relay stats",
				"running", stats.IsRunning,
				"published", stats.PublishedCount,
				"failed", stats.FailedCount,
				"dead", stats.DeadCount,
				"lag_seconds", stats.LagSeconds,
				"last_processed_at", stats.LastProcessedAt,
				"last_error", stats.LastError,
			)
		}
	}
}

// serveHealth exposes /healthz with relay stats and /readyz backed by a
// database ping.
func serveHealth(ctx context.Context, logger *slog.Logger, relay *outbox.Processor, pool *pgxpool.Pool, addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := relay.GetStats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "ok",
			"running":           stats.IsRunning,
			"published":         stats.PublishedCount,
			"failed":            stats.FailedCount,
			"dead":              stats.DeadCount,
			"lag_seconds":       stats.LagSeconds,
			"last_processed_at": stats.LastProcessedAt,
			"last_error":        stats.LastError,
		})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("worker health server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
