package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/looplinehq/loopline/internal/app"
	"github.com/looplinehq/loopline/pkg/config"
	"github.com/looplinehq/loopline/pkg/observability"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling API server",
	Long: `Serve starts the HTTP API, applies pending migrations, and runs
the outbox processor unless OUTBOX_PROCESSOR_ENABLED is false. The
process stops cleanly on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		container, err := app.NewContainer(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("initialize container: %w", err)
		}
		defer container.Close()

		timer := observability.NewTimer("migrate", logger, container.Metrics)
		err = container.RunMigrations(ctx)
		timer.Stop(err)
		if err != nil {
			return err
		}

		if cfg.OutboxProcessorEnabled {
			if err := container.OutboxProcessor.Start(ctx); err != nil {
				return fmt.Errorf("start outbox processor: %w", err)
			}
		} else {
			logger.InfoContext(ctx, "outbox processor disabled, run the worker to publish events")
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- container.APIServer.Start()
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("API server failed: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.APIServer.Shutdown(shutdownCtx); err != nil {
			logger.WarnContext(ctx, "API server shutdown error", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
