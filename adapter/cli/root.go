package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/looplinehq/loopline/pkg/observability"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	logger  *slog.Logger
)

type startKey struct{}

// rootCmd is the entry point; serve, migrate, health, and version hang
// off it. Every invocation gets a correlation id so the start and end
// records of one run can be joined.
var rootCmd = &cobra.Command{
	Use:   "loopline",
	Short: "Loopline - interview loop scheduling",
	Long: `Loopline schedules interview loops: it collects candidate
availability, solves multi-session loops against interviewer calendars,
and books the winning solution with saga-style rollback.

The serve command runs the HTTP API; migrate applies the schema.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			// Verbose asks for a human reading along, so it switches to
			// the readable debug profile regardless of environment.
			cfg := observability.DefaultLogConfig()
			cfg.Level = observability.LogLevelDebug
			logger = observability.NewLogger(cfg)
		}
		if logger == nil {
			logger = slog.Default()
		}
		ctx := observability.WithCorrelationID(cmd.Context(), "")
		cmd.SetContext(context.WithValue(ctx, startKey{}, time.Now()))
		logger.InfoContext(ctx, "command start", "command", cmd.CommandPath())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			return
		}
		ctx := cmd.Context()
		started, ok := ctx.Value(startKey{}).(time.Time)
		if !ok {
			return
		}
		logger.InfoContext(ctx, "command end",
			"command", cmd.CommandPath(),
			observability.DurationKey, time.Since(started).Milliseconds(),
		)
	},
}

// Execute runs the CLI and exits nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// SetLogger routes CLI logging through the shared logger.
func SetLogger(l *slog.Logger) {
	logger = l
}
