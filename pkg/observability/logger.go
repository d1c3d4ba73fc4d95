// Package observability carries the ambient concerns every Loopline binary
// shares: structured logging with correlation ids, a small metrics
// interface, operation timing and component health checks.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LogFormat selects the handler encoding.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogLevel is the minimum level that gets logged.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogConfig selects output format, level and the service identity attrs
// stamped on every record.
type LogConfig struct {
	Level  LogLevel
	Format LogFormat

	// Output defaults to os.Stderr when nil.
	Output io.Writer

	// AddSource includes file:line on every record.
	AddSource bool

	// ServiceName and ServiceVersion are stamped on every record.
	ServiceName    string
	ServiceVersion string
}

// DefaultLogConfig is tuned for the development loop: readable text on
// stderr.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       LogLevelInfo,
		Format:      LogFormatText,
		Output:      os.Stderr,
		ServiceName: "loopline",
	}
}

// ProductionLogConfig emits JSON on stdout with source locations.
func ProductionLogConfig() LogConfig {
	return LogConfig{
		Level:       LogLevelInfo,
		Format:      LogFormatJSON,
		Output:      os.Stdout,
		AddSource:   true,
		ServiceName: "loopline",
	}
}

// NewLogger builds an slog.Logger whose handler stamps service identity on
// every record and copies correlation and request ids out of the log call's
// context.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     slogLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var inner slog.Handler
	if cfg.Format == LogFormatJSON {
		inner = slog.NewJSONHandler(out, opts)
	} else {
		inner = slog.NewTextHandler(out, opts)
	}

	var stamped []slog.Attr
	if cfg.ServiceName != "" {
		stamped = append(stamped, slog.String("service", cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		stamped = append(stamped, slog.String("version", cfg.ServiceVersion))
	}

	return slog.New(&ctxHandler{inner: inner, stamped: stamped})
}

// LoggerFromEnv builds a logger from LOOPLINE_* environment variables:
// LOOPLINE_ENV=production switches to the production profile,
// LOOPLINE_LOG_LEVEL and LOOPLINE_LOG_FORMAT override individual fields,
// LOOPLINE_VERSION sets the stamped version.
func LoggerFromEnv() *slog.Logger {
	cfg := DefaultLogConfig()
	if os.Getenv("LOOPLINE_ENV") == "production" {
		cfg = ProductionLogConfig()
	}
	if v := os.Getenv("LOOPLINE_LOG_LEVEL"); v != "" {
		cfg.Level = LogLevel(v)
	}
	if v := os.Getenv("LOOPLINE_LOG_FORMAT"); v != "" {
		cfg.Format = LogFormat(v)
	}
	if v := os.Getenv("LOOPLINE_VERSION"); v != "" {
		cfg.ServiceVersion = v
	}
	return NewLogger(cfg)
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ctxHandler decorates records with the stamped service attributes plus any
// correlation and request ids found in the context.
type ctxHandler struct {
	inner   slog.Handler
	stamped []slog.Attr
}

func (h *ctxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ctxHandler) Handle(ctx context.Context, rec slog.Record) error {
	rec.AddAttrs(h.stamped...)
	if id := CorrelationIDFromContext(ctx); id != "" {
		rec.AddAttrs(slog.String(CorrelationIDKey, id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		rec.AddAttrs(slog.String(RequestIDKey, id))
	}
	return h.inner.Handle(ctx, rec)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{inner: h.inner.WithAttrs(attrs), stamped: h.stamped}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{inner: h.inner.WithGroup(name), stamped: h.stamped}
}
