package observability

import (
	"log/slog"
	"time"
)

// Timer measures one operation and fans the outcome out to a logger and a
// metrics collector. Either sink may be nil.
type Timer struct {
	operation string
	start     time.Time
	logger    *slog.Logger
	metrics   Metrics
}

// NewTimer starts the clock on the named operation.
func NewTimer(operation string, logger *slog.Logger, metrics Metrics) *Timer {
	return &Timer{
		operation: operation,
		start:     time.Now(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Stop ends the measurement and reports it. A non-nil err logs at error
// level and bumps the error counter alongside the usual total and timing.
func (t *Timer) Stop(err error) time.Duration {
	elapsed := time.Since(t.start)
	attrs := []any{OperationKey, t.operation, DurationKey, elapsed.Milliseconds()}

	switch {
	case t.logger == nil:
	case err != nil:
		t.logger.Error("operation failed", append(attrs, ErrorKey, err.Error())...)
	default:
		t.logger.Info("operation completed", attrs...)
	}

	if t.metrics != nil {
		tag := T(OperationKey, t.operation)
		t.metrics.Counter(MetricOperationTotal, 1, tag)
		t.metrics.Timing(MetricOperationDuration, elapsed, tag)
		if err != nil {
			t.metrics.Counter(MetricOperationErrors, 1, tag)
		}
	}

	return elapsed
}
