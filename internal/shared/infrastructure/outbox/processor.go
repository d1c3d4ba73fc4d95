package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/eventbus"
	"github.com/looplinehq/loopline/pkg/observability"
)

// ProcessorConfig tunes the relay loop.
type ProcessorConfig struct {
	// PollInterval is how often the relay checks for due rows.
	PollInterval time.Duration

	// BatchSize caps how many rows one poll drains.
	BatchSize int

	// MaxRetries is the number of publish attempts before a row is
	// dead-lettered.
	MaxRetries int

	// RetryBackoffBase and RetryBackoffMax bound the exponential backoff
	// between attempts.
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration

	// Metrics receives publish counters. Nil disables recording.
	Metrics observability.Metrics
}

// DefaultProcessorConfig returns the settings used when a field is zero.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     100 * time.Millisecond,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  time.Minute,
	}
}

// Stats is a snapshot of relay progress for health endpoints and logs.
type Stats struct {
	IsRunning       bool
	PublishedCount  int64
	FailedCount     int64
	DeadCount       int64
	LagSeconds      float64
	LastError       string
	LastErrorAt     time.Time
	LastProcessedAt time.Time
	OldestMessageAt time.Time
}

// Processor drains the outbox table and hands each row to the broker
// publisher. Rows that fail are rescheduled with exponential backoff; after
// MaxRetries attempts they are dead-lettered and left for inspection.
type Processor struct {
	repo      Repository
	publisher eventbus.Publisher
	config    ProcessorConfig
	logger    *slog.Logger
	metrics   observability.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// NewProcessor creates a relay over the given repository and publisher.
// Zero config fields fall back to DefaultProcessorConfig values.
func NewProcessor(repo Repository, publisher eventbus.Publisher, config ProcessorConfig, logger *slog.Logger) *Processor {
	defaults := DefaultProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryBackoffBase <= 0 {
		config.RetryBackoffBase = defaults.RetryBackoffBase
	}
	if config.RetryBackoffMax <= 0 {
		config.RetryBackoffMax = defaults.RetryBackoffMax
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	return &Processor{
		repo:      repo,
		publisher: publisher,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start launches the poll loop. It returns an error if the relay is already
// running.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return fmt.Errorf("outbox relay already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopped = make(chan struct{})
	p.setRunning(true)

	go p.run(runCtx)

	p.logger.Info("outbox relay started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"max_retries", p.config.MaxRetries,
	)
	return nil
}

// Stop cancels the poll loop and waits for the in-flight batch to finish.
// Stopping a relay that is not running is a no-op.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-stopped
	p.setRunning(false)
	p.logger.Info("outbox relay stopped")
}

// IsRunning reports whether the poll loop is active.
func (p *Processor) IsRunning() bool {
	return p.GetStats().IsRunning
}

// GetStats returns a snapshot of relay progress.
func (p *Processor) GetStats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.stopped)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				p.noteError(err)
				p.logger.Error("outbox poll failed", observability.ErrorKey, err.Error())
			}
		}
	}
}

// ProcessOnce drains a single batch. Per-message publish failures are
// recorded on the row and do not fail the batch; only repository errors do.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	msgs, err := p.repo.GetUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch unpublished: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	p.noteBatch(msgs[0].CreatedAt)

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.publishOne(ctx, msg)
	}
	return nil
}

func (p *Processor) publishOne(ctx context.Context, msg *Message) {
	err := p.publisher.Publish(ctx, msg.RoutingKey, msg.Payload)
	if err == nil {
		if markErr := p.repo.MarkPublished(ctx, msg.ID); markErr != nil {
			p.noteError(markErr)
			p.logger.Error("outbox row published but not marked",
				"message_id", msg.ID, observability.ErrorKey, markErr.Error())
			return
		}
		p.notePublished()
		p.metrics.Counter(observability.MetricEventsPublished, 1,
			observability.T("routing_key", msg.RoutingKey))
		p.logger.Debug("event published",
			append([]any{"message_id", msg.ID, "routing_key", msg.RoutingKey}, traceAttrs(msg)...)...)
		return
	}

	attempt := msg.RetryCount + 1
	if attempt >= p.config.MaxRetries {
		reason := fmt.Sprintf("gave up after %d attempts: %v", attempt, err)
		if markErr := p.repo.MarkDead(ctx, msg.ID, reason); markErr != nil {
			p.noteError(markErr)
			return
		}
		p.noteDead(err)
		p.metrics.Counter(observability.MetricOperationErrors, 1,
			observability.T("operation", "outbox_publish"))
		p.logger.Error("outbox row dead-lettered",
			append([]any{"message_id", msg.ID, "routing_key", msg.RoutingKey,
				"attempts", attempt, observability.ErrorKey, err.Error()}, traceAttrs(msg)...)...)
		return
	}

	nextRetry := time.Now().Add(p.backoffFor(attempt))
	if markErr := p.repo.MarkFailed(ctx, msg.ID, err.Error(), nextRetry); markErr != nil {
		p.noteError(markErr)
		return
	}
	p.noteFailed(err)
	p.logger.Warn("event publish failed, will retry",
		"message_id", msg.ID, "routing_key", msg.RoutingKey,
		"attempt", attempt, "next_retry_at", nextRetry, observability.ErrorKey, err.Error())
}

// backoffFor doubles the base delay per attempt, capped at RetryBackoffMax.
func (p *Processor) backoffFor(attempt int) time.Duration {
	delay := p.config.RetryBackoffBase
	for i := 1; i < attempt && delay < p.config.RetryBackoffMax; i++ {
		delay *= 2
	}
	if delay > p.config.RetryBackoffMax {
		return p.config.RetryBackoffMax
	}
	return delay
}

// traceAttrs extracts correlation attributes from a message's stored
// metadata for log lines.
func traceAttrs(msg *Message) []any {
	if len(msg.Metadata) == 0 {
		return nil
	}
	var meta domain.EventMetadata
	if err := json.Unmarshal(msg.Metadata, &meta); err != nil {
		return nil
	}
	var attrs []any
	if meta.CorrelationID != uuid.Nil {
		attrs = append(attrs, observability.CorrelationIDKey, meta.CorrelationID.String())
	}
	if meta.Actor != "" {
		attrs = append(attrs, "actor", meta.Actor)
	}
	return attrs
}

// updateStats applies fn to the shared snapshot under the stats lock. All
// writes to p.stats go through here.
func (p *Processor) updateStats(fn func(*Stats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	fn(&p.stats)
}

func (p *Processor) setRunning(running bool) {
	p.updateStats(func(s *Stats) { s.IsRunning = running })
}

func (p *Processor) noteBatch(oldest time.Time) {
	lag := time.Since(oldest).Seconds()
	p.metrics.Gauge(observability.MetricOutboxLag, lag)
	p.updateStats(func(s *Stats) {
		s.OldestMessageAt = oldest
		s.LagSeconds = lag
		s.LastProcessedAt = time.Now()
	})
}

func (p *Processor) notePublished() {
	p.updateStats(func(s *Stats) { s.PublishedCount++ })
}

func (p *Processor) noteFailed(err error) {
	p.updateStats(func(s *Stats) {
		s.FailedCount++
		s.LastError = err.Error()
		s.LastErrorAt = time.Now()
	})
}

func (p *Processor) noteDead(err error) {
	p.updateStats(func(s *Stats) {
		s.DeadCount++
		s.LastError = err.Error()
		s.LastErrorAt = time.Now()
	})
}

func (p *Processor) noteError(err error) {
	p.updateStats(func(s *Stats) {
		s.LastError = err.Error()
		s.LastErrorAt = time.Now()
	})
}
