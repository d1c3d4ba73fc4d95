package breaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/looplinehq/loopline/internal/calendar/application"
	"github.com/looplinehq/loopline/internal/calendar/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while the provider breaker rejects calls.
var ErrCircuitOpen = errors.New("calendar provider circuit open")

// Settings tunes the provider circuit breakers.
type Settings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultSettings trips after five consecutive transient failures and
// probes again after thirty seconds.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Provider wraps a calendar backend with circuit breakers. Schedule reads
// and event writes break independently so a flood of getSchedule failures
// does not block the cancellations a rollback needs.
type Provider struct {
	reader application.ScheduleReader
	writer application.EventWriter
	read   *gobreaker.CircuitBreaker[any]
	write  *gobreaker.CircuitBreaker[any]
}

// New builds the breaker-guarded provider. The writer may be nil for
// free-busy-only backends; event calls then fail immediately.
func New(reader application.ScheduleReader, writer application.EventWriter, settings Settings, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		reader: reader,
		writer: writer,
		read:   newBreaker("calendar-schedule", settings, logger),
		write:  newBreaker("calendar-events", settings, logger),
	}
}

func newBreaker(name string, settings Settings, logger *slog.Logger) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Client errors come back to the caller but do not trip the
		// breaker; only transient failures count.
		IsSuccessful: func(err error) bool {
			return err == nil || !application.IsRetryable(err)
		},
	})
}

func (p *Provider) GetSchedule(ctx context.Context, emails []string, window sharedDomain.TimeInterval, granularityMinutes int) ([]domain.InterviewerSchedule, error) {
	result, err := p.read.Execute(func() (any, error) {
		return p.reader.GetSchedule(ctx, emails, window, granularityMinutes)
	})
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	schedules, _ := result.([]domain.InterviewerSchedule)
	return schedules, nil
}

func (p *Provider) CreateEvent(ctx context.Context, organizer string, payload domain.EventPayload) (domain.EventResult, error) {
	if p.writer == nil {
		return domain.EventResult{}, errors.New("calendar backend does not support booking")
	}
	result, err := p.write.Execute(func() (any, error) {
		return p.writer.CreateEvent(ctx, organizer, payload)
	})
	if err != nil {
		return domain.EventResult{}, mapBreakerErr(err)
	}
	created, _ := result.(domain.EventResult)
	return created, nil
}

func (p *Provider) CancelEvent(ctx context.Context, organizer, eventID, reason string) error {
	if p.writer == nil {
		return errors.New("calendar backend does not support booking")
	}
	_, err := p.write.Execute(func() (any, error) {
		return nil, p.writer.CancelEvent(ctx, organizer, eventID, reason)
	})
	return mapBreakerErr(err)
}

func mapBreakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrCircuitOpen
	}
	return err
}
