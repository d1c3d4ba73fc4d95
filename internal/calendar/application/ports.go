package application

import (
	"context"

	"github.com/looplinehq/loopline/internal/calendar/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// ScheduleReader fetches busy intervals and working hours for a set of
// interviewers over a time window. Implementations return one schedule per
// requested email, in request order.
type ScheduleReader interface {
	GetSchedule(ctx context.Context, emails []string, window sharedDomain.TimeInterval, granularityMinutes int) ([]domain.InterviewerSchedule, error)
}

// EventWriter creates and cancels calendar events on behalf of an organizer.
type EventWriter interface {
	CreateEvent(ctx context.Context, organizer string, payload domain.EventPayload) (domain.EventResult, error)
	CancelEvent(ctx context.Context, organizer, eventID, reason string) error
}

// Provider combines both calendar capabilities. Free-busy-only backends
// implement ScheduleReader alone.
type Provider interface {
	ScheduleReader
	EventWriter
}
