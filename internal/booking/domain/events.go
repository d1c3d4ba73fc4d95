package domain

import (
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

const (
	BookingAggregateType     = "Booking"
	LoopBookingAggregateType = "LoopBooking"

	RoutingKeySlotBooked       = "booking.slot.booked"
	RoutingKeyLoopCommitted    = "booking.loop.committed"
	RoutingKeyLoopCommitFailed = "booking.loop.commit_failed"
	RoutingKeyLoopCancelled    = "booking.loop.cancelled"
)

// SlotBooked is emitted when one session lands on real calendars, whether
// on its own or as part of a loop commit.
type SlotBooked struct {
	sharedDomain.BaseEvent
	RequestID         uuid.UUID `json:"request_id"`
	SessionName       string    `json:"session_name"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	InterviewerEmails []string  `json:"interviewer_emails"`
	CalendarEventID   string    `json:"calendar_event_id"`
}

// NewSlotBooked creates a SlotBooked event.
func NewSlotBooked(booking *Booking) *SlotBooked {
	return &SlotBooked{
		BaseEvent:         sharedDomain.NewBaseEvent(booking.ID(), BookingAggregateType, RoutingKeySlotBooked),
		RequestID:         booking.RequestID(),
		SessionName:       booking.SessionName(),
		Start:             booking.Start(),
		End:               booking.End(),
		InterviewerEmails: booking.InterviewerEmails(),
		CalendarEventID:   booking.CalendarEventID(),
	}
}

// LoopCommitted is emitted when every session of a loop was booked.
type LoopCommitted struct {
	sharedDomain.BaseEvent
	SolveRunID uuid.UUID `json:"solve_run_id"`
	RequestID  uuid.UUID `json:"request_id"`
	SolutionID string    `json:"solution_id"`
	Sessions   int       `json:"sessions"`
}

// NewLoopCommitted creates a LoopCommitted event.
func NewLoopCommitted(loop *LoopBooking) *LoopCommitted {
	return &LoopCommitted{
		BaseEvent:  sharedDomain.NewBaseEvent(loop.ID(), LoopBookingAggregateType, RoutingKeyLoopCommitted),
		SolveRunID: loop.SolveRunID(),
		RequestID:  loop.RequestID(),
		SolutionID: loop.ChosenSolutionID(),
		Sessions:   len(loop.Items()),
	}
}

// LoopCommitFailed is emitted when a commit attempt ends in rollback.
// RollbackErrors is non-empty when cleanup itself failed and events may
// still exist on provider calendars.
type LoopCommitFailed struct {
	sharedDomain.BaseEvent
	SolveRunID       uuid.UUID `json:"solve_run_id"`
	RequestID        uuid.UUID `json:"request_id"`
	SolutionID       string    `json:"solution_id"`
	ErrorMessage     string    `json:"error_message"`
	EventsCreated    int       `json:"events_created"`
	EventsRolledBack int       `json:"events_rolled_back"`
	RollbackErrors   []string  `json:"rollback_errors,omitempty"`
}

// NewLoopCommitFailed creates a LoopCommitFailed event.
func NewLoopCommitFailed(loop *LoopBooking) *LoopCommitFailed {
	event := &LoopCommitFailed{
		BaseEvent:    sharedDomain.NewBaseEvent(loop.ID(), LoopBookingAggregateType, RoutingKeyLoopCommitFailed),
		SolveRunID:   loop.SolveRunID(),
		RequestID:    loop.RequestID(),
		SolutionID:   loop.ChosenSolutionID(),
		ErrorMessage: loop.ErrorMessage(),
	}
	if details := loop.RollbackDetails(); details != nil {
		event.EventsCreated = details.EventsCreated
		event.EventsRolledBack = details.EventsRolledBack
		event.RollbackErrors = details.RollbackErrors
	}
	return event
}

// LoopCancelled is emitted when a committed loop is explicitly released.
type LoopCancelled struct {
	sharedDomain.BaseEvent
	SolveRunID uuid.UUID `json:"solve_run_id"`
	RequestID  uuid.UUID `json:"request_id"`
	Sessions   int       `json:"sessions"`
}

// NewLoopCancelled creates a LoopCancelled event.
func NewLoopCancelled(loop *LoopBooking) *LoopCancelled {
	return &LoopCancelled{
		BaseEvent:  sharedDomain.NewBaseEvent(loop.ID(), LoopBookingAggregateType, RoutingKeyLoopCancelled),
		SolveRunID: loop.SolveRunID(),
		RequestID:  loop.RequestID(),
		Sessions:   len(loop.Items()),
	}
}
