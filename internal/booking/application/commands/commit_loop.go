package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	availabilityDomain "github.com/looplinehq/loopline/internal/availability/domain"
	bookingDomain "github.com/looplinehq/loopline/internal/booking/domain"
	calendarApplication "github.com/looplinehq/loopline/internal/calendar/application"
	calendarDomain "github.com/looplinehq/loopline/internal/calendar/domain"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedApplication "github.com/looplinehq/loopline/internal/shared/application"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
)

var (
	ErrSolveRunNotFound   = errors.New("solve run not found")
	ErrRunNotCommittable  = errors.New("solve run has no committable solutions")
	ErrSolutionNotFound   = errors.New("solution not found in the solve run")
	ErrRequestNotFound    = errors.New("availability request not found")
	ErrRequestNotBookable = errors.New("availability request can no longer be booked")
	ErrCommitInFlight     = errors.New("a commit with this idempotency key is already in flight")
)

// rollbackReason is the cancellation note interviewers see when a partial
// commit is undone.
const rollbackReason = "Interview loop could not be fully booked; releasing this session"

// CommitOutcome is the terminal answer of one commit call.
type CommitOutcome string

const (
	CommitOutcomeCommitted        CommitOutcome = "COMMITTED"
	CommitOutcomeAlreadyCommitted CommitOutcome = "ALREADY_COMMITTED"
	CommitOutcomeFailed           CommitOutcome = "FAILED"
)

// MeetingDetails shapes the calendar events a commit creates.
type MeetingDetails struct {
	SubjectPrefix string
	Body          string
	Location      string
	OnlineMeeting bool
}

func defaultMeetingDetails() MeetingDetails {
	return MeetingDetails{SubjectPrefix: "Interview", OnlineMeeting: true}
}

// CommitLoopCommand books every session of a chosen solution.
type CommitLoopCommand struct {
	SolveRunID     uuid.UUID
	SolutionID     string
	IdempotencyKey string
	OrganizerEmail string
	Details        *MeetingDetails
	Actor          string
}

// BookedSession reports one calendar event the commit created.
type BookedSession struct {
	SessionID        uuid.UUID `json:"session_id"`
	SessionName      string    `json:"session_name"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	InterviewerEmail string    `json:"interviewer_email"`
	CalendarEventID  string    `json:"calendar_event_id"`
	JoinURL          string    `json:"join_url,omitempty"`
}

// CommitLoopResult is the saga's outcome. FAILED results carry the
// rollback audit instead of an error: a partial failure is an answer,
// not an exception.
type CommitLoopResult struct {
	LoopBookingID   uuid.UUID
	Outcome         CommitOutcome
	BookedSessions  []BookedSession
	RollbackDetails *bookingDomain.RollbackDetails
	ErrorMessage    string
}

// CommitLoopHandler runs the commit saga: claim the idempotency key with
// a pending row, book each session in order continuing past failures,
// roll back created events best-effort when any session failed, and close
// the attempt with a terminal status. This is a saga, not a transaction;
// only the bookkeeping writes are transactional.
type CommitLoopHandler struct {
	solveRunRepo schedulingDomain.SolveRunRepository
	requestRepo  availabilityDomain.Repository
	bookingRepo  bookingDomain.Repository
	loopRepo     bookingDomain.LoopRepository
	calendar     calendarApplication.EventWriter
	outboxRepo   outbox.Repository
	uow          sharedApplication.UnitOfWork
}

// NewCommitLoopHandler creates a new CommitLoopHandler.
func NewCommitLoopHandler(
	solveRunRepo schedulingDomain.SolveRunRepository,
	requestRepo availabilityDomain.Repository,
	bookingRepo bookingDomain.Repository,
	loopRepo bookingDomain.LoopRepository,
	calendar calendarApplication.EventWriter,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
) *CommitLoopHandler {
	return &CommitLoopHandler{
		solveRunRepo: solveRunRepo,
		requestRepo:  requestRepo,
		bookingRepo:  bookingRepo,
		loopRepo:     loopRepo,
		calendar:     calendar,
		outboxRepo:   outboxRepo,
		uow:          uow,
	}
}

// bookedEvent pairs a created calendar event with its booking record
// until the saga knows the attempt's outcome.
type bookedEvent struct {
	placed  schedulingDomain.ScheduledSession
	event   calendarDomain.EventResult
	booking *bookingDomain.Booking
}

// Handle executes the CommitLoopCommand.
func (h *CommitLoopHandler) Handle(ctx context.Context, cmd CommitLoopCommand) (*CommitLoopResult, error) {
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return nil, bookingDomain.ErrEmptyIdempotencyKey
	}

	existing, err := h.loopRepo.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status() {
		case bookingDomain.LoopStatusPending:
			return nil, ErrCommitInFlight
		case bookingDomain.LoopStatusFailed:
			// A failed attempt releases the key; fall through to a fresh row.
		default:
			return alreadyCommitted(existing), nil
		}
	}

	run, err := h.solveRunRepo.FindByID(ctx, cmd.SolveRunID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrSolveRunNotFound
	}
	if !run.IsCommittable() {
		return nil, ErrRunNotCommittable
	}
	solution, ok := run.Solution(cmd.SolutionID)
	if !ok {
		return nil, ErrSolutionNotFound
	}

	request, err := h.requestRepo.FindByID(ctx, run.RequestID())
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, ErrRequestNotFound
	}
	now := time.Now().UTC()
	if request.IsExpired(now) {
		return nil, availabilityDomain.ErrRequestExpired
	}
	if !request.CanBeBooked(now) {
		return nil, ErrRequestNotBookable
	}

	loop, err := bookingDomain.NewLoopBooking(run.ID(), run.RequestID(), cmd.SolutionID, cmd.IdempotencyKey, cmd.OrganizerEmail)
	if err != nil {
		return nil, err
	}
	if err := h.loopRepo.Create(ctx, loop); err != nil {
		if errors.Is(err, bookingDomain.ErrDuplicateIdempotencyKey) {
			return h.arbitrateDuplicate(ctx, cmd.IdempotencyKey)
		}
		return nil, err
	}

	// The pending row is durable; from here the saga runs to completion
	// even if the caller goes away. Rollback scope depends on knowing
	// every session's outcome.
	sagaCtx := context.WithoutCancel(ctx)
	booked, failures := h.bookSessions(sagaCtx, cmd, request, solution, loop)

	if len(failures) > 0 {
		return h.finishFailed(sagaCtx, cmd, loop, booked, failures)
	}
	return h.finishCommitted(sagaCtx, cmd, loop, request, booked, now)
}

// bookSessions attempts every placement in order. A failure does not stop
// the loop: knowing which of the remaining sessions would also fail makes
// the failure report and the rollback audit complete.
func (h *CommitLoopHandler) bookSessions(
	ctx context.Context,
	cmd CommitLoopCommand,
	request *availabilityDomain.AvailabilityRequest,
	solution schedulingDomain.LoopSolution,
	loop *bookingDomain.LoopBooking,
) ([]bookedEvent, []string) {
	details := defaultMeetingDetails()
	if cmd.Details != nil {
		details = *cmd.Details
		if strings.TrimSpace(details.SubjectPrefix) == "" {
			details.SubjectPrefix = "Interview"
		}
	}

	booked := make([]bookedEvent, 0, len(solution.Sessions))
	var failures []string

	for _, placed := range solution.Sessions {
		payload := eventPayloadFor(request, placed, details)
		eventResult, err := h.calendar.CreateEvent(ctx, cmd.OrganizerEmail, payload)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", placed.SessionName, err))
			continue
		}

		booking, err := bookingDomain.NewBooking(
			request.ID(),
			placed.SessionName,
			placed.Interval(),
			[]string{placed.InterviewerEmail},
			eventResult.EventID,
			eventResult.JoinURL,
		)
		if err != nil {
			// The event exists but the record is unusable; it still has
			// to be rolled back with the rest.
			failures = append(failures, fmt.Sprintf("%s: %v", placed.SessionName, err))
			booked = append(booked, bookedEvent{placed: placed, event: eventResult})
			continue
		}

		booked = append(booked, bookedEvent{placed: placed, event: eventResult, booking: booking})
		loop.AddItem(placed.SessionID, placed.SessionName, booking.ID(), eventResult.EventID, cmd.OrganizerEmail)
	}

	return booked, failures
}

// finishFailed rolls back what was created, closes the attempt as failed,
// and returns the audit. Cancel failures are recorded, never re-thrown:
// an event left behind must stay visible for operator follow-up.
func (h *CommitLoopHandler) finishFailed(
	ctx context.Context,
	cmd CommitLoopCommand,
	loop *bookingDomain.LoopBooking,
	booked []bookedEvent,
	failures []string,
) (*CommitLoopResult, error) {
	rollback := bookingDomain.RollbackDetails{EventsCreated: len(booked)}
	for _, b := range booked {
		if err := h.calendar.CancelEvent(ctx, cmd.OrganizerEmail, b.event.EventID, rollbackReason); err != nil {
			rollback.RollbackErrors = append(rollback.RollbackErrors,
				fmt.Sprintf("cancel %s: %v", b.event.EventID, err))
			continue
		}
		rollback.EventsRolledBack++
		loop.MarkItemRolledBack(b.event.EventID)
	}

	errorMessage := strings.Join(failures, "; ")
	if err := loop.MarkFailed(errorMessage, rollback); err != nil {
		return nil, err
	}

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		if err := h.loopRepo.Update(txCtx, loop); err != nil {
			return err
		}
		return saveOutbox(txCtx, h.outboxRepo, loop.DomainEvents(), cmd.Actor)
	})
	if err != nil {
		return nil, err
	}

	return &CommitLoopResult{
		LoopBookingID:   loop.ID(),
		Outcome:         CommitOutcomeFailed,
		RollbackDetails: loop.RollbackDetails(),
		ErrorMessage:    errorMessage,
	}, nil
}

// finishCommitted persists the bookings, closes the attempt, and marks
// the source request booked, all in one transaction.
func (h *CommitLoopHandler) finishCommitted(
	ctx context.Context,
	cmd CommitLoopCommand,
	loop *bookingDomain.LoopBooking,
	request *availabilityDomain.AvailabilityRequest,
	booked []bookedEvent,
	now time.Time,
) (*CommitLoopResult, error) {
	if err := loop.MarkCommitted(); err != nil {
		return nil, err
	}
	if err := request.MarkBooked(loop.ID(), now); err != nil {
		return nil, err
	}

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		events := make([]sharedDomain.DomainEvent, 0, len(booked)+2)
		for _, b := range booked {
			if err := h.bookingRepo.Save(txCtx, b.booking); err != nil {
				return err
			}
			events = append(events, b.booking.DomainEvents()...)
		}
		if err := h.loopRepo.Update(txCtx, loop); err != nil {
			return err
		}
		if err := h.requestRepo.Save(txCtx, request); err != nil {
			return err
		}
		events = append(events, loop.DomainEvents()...)
		events = append(events, request.DomainEvents()...)
		return saveOutbox(txCtx, h.outboxRepo, events, cmd.Actor)
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]BookedSession, 0, len(booked))
	for _, b := range booked {
		sessions = append(sessions, BookedSession{
			SessionID:        b.placed.SessionID,
			SessionName:      b.placed.SessionName,
			Start:            b.placed.Start,
			End:              b.placed.End,
			InterviewerEmail: b.placed.InterviewerEmail,
			CalendarEventID:  b.event.EventID,
			JoinURL:          b.event.JoinURL,
		})
	}

	return &CommitLoopResult{
		LoopBookingID:  loop.ID(),
		Outcome:        CommitOutcomeCommitted,
		BookedSessions: sessions,
	}, nil
}

// arbitrateDuplicate decides for the loser of a Create race: a committed
// winner means idempotent success, anything else means the key is busy.
func (h *CommitLoopHandler) arbitrateDuplicate(ctx context.Context, key string) (*CommitLoopResult, error) {
	winner, err := h.loopRepo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if winner != nil && winner.Status() == bookingDomain.LoopStatusCommitted {
		return alreadyCommitted(winner), nil
	}
	return nil, ErrCommitInFlight
}

func alreadyCommitted(loop *bookingDomain.LoopBooking) *CommitLoopResult {
	sessions := make([]BookedSession, 0, len(loop.Items()))
	for _, item := range loop.Items() {
		sessions = append(sessions, BookedSession{
			SessionID:       item.SessionID(),
			SessionName:     item.SessionName(),
			CalendarEventID: item.CalendarEventID(),
		})
	}
	return &CommitLoopResult{
		LoopBookingID:  loop.ID(),
		Outcome:        CommitOutcomeAlreadyCommitted,
		BookedSessions: sessions,
	}
}

// eventPayloadFor renders one placed session as a calendar event with the
// interviewer and the candidate as attendees.
func eventPayloadFor(request *availabilityDomain.AvailabilityRequest, placed schedulingDomain.ScheduledSession, details MeetingDetails) calendarDomain.EventPayload {
	body := details.Body
	if body == "" {
		body = fmt.Sprintf("%s with %s, scheduled by Loopline.", placed.SessionName, request.CandidateName())
	}
	return calendarDomain.EventPayload{
		Subject:       fmt.Sprintf("%s: %s with %s", details.SubjectPrefix, placed.SessionName, request.CandidateName()),
		Body:          body,
		Start:         placed.Start,
		End:           placed.End,
		Attendees:     []string{placed.InterviewerEmail, request.CandidateEmail()},
		Location:      details.Location,
		OnlineMeeting: details.OnlineMeeting,
	}
}

// saveOutbox stamps metadata onto the events and stores them for the
// relay, inside the caller's transaction.
func saveOutbox(txCtx context.Context, repo outbox.Repository, events []sharedDomain.DomainEvent, actor string) error {
	sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(actor))
	msgs := make([]*outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return repo.SaveBatch(txCtx, msgs)
}
