package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	availabilityDomain "github.com/looplinehq/loopline/internal/availability/domain"
	bookingDomain "github.com/looplinehq/loopline/internal/booking/domain"
	calendarApplication "github.com/looplinehq/loopline/internal/calendar/application"
	calendarDomain "github.com/looplinehq/loopline/internal/calendar/domain"
	"github.com/looplinehq/loopline/internal/scheduling/application/services"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedApplication "github.com/looplinehq/loopline/internal/shared/application"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
)

var (
	ErrInvalidWindow         = errors.New("booking window must be a chronological interval")
	ErrSlotNoLongerAvailable = errors.New("the chosen slot is no longer available")
)

// BookSlotCommand books one session into a slot the caller previously saw.
// The slot id is re-derived from fresh calendar data, so a slot that has
// been taken since it was offered is rejected instead of double-booked.
type BookSlotCommand struct {
	RequestID      uuid.UUID
	Session        schedulingDomain.SessionTemplate
	Window         sharedDomain.TimeInterval
	SlotID         string
	Policy         *schedulingDomain.SchedulingPolicy
	OrganizerEmail string
	Details        *MeetingDetails
	Actor          string
}

// BookSlotResult reports the confirmed booking.
type BookSlotResult struct {
	BookingID       uuid.UUID
	Slot            schedulingDomain.Slot
	CalendarEventID string
	JoinURL         string
}

// BookSlotHandler handles the BookSlotCommand.
type BookSlotHandler struct {
	requestRepo availabilityDomain.Repository
	bookingRepo bookingDomain.Repository
	prefetcher  *services.SchedulePrefetcher
	generator   *services.SlotGenerator
	calendar    calendarApplication.EventWriter
	outboxRepo  outbox.Repository
	uow         sharedApplication.UnitOfWork
}

// NewBookSlotHandler creates a new BookSlotHandler.
func NewBookSlotHandler(
	requestRepo availabilityDomain.Repository,
	bookingRepo bookingDomain.Repository,
	prefetcher *services.SchedulePrefetcher,
	generator *services.SlotGenerator,
	calendar calendarApplication.EventWriter,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
) *BookSlotHandler {
	return &BookSlotHandler{
		requestRepo: requestRepo,
		bookingRepo: bookingRepo,
		prefetcher:  prefetcher,
		generator:   generator,
		calendar:    calendar,
		outboxRepo:  outboxRepo,
		uow:         uow,
	}
}

// Handle executes the BookSlotCommand.
func (h *BookSlotHandler) Handle(ctx context.Context, cmd BookSlotCommand) (*BookSlotResult, error) {
	if err := cmd.Session.Validate(); err != nil {
		return nil, err
	}
	if !cmd.Window.IsValid() {
		return nil, ErrInvalidWindow
	}

	request, err := h.requestRepo.FindByID(ctx, cmd.RequestID)
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

	policy := schedulingDomain.DefaultPolicy()
	if cmd.Policy != nil {
		policy = cmd.Policy.Normalized()
	}

	prefetched, err := h.prefetcher.Fetch(ctx, []schedulingDomain.SessionTemplate{cmd.Session}, cmd.Window, policy.SlotGranularityMinutes)
	if err != nil {
		return nil, err
	}

	slots := h.generator.Generate(services.GenerateSlotsInput{
		Session:          cmd.Session,
		Window:           cmd.Window,
		Policy:           policy,
		Schedules:        prefetched.Schedules,
		ExistingBookings: prefetched.ExistingBookings,
		Now:              now,
	})

	slot, found := findSlot(slots, cmd.SlotID)
	if !found {
		return nil, ErrSlotNoLongerAvailable
	}

	details := defaultMeetingDetails()
	if cmd.Details != nil {
		details = *cmd.Details
		if details.SubjectPrefix == "" {
			details.SubjectPrefix = "Interview"
		}
	}

	payload := calendarDomain.EventPayload{
		Subject:       fmt.Sprintf("%s: %s with %s", details.SubjectPrefix, cmd.Session.Name, request.CandidateName()),
		Body:          details.Body,
		Start:         slot.Start,
		End:           slot.End,
		Attendees:     append(append([]string{}, slot.InterviewerEmails...), request.CandidateEmail()),
		Location:      details.Location,
		OnlineMeeting: details.OnlineMeeting,
	}
	if payload.Body == "" {
		payload.Body = fmt.Sprintf("%s with %s, scheduled by Loopline.", cmd.Session.Name, request.CandidateName())
	}

	eventResult, err := h.calendar.CreateEvent(ctx, cmd.OrganizerEmail, payload)
	if err != nil {
		return nil, err
	}

	booking, err := bookingDomain.NewBooking(
		request.ID(),
		cmd.Session.Name,
		slot.Interval(),
		slot.InterviewerEmails,
		eventResult.EventID,
		eventResult.JoinURL,
	)
	if err != nil {
		h.releaseEvent(ctx, cmd.OrganizerEmail, eventResult.EventID)
		return nil, err
	}
	if err := request.MarkBooked(booking.ID(), now); err != nil {
		h.releaseEvent(ctx, cmd.OrganizerEmail, eventResult.EventID)
		return nil, err
	}

	err = sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		if err := h.bookingRepo.Save(txCtx, booking); err != nil {
			return err
		}
		if err := h.requestRepo.Save(txCtx, request); err != nil {
			return err
		}
		events := make([]sharedDomain.DomainEvent, 0, 2)
		events = append(events, booking.DomainEvents()...)
		events = append(events, request.DomainEvents()...)
		return saveOutbox(txCtx, h.outboxRepo, events, cmd.Actor)
	})
	if err != nil {
		h.releaseEvent(ctx, cmd.OrganizerEmail, eventResult.EventID)
		return nil, err
	}

	return &BookSlotResult{
		BookingID:       booking.ID(),
		Slot:            slot,
		CalendarEventID: eventResult.EventID,
		JoinURL:         eventResult.JoinURL,
	}, nil
}

// releaseEvent undoes a created calendar event when the booking could not
// be recorded. Best-effort: the event id is in the returned error path
// either way.
func (h *BookSlotHandler) releaseEvent(ctx context.Context, organizer, eventID string) {
	_ = h.calendar.CancelEvent(ctx, organizer, eventID, "Booking could not be recorded; releasing this slot")
}

func findSlot(slots []schedulingDomain.Slot, id string) (schedulingDomain.Slot, bool) {
	for _, s := range slots {
		if s.ID == id {
			return s, true
		}
	}
	return schedulingDomain.Slot{}, false
}
