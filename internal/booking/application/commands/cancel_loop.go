package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	availabilityDomain "github.com/looplinehq/loopline/internal/availability/domain"
	bookingDomain "github.com/looplinehq/loopline/internal/booking/domain"
	calendarApplication "github.com/looplinehq/loopline/internal/calendar/application"
	sharedApplication "github.com/looplinehq/loopline/internal/shared/application"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
)

var ErrLoopBookingNotFound = errors.New("loop booking not found")

// CancelLoopCommand releases a committed loop: calendar events are
// cancelled, the bookings stop counting as conflicts, and the source
// request reopens for another solve.
type CancelLoopCommand struct {
	LoopBookingID uuid.UUID
	Reason        string
	Actor         string
}

// CancelLoopResult reports how much of the cleanup succeeded. Cancel
// failures leave events on provider calendars; they are listed, not
// hidden.
type CancelLoopResult struct {
	LoopBookingID   uuid.UUID
	EventsCancelled int
	CancelErrors    []string
}

// CancelLoopHandler handles the CancelLoopCommand.
type CancelLoopHandler struct {
	loopRepo    bookingDomain.LoopRepository
	bookingRepo bookingDomain.Repository
	requestRepo availabilityDomain.Repository
	calendar    calendarApplication.EventWriter
	outboxRepo  outbox.Repository
	uow         sharedApplication.UnitOfWork
}

// NewCancelLoopHandler creates a new CancelLoopHandler.
func NewCancelLoopHandler(
	loopRepo bookingDomain.LoopRepository,
	bookingRepo bookingDomain.Repository,
	requestRepo availabilityDomain.Repository,
	calendar calendarApplication.EventWriter,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
) *CancelLoopHandler {
	return &CancelLoopHandler{
		loopRepo:    loopRepo,
		bookingRepo: bookingRepo,
		requestRepo: requestRepo,
		calendar:    calendar,
		outboxRepo:  outboxRepo,
		uow:         uow,
	}
}

// Handle executes the CancelLoopCommand.
func (h *CancelLoopHandler) Handle(ctx context.Context, cmd CancelLoopCommand) (*CancelLoopResult, error) {
	loop, err := h.loopRepo.FindByID(ctx, cmd.LoopBookingID)
	if err != nil {
		return nil, err
	}
	if loop == nil {
		return nil, ErrLoopBookingNotFound
	}
	switch loop.Status() {
	case bookingDomain.LoopStatusCancelled:
		return nil, bookingDomain.ErrLoopAlreadyCancelled
	case bookingDomain.LoopStatusCommitted:
	default:
		return nil, bookingDomain.ErrLoopNotCommitted
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "Interview loop cancelled"
	}

	result := &CancelLoopResult{LoopBookingID: loop.ID()}
	for _, item := range loop.Items() {
		if item.Status() != bookingDomain.LoopItemStatusBooked {
			continue
		}
		if err := h.calendar.CancelEvent(ctx, loop.OrganizerEmail(), item.CalendarEventID(), reason); err != nil {
			result.CancelErrors = append(result.CancelErrors,
				fmt.Sprintf("cancel %s: %v", item.CalendarEventID(), err))
			continue
		}
		result.EventsCancelled++
	}

	bookings, err := h.loadBookings(ctx, loop)
	if err != nil {
		return nil, err
	}

	if err := loop.Cancel(); err != nil {
		return nil, err
	}
	for _, booking := range bookings {
		if err := booking.Cancel(); err != nil && !errors.Is(err, bookingDomain.ErrBookingAlreadyCancelled) {
			return nil, err
		}
	}

	request, err := h.requestRepo.FindByID(ctx, loop.RequestID())
	if err != nil {
		return nil, err
	}
	reopened := false
	if request != nil {
		switch err := request.Reopen(); {
		case err == nil:
			reopened = true
		case errors.Is(err, availabilityDomain.ErrRequestNotBooked):
			// The request moved on independently; nothing to reopen.
		default:
			return nil, err
		}
	}

	err = sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		if err := h.loopRepo.Update(txCtx, loop); err != nil {
			return err
		}
		for _, booking := range bookings {
			if err := h.bookingRepo.Save(txCtx, booking); err != nil {
				return err
			}
		}
		events := loop.DomainEvents()
		if reopened {
			if err := h.requestRepo.Save(txCtx, request); err != nil {
				return err
			}
			events = append(events, request.DomainEvents()...)
		}
		return saveOutbox(txCtx, h.outboxRepo, events, cmd.Actor)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// loadBookings resolves the booking rows behind a loop's items. Items
// whose booking row is missing are skipped; the cancellation still
// proceeds on the rest.
func (h *CancelLoopHandler) loadBookings(ctx context.Context, loop *bookingDomain.LoopBooking) ([]*bookingDomain.Booking, error) {
	bookings := make([]*bookingDomain.Booking, 0, len(loop.Items()))
	for _, item := range loop.Items() {
		if item.BookingID() == uuid.Nil {
			continue
		}
		booking, err := h.bookingRepo.FindByID(ctx, item.BookingID())
		if err != nil {
			return nil, err
		}
		if booking == nil {
			continue
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}
