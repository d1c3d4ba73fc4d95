package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

var (
	ErrEmptySessionName        = errors.New("booking session name cannot be empty")
	ErrInvalidBookingInterval  = errors.New("booking end must be after start")
	ErrNoBookingInterviewers   = errors.New("booking needs at least one interviewer")
	ErrBookingAlreadyCancelled = errors.New("booking is already cancelled")
	ErrMissingCalendarEventID  = errors.New("booking needs the provider's event id")
)

// BookingStatus is the lifecycle state of one booked session.
type BookingStatus string

const (
	BookingStatusConfirmed   BookingStatus = "confirmed"
	BookingStatusRescheduled BookingStatus = "rescheduled"
	BookingStatusCancelled   BookingStatus = "cancelled"
)

// Booking is one confirmed interview session on real calendars: a session
// name, a time span, the interviewers it claims, and the provider's event
// reference. Bookings are created by the single-slot path and by the loop
// commit saga, and they are the conflict source future solves check
// against.
type Booking struct {
	sharedDomain.BaseAggregateRoot
	requestID         uuid.UUID
	sessionName       string
	start             time.Time
	end               time.Time
	interviewerEmails []string
	calendarEventID   string
	joinURL           string
	status            BookingStatus
}

// NewBooking creates a confirmed booking for a placed session.
func NewBooking(
	requestID uuid.UUID,
	sessionName string,
	interval sharedDomain.TimeInterval,
	interviewerEmails []string,
	calendarEventID string,
	joinURL string,
) (*Booking, error) {
	if sessionName == "" {
		return nil, ErrEmptySessionName
	}
	if !interval.IsValid() {
		return nil, ErrInvalidBookingInterval
	}
	if calendarEventID == "" {
		return nil, ErrMissingCalendarEventID
	}
	emails := sharedDomain.NormalizeEmails(interviewerEmails)
	if len(emails) == 0 {
		return nil, ErrNoBookingInterviewers
	}

	booking := &Booking{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		requestID:         requestID,
		sessionName:       sessionName,
		start:             interval.Start.UTC(),
		end:               interval.End.UTC(),
		interviewerEmails: emails,
		calendarEventID:   calendarEventID,
		joinURL:           joinURL,
		status:            BookingStatusConfirmed,
	}
	booking.AddDomainEvent(NewSlotBooked(booking))
	return booking, nil
}

// Getters
func (b *Booking) RequestID() uuid.UUID        { return b.requestID }
func (b *Booking) SessionName() string         { return b.sessionName }
func (b *Booking) Start() time.Time            { return b.start }
func (b *Booking) End() time.Time              { return b.end }
func (b *Booking) InterviewerEmails() []string { return b.interviewerEmails }
func (b *Booking) CalendarEventID() string     { return b.calendarEventID }
func (b *Booking) JoinURL() string             { return b.joinURL }
func (b *Booking) Status() BookingStatus       { return b.status }

// Interval returns the booked span as a half-open interval.
func (b *Booking) Interval() sharedDomain.TimeInterval {
	return sharedDomain.TimeInterval{Start: b.start, End: b.end}
}

// Cancel releases the booked time. The calendar event is cancelled by the
// caller; this only records the state change.
func (b *Booking) Cancel() error {
	if b.status == BookingStatusCancelled {
		return ErrBookingAlreadyCancelled
	}
	b.status = BookingStatusCancelled
	b.Touch()
	return nil
}

// RehydrateBooking recreates a booking from persisted state.
func RehydrateBooking(
	id uuid.UUID,
	requestID uuid.UUID,
	sessionName string,
	start time.Time,
	end time.Time,
	interviewerEmails []string,
	calendarEventID string,
	joinURL string,
	status BookingStatus,
	createdAt time.Time,
	updatedAt time.Time,
) *Booking {
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity)

	return &Booking{
		BaseAggregateRoot: baseAggregate,
		requestID:         requestID,
		sessionName:       sessionName,
		start:             start,
		end:               end,
		interviewerEmails: interviewerEmails,
		calendarEventID:   calendarEventID,
		joinURL:           joinURL,
		status:            status,
	}
}
