package domain

import (
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

const (
	AggregateType = "AvailabilityRequest"

	RoutingKeyRequestSubmitted = "availability.request.submitted"
	RoutingKeyRequestBooked    = "availability.request.booked"
	RoutingKeyRequestCancelled = "availability.request.cancelled"
)

// AvailabilitySubmitted is emitted when a candidate submits availability.
type AvailabilitySubmitted struct {
	sharedDomain.BaseEvent
	CandidateEmail string    `json:"candidate_email"`
	BlockCount     int       `json:"block_count"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
}

// NewAvailabilitySubmitted creates an AvailabilitySubmitted event.
func NewAvailabilitySubmitted(request *AvailabilityRequest) *AvailabilitySubmitted {
	window := request.Window()
	return &AvailabilitySubmitted{
		BaseEvent:      sharedDomain.NewBaseEvent(request.ID(), AggregateType, RoutingKeyRequestSubmitted),
		CandidateEmail: request.CandidateEmail(),
		BlockCount:     len(request.Blocks()),
		WindowStart:    window.Start,
		WindowEnd:      window.End,
	}
}

// RequestBooked is emitted when a booking is confirmed for the request.
type RequestBooked struct {
	sharedDomain.BaseEvent
	CandidateEmail string    `json:"candidate_email"`
	BookingID      uuid.UUID `json:"booking_id"`
}

// NewRequestBooked creates a RequestBooked event.
func NewRequestBooked(request *AvailabilityRequest, bookingID uuid.UUID) *RequestBooked {
	return &RequestBooked{
		BaseEvent:      sharedDomain.NewBaseEvent(request.ID(), AggregateType, RoutingKeyRequestBooked),
		CandidateEmail: request.CandidateEmail(),
		BookingID:      bookingID,
	}
}

// RequestCancelled is emitted when the request is closed without booking.
type RequestCancelled struct {
	sharedDomain.BaseEvent
	CandidateEmail string `json:"candidate_email"`
}

// NewRequestCancelled creates a RequestCancelled event.
func NewRequestCancelled(request *AvailabilityRequest) *RequestCancelled {
	return &RequestCancelled{
		BaseEvent:      sharedDomain.NewBaseEvent(request.ID(), AggregateType, RoutingKeyRequestCancelled),
		CandidateEmail: request.CandidateEmail(),
	}
}
