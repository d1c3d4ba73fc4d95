package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

var (
	ErrEmptyCandidateName    = errors.New("candidate name cannot be empty")
	ErrInvalidTimeZone       = errors.New("candidate time zone must be a valid IANA name")
	ErrRequestExpired        = errors.New("availability request has expired")
	ErrRequestNotOpen        = errors.New("availability request no longer accepts submissions")
	ErrRequestNotSubmitted   = errors.New("availability request has no submitted availability")
	ErrRequestNotBooked      = errors.New("availability request is not booked")
	ErrRequestAlreadyBooked  = errors.New("availability request is already booked")
	ErrNoUsableBlocks        = errors.New("no usable availability blocks after normalization")
)

// RequestStatus describes the lifecycle of an availability request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusSubmitted RequestStatus = "submitted"
	RequestStatusBooked    RequestStatus = "booked"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusExpired   RequestStatus = "expired"
)

// AvailabilityRequest is the candidate-facing aggregate: who is being
// scheduled, in which time zone, and the normalized blocks they offered.
type AvailabilityRequest struct {
	sharedDomain.BaseAggregateRoot
	candidateEmail    string
	candidateName     string
	candidateTimeZone string
	status            RequestStatus
	expiresAt         time.Time
	blocks            []*AvailabilityBlock
}

// NewAvailabilityRequest creates a pending request for a candidate.
// A zero expiresAt means the request never expires.
func NewAvailabilityRequest(candidateEmail, candidateName, candidateTimeZone string, expiresAt time.Time) (*AvailabilityRequest, error) {
	email, err := sharedDomain.NewEmailAddress(candidateEmail)
	if err != nil {
		return nil, err
	}

	candidateName = strings.TrimSpace(candidateName)
	if candidateName == "" {
		return nil, ErrEmptyCandidateName
	}

	candidateTimeZone = strings.TrimSpace(candidateTimeZone)
	if candidateTimeZone == "" {
		candidateTimeZone = "UTC"
	}
	if _, err := time.LoadLocation(candidateTimeZone); err != nil {
		return nil, ErrInvalidTimeZone
	}

	if !expiresAt.IsZero() {
		expiresAt = expiresAt.UTC()
	}

	return &AvailabilityRequest{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		candidateEmail:    email.String(),
		candidateName:     candidateName,
		candidateTimeZone: candidateTimeZone,
		status:            RequestStatusPending,
		expiresAt:         expiresAt,
	}, nil
}

// Getters
func (r *AvailabilityRequest) CandidateEmail() string        { return r.candidateEmail }
func (r *AvailabilityRequest) CandidateName() string         { return r.candidateName }
func (r *AvailabilityRequest) CandidateTimeZone() string     { return r.candidateTimeZone }
func (r *AvailabilityRequest) Status() RequestStatus         { return r.status }
func (r *AvailabilityRequest) ExpiresAt() time.Time          { return r.expiresAt }
func (r *AvailabilityRequest) Blocks() []*AvailabilityBlock  { return r.blocks }

// IsExpired reports whether the request has passed its deadline.
func (r *AvailabilityRequest) IsExpired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

// CanBeBooked reports whether a booking may be made against this request.
func (r *AvailabilityRequest) CanBeBooked(now time.Time) bool {
	return r.status == RequestStatusSubmitted && !r.IsExpired(now) && len(r.blocks) > 0
}

// SubmitAvailability normalizes the offered ranges and replaces the stored
// blocks. Non-chronological ranges are discarded before normalization.
// Resubmission is allowed until the request is booked or closed.
func (r *AvailabilityRequest) SubmitAvailability(ranges []sharedDomain.TimeInterval, opts NormalizeOptions, now time.Time) error {
	if r.status != RequestStatusPending && r.status != RequestStatusSubmitted {
		return ErrRequestNotOpen
	}
	if r.IsExpired(now) {
		return ErrRequestExpired
	}

	blocks := make([]*AvailabilityBlock, 0, len(ranges))
	for _, rng := range ranges {
		block, err := NewAvailabilityBlock(rng.Start, rng.End)
		if err != nil {
			continue
		}
		blocks = append(blocks, block)
	}

	normalized := NormalizeBlocks(blocks, opts)
	if len(normalized) == 0 {
		return ErrNoUsableBlocks
	}

	r.blocks = normalized
	r.status = RequestStatusSubmitted
	r.Touch()
	r.AddDomainEvent(NewAvailabilitySubmitted(r))
	return nil
}

// MarkBooked transitions a submitted request to booked.
func (r *AvailabilityRequest) MarkBooked(bookingID uuid.UUID, now time.Time) error {
	if r.status == RequestStatusBooked {
		return ErrRequestAlreadyBooked
	}
	if r.status != RequestStatusSubmitted {
		return ErrRequestNotSubmitted
	}
	if r.IsExpired(now) {
		return ErrRequestExpired
	}

	r.status = RequestStatusBooked
	r.Touch()
	r.AddDomainEvent(NewRequestBooked(r, bookingID))
	return nil
}

// Reopen returns a booked request to submitted after its booking was
// cancelled, so the candidate can be rescheduled.
func (r *AvailabilityRequest) Reopen() error {
	if r.status != RequestStatusBooked {
		return ErrRequestNotBooked
	}

	r.status = RequestStatusSubmitted
	r.Touch()
	return nil
}

// Cancel closes the request. Cancelling twice is a no-op; a booked
// request must have its booking cancelled first.
func (r *AvailabilityRequest) Cancel() error {
	if r.status == RequestStatusCancelled {
		return nil
	}
	if r.status == RequestStatusBooked {
		return ErrRequestAlreadyBooked
	}

	r.status = RequestStatusCancelled
	r.Touch()
	r.AddDomainEvent(NewRequestCancelled(r))
	return nil
}

// Window returns the span from the first block start to the last block
// end, or a zero interval when no blocks are stored.
func (r *AvailabilityRequest) Window() sharedDomain.TimeInterval {
	if len(r.blocks) == 0 {
		return sharedDomain.TimeInterval{}
	}
	return sharedDomain.TimeInterval{
		Start: r.blocks[0].Start(),
		End:   r.blocks[len(r.blocks)-1].End(),
	}
}

// RehydrateAvailabilityRequest recreates a request from persisted state.
func RehydrateAvailabilityRequest(
	id uuid.UUID,
	candidateEmail string,
	candidateName string,
	candidateTimeZone string,
	status RequestStatus,
	expiresAt time.Time,
	blocks []*AvailabilityBlock,
	createdAt time.Time,
	updatedAt time.Time,
) *AvailabilityRequest {
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity)

	return &AvailabilityRequest{
		BaseAggregateRoot: baseAggregate,
		candidateEmail:    candidateEmail,
		candidateName:     candidateName,
		candidateTimeZone: candidateTimeZone,
		status:            status,
		expiresAt:         expiresAt,
		blocks:            blocks,
	}
}
