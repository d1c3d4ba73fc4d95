package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

var (
	ErrEmptyIdempotencyKey  = errors.New("commit idempotency key cannot be empty")
	ErrEmptySolutionID      = errors.New("chosen solution id cannot be empty")
	ErrLoopNotPending       = errors.New("loop booking is no longer pending")
	ErrLoopNotCommitted     = errors.New("loop booking is not committed")
	ErrLoopAlreadyCancelled = errors.New("loop booking is already cancelled")
)

// LoopBookingStatus is the lifecycle state of a loop commit attempt.
type LoopBookingStatus string

const (
	// LoopStatusPending is the in-flight state between the idempotency
	// claim and the terminal outcome.
	LoopStatusPending LoopBookingStatus = "pending"
	// LoopStatusCommitted means every session was booked.
	LoopStatusCommitted LoopBookingStatus = "committed"
	// LoopStatusFailed means at least one session could not be booked and
	// rollback bookkeeping was recorded. The idempotency key may be
	// retried with a fresh attempt.
	LoopStatusFailed LoopBookingStatus = "failed"
	// LoopStatusCancelled is reachable only through an explicit cancel of
	// a committed loop, never from the commit protocol itself.
	LoopStatusCancelled LoopBookingStatus = "cancelled"
)

// LoopItemStatus tracks what became of one session inside an attempt.
type LoopItemStatus string

const (
	LoopItemStatusBooked     LoopItemStatus = "booked"
	LoopItemStatusRolledBack LoopItemStatus = "rolled_back"
	LoopItemStatusCancelled  LoopItemStatus = "cancelled"
)

// LoopBookingItem records one successfully created calendar event within
// an attempt. Items are append-only; only their status moves, and only
// through the aggregate.
type LoopBookingItem struct {
	sharedDomain.BaseEntity
	sessionID       uuid.UUID
	sessionName     string
	bookingID       uuid.UUID
	calendarEventID string
	organizerEmail  string
	status          LoopItemStatus
}

func (i *LoopBookingItem) SessionID() uuid.UUID    { return i.sessionID }
func (i *LoopBookingItem) SessionName() string     { return i.sessionName }
func (i *LoopBookingItem) BookingID() uuid.UUID    { return i.bookingID }
func (i *LoopBookingItem) CalendarEventID() string { return i.calendarEventID }
func (i *LoopBookingItem) OrganizerEmail() string  { return i.organizerEmail }
func (i *LoopBookingItem) Status() LoopItemStatus  { return i.status }

// RollbackDetails is the audit record of a failed commit's cleanup: how
// many events had been created when the failure was detected, how many
// were successfully cancelled again, and the cancel errors left over. A
// non-empty RollbackErrors list means events may still exist on provider
// calendars and need operator follow-up.
type RollbackDetails struct {
	EventsCreated    int      `json:"events_created"`
	EventsRolledBack int      `json:"events_rolled_back"`
	RollbackErrors   []string `json:"rollback_errors,omitempty"`
}

// Clean reports whether the rollback undid everything it attempted.
func (d RollbackDetails) Clean() bool {
	return d.EventsCreated == d.EventsRolledBack && len(d.RollbackErrors) == 0
}

// LoopBooking is one commit attempt for a chosen solution. The
// idempotency key is unique across attempts that have not failed, so
// concurrent commits race on the insert and exactly one proceeds.
// Pending moves to committed or failed exactly once; cancelled is only
// reachable from committed via an explicit cancel.
type LoopBooking struct {
	sharedDomain.BaseAggregateRoot
	solveRunID           uuid.UUID
	requestID            uuid.UUID
	chosenSolutionID     string
	commitIdempotencyKey string
	organizerEmail       string
	status               LoopBookingStatus
	rollbackAttempted    bool
	rollbackDetails      *RollbackDetails
	errorMessage         string
	items                []*LoopBookingItem
}

// NewLoopBooking opens a pending commit attempt.
func NewLoopBooking(solveRunID, requestID uuid.UUID, solutionID, idempotencyKey, organizerEmail string) (*LoopBooking, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, ErrEmptyIdempotencyKey
	}
	if strings.TrimSpace(solutionID) == "" {
		return nil, ErrEmptySolutionID
	}

	return &LoopBooking{
		BaseAggregateRoot:    sharedDomain.NewBaseAggregateRoot(),
		solveRunID:           solveRunID,
		requestID:            requestID,
		chosenSolutionID:     solutionID,
		commitIdempotencyKey: strings.TrimSpace(idempotencyKey),
		organizerEmail:       organizerEmail,
		status:               LoopStatusPending,
	}, nil
}

// Getters
func (l *LoopBooking) SolveRunID() uuid.UUID             { return l.solveRunID }
func (l *LoopBooking) RequestID() uuid.UUID              { return l.requestID }
func (l *LoopBooking) ChosenSolutionID() string          { return l.chosenSolutionID }
func (l *LoopBooking) CommitIdempotencyKey() string      { return l.commitIdempotencyKey }
func (l *LoopBooking) OrganizerEmail() string            { return l.organizerEmail }
func (l *LoopBooking) Status() LoopBookingStatus         { return l.status }
func (l *LoopBooking) RollbackAttempted() bool           { return l.rollbackAttempted }
func (l *LoopBooking) RollbackDetails() *RollbackDetails { return l.rollbackDetails }
func (l *LoopBooking) ErrorMessage() string              { return l.errorMessage }
func (l *LoopBooking) Items() []*LoopBookingItem         { return l.items }

// AddItem records one successfully booked session.
func (l *LoopBooking) AddItem(sessionID uuid.UUID, sessionName string, bookingID uuid.UUID, calendarEventID, organizerEmail string) *LoopBookingItem {
	item := &LoopBookingItem{
		BaseEntity:      sharedDomain.NewBaseEntity(),
		sessionID:       sessionID,
		sessionName:     sessionName,
		bookingID:       bookingID,
		calendarEventID: calendarEventID,
		organizerEmail:  organizerEmail,
		status:          LoopItemStatusBooked,
	}
	l.items = append(l.items, item)
	l.Touch()
	return item
}

// MarkItemRolledBack flips one item after its calendar event was
// successfully cancelled during rollback.
func (l *LoopBooking) MarkItemRolledBack(calendarEventID string) {
	for _, item := range l.items {
		if item.calendarEventID == calendarEventID && item.status == LoopItemStatusBooked {
			item.status = LoopItemStatusRolledBack
			item.Touch()
			return
		}
	}
}

// MarkCommitted closes the attempt as fully booked.
func (l *LoopBooking) MarkCommitted() error {
	if l.status != LoopStatusPending {
		return ErrLoopNotPending
	}
	l.status = LoopStatusCommitted
	l.Touch()
	l.AddDomainEvent(NewLoopCommitted(l))
	return nil
}

// MarkFailed closes the attempt after a partial failure, with the
// aggregated error and the rollback audit attached.
func (l *LoopBooking) MarkFailed(errorMessage string, details RollbackDetails) error {
	if l.status != LoopStatusPending {
		return ErrLoopNotPending
	}
	l.status = LoopStatusFailed
	l.errorMessage = errorMessage
	l.rollbackAttempted = details.EventsCreated > 0
	l.rollbackDetails = &details
	l.Touch()
	l.AddDomainEvent(NewLoopCommitFailed(l))
	return nil
}

// Cancel releases a committed loop. Items still marked booked move to
// cancelled; the caller cancels the calendar events themselves.
func (l *LoopBooking) Cancel() error {
	switch l.status {
	case LoopStatusCancelled:
		return ErrLoopAlreadyCancelled
	case LoopStatusCommitted:
	default:
		return ErrLoopNotCommitted
	}

	l.status = LoopStatusCancelled
	for _, item := range l.items {
		if item.status == LoopItemStatusBooked {
			item.status = LoopItemStatusCancelled
			item.Touch()
		}
	}
	l.Touch()
	l.AddDomainEvent(NewLoopCancelled(l))
	return nil
}

// RehydrateLoopBooking recreates a loop booking from persisted state.
func RehydrateLoopBooking(
	id uuid.UUID,
	solveRunID uuid.UUID,
	requestID uuid.UUID,
	solutionID string,
	idempotencyKey string,
	organizerEmail string,
	status LoopBookingStatus,
	rollbackAttempted bool,
	rollbackDetails *RollbackDetails,
	errorMessage string,
	items []*LoopBookingItem,
	createdAt time.Time,
	updatedAt time.Time,
) *LoopBooking {
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity)

	return &LoopBooking{
		BaseAggregateRoot:    baseAggregate,
		solveRunID:           solveRunID,
		requestID:            requestID,
		chosenSolutionID:     solutionID,
		commitIdempotencyKey: idempotencyKey,
		organizerEmail:       organizerEmail,
		status:               status,
		rollbackAttempted:    rollbackAttempted,
		rollbackDetails:      rollbackDetails,
		errorMessage:         errorMessage,
		items:                items,
	}
}

// RehydrateLoopBookingItem recreates an item from persisted state.
func RehydrateLoopBookingItem(
	id uuid.UUID,
	sessionID uuid.UUID,
	sessionName string,
	bookingID uuid.UUID,
	calendarEventID string,
	organizerEmail string,
	status LoopItemStatus,
	createdAt time.Time,
	updatedAt time.Time,
) *LoopBookingItem {
	return &LoopBookingItem{
		BaseEntity:      sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		sessionID:       sessionID,
		sessionName:     sessionName,
		bookingID:       bookingID,
		calendarEventID: calendarEventID,
		organizerEmail:  organizerEmail,
		status:          status,
	}
}
