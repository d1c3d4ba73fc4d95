package domain

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is the publishable record of a state change. The routing
// key doubles as the stored event type, so consumers bind queues on the
// same string the outbox row carries.
type DomainEvent interface {
	EventID() uuid.UUID
	AggregateID() uuid.UUID
	AggregateType() string
	RoutingKey() string
	OccurredAt() time.Time
	Metadata() EventMetadata
}

// EventMetadata travels with every event. Actor is the email the
// operation was performed by or on behalf of (organizer or candidate);
// scheduling identity is email-based.
type EventMetadata struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	CausationID   uuid.UUID `json:"causation_id"`
	Actor         string    `json:"actor,omitempty"`
}

// BaseEvent implements the DomainEvent accessors; concrete events embed
// it and add their payload fields.
type BaseEvent struct {
	id            uuid.UUID
	aggregateID   uuid.UUID
	aggregateType string
	routingKey    string
	occurredAt    time.Time
	meta          EventMetadata
}

// NewBaseEvent stamps a fresh event id and occurrence time. Metadata is
// attached afterwards by the command handler, which owns the
// correlation scope.
func NewBaseEvent(aggregateID uuid.UUID, aggregateType, routingKey string) BaseEvent {
	return BaseEvent{
		id:            uuid.New(),
		aggregateID:   aggregateID,
		aggregateType: aggregateType,
		routingKey:    routingKey,
		occurredAt:    time.Now().UTC(),
	}
}

func (e BaseEvent) EventID() uuid.UUID      { return e.id }
func (e BaseEvent) AggregateID() uuid.UUID  { return e.aggregateID }
func (e BaseEvent) AggregateType() string   { return e.aggregateType }
func (e BaseEvent) RoutingKey() string      { return e.routingKey }
func (e BaseEvent) OccurredAt() time.Time   { return e.occurredAt }
func (e BaseEvent) Metadata() EventMetadata { return e.meta }

// SetMetadata attaches the command's correlation metadata.
func (e *BaseEvent) SetMetadata(meta EventMetadata) {
	e.meta = meta
}
