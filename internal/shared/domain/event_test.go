package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewBaseEvent(t *testing.T) {
	aggregateID := uuid.New()
	before := time.Now().UTC()

	event := NewBaseEvent(aggregateID, "AvailabilityRequest", "availability.request.submitted")

	after := time.Now().UTC()

	assert.NotEqual(t, uuid.Nil, event.EventID())
	assert.Equal(t, aggregateID, event.AggregateID())
	assert.Equal(t, "AvailabilityRequest", event.AggregateType())
	assert.Equal(t, "availability.request.submitted", event.RoutingKey())
	assert.False(t, event.OccurredAt().Before(before))
	assert.False(t, event.OccurredAt().After(after))
	assert.Equal(t, EventMetadata{}, event.Metadata(), "metadata arrives later from the handler")
}

func TestBaseEvent_SetMetadata(t *testing.T) {
	event := NewBaseEvent(uuid.New(), "AvailabilityRequest", "availability.request.submitted")
	meta := EventMetadata{
		CorrelationID: uuid.New(),
		CausationID:   uuid.New(),
		Actor:         "recruiting@acme.test",
	}

	event.SetMetadata(meta)

	assert.Equal(t, meta, event.Metadata())
}

func TestEventIDsAreUnique(t *testing.T) {
	a := NewBaseEvent(uuid.New(), "InterviewLoop", "scheduling.loop.solved")
	b := NewBaseEvent(uuid.New(), "InterviewLoop", "scheduling.loop.solved")

	assert.NotEqual(t, a.EventID(), b.EventID())
}
