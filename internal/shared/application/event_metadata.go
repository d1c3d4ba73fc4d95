package application

import (
	"github.com/google/uuid"

	"github.com/looplinehq/loopline/internal/shared/domain"
)

type metadataSetter interface {
	SetMetadata(meta domain.EventMetadata)
}

// NewEventMetadata mints the correlation scope for one command. A
// command opens a new chain, so it is its own cause and the causation
// id equals the correlation id. Actor is the email the command was
// issued by or for.
func NewEventMetadata(actor string) domain.EventMetadata {
	correlationID := uuid.New()
	return domain.EventMetadata{
		CorrelationID: correlationID,
		CausationID:   correlationID,
		Actor:         actor,
	}
}

// ApplyEventMetadata stamps the metadata on every event that accepts
// it. Events recorded by one command share the same scope.
func ApplyEventMetadata(events []domain.DomainEvent, meta domain.EventMetadata) {
	for _, event := range events {
		if setter, ok := event.(metadataSetter); ok {
			setter.SetMetadata(meta)
		}
	}
}
