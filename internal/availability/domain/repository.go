package domain

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists availability requests with their blocks.
type Repository interface {
	// Save upserts the request and replaces its block set.
	Save(ctx context.Context, request *AvailabilityRequest) error
	// FindByID returns the request or nil when it does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*AvailabilityRequest, error)
}
