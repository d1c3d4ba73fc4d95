package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateIdempotencyKey surfaces when a Create races another commit
// attempt holding the same key. The caller re-reads by key to decide
// between already-committed and in-flight conflict.
var ErrDuplicateIdempotencyKey = errors.New("a loop booking already holds this idempotency key")

// Repository persists single-session bookings.
type Repository interface {
	Save(ctx context.Context, booking *Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)
}

// LoopRepository persists loop commit attempts. Create is a plain insert;
// the unique index on the idempotency key of non-failed attempts is the
// arbiter between racing commits.
type LoopRepository interface {
	Create(ctx context.Context, loop *LoopBooking) error
	Update(ctx context.Context, loop *LoopBooking) error
	FindByID(ctx context.Context, id uuid.UUID) (*LoopBooking, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*LoopBooking, error)
}
