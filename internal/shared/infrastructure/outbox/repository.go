package outbox

import (
	"context"
	"time"
)

// Repository persists outbox rows. Command handlers enqueue messages inside
// the same transaction as their aggregate writes; the relay drains, marks,
// and prunes from the other side.
type Repository interface {
	// SaveBatch stores the messages atomically, joining the caller's
	// transaction when one is present in the context.
	SaveBatch(ctx context.Context, msgs []*Message) error

	// GetUnpublished returns rows that are due for publishing, oldest first.
	GetUnpublished(ctx context.Context, limit int) ([]*Message, error)

	// MarkPublished records a successful publish.
	MarkPublished(ctx context.Context, id int64) error

	// MarkFailed records a publish failure and when to try again.
	MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error

	// MarkDead parks a row that exhausted its retries.
	MarkDead(ctx context.Context, id int64, reason string) error

	// DeleteOld prunes published rows older than the retention window.
	DeleteOld(ctx context.Context, olderThanDays int) (int64, error)
}
