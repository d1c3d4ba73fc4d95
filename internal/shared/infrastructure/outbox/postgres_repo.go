package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sharedPersistence "github.com/looplinehq/loopline/internal/shared/infrastructure/persistence"
)

const outboxColumns = `id, event_id, aggregate_type, aggregate_id, routing_key,
		payload, metadata, created_at, published_at, next_retry_at, retry_count,
		last_error, dead_lettered_at, dead_letter_reason`

const insertMessageSQL = `
	INSERT INTO outbox (
		event_id, aggregate_type, aggregate_id, routing_key,
		payload, metadata, created_at, next_retry_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id`

// PostgresRepository stores outbox rows in the outbox table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a Postgres-backed outbox repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// SaveBatch inserts the messages through the ambient transaction when the
// caller runs inside a unit of work, otherwise in a transaction of its own.
// Assigned row ids are written back onto the messages.
func (r *PostgresRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return sharedPersistence.RunInTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return insertMessages(ctx, tx, msgs)
	})
}

func insertMessages(ctx context.Context, tx pgx.Tx, msgs []*Message) error {
	for _, msg := range msgs {
		err := tx.QueryRow(ctx, insertMessageSQL,
			msg.EventID, msg.AggregateType, msg.AggregateID, msg.RoutingKey,
			msg.Payload, msg.Metadata, msg.CreatedAt, msg.NextRetryAt,
		).Scan(&msg.ID)
		if err != nil {
			return fmt.Errorf("insert outbox message %s: %w", msg.EventID, err)
		}
	}
	return nil
}

// GetUnpublished returns rows that are due, oldest first. Due means never
// published, not dead-lettered, and past any scheduled retry time.
func (r *PostgresRepository) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished outbox messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkPublished stamps the publish time and clears any retry schedule.
func (r *PostgresRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET published_at = NOW(), next_retry_at = NULL, last_error = NULL
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox message %d published: %w", id, err)
	}
	return nil
}

// MarkFailed bumps the retry count and schedules the next attempt.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = $2, next_retry_at = $3
		WHERE id = $1`, id, errMsg, nextRetryAt)
	if err != nil {
		return fmt.Errorf("mark outbox message %d failed: %w", id, err)
	}
	return nil
}

// MarkDead parks the row so the relay stops picking it up. The retry count
// and last error survive for inspection.
func (r *PostgresRepository) MarkDead(ctx context.Context, id int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET dead_lettered_at = NOW(), dead_letter_reason = $2, next_retry_at = NULL
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox message %d dead: %w", id, err)
	}
	return nil
}

// DeleteOld prunes published rows older than the retention window and
// returns how many were removed. Dead-lettered rows are kept.
func (r *PostgresRepository) DeleteOld(ctx context.Context, olderThanDays int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE published_at IS NOT NULL
		  AND published_at < NOW() - INTERVAL '1 day' * $1`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("delete old outbox messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMessages(rows pgx.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.ID, &msg.EventID, &msg.AggregateType, &msg.AggregateID,
			&msg.RoutingKey, &msg.Payload, &msg.Metadata,
			&msg.CreatedAt, &msg.PublishedAt, &msg.NextRetryAt, &msg.RetryCount,
			&msg.LastError, &msg.DeadLetteredAt, &msg.DeadLetterReason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// InMemoryRepository keeps outbox rows in a slice. It backs the relay tests
// and local development without Postgres.
type InMemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   []*Message
}

// NewInMemoryRepository creates an empty in-memory outbox.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) SaveBatch(_ context.Context, msgs []*Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.nextID++
		msg.ID = r.nextID
		r.rows = append(r.rows, msg)
	}
	return nil
}

func (r *InMemoryRepository) GetUnpublished(_ context.Context, limit int) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var due []*Message
	for _, msg := range r.rows {
		if msg.PublishedAt != nil || msg.DeadLetteredAt != nil {
			continue
		}
		if msg.NextRetryAt != nil && msg.NextRetryAt.After(now) {
			continue
		}
		due = append(due, msg)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *InMemoryRepository) MarkPublished(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.find(id)
	if err != nil {
		return err
	}
	now := time.Now()
	msg.PublishedAt = &now
	msg.NextRetryAt = nil
	msg.LastError = nil
	return nil
}

func (r *InMemoryRepository) MarkFailed(_ context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.find(id)
	if err != nil {
		return err
	}
	msg.RetryCount++
	msg.LastError = &errMsg
	msg.NextRetryAt = &nextRetryAt
	return nil
}

func (r *InMemoryRepository) MarkDead(_ context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.find(id)
	if err != nil {
		return err
	}
	now := time.Now()
	msg.DeadLetteredAt = &now
	msg.DeadLetterReason = &reason
	msg.NextRetryAt = nil
	return nil
}

func (r *InMemoryRepository) DeleteOld(_ context.Context, olderThanDays int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	var kept []*Message
	var removed int64
	for _, msg := range r.rows {
		if msg.PublishedAt != nil && msg.PublishedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	r.rows = kept
	return removed, nil
}

func (r *InMemoryRepository) find(id int64) (*Message, error) {
	for _, msg := range r.rows {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("outbox message %d not found", id)
}
