package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/looplinehq/loopline/internal/booking/domain"
	sharedPersistence "github.com/looplinehq/loopline/internal/shared/infrastructure/persistence"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint
// violation.
const uniqueViolation = "23505"

// PostgresLoopBookingRepository implements domain.LoopRepository using
// PostgreSQL. A partial unique index on the idempotency key of non-failed
// attempts arbitrates racing commits: the loser's insert surfaces as
// domain.ErrDuplicateIdempotencyKey, while failed attempts release the key
// for a retry.
type PostgresLoopBookingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresLoopBookingRepository creates a new PostgreSQL loop booking
// repository.
func NewPostgresLoopBookingRepository(pool *pgxpool.Pool) *PostgresLoopBookingRepository {
	return &PostgresLoopBookingRepository{pool: pool}
}

// q routes statements through the ambient transaction when one is open.
func (r *PostgresLoopBookingRepository) q(ctx context.Context) sharedPersistence.Querier {
	return sharedPersistence.QuerierFrom(ctx, r.pool)
}

type loopBookingRow struct {
	ID                uuid.UUID
	SolveRunID        uuid.UUID
	RequestID         uuid.UUID
	SolutionID        string
	IdempotencyKey    string
	OrganizerEmail    string
	Status            string
	RollbackAttempted bool
	RollbackDetails   []byte
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type loopItemRow struct {
	ID              uuid.UUID
	SessionID       uuid.UUID
	SessionName     string
	BookingID       *uuid.UUID
	CalendarEventID string
	OrganizerEmail  string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Create inserts a new commit attempt, joining the caller's transaction
// when one is open.
func (r *PostgresLoopBookingRepository) Create(ctx context.Context, loop *domain.LoopBooking) error {
	return sharedPersistence.RunInTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.createTx(ctx, tx, loop)
	})
}

func (r *PostgresLoopBookingRepository) createTx(ctx context.Context, tx pgx.Tx, loop *domain.LoopBooking) error {
	details, err := marshalRollbackDetails(loop.RollbackDetails())
	if err != nil {
		return err
	}

	query := `
		INSERT INTO loop_bookings (
			id, solve_run_id, request_id, solution_id, commit_idempotency_key,
			organizer_email, status, rollback_attempted, rollback_details,
			error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = tx.Exec(ctx, query,
		loop.ID(),
		loop.SolveRunID(),
		loop.RequestID(),
		loop.ChosenSolutionID(),
		loop.CommitIdempotencyKey(),
		loop.OrganizerEmail(),
		string(loop.Status()),
		loop.RollbackAttempted(),
		details,
		loop.ErrorMessage(),
		loop.CreatedAt(),
		loop.UpdatedAt(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateIdempotencyKey
		}
		return err
	}

	return r.insertItems(ctx, tx, loop)
}

// Update rewrites a loop's mutable state and replaces its item set.
func (r *PostgresLoopBookingRepository) Update(ctx context.Context, loop *domain.LoopBooking) error {
	return sharedPersistence.RunInTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.updateTx(ctx, tx, loop)
	})
}

func (r *PostgresLoopBookingRepository) updateTx(ctx context.Context, tx pgx.Tx, loop *domain.LoopBooking) error {
	details, err := marshalRollbackDetails(loop.RollbackDetails())
	if err != nil {
		return err
	}

	query := `
		UPDATE loop_bookings SET
			status = $2,
			rollback_attempted = $3,
			rollback_details = $4,
			error_message = $5,
			updated_at = NOW()
		WHERE id = $1
	`

	_, err = tx.Exec(ctx, query,
		loop.ID(),
		string(loop.Status()),
		loop.RollbackAttempted(),
		details,
		loop.ErrorMessage(),
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, "DELETE FROM loop_booking_items WHERE loop_booking_id = $1", loop.ID())
	if err != nil {
		return err
	}

	return r.insertItems(ctx, tx, loop)
}

func (r *PostgresLoopBookingRepository) insertItems(ctx context.Context, tx pgx.Tx, loop *domain.LoopBooking) error {
	query := `
		INSERT INTO loop_booking_items (
			id, loop_booking_id, session_id, session_name, booking_id,
			calendar_event_id, organizer_email, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, item := range loop.Items() {
		// Failure-path items may reference no booking row; store NULL
		// rather than a dangling zero uuid.
		var bookingID *uuid.UUID
		if item.BookingID() != uuid.Nil {
			id := item.BookingID()
			bookingID = &id
		}

		_, err := tx.Exec(ctx, query,
			item.ID(),
			loop.ID(),
			item.SessionID(),
			item.SessionName(),
			bookingID,
			item.CalendarEventID(),
			item.OrganizerEmail(),
			string(item.Status()),
			item.CreatedAt(),
			item.UpdatedAt(),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// FindByID retrieves a loop booking by its ID.
func (r *PostgresLoopBookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.LoopBooking, error) {
	query := loopBookingSelect + " WHERE id = $1"
	return r.findOne(ctx, query, id)
}

// FindByIdempotencyKey retrieves the latest attempt holding the key. A key
// can accumulate failed attempts before a non-failed one; the newest row
// is the one the commit saga arbitrates on.
func (r *PostgresLoopBookingRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.LoopBooking, error) {
	query := loopBookingSelect + " WHERE commit_idempotency_key = $1 ORDER BY created_at DESC LIMIT 1"
	return r.findOne(ctx, query, key)
}

const loopBookingSelect = `
	SELECT id, solve_run_id, request_id, solution_id, commit_idempotency_key,
	       organizer_email, status, rollback_attempted, rollback_details,
	       error_message, created_at, updated_at
	FROM loop_bookings
`

func (r *PostgresLoopBookingRepository) findOne(ctx context.Context, query string, arg any) (*domain.LoopBooking, error) {
	var row loopBookingRow
	err := r.q(ctx).QueryRow(ctx, query, arg).Scan(
		&row.ID,
		&row.SolveRunID,
		&row.RequestID,
		&row.SolutionID,
		&row.IdempotencyKey,
		&row.OrganizerEmail,
		&row.Status,
		&row.RollbackAttempted,
		&row.RollbackDetails,
		&row.ErrorMessage,
		&row.CreatedAt,
		&row.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	items, err := r.loadItems(ctx, row.ID)
	if err != nil {
		return nil, err
	}

	return rowToLoopBooking(row, items)
}

func (r *PostgresLoopBookingRepository) loadItems(ctx context.Context, loopID uuid.UUID) ([]*domain.LoopBookingItem, error) {
	query := `
		SELECT id, session_id, session_name, booking_id, calendar_event_id,
		       organizer_email, status, created_at, updated_at
		FROM loop_booking_items
		WHERE loop_booking_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.q(ctx).Query(ctx, query, loopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*domain.LoopBookingItem, 0)
	for rows.Next() {
		var row loopItemRow
		err := rows.Scan(
			&row.ID,
			&row.SessionID,
			&row.SessionName,
			&row.BookingID,
			&row.CalendarEventID,
			&row.OrganizerEmail,
			&row.Status,
			&row.CreatedAt,
			&row.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		bookingID := uuid.Nil
		if row.BookingID != nil {
			bookingID = *row.BookingID
		}

		items = append(items, domain.RehydrateLoopBookingItem(
			row.ID,
			row.SessionID,
			row.SessionName,
			bookingID,
			row.CalendarEventID,
			row.OrganizerEmail,
			domain.LoopItemStatus(row.Status),
			row.CreatedAt,
			row.UpdatedAt,
		))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func rowToLoopBooking(row loopBookingRow, items []*domain.LoopBookingItem) (*domain.LoopBooking, error) {
	var details *domain.RollbackDetails
	if len(row.RollbackDetails) > 0 {
		details = &domain.RollbackDetails{}
		if err := json.Unmarshal(row.RollbackDetails, details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rollback details: %w", err)
		}
	}

	return domain.RehydrateLoopBooking(
		row.ID,
		row.SolveRunID,
		row.RequestID,
		row.SolutionID,
		row.IdempotencyKey,
		row.OrganizerEmail,
		domain.LoopBookingStatus(row.Status),
		row.RollbackAttempted,
		details,
		row.ErrorMessage,
		items,
		row.CreatedAt,
		row.UpdatedAt,
	), nil
}

func marshalRollbackDetails(details *domain.RollbackDetails) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rollback details: %w", err)
	}
	return payload, nil
}
