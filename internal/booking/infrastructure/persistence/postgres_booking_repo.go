package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/looplinehq/loopline/internal/booking/domain"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	sharedPersistence "github.com/looplinehq/loopline/internal/shared/infrastructure/persistence"
)

// PostgresBookingRepository implements domain.Repository using PostgreSQL.
// It also serves the scheduling side's conflict reads: the bookings written
// here are what keeps later slot generations off taken intervals.
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBookingRepository creates a new PostgreSQL booking repository.
func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

// q routes statements through the ambient transaction when one is open.
func (r *PostgresBookingRepository) q(ctx context.Context) sharedPersistence.Querier {
	return sharedPersistence.QuerierFrom(ctx, r.pool)
}

type bookingRow struct {
	ID                uuid.UUID
	RequestID         uuid.UUID
	SessionName       string
	StartTime         time.Time
	EndTime           time.Time
	InterviewerEmails []string
	CalendarEventID   string
	JoinURL           string
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Save persists a booking.
func (r *PostgresBookingRepository) Save(ctx context.Context, booking *domain.Booking) error {
	query := `
		INSERT INTO bookings (
			id, request_id, session_name, start_time, end_time,
			interviewer_emails, calendar_event_id, join_url, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			join_url = EXCLUDED.join_url,
			updated_at = NOW()
	`

	_, err := r.q(ctx).Exec(ctx, query,
		booking.ID(),
		booking.RequestID(),
		booking.SessionName(),
		booking.Start(),
		booking.End(),
		booking.InterviewerEmails(),
		booking.CalendarEventID(),
		booking.JoinURL(),
		string(booking.Status()),
		booking.CreatedAt(),
		booking.UpdatedAt(),
	)
	return err
}

// FindByID retrieves a booking by its ID.
func (r *PostgresBookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	query := `
		SELECT id, request_id, session_name, start_time, end_time,
		       interviewer_emails, calendar_event_id, join_url, status,
		       created_at, updated_at
		FROM bookings
		WHERE id = $1
	`

	var row bookingRow
	err := r.q(ctx).QueryRow(ctx, query, id).Scan(
		&row.ID,
		&row.RequestID,
		&row.SessionName,
		&row.StartTime,
		&row.EndTime,
		&row.InterviewerEmails,
		&row.CalendarEventID,
		&row.JoinURL,
		&row.Status,
		&row.CreatedAt,
		&row.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return rowToBooking(row), nil
}

// FindActiveInvolving returns the active bookings that claim any of the
// given interviewers and overlap the window, as the scheduling side's
// conflict view.
func (r *PostgresBookingRepository) FindActiveInvolving(ctx context.Context, emails []string, window sharedDomain.TimeInterval) ([]schedulingDomain.ExistingBooking, error) {
	if len(emails) == 0 {
		return []schedulingDomain.ExistingBooking{}, nil
	}

	query := `
		SELECT id, start_time, end_time, interviewer_emails
		FROM bookings
		WHERE status IN ('confirmed', 'rescheduled')
		  AND start_time < $2
		  AND end_time > $1
		  AND interviewer_emails && $3
		ORDER BY start_time
	`

	rows, err := r.q(ctx).Query(ctx, query, window.Start, window.End, emails)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make([]schedulingDomain.ExistingBooking, 0)
	for rows.Next() {
		var b schedulingDomain.ExistingBooking
		if err := rows.Scan(&b.ID, &b.Start, &b.End, &b.InterviewerEmails); err != nil {
			return nil, err
		}
		existing = append(existing, b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return existing, nil
}

func rowToBooking(row bookingRow) *domain.Booking {
	return domain.RehydrateBooking(
		row.ID,
		row.RequestID,
		row.SessionName,
		row.StartTime,
		row.EndTime,
		row.InterviewerEmails,
		row.CalendarEventID,
		row.JoinURL,
		domain.BookingStatus(row.Status),
		row.CreatedAt,
		row.UpdatedAt,
	)
}
