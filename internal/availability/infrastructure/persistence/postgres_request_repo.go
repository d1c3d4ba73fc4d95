package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/looplinehq/loopline/internal/availability/domain"
	sharedPersistence "github.com/looplinehq/loopline/internal/shared/infrastructure/persistence"
)

// PostgresRequestRepository implements domain.Repository using PostgreSQL.
type PostgresRequestRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRequestRepository creates a new PostgreSQL request repository.
func NewPostgresRequestRepository(pool *pgxpool.Pool) *PostgresRequestRepository {
	return &PostgresRequestRepository{pool: pool}
}

type requestRow struct {
	ID                uuid.UUID
	CandidateEmail    string
	CandidateName     string
	CandidateTimeZone string
	Status            string
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type blockRow struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Save persists a request and replaces its block set, joining the caller's
// transaction when one is open.
func (r *PostgresRequestRepository) Save(ctx context.Context, request *domain.AvailabilityRequest) error {
	return sharedPersistence.RunInTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.saveTx(ctx, tx, request)
	})
}

func (r *PostgresRequestRepository) saveTx(ctx context.Context, tx pgx.Tx, request *domain.AvailabilityRequest) error {
	query := `
		INSERT INTO availability_requests (
			id, candidate_email, candidate_name, candidate_time_zone,
			status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			candidate_email = EXCLUDED.candidate_email,
			candidate_name = EXCLUDED.candidate_name,
			candidate_time_zone = EXCLUDED.candidate_time_zone,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`

	var expiresAt *time.Time
	if !request.ExpiresAt().IsZero() {
		t := request.ExpiresAt()
		expiresAt = &t
	}

	_, err := tx.Exec(ctx, query,
		request.ID(),
		request.CandidateEmail(),
		request.CandidateName(),
		request.CandidateTimeZone(),
		string(request.Status()),
		expiresAt,
		request.CreatedAt(),
		request.UpdatedAt(),
	)
	if err != nil {
		return err
	}

	// Submissions replace the whole block set.
	_, err = tx.Exec(ctx, "DELETE FROM availability_blocks WHERE request_id = $1", request.ID())
	if err != nil {
		return err
	}

	for _, block := range request.Blocks() {
		blockQuery := `
			INSERT INTO availability_blocks (
				id, request_id, start_time, end_time, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err = tx.Exec(ctx, blockQuery,
			block.ID(),
			request.ID(),
			block.Start(),
			block.End(),
			block.CreatedAt(),
			block.UpdatedAt(),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// q routes statements through the ambient transaction when one is open.
func (r *PostgresRequestRepository) q(ctx context.Context) sharedPersistence.Querier {
	return sharedPersistence.QuerierFrom(ctx, r.pool)
}

// FindByID retrieves a request by its ID.
func (r *PostgresRequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.AvailabilityRequest, error) {
	query := `
		SELECT id, candidate_email, candidate_name, candidate_time_zone,
		       status, expires_at, created_at, updated_at
		FROM availability_requests
		WHERE id = $1
	`

	var row requestRow
	err := r.q(ctx).QueryRow(ctx, query, id).Scan(
		&row.ID,
		&row.CandidateEmail,
		&row.CandidateName,
		&row.CandidateTimeZone,
		&row.Status,
		&row.ExpiresAt,
		&row.CreatedAt,
		&row.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	blocks, err := r.loadBlocks(ctx, row.ID)
	if err != nil {
		return nil, err
	}

	return r.rowToRequest(row, blocks), nil
}

func (r *PostgresRequestRepository) loadBlocks(ctx context.Context, requestID uuid.UUID) ([]*domain.AvailabilityBlock, error) {
	query := `
		SELECT id, request_id, start_time, end_time, created_at, updated_at
		FROM availability_blocks
		WHERE request_id = $1
		ORDER BY start_time
	`

	rows, err := r.q(ctx).Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blocks := make([]*domain.AvailabilityBlock, 0)
	for rows.Next() {
		var row blockRow
		err := rows.Scan(
			&row.ID,
			&row.RequestID,
			&row.StartTime,
			&row.EndTime,
			&row.CreatedAt,
			&row.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, domain.RehydrateAvailabilityBlock(
			row.ID,
			row.StartTime,
			row.EndTime,
			row.CreatedAt,
			row.UpdatedAt,
		))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return blocks, nil
}

func (r *PostgresRequestRepository) rowToRequest(row requestRow, blocks []*domain.AvailabilityBlock) *domain.AvailabilityRequest {
	var expiresAt time.Time
	if row.ExpiresAt != nil {
		expiresAt = *row.ExpiresAt
	}

	return domain.RehydrateAvailabilityRequest(
		row.ID,
		row.CandidateEmail,
		row.CandidateName,
		row.CandidateTimeZone,
		domain.RequestStatus(row.Status),
		expiresAt,
		blocks,
		row.CreatedAt,
		row.UpdatedAt,
	)
}
