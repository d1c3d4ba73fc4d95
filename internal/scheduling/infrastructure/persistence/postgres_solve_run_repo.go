package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedPersistence "github.com/looplinehq/loopline/internal/shared/infrastructure/persistence"
)

// PostgresSolveRunRepository implements domain.SolveRunRepository using
// PostgreSQL. Runs are append-only: Save never upserts, so writing the
// same id twice surfaces the unique violation to the caller.
type PostgresSolveRunRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSolveRunRepository creates a new PostgreSQL solve run repository.
func NewPostgresSolveRunRepository(pool *pgxpool.Pool) *PostgresSolveRunRepository {
	return &PostgresSolveRunRepository{pool: pool}
}

// q routes statements through the ambient transaction when one is open.
func (r *PostgresSolveRunRepository) q(ctx context.Context) sharedPersistence.Querier {
	return sharedPersistence.QuerierFrom(ctx, r.pool)
}

type solveRunRow struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	Sessions  []byte
	Policy    []byte
	Result    []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Save records a finished solve run.
func (r *PostgresSolveRunRepository) Save(ctx context.Context, run *domain.SolveRun) error {
	sessions, err := json.Marshal(run.Sessions())
	if err != nil {
		return fmt.Errorf("failed to marshal solve run sessions: %w", err)
	}
	policy, err := json.Marshal(run.Policy())
	if err != nil {
		return fmt.Errorf("failed to marshal solve run policy: %w", err)
	}
	result, err := json.Marshal(run.Result())
	if err != nil {
		return fmt.Errorf("failed to marshal solve run result: %w", err)
	}

	query := `
		INSERT INTO solve_runs (
			id, request_id, sessions, policy, result, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.q(ctx).Exec(ctx, query,
		run.ID(),
		run.RequestID(),
		sessions,
		policy,
		result,
		run.CreatedAt(),
		run.UpdatedAt(),
	)
	return err
}

// FindByID retrieves a solve run by its ID.
func (r *PostgresSolveRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.SolveRun, error) {
	query := `
		SELECT id, request_id, sessions, policy, result, created_at, updated_at
		FROM solve_runs
		WHERE id = $1
	`

	var row solveRunRow
	err := r.q(ctx).QueryRow(ctx, query, id).Scan(
		&row.ID,
		&row.RequestID,
		&row.Sessions,
		&row.Policy,
		&row.Result,
		&row.CreatedAt,
		&row.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return r.rowToSolveRun(row)
}

func (r *PostgresSolveRunRepository) rowToSolveRun(row solveRunRow) (*domain.SolveRun, error) {
	var sessions []domain.SessionTemplate
	if err := json.Unmarshal(row.Sessions, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal solve run sessions: %w", err)
	}
	var policy domain.SchedulingPolicy
	if err := json.Unmarshal(row.Policy, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal solve run policy: %w", err)
	}
	var result domain.LoopSolveResult
	if err := json.Unmarshal(row.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal solve run result: %w", err)
	}

	return domain.RehydrateSolveRun(
		row.ID,
		row.RequestID,
		sessions,
		policy,
		result,
		row.CreatedAt,
		row.UpdatedAt,
	), nil
}
