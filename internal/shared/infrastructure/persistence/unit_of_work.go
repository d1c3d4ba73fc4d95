package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoTransaction is returned when Commit or Rollback runs on a context
// that never went through Begin.
var ErrNoTransaction = errors.New("no transaction in context")

// PostgresUnitOfWork implements the application UnitOfWork over a pgx pool.
// Begin is reentrant: a scope opened inside an existing transaction joins
// it rather than nesting, and only the opening scope finishes it.
type PostgresUnitOfWork struct {
	pool *pgxpool.Pool
}

// NewPostgresUnitOfWork creates a unit of work backed by the pool.
func NewPostgresUnitOfWork(pool *pgxpool.Pool) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{pool: pool}
}

// Begin opens a transaction and stores it in the returned context, or joins
// the one already there.
func (u *PostgresUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	if tx, ok := TxFromContext(ctx); ok {
		return withTxScope(ctx, tx, false), nil
	}

	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	return withTxScope(ctx, tx, true), nil
}

// Commit commits when this scope owns the transaction; joined scopes are a
// no-op.
func (u *PostgresUnitOfWork) Commit(ctx context.Context) error {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !scope.owned {
		return nil
	}
	return scope.tx.Commit(ctx)
}

// Rollback rolls back when this scope owns the transaction; joined scopes
// are a no-op.
func (u *PostgresUnitOfWork) Rollback(ctx context.Context) error {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !scope.owned {
		return nil
	}
	return scope.tx.Rollback(ctx)
}
