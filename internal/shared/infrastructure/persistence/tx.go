package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// txScope is the transaction travelling with a context plus whether the
// current scope opened it. Scopes that join an existing transaction leave
// commit and rollback to the outermost one.
type txScope struct {
	tx    pgx.Tx
	owned bool
}

func withTxScope(ctx context.Context, tx pgx.Tx, owned bool) context.Context {
	return context.WithValue(ctx, txKey{}, txScope{tx: tx, owned: owned})
}

func scopeFromContext(ctx context.Context) (txScope, bool) {
	scope, ok := ctx.Value(txKey{}).(txScope)
	if !ok || scope.tx == nil {
		return txScope{}, false
	}
	return scope, true
}

// TxFromContext reports the ambient transaction, if any. Ownership stays
// package-internal; callers only ever execute against the transaction.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	scope, ok := scopeFromContext(ctx)
	return scope.tx, ok
}

// Querier is the statement surface shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierFrom picks the ambient transaction over the pool. Repositories
// route their statements through it, so reads inside a unit of work see
// that transaction's writes.
func QuerierFrom(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return pool
}

// RunInTx runs fn inside the ambient transaction when one exists. Otherwise
// it opens its own transaction, commits on a nil return and rolls back on
// error.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
