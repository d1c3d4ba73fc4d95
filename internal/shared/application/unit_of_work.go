package application

import "context"

// UnitOfWork scopes a set of writes to one transaction. Begin returns a
// context carrying the transaction; repositories that find one in the
// context join it instead of opening their own.
type UnitOfWork interface {
	Begin(ctx context.Context) (context.Context, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WithUnitOfWork runs fn inside a unit of work: commit on success,
// rollback on error. A rollback failure is dropped so the caller sees
// the error that actually ended the work.
func WithUnitOfWork(ctx context.Context, uow UnitOfWork, fn func(ctx context.Context) error) error {
	txCtx, err := uow.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = uow.Rollback(txCtx)
		return err
	}
	return uow.Commit(txCtx)
}
