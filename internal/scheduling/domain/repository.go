package domain

import (
	"context"

	"github.com/google/uuid"
)

// SolveRunRepository persists solve-run snapshots. Runs are insert-once:
// Save on an existing id must fail rather than overwrite.
type SolveRunRepository interface {
	// Save inserts the run snapshot.
	Save(ctx context.Context, run *SolveRun) error
	// FindByID returns the run or nil when it does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*SolveRun, error)
}
