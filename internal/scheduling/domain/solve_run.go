package domain

import (
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// SolveRun is the immutable record of one solver execution: the inputs it
// was given and the result it produced. Runs are written once and never
// updated; a commit later references a run id plus a solution id inside
// its snapshot.
type SolveRun struct {
	sharedDomain.BaseAggregateRoot
	requestID uuid.UUID
	sessions  []SessionTemplate
	policy    SchedulingPolicy
	result    LoopSolveResult
}

// NewSolveRun snapshots a finished solve.
func NewSolveRun(requestID uuid.UUID, sessions []SessionTemplate, policy SchedulingPolicy, result LoopSolveResult) *SolveRun {
	run := &SolveRun{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		requestID:         requestID,
		sessions:          sessions,
		policy:            policy,
		result:            result,
	}
	run.AddDomainEvent(NewLoopSolved(run))
	return run
}

// Getters
func (r *SolveRun) RequestID() uuid.UUID        { return r.requestID }
func (r *SolveRun) Sessions() []SessionTemplate { return r.sessions }
func (r *SolveRun) Policy() SchedulingPolicy    { return r.policy }
func (r *SolveRun) Result() LoopSolveResult     { return r.result }

// Solution looks up a solution inside the snapshot by id.
func (r *SolveRun) Solution(id string) (LoopSolution, bool) {
	return r.result.FindSolution(id)
}

// Session looks up a snapshotted session template by id.
func (r *SolveRun) Session(id uuid.UUID) (SessionTemplate, bool) {
	for _, s := range r.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return SessionTemplate{}, false
}

// IsCommittable reports whether a commit may reference this run at all.
func (r *SolveRun) IsCommittable() bool {
	return r.result.Status == SolveStatusSolved && len(r.result.Solutions) > 0
}

// RehydrateSolveRun recreates a run from persisted state.
func RehydrateSolveRun(
	id uuid.UUID,
	requestID uuid.UUID,
	sessions []SessionTemplate,
	policy SchedulingPolicy,
	result LoopSolveResult,
	createdAt time.Time,
	updatedAt time.Time,
) *SolveRun {
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity)

	return &SolveRun{
		BaseAggregateRoot: baseAggregate,
		requestID:         requestID,
		sessions:          sessions,
		policy:            policy,
		result:            result,
	}
}
