package domain

import (
	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

const (
	AggregateType = "SolveRun"

	RoutingKeyLoopSolved = "scheduling.loop.solved"
)

// LoopSolved is emitted when a solve run finishes, whatever its outcome.
// Downstream consumers (recruiter notifications, analytics) read the
// status to decide whether there is anything to offer the candidate.
type LoopSolved struct {
	sharedDomain.BaseEvent
	RequestID     uuid.UUID   `json:"request_id"`
	Status        SolveStatus `json:"status"`
	SolutionCount int         `json:"solution_count"`
	Confidence    float64     `json:"confidence"`
}

// NewLoopSolved creates a LoopSolved event
func NewLoopSolved(run *SolveRun) *LoopSolved {
	return &LoopSolved{
		BaseEvent:     sharedDomain.NewBaseEvent(run.ID(), AggregateType, RoutingKeyLoopSolved),
		RequestID:     run.RequestID(),
		Status:        run.Result().Status,
		SolutionCount: len(run.Result().Solutions),
		Confidence:    run.Result().Confidence,
	}
}
