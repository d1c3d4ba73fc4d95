package commands

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	availabilityDomain "github.com/looplinehq/loopline/internal/availability/domain"
	"github.com/looplinehq/loopline/internal/scheduling/application/services"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedApplication "github.com/looplinehq/loopline/internal/shared/application"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
)

var (
	ErrRequestNotFound    = errors.New("availability request not found")
	ErrRequestNotSolvable = errors.New("availability request is not open for solving")
)

// SolveLoopCommand asks the solver to place a full interview loop into a
// candidate's submitted availability. A nil policy means the default one.
type SolveLoopCommand struct {
	RequestID uuid.UUID
	Sessions  []schedulingDomain.SessionTemplate
	Policy    *schedulingDomain.SchedulingPolicy
	Actor     string
}

// SolveLoopResult carries the persisted run id and the solve outcome.
type SolveLoopResult struct {
	SolveRunID uuid.UUID
	Result     schedulingDomain.LoopSolveResult
}

// SolveLoopHandler handles the SolveLoopCommand. Calendar state is
// fetched and the solver runs before the transaction opens; only the run
// snapshot and its events are written inside it.
type SolveLoopHandler struct {
	requestRepo  availabilityDomain.Repository
	solveRunRepo schedulingDomain.SolveRunRepository
	prefetcher   *services.SchedulePrefetcher
	solver       *services.LoopSolver
	outboxRepo   outbox.Repository
	uow          sharedApplication.UnitOfWork
}

// NewSolveLoopHandler creates a new SolveLoopHandler.
func NewSolveLoopHandler(
	requestRepo availabilityDomain.Repository,
	solveRunRepo schedulingDomain.SolveRunRepository,
	prefetcher *services.SchedulePrefetcher,
	solver *services.LoopSolver,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
) *SolveLoopHandler {
	return &SolveLoopHandler{
		requestRepo:  requestRepo,
		solveRunRepo: solveRunRepo,
		prefetcher:   prefetcher,
		solver:       solver,
		outboxRepo:   outboxRepo,
		uow:          uow,
	}
}

// Handle executes the SolveLoopCommand. Every finished solve is recorded,
// including unsatisfiable and timed-out ones; the run snapshot is what a
// later commit validates its solution against.
func (h *SolveLoopHandler) Handle(ctx context.Context, cmd SolveLoopCommand) (*SolveLoopResult, error) {
	request, err := h.requestRepo.FindByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, ErrRequestNotFound
	}

	now := time.Now().UTC()
	if request.IsExpired(now) {
		return nil, availabilityDomain.ErrRequestExpired
	}
	if request.Status() != availabilityDomain.RequestStatusSubmitted {
		return nil, ErrRequestNotSolvable
	}

	policy := schedulingDomain.DefaultPolicy()
	if cmd.Policy != nil {
		policy = cmd.Policy.Normalized()
	}

	blocks := make([]sharedDomain.TimeInterval, 0, len(request.Blocks()))
	for _, block := range request.Blocks() {
		blocks = append(blocks, block.Interval())
	}

	prefetched, err := h.prefetcher.Fetch(ctx, cmd.Sessions, request.Window(), policy.SlotGranularityMinutes)
	if err != nil {
		return nil, err
	}

	solveResult := h.solver.Solve(services.SolveLoopInput{
		Sessions:          cmd.Sessions,
		CandidateBlocks:   blocks,
		CandidateTimeZone: request.CandidateTimeZone(),
		Schedules:         prefetched.Schedules,
		ExistingBookings:  prefetched.ExistingBookings,
		Policy:            policy,
		Now:               now,
		GraphAPICalls:     prefetched.GraphAPICalls,
	})

	run := schedulingDomain.NewSolveRun(cmd.RequestID, cmd.Sessions, policy, solveResult)

	err = sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		if err := h.solveRunRepo.Save(txCtx, run); err != nil {
			return err
		}

		events := run.DomainEvents()
		sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(cmd.Actor))

		msgs := make([]*outbox.Message, 0, len(events))
		for _, event := range events {
			msg, err := outbox.NewMessage(event)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return h.outboxRepo.SaveBatch(txCtx, msgs)
	})
	if err != nil {
		return nil, err
	}

	return &SolveLoopResult{
		SolveRunID: run.ID(),
		Result:     run.Result(),
	}, nil
}
