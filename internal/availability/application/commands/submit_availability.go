package commands

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/looplinehq/loopline/internal/availability/domain"
	sharedApplication "github.com/looplinehq/loopline/internal/shared/application"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
)

var (
	ErrRequestNotFound = errors.New("availability request not found")
)

// SubmitAvailabilityCommand contains the candidate's offered time ranges.
type SubmitAvailabilityCommand struct {
	RequestID uuid.UUID
	Ranges    []sharedDomain.TimeInterval
	Actor     string
}

// SubmittedBlock is a normalized block returned to the caller.
type SubmittedBlock struct {
	ID    uuid.UUID `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SubmitAvailabilityResult contains the normalized outcome of a submission.
type SubmitAvailabilityResult struct {
	RequestID uuid.UUID
	Status    string
	Blocks    []SubmittedBlock
}

// SubmitAvailabilityHandler handles the SubmitAvailabilityCommand.
type SubmitAvailabilityHandler struct {
	requestRepo domain.Repository
	outboxRepo  outbox.Repository
	uow         sharedApplication.UnitOfWork
	opts        domain.NormalizeOptions
}

// NewSubmitAvailabilityHandler creates a new SubmitAvailabilityHandler.
func NewSubmitAvailabilityHandler(
	requestRepo domain.Repository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	opts domain.NormalizeOptions,
) *SubmitAvailabilityHandler {
	return &SubmitAvailabilityHandler{
		requestRepo: requestRepo,
		outboxRepo:  outboxRepo,
		uow:         uow,
		opts:        opts,
	}
}

// Handle executes the SubmitAvailabilityCommand.
func (h *SubmitAvailabilityHandler) Handle(ctx context.Context, cmd SubmitAvailabilityCommand) (*SubmitAvailabilityResult, error) {
	var result *SubmitAvailabilityResult

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		request, err := h.requestRepo.FindByID(txCtx, cmd.RequestID)
		if err != nil {
			return err
		}
		if request == nil {
			return ErrRequestNotFound
		}

		if err := request.SubmitAvailability(cmd.Ranges, h.opts, time.Now().UTC()); err != nil {
			return err
		}

		if err := h.requestRepo.Save(txCtx, request); err != nil {
			return err
		}

		events := request.DomainEvents()
		sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(cmd.Actor))

		msgs := make([]*outbox.Message, 0, len(events))
		for _, event := range events {
			msg, err := outbox.NewMessage(event)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := h.outboxRepo.SaveBatch(txCtx, msgs); err != nil {
			return err
		}

		blocks := make([]SubmittedBlock, 0, len(request.Blocks()))
		for _, block := range request.Blocks() {
			blocks = append(blocks, SubmittedBlock{
				ID:    block.ID(),
				Start: block.Start(),
				End:   block.End(),
			})
		}

		result = &SubmitAvailabilityResult{
			RequestID: request.ID(),
			Status:    string(request.Status()),
			Blocks:    blocks,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
