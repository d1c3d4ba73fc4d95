package commands

import (
	"context"

	"github.com/google/uuid"
	"github.com/looplinehq/loopline/internal/availability/domain"
	sharedApplication "github.com/looplinehq/loopline/internal/shared/application"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
)

// CancelRequestCommand closes an availability request.
type CancelRequestCommand struct {
	RequestID uuid.UUID
	Actor     string
}

// CancelRequestHandler handles the CancelRequestCommand.
type CancelRequestHandler struct {
	requestRepo domain.Repository
	outboxRepo  outbox.Repository
	uow         sharedApplication.UnitOfWork
}

// NewCancelRequestHandler creates a new CancelRequestHandler.
func NewCancelRequestHandler(requestRepo domain.Repository, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork) *CancelRequestHandler {
	return &CancelRequestHandler{
		requestRepo: requestRepo,
		outboxRepo:  outboxRepo,
		uow:         uow,
	}
}

// Handle executes the CancelRequestCommand.
func (h *CancelRequestHandler) Handle(ctx context.Context, cmd CancelRequestCommand) error {
	return sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		request, err := h.requestRepo.FindByID(txCtx, cmd.RequestID)
		if err != nil {
			return err
		}
		if request == nil {
			return ErrRequestNotFound
		}

		if err := request.Cancel(); err != nil {
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
		return h.outboxRepo.SaveBatch(txCtx, msgs)
	})
}
