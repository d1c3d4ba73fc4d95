package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/looplinehq/loopline/internal/availability/domain"
	sharedApplication "github.com/looplinehq/loopline/internal/shared/application"
)

// CreateRequestCommand contains the data needed to open an availability
// request for a candidate.
type CreateRequestCommand struct {
	CandidateEmail    string
	CandidateName     string
	CandidateTimeZone string
	ExpiresAt         time.Time
}

// CreateRequestResult contains the result of opening a request.
type CreateRequestResult struct {
	RequestID uuid.UUID
}

// CreateRequestHandler handles the CreateRequestCommand.
type CreateRequestHandler struct {
	requestRepo domain.Repository
	uow         sharedApplication.UnitOfWork
}

// NewCreateRequestHandler creates a new CreateRequestHandler.
func NewCreateRequestHandler(requestRepo domain.Repository, uow sharedApplication.UnitOfWork) *CreateRequestHandler {
	return &CreateRequestHandler{
		requestRepo: requestRepo,
		uow:         uow,
	}
}

// Handle executes the CreateRequestCommand.
func (h *CreateRequestHandler) Handle(ctx context.Context, cmd CreateRequestCommand) (*CreateRequestResult, error) {
	var result *CreateRequestResult

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		request, err := domain.NewAvailabilityRequest(
			cmd.CandidateEmail,
			cmd.CandidateName,
			cmd.CandidateTimeZone,
			cmd.ExpiresAt,
		)
		if err != nil {
			return err
		}

		if err := h.requestRepo.Save(txCtx, request); err != nil {
			return err
		}

		result = &CreateRequestResult{RequestID: request.ID()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
