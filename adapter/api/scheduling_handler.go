package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	availabilityCommands "github.com/looplinehq/loopline/internal/availability/application/commands"
	availabilityDomain "github.com/looplinehq/loopline/internal/availability/domain"
	bookingCommands "github.com/looplinehq/loopline/internal/booking/application/commands"
	bookingDomain "github.com/looplinehq/loopline/internal/booking/domain"
	schedulingCommands "github.com/looplinehq/loopline/internal/scheduling/application/commands"
	schedulingQueries "github.com/looplinehq/loopline/internal/scheduling/application/queries"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/looplinehq/loopline/pkg/observability"
)

// SchedulingHandler handles interview scheduling API requests.
type SchedulingHandler struct {
	createRequest      *availabilityCommands.CreateRequestHandler
	submitAvailability *availabilityCommands.SubmitAvailabilityHandler
	cancelRequest      *availabilityCommands.CancelRequestHandler
	generateSlots      *schedulingQueries.GenerateSlotsHandler
	solveLoop          *schedulingCommands.SolveLoopHandler
	bookSlot           *bookingCommands.BookSlotHandler
	commitLoop         *bookingCommands.CommitLoopHandler
	cancelLoop         *bookingCommands.CancelLoopHandler
	requestRepo        availabilityDomain.Repository
	solveRunRepo       schedulingDomain.SolveRunRepository
	loopRepo           bookingDomain.LoopRepository
	defaultPolicy      *schedulingDomain.SchedulingPolicy
	defaultOrganizer   string
	logger             *slog.Logger
	metrics            observability.Metrics
}

// SchedulingHandlerConfig holds dependencies for the scheduling handler.
type SchedulingHandlerConfig struct {
	CreateRequest      *availabilityCommands.CreateRequestHandler
	SubmitAvailability *availabilityCommands.SubmitAvailabilityHandler
	CancelRequest      *availabilityCommands.CancelRequestHandler
	GenerateSlots      *schedulingQueries.GenerateSlotsHandler
	SolveLoop          *schedulingCommands.SolveLoopHandler
	BookSlot           *bookingCommands.BookSlotHandler
	CommitLoop         *bookingCommands.CommitLoopHandler
	CancelLoop         *bookingCommands.CancelLoopHandler
	RequestRepo        availabilityDomain.Repository
	SolveRunRepo       schedulingDomain.SolveRunRepository
	LoopRepo           bookingDomain.LoopRepository
	// DefaultPolicy applies to solve, slot, and book calls whose body
	// carries no policy. Nil falls through to the built-in defaults.
	DefaultPolicy *schedulingDomain.SchedulingPolicy
	// DefaultOrganizer is the mailbox used when a booking call names none.
	DefaultOrganizer string
	Logger           *slog.Logger
	Metrics          observability.Metrics
}

// NewSchedulingHandler creates a new scheduling handler.
func NewSchedulingHandler(cfg SchedulingHandlerConfig) *SchedulingHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &SchedulingHandler{
		createRequest:      cfg.CreateRequest,
		submitAvailability: cfg.SubmitAvailability,
		cancelRequest:      cfg.CancelRequest,
		generateSlots:      cfg.GenerateSlots,
		solveLoop:          cfg.SolveLoop,
		bookSlot:           cfg.BookSlot,
		commitLoop:         cfg.CommitLoop,
		cancelLoop:         cfg.CancelLoop,
		requestRepo:        cfg.RequestRepo,
		solveRunRepo:       cfg.SolveRunRepo,
		loopRepo:           cfg.LoopRepo,
		defaultPolicy:      cfg.DefaultPolicy,
		defaultOrganizer:   cfg.DefaultOrganizer,
		logger:             cfg.Logger,
		metrics:            cfg.Metrics,
	}
}

// policyOr returns the request's policy when present, otherwise the
// configured default.
func (h *SchedulingHandler) policyOr(policy *schedulingDomain.SchedulingPolicy) *schedulingDomain.SchedulingPolicy {
	if policy != nil {
		return policy
	}
	return h.defaultPolicy
}

// organizerOr returns the request's organizer when present, otherwise the
// configured default.
func (h *SchedulingHandler) organizerOr(organizer string) string {
	if organizer != "" {
		return organizer
	}
	return h.defaultOrganizer
}

// CreateRequest handles POST /api/v1/requests
func (h *SchedulingHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CandidateEmail    string    `json:"candidate_email"`
		CandidateName     string    `json:"candidate_name"`
		CandidateTimeZone string    `json:"candidate_time_zone"`
		ExpiresAt         time.Time `json:"expires_at"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.createRequest.Handle(r.Context(), availabilityCommands.CreateRequestCommand{
		CandidateEmail:    body.CandidateEmail,
		CandidateName:     body.CandidateName,
		CandidateTimeZone: body.CandidateTimeZone,
		ExpiresAt:         body.ExpiresAt,
	})
	if err != nil {
		h.writeDomainError(w, r, err, "Failed to create availability request")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id": result.RequestID,
	})
}

// GetRequest handles GET /api/v1/requests/{requestID}
func (h *SchedulingHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathUUID(w, r, "requestID")
	if !ok {
		return
	}

	request, err := h.requestRepo.FindByID(r.Context(), requestID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load availability request", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load availability request")
		return
	}
	if request == nil {
		writeError(w, http.StatusNotFound, "Availability request not found")
		return
	}

	writeJSON(w, http.StatusOK, requestToDTO(request))
}

// SubmitAvailability handles POST /api/v1/requests/{requestID}/availability
func (h *SchedulingHandler) SubmitAvailability(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathUUID(w, r, "requestID")
	if !ok {
		return
	}

	var body struct {
		Ranges []sharedDomain.TimeInterval `json:"ranges"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.submitAvailability.Handle(r.Context(), availabilityCommands.SubmitAvailabilityCommand{
		RequestID: requestID,
		Ranges:    body.Ranges,
		Actor:     actorFrom(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err, "Failed to submit availability")
		return
	}
	h.metrics.Counter(observability.MetricAvailabilitySubmitted, 1)

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": result.RequestID,
		"status":     result.Status,
		"blocks":     result.Blocks,
	})
}

// CancelRequest handles POST /api/v1/requests/{requestID}/cancel
func (h *SchedulingHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathUUID(w, r, "requestID")
	if !ok {
		return
	}

	err := h.cancelRequest.Handle(r.Context(), availabilityCommands.CancelRequestCommand{
		RequestID: requestID,
		Actor:     actorFrom(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err, "Failed to cancel availability request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID,
		"status":     string(availabilityDomain.RequestStatusCancelled),
	})
}

// GenerateSlots handles POST /api/v1/slots
func (h *SchedulingHandler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Session schedulingDomain.SessionTemplate   `json:"session"`
		Window  sharedDomain.TimeInterval          `json:"window"`
		Policy  *schedulingDomain.SchedulingPolicy `json:"policy"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.generateSlots.Handle(r.Context(), schedulingQueries.GenerateSlotsQuery{
		Session: body.Session,
		Window:  body.Window,
		Policy:  h.policyOr(body.Policy),
	})
	if err != nil {
		h.writeDomainError(w, r, err, "Failed to generate slots")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"slots":           result.Slots,
		"graph_api_calls": result.GraphAPICalls,
	})
}

// SolveLoop handles POST /api/v1/loops/solve
func (h *SchedulingHandler) SolveLoop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID uuid.UUID                          `json:"request_id"`
		Sessions  []schedulingDomain.SessionTemplate `json:"sessions"`
		Policy    *schedulingDomain.SchedulingPolicy `json:"policy"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.solveLoop.Handle(r.Context(), schedulingCommands.SolveLoopCommand{
		RequestID: body.RequestID,
		Sessions:  body.Sessions,
		Policy:    h.policyOr(body.Policy),
		Actor:     actorFrom(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err, "Failed to solve interview loop")
		return
	}
	h.metrics.Counter(observability.MetricSolveRuns, 1,
		observability.T("status", string(result.Result.Status)))
	if result.Result.Status == schedulingDomain.SolveStatusUnsatisfiable {
		h.metrics.Counter(observability.MetricSolveUnsat, 1)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"solve_run_id": result.SolveRunID,
		"result":       result.Result,
	})
}

// GetSolveRun handles GET /api/v1/solve-runs/{runID}
func (h *SchedulingHandler) GetSolveRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "runID")
	if !ok {
		return
	}

	run, err := h.solveRunRepo.FindByID(r.Context(), runID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load solve run", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load solve run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "Solve run not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         run.ID(),
		"request_id": run.RequestID(),
		"sessions":   run.Sessions(),
		"policy":     run.Policy(),
		"result":     run.Result(),
		"created_at": run.CreatedAt(),
	})
}

// CommitLoop handles POST /api/v1/loops/commit. The commit is arbitrated
// by the Idempotency-Key header: replaying a committed key returns the
// original outcome. A FAILED outcome is an answer, not a transport error,
// so it still responds 200 with the rollback audit attached.
func (h *SchedulingHandler) CommitLoop(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	var body struct {
		SolveRunID     uuid.UUID              `json:"solve_run_id"`
		SolutionID     string                 `json:"solution_id"`
		OrganizerEmail string                 `json:"organizer_email"`
		Details        *meetingDetailsPayload `json:"details"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.commitLoop.Handle(r.Context(), bookingCommands.CommitLoopCommand{
		SolveRunID:     body.SolveRunID,
		SolutionID:     body.SolutionID,
		IdempotencyKey: idempotencyKey,
		OrganizerEmail: h.organizerOr(body.OrganizerEmail),
		Details:        body.Details.toCommand(),
		Actor:          actorFrom(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err, "Failed to commit interview loop")
		return
	}

	// Replays of an already committed key are not counted again.
	switch result.Outcome {
	case bookingCommands.CommitOutcomeCommitted:
		h.metrics.Counter(observability.MetricLoopsCommitted, 1)
	case bookingCommands.CommitOutcomeFailed:
		h.metrics.Counter(observability.MetricCommitFailures, 1)
	}

	status := http.StatusOK
	if result.Outcome == bookingCommands.CommitOutcomeCommitted {
		status = http.StatusCreated
	}

	writeJSON(w, status, map[string]any{
		"loop_booking_id":  result.LoopBookingID,
		"outcome":          result.Outcome,
		"booked_sessions":  result.BookedSessions,
		"rollback_details": result.RollbackDetails,
		"error_message":    result.ErrorMessage,
	})
}

// BookSlot handles POST /api/v1/bookings
func (h *SchedulingHandler) BookSlot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID      uuid.UUID                          `json:"request_id"`
		Session        schedulingDomain.SessionTemplate   `json:"session"`
		Window         sharedDomain.TimeInterval          `json:"window"`
		SlotID         string                             `json:"slot_id"`
		Policy         *schedulingDomain.SchedulingPolicy `json:"policy"`
		OrganizerEmail string                             `json:"organizer_email"`
		Details        *meetingDetailsPayload             `json:"details"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.bookSlot.Handle(r.Context(), bookingCommands.BookSlotCommand{
		RequestID:      body.RequestID,
		Session:        body.Session,
		Window:         body.Window,
		SlotID:         body.SlotID,
		Policy:         h.policyOr(body.Policy),
		OrganizerEmail: h.organizerOr(body.OrganizerEmail),
		Details:        body.Details.toCommand(),
		Actor:          actorFrom(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err, "Failed to book slot")
		return
	}
	h.metrics.Counter(observability.MetricSlotsBooked, 1)

	writeJSON(w, http.StatusCreated, map[string]any{
		"booking_id":        result.BookingID,
		"slot":              result.Slot,
		"calendar_event_id": result.CalendarEventID,
		"join_url":          result.JoinURL,
	})
}

// GetLoopBooking handles GET /api/v1/loop-bookings/{loopID}
func (h *SchedulingHandler) GetLoopBooking(w http.ResponseWriter, r *http.Request) {
	loopID, ok := pathUUID(w, r, "loopID")
	if !ok {
		return
	}

	loop, err := h.loopRepo.FindByID(r.Context(), loopID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load loop booking", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load loop booking")
		return
	}
	if loop == nil {
		writeError(w, http.StatusNotFound, "Loop booking not found")
		return
	}

	writeJSON(w, http.StatusOK, loopBookingToDTO(loop))
}

// CancelLoop handles POST /api/v1/loop-bookings/{loopID}/cancel
func (h *SchedulingHandler) CancelLoop(w http.ResponseWriter, r *http.Request) {
	loopID, ok := pathUUID(w, r, "loopID")
	if !ok {
		return
	}

	// The body is optional; an absent one cancels with the default reason.
	var body struct {
		Reason string `json:"reason"`
	}
	if !decodeOptionalJSON(w, r, &body) {
		return
	}

	result, err := h.cancelLoop.Handle(r.Context(), bookingCommands.CancelLoopCommand{
		LoopBookingID: loopID,
		Reason:        body.Reason,
		Actor:         actorFrom(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err, "Failed to cancel interview loop")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"loop_booking_id":  result.LoopBookingID,
		"events_cancelled": result.EventsCancelled,
		"cancel_errors":    result.CancelErrors,
	})
}

// meetingDetailsPayload shapes the optional calendar event details of a
// booking call.
type meetingDetailsPayload struct {
	SubjectPrefix string `json:"subject_prefix"`
	Body          string `json:"body"`
	Location      string `json:"location"`
	OnlineMeeting bool   `json:"online_meeting"`
}

func (p *meetingDetailsPayload) toCommand() *bookingCommands.MeetingDetails {
	if p == nil {
		return nil
	}
	return &bookingCommands.MeetingDetails{
		SubjectPrefix: p.SubjectPrefix,
		Body:          p.Body,
		Location:      p.Location,
		OnlineMeeting: p.OnlineMeeting,
	}
}

type blockDTO struct {
	ID    uuid.UUID `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type requestDTO struct {
	ID                uuid.UUID                  `json:"id"`
	CandidateEmail    string                     `json:"candidate_email"`
	CandidateName     string                     `json:"candidate_name"`
	CandidateTimeZone string                     `json:"candidate_time_zone"`
	Status            string                     `json:"status"`
	ExpiresAt         *time.Time                 `json:"expires_at,omitempty"`
	Window            *sharedDomain.TimeInterval `json:"window,omitempty"`
	Blocks            []blockDTO                 `json:"blocks"`
	CreatedAt         time.Time                  `json:"created_at"`
}

func requestToDTO(request *availabilityDomain.AvailabilityRequest) requestDTO {
	dto := requestDTO{
		ID:                request.ID(),
		CandidateEmail:    request.CandidateEmail(),
		CandidateName:     request.CandidateName(),
		CandidateTimeZone: request.CandidateTimeZone(),
		Status:            string(request.Status()),
		Blocks:            make([]blockDTO, 0, len(request.Blocks())),
		CreatedAt:         request.CreatedAt(),
	}
	if !request.ExpiresAt().IsZero() {
		expiresAt := request.ExpiresAt()
		dto.ExpiresAt = &expiresAt
	}
	for _, block := range request.Blocks() {
		dto.Blocks = append(dto.Blocks, blockDTO{
			ID:    block.ID(),
			Start: block.Start(),
			End:   block.End(),
		})
	}
	if len(request.Blocks()) > 0 {
		window := request.Window()
		dto.Window = &window
	}
	return dto
}

type loopItemDTO struct {
	ID              uuid.UUID  `json:"id"`
	SessionID       uuid.UUID  `json:"session_id"`
	SessionName     string     `json:"session_name"`
	BookingID       *uuid.UUID `json:"booking_id,omitempty"`
	CalendarEventID string     `json:"calendar_event_id"`
	OrganizerEmail  string     `json:"organizer_email"`
	Status          string     `json:"status"`
}

type loopBookingDTO struct {
	ID                uuid.UUID                      `json:"id"`
	SolveRunID        uuid.UUID                      `json:"solve_run_id"`
	RequestID         uuid.UUID                      `json:"request_id"`
	SolutionID        string                         `json:"solution_id"`
	OrganizerEmail    string                         `json:"organizer_email"`
	Status            string                         `json:"status"`
	RollbackAttempted bool                           `json:"rollback_attempted"`
	RollbackDetails   *bookingDomain.RollbackDetails `json:"rollback_details,omitempty"`
	ErrorMessage      string                         `json:"error_message,omitempty"`
	Items             []loopItemDTO                  `json:"items"`
	CreatedAt         time.Time                      `json:"created_at"`
}

func loopBookingToDTO(loop *bookingDomain.LoopBooking) loopBookingDTO {
	dto := loopBookingDTO{
		ID:                loop.ID(),
		SolveRunID:        loop.SolveRunID(),
		RequestID:         loop.RequestID(),
		SolutionID:        loop.ChosenSolutionID(),
		OrganizerEmail:    loop.OrganizerEmail(),
		Status:            string(loop.Status()),
		RollbackAttempted: loop.RollbackAttempted(),
		RollbackDetails:   loop.RollbackDetails(),
		ErrorMessage:      loop.ErrorMessage(),
		Items:             make([]loopItemDTO, 0, len(loop.Items())),
		CreatedAt:         loop.CreatedAt(),
	}
	for _, item := range loop.Items() {
		itemDTO := loopItemDTO{
			ID:              item.ID(),
			SessionID:       item.SessionID(),
			SessionName:     item.SessionName(),
			CalendarEventID: item.CalendarEventID(),
			OrganizerEmail:  item.OrganizerEmail(),
			Status:          string(item.Status()),
		}
		if item.BookingID() != uuid.Nil {
			bookingID := item.BookingID()
			itemDTO.BookingID = &bookingID
		}
		dto.Items = append(dto.Items, itemDTO)
	}
	return dto
}

// errorStatus classifies the domain errors callers can trigger. Anything
// not listed here is a server fault and maps to 500.
var errorStatus = []struct {
	status int
	errs   []error
}{
	{http.StatusNotFound, []error{
		availabilityCommands.ErrRequestNotFound,
		schedulingCommands.ErrRequestNotFound,
		bookingCommands.ErrRequestNotFound,
		bookingCommands.ErrSolveRunNotFound,
		bookingCommands.ErrSolutionNotFound,
		bookingCommands.ErrLoopBookingNotFound,
	}},
	{http.StatusConflict, []error{
		bookingCommands.ErrCommitInFlight,
		bookingCommands.ErrSlotNoLongerAvailable,
		bookingDomain.ErrLoopAlreadyCancelled,
		availabilityDomain.ErrRequestAlreadyBooked,
	}},
	{http.StatusUnprocessableEntity, []error{
		availabilityDomain.ErrRequestExpired,
		availabilityDomain.ErrRequestNotOpen,
		availabilityDomain.ErrRequestNotSubmitted,
		availabilityDomain.ErrNoUsableBlocks,
		schedulingCommands.ErrRequestNotSolvable,
		bookingCommands.ErrRequestNotBookable,
		bookingCommands.ErrRunNotCommittable,
		bookingDomain.ErrLoopNotCommitted,
	}},
	{http.StatusBadRequest, []error{
		sharedDomain.ErrInvalidEmail,
		sharedDomain.ErrInvalidInterval,
		availabilityDomain.ErrEmptyCandidateName,
		availabilityDomain.ErrInvalidTimeZone,
		availabilityDomain.ErrInvalidBlockRange,
		schedulingDomain.ErrEmptySessionName,
		schedulingDomain.ErrInvalidSessionLength,
		schedulingDomain.ErrInvalidLocalClock,
		schedulingDomain.ErrInvalidSessionBuffers,
		schedulingQueries.ErrInvalidWindow,
		bookingCommands.ErrInvalidWindow,
		bookingDomain.ErrEmptyIdempotencyKey,
		bookingDomain.ErrEmptySolutionID,
	}},
}

func statusForError(err error) (int, bool) {
	for _, class := range errorStatus {
		for _, candidate := range class.errs {
			if errors.Is(err, candidate) {
				return class.status, true
			}
		}
	}
	return 0, false
}

// writeDomainError maps known domain errors to their HTTP status and
// treats everything else as a 500 worth logging.
func (h *SchedulingHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if status, ok := statusForError(err); ok {
		writeError(w, status, err.Error())
		return
	}
	h.logger.ErrorContext(r.Context(), "request failed", "error", err)
	writeError(w, http.StatusInternalServerError, message)
}

// Helper functions

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(key))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+key)
		return uuid.Nil, false
	}
	return id, true
}

// actorFrom reads the optional acting-user header used to stamp domain
// event metadata.
func actorFrom(r *http.Request) string {
	return r.Header.Get("X-Actor")
}
