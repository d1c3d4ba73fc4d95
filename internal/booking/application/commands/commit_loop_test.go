package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	availabilityDomain "github.com/looplinehq/loopline/internal/availability/domain"
	bookingDomain "github.com/looplinehq/loopline/internal/booking/domain"
	calendarDomain "github.com/looplinehq/loopline/internal/calendar/domain"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockSolveRunRepo is a mock implementation of schedulingDomain.SolveRunRepository.
type mockSolveRunRepo struct {
	mock.Mock
}

func (m *mockSolveRunRepo) Save(ctx context.Context, run *schedulingDomain.SolveRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *mockSolveRunRepo) FindByID(ctx context.Context, id uuid.UUID) (*schedulingDomain.SolveRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schedulingDomain.SolveRun), args.Error(1)
}

// mockRequestRepo is a mock implementation of availabilityDomain.Repository.
type mockRequestRepo struct {
	mock.Mock
}

func (m *mockRequestRepo) Save(ctx context.Context, request *availabilityDomain.AvailabilityRequest) error {
	args := m.Called(ctx, request)
	return args.Error(0)
}

func (m *mockRequestRepo) FindByID(ctx context.Context, id uuid.UUID) (*availabilityDomain.AvailabilityRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*availabilityDomain.AvailabilityRequest), args.Error(1)
}

// mockBookingRepo is a mock implementation of bookingDomain.Repository.
type mockBookingRepo struct {
	mock.Mock
}

func (m *mockBookingRepo) Save(ctx context.Context, booking *bookingDomain.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

func (m *mockBookingRepo) FindByID(ctx context.Context, id uuid.UUID) (*bookingDomain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bookingDomain.Booking), args.Error(1)
}

// mockLoopRepo is a mock implementation of bookingDomain.LoopRepository.
type mockLoopRepo struct {
	mock.Mock
}

func (m *mockLoopRepo) Create(ctx context.Context, loop *bookingDomain.LoopBooking) error {
	args := m.Called(ctx, loop)
	return args.Error(0)
}

func (m *mockLoopRepo) Update(ctx context.Context, loop *bookingDomain.LoopBooking) error {
	args := m.Called(ctx, loop)
	return args.Error(0)
}

func (m *mockLoopRepo) FindByID(ctx context.Context, id uuid.UUID) (*bookingDomain.LoopBooking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bookingDomain.LoopBooking), args.Error(1)
}

func (m *mockLoopRepo) FindByIdempotencyKey(ctx context.Context, key string) (*bookingDomain.LoopBooking, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bookingDomain.LoopBooking), args.Error(1)
}

// mockEventWriter is a mock implementation of calendarApplication.EventWriter.
type mockEventWriter struct {
	mock.Mock
}

func (m *mockEventWriter) CreateEvent(ctx context.Context, organizer string, payload calendarDomain.EventPayload) (calendarDomain.EventResult, error) {
	args := m.Called(ctx, organizer, payload)
	return args.Get(0).(calendarDomain.EventResult), args.Error(1)
}

func (m *mockEventWriter) CancelEvent(ctx context.Context, organizer, eventID, reason string) error {
	args := m.Called(ctx, organizer, eventID, reason)
	return args.Error(0)
}

// mockOutboxRepo is a mock implementation of outbox.Repository.
type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) SaveBatch(ctx context.Context, msgs []*outbox.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockOutboxRepo) GetUnpublished(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *mockOutboxRepo) MarkPublished(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockOutboxRepo) MarkFailed(ctx context.Context, id int64, err string, nextRetryAt time.Time) error {
	args := m.Called(ctx, id, err, nextRetryAt)
	return args.Error(0)
}

func (m *mockOutboxRepo) MarkDead(ctx context.Context, id int64, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *mockOutboxRepo) DeleteOld(ctx context.Context, olderThanDays int) (int64, error) {
	args := m.Called(ctx, olderThanDays)
	return args.Get(0).(int64), args.Error(1)
}

// mockUnitOfWork is a mock implementation of UnitOfWork.
type mockUnitOfWork struct {
	mock.Mock
}

func (m *mockUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	args := m.Called(ctx)
	return args.Get(0).(context.Context), args.Error(1)
}

func (m *mockUnitOfWork) Commit(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockUnitOfWork) Rollback(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type commitFixture struct {
	solveRuns *mockSolveRunRepo
	requests  *mockRequestRepo
	bookings  *mockBookingRepo
	loops     *mockLoopRepo
	calendar  *mockEventWriter
	outbox    *mockOutboxRepo
	uow       *mockUnitOfWork
	handler   *CommitLoopHandler
}

func newCommitFixture() *commitFixture {
	f := &commitFixture{
		solveRuns: new(mockSolveRunRepo),
		requests:  new(mockRequestRepo),
		bookings:  new(mockBookingRepo),
		loops:     new(mockLoopRepo),
		calendar:  new(mockEventWriter),
		outbox:    new(mockOutboxRepo),
		uow:       new(mockUnitOfWork),
	}
	f.handler = NewCommitLoopHandler(
		f.solveRuns,
		f.requests,
		f.bookings,
		f.loops,
		f.calendar,
		f.outbox,
		f.uow,
	)
	return f
}

func bookableRequest(t *testing.T) *availabilityDomain.AvailabilityRequest {
	t.Helper()
	request, err := availabilityDomain.NewAvailabilityRequest("jordan@example.com", "Jordan Reyes", "UTC", time.Time{})
	require.NoError(t, err)

	start := time.Now().UTC().Truncate(15 * time.Minute).Add(24 * time.Hour)
	err = request.SubmitAvailability(
		[]sharedDomain.TimeInterval{{Start: start, End: start.Add(6 * time.Hour)}},
		availabilityDomain.DefaultNormalizeOptions(),
		time.Now().UTC(),
	)
	require.NoError(t, err)
	request.ClearDomainEvents()
	return request
}

// committableRun snapshots a solved run whose single solution places the
// named sessions back to back inside the request's window.
func committableRun(t *testing.T, request *availabilityDomain.AvailabilityRequest, names ...string) (*schedulingDomain.SolveRun, schedulingDomain.LoopSolution) {
	t.Helper()
	interviewers := []string{"alice@example.com", "bob@example.com", "carol@example.com"}
	window := request.Window()

	placed := make([]schedulingDomain.ScheduledSession, 0, len(names))
	templates := make([]schedulingDomain.SessionTemplate, 0, len(names))
	for i, name := range names {
		id := uuid.New()
		email := interviewers[i%len(interviewers)]
		start := window.Start.Add(time.Duration(i) * time.Hour)
		placed = append(placed, schedulingDomain.ScheduledSession{
			SessionID:        id,
			SessionName:      name,
			Start:            start,
			End:              start.Add(45 * time.Minute),
			InterviewerEmail: email,
		})
		templates = append(templates, schedulingDomain.SessionTemplate{
			ID:              id,
			Order:           i + 1,
			Name:            name,
			DurationMinutes: 45,
			Pool:            schedulingDomain.InterviewerPool{Emails: []string{email}},
		})
	}

	solution := schedulingDomain.NewLoopSolution(placed, schedulingDomain.ConflictStats{}, time.UTC)
	result := schedulingDomain.LoopSolveResult{
		Status:     schedulingDomain.SolveStatusSolved,
		Solutions:  []schedulingDomain.LoopSolution{solution},
		Confidence: 1.0,
	}
	created := time.Now().UTC().Add(-time.Minute)
	run := schedulingDomain.RehydrateSolveRun(
		uuid.New(),
		request.ID(),
		templates,
		schedulingDomain.SchedulingPolicy{EnforceBusinessHours: false},
		result,
		created,
		created,
	)
	return run, solution
}

// loopRow rehydrates a stored attempt the way FindByIdempotencyKey would
// return it.
func loopRow(key string, status bookingDomain.LoopBookingStatus) *bookingDomain.LoopBooking {
	now := time.Now().UTC().Add(-time.Hour)
	var items []*bookingDomain.LoopBookingItem
	if status == bookingDomain.LoopStatusCommitted {
		items = append(items, bookingDomain.RehydrateLoopBookingItem(
			uuid.New(), uuid.New(), "Screen", uuid.New(), "evt-prior",
			"recruiting@looplinehq.com", bookingDomain.LoopItemStatusBooked, now, now,
		))
	}
	return bookingDomain.RehydrateLoopBooking(
		uuid.New(), uuid.New(), uuid.New(), "a1b2c3d4e5f60718", key,
		"recruiting@looplinehq.com", status, false, nil, "", items, now, now,
	)
}

func commitCommand(run *schedulingDomain.SolveRun, solution schedulingDomain.LoopSolution) CommitLoopCommand {
	return CommitLoopCommand{
		SolveRunID:     run.ID(),
		SolutionID:     solution.SolutionID,
		IdempotencyKey: "commit-1",
		OrganizerEmail: "recruiting@looplinehq.com",
		Actor:          "recruiter@looplinehq.com",
	}
}

func TestCommitLoopHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("commits every session and persists the attempt", func(t *testing.T) {
		f := newCommitFixture()
		request := bookableRequest(t)
		run, solution := committableRun(t, request, "Screen", "System Design", "Values")
		cmd := commitCommand(run, solution)
		txCtx := context.WithValue(ctx, "tx", "transaction")

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil)
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)
		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.loops.On("Create", ctx, mock.AnythingOfType("*domain.LoopBooking")).Return(nil)

		f.calendar.On("CreateEvent", mock.Anything, "recruiting@looplinehq.com", mock.MatchedBy(func(p calendarDomain.EventPayload) bool {
			return p.Subject == "Interview: Screen with Jordan Reyes" &&
				len(p.Attendees) == 2 &&
				p.Attendees[0] == "alice@example.com" &&
				p.Attendees[1] == "jordan@example.com" &&
				p.OnlineMeeting
		})).Return(calendarDomain.EventResult{EventID: "evt-1", JoinURL: "https://meet.example.com/1"}, nil).Once()
		f.calendar.On("CreateEvent", mock.Anything, "recruiting@looplinehq.com", mock.Anything).
			Return(calendarDomain.EventResult{EventID: "evt-2"}, nil).Once()
		f.calendar.On("CreateEvent", mock.Anything, "recruiting@looplinehq.com", mock.Anything).
			Return(calendarDomain.EventResult{EventID: "evt-3"}, nil).Once()

		f.uow.On("Begin", mock.Anything).Return(txCtx, nil)
		f.uow.On("Commit", txCtx).Return(nil)
		f.bookings.On("Save", txCtx, mock.AnythingOfType("*domain.Booking")).Return(nil)
		f.loops.On("Update", txCtx, mock.MatchedBy(func(loop *bookingDomain.LoopBooking) bool {
			return loop.Status() == bookingDomain.LoopStatusCommitted && len(loop.Items()) == 3
		})).Return(nil)
		f.requests.On("Save", txCtx, request).Return(nil)
		// Three slot bookings, the committed loop, the booked request.
		f.outbox.On("SaveBatch", txCtx, mock.MatchedBy(func(msgs []*outbox.Message) bool {
			return len(msgs) == 5
		})).Return(nil)

		result, err := f.handler.Handle(ctx, cmd)

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, CommitOutcomeCommitted, result.Outcome)
		assert.Nil(t, result.RollbackDetails)
		require.Len(t, result.BookedSessions, 3)
		assert.Equal(t, "Screen", result.BookedSessions[0].SessionName)
		assert.Equal(t, "evt-1", result.BookedSessions[0].CalendarEventID)
		assert.Equal(t, "https://meet.example.com/1", result.BookedSessions[0].JoinURL)
		assert.Equal(t, "evt-2", result.BookedSessions[1].CalendarEventID)
		assert.Equal(t, "evt-3", result.BookedSessions[2].CalendarEventID)

		assert.Equal(t, availabilityDomain.RequestStatusBooked, request.Status())
		f.bookings.AssertNumberOfCalls(t, "Save", 3)
		f.calendar.AssertNumberOfCalls(t, "CancelEvent", 0)
		f.loops.AssertExpectations(t)
		f.outbox.AssertExpectations(t)
		f.uow.AssertExpectations(t)
	})

	t.Run("a committed key replays without touching the calendar", func(t *testing.T) {
		f := newCommitFixture()
		committed := loopRow("commit-1", bookingDomain.LoopStatusCommitted)

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(committed, nil)

		result, err := f.handler.Handle(ctx, CommitLoopCommand{
			SolveRunID:     uuid.New(),
			SolutionID:     "a1b2c3d4e5f60718",
			IdempotencyKey: "commit-1",
			OrganizerEmail: "recruiting@looplinehq.com",
		})

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, CommitOutcomeAlreadyCommitted, result.Outcome)
		assert.Equal(t, committed.ID(), result.LoopBookingID)
		require.Len(t, result.BookedSessions, 1)
		assert.Equal(t, "evt-prior", result.BookedSessions[0].CalendarEventID)

		f.calendar.AssertNumberOfCalls(t, "CreateEvent", 0)
		f.solveRuns.AssertNumberOfCalls(t, "FindByID", 0)
	})

	t.Run("a pending key is refused", func(t *testing.T) {
		f := newCommitFixture()
		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").
			Return(loopRow("commit-1", bookingDomain.LoopStatusPending), nil)

		result, err := f.handler.Handle(ctx, CommitLoopCommand{
			IdempotencyKey: "commit-1",
		})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrCommitInFlight)
	})

	t.Run("a failed key starts a fresh attempt", func(t *testing.T) {
		f := newCommitFixture()
		request := bookableRequest(t)
		run, solution := committableRun(t, request, "Screen")
		cmd := commitCommand(run, solution)
		txCtx := context.WithValue(ctx, "tx", "transaction")

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").
			Return(loopRow("commit-1", bookingDomain.LoopStatusFailed), nil)
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)
		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.loops.On("Create", ctx, mock.AnythingOfType("*domain.LoopBooking")).Return(nil)
		f.calendar.On("CreateEvent", mock.Anything, "recruiting@looplinehq.com", mock.Anything).
			Return(calendarDomain.EventResult{EventID: "evt-1"}, nil)
		f.uow.On("Begin", mock.Anything).Return(txCtx, nil)
		f.uow.On("Commit", txCtx).Return(nil)
		f.bookings.On("Save", txCtx, mock.AnythingOfType("*domain.Booking")).Return(nil)
		f.loops.On("Update", txCtx, mock.AnythingOfType("*domain.LoopBooking")).Return(nil)
		f.requests.On("Save", txCtx, request).Return(nil)
		f.outbox.On("SaveBatch", txCtx, mock.AnythingOfType("[]*outbox.Message")).Return(nil)

		result, err := f.handler.Handle(ctx, cmd)

		require.NoError(t, err)
		assert.Equal(t, CommitOutcomeCommitted, result.Outcome)
		f.loops.AssertNumberOfCalls(t, "Create", 1)
	})

	t.Run("losing the insert race to a committed winner is idempotent success", func(t *testing.T) {
		f := newCommitFixture()
		request := bookableRequest(t)
		run, solution := committableRun(t, request, "Screen")
		winner := loopRow("commit-1", bookingDomain.LoopStatusCommitted)

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil).Once()
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)
		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.loops.On("Create", ctx, mock.AnythingOfType("*domain.LoopBooking")).
			Return(bookingDomain.ErrDuplicateIdempotencyKey)
		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(winner, nil).Once()

		result, err := f.handler.Handle(ctx, commitCommand(run, solution))

		require.NoError(t, err)
		assert.Equal(t, CommitOutcomeAlreadyCommitted, result.Outcome)
		assert.Equal(t, winner.ID(), result.LoopBookingID)
		f.calendar.AssertNumberOfCalls(t, "CreateEvent", 0)
	})

	t.Run("losing the insert race to a pending winner is a conflict", func(t *testing.T) {
		f := newCommitFixture()
		request := bookableRequest(t)
		run, solution := committableRun(t, request, "Screen")

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil).Once()
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)
		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.loops.On("Create", ctx, mock.AnythingOfType("*domain.LoopBooking")).
			Return(bookingDomain.ErrDuplicateIdempotencyKey)
		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").
			Return(loopRow("commit-1", bookingDomain.LoopStatusPending), nil).Once()

		result, err := f.handler.Handle(ctx, commitCommand(run, solution))

		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrCommitInFlight)
	})

	t.Run("a partial failure rolls back and books nothing", func(t *testing.T) {
		f := newCommitFixture()
		request := bookableRequest(t)
		run, solution := committableRun(t, request, "Screen", "System Design", "Values")
		cmd := commitCommand(run, solution)
		txCtx := context.WithValue(ctx, "tx", "transaction")

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil)
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)
		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.loops.On("Create", ctx, mock.AnythingOfType("*domain.LoopBooking")).Return(nil)

		f.calendar.On("CreateEvent", mock.Anything, "recruiting@looplinehq.com", mock.Anything).
			Return(calendarDomain.EventResult{EventID: "evt-1"}, nil).Once()
		f.calendar.On("CreateEvent", mock.Anything, "recruiting@looplinehq.com", mock.Anything).
			Return(calendarDomain.EventResult{}, errors.New("mailbox full")).Once()
		f.calendar.On("CreateEvent", mock.Anything, "recruiting@looplinehq.com", mock.Anything).
			Return(calendarDomain.EventResult{EventID: "evt-3"}, nil).Once()
		f.calendar.On("CancelEvent", mock.Anything, "recruiting@looplinehq.com", "evt-1", mock.Anything).Return(nil)
		f.calendar.On("CancelEvent", mock.Anything, "recruiting@looplinehq.com", "evt-3", mock.Anything).Return(nil)

		f.uow.On("Begin", mock.Anything).Return(txCtx, nil)
		f.uow.On("Commit", txCtx).Return(nil)
		f.loops.On("Update", txCtx, mock.MatchedBy(func(loop *bookingDomain.LoopBooking) bool {
			if loop.Status() != bookingDomain.LoopStatusFailed || !loop.RollbackAttempted() {
				return false
			}
			for _, item := range loop.Items() {
				if item.Status() != bookingDomain.LoopItemStatusRolledBack {
					return false
				}
			}
			return len(loop.Items()) == 2
		})).Return(nil)
		f.outbox.On("SaveBatch", txCtx, mock.MatchedBy(func(msgs []*outbox.Message) bool {
			return len(msgs) == 1
		})).Return(nil)

		result, err := f.handler.Handle(ctx, cmd)

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, CommitOutcomeFailed, result.Outcome)
		assert.Contains(t, result.ErrorMessage, "System Design: mailbox full")
		require.NotNil(t, result.RollbackDetails)
		assert.Equal(t, 2, result.RollbackDetails.EventsCreated)
		assert.Equal(t, 2, result.RollbackDetails.EventsRolledBack)
		assert.Empty(t, result.RollbackDetails.RollbackErrors)

		// Nothing durable: no bookings, and the request stays open.
		f.bookings.AssertNumberOfCalls(t, "Save", 0)
		f.requests.AssertNumberOfCalls(t, "Save", 0)
		assert.Equal(t, availabilityDomain.RequestStatusSubmitted, request.Status())
		f.calendar.AssertNumberOfCalls(t, "CreateEvent", 3)
		f.loops.AssertExpectations(t)
	})

	t.Run("a rollback failure is recorded, not re-thrown", func(t *testing.T) {
		f := newCommitFixture()
		request := bookableRequest(t)
		run, solution := committableRun(t, request, "Screen", "System Design")
		cmd := commitCommand(run, solution)
		txCtx := context.WithValue(ctx, "tx", "transaction")

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil)
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)
		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.loops.On("Create", ctx, mock.AnythingOfType("*domain.LoopBooking")).Return(nil)

		f.calendar.On("CreateEvent", mock.Anything, "recruiting@looplinehq.com", mock.Anything).
			Return(calendarDomain.EventResult{EventID: "evt-1"}, nil).Once()
		f.calendar.On("CreateEvent", mock.Anything, "recruiting@looplinehq.com", mock.Anything).
			Return(calendarDomain.EventResult{}, errors.New("mailbox full")).Once()
		f.calendar.On("CancelEvent", mock.Anything, "recruiting@looplinehq.com", "evt-1", mock.Anything).
			Return(errors.New("provider timeout"))

		f.uow.On("Begin", mock.Anything).Return(txCtx, nil)
		f.uow.On("Commit", txCtx).Return(nil)
		f.loops.On("Update", txCtx, mock.MatchedBy(func(loop *bookingDomain.LoopBooking) bool {
			return loop.Status() == bookingDomain.LoopStatusFailed &&
				loop.RollbackAttempted() &&
				len(loop.Items()) == 1 &&
				loop.Items()[0].Status() == bookingDomain.LoopItemStatusBooked
		})).Return(nil)
		f.outbox.On("SaveBatch", txCtx, mock.AnythingOfType("[]*outbox.Message")).Return(nil)

		result, err := f.handler.Handle(ctx, cmd)

		require.NoError(t, err)
		assert.Equal(t, CommitOutcomeFailed, result.Outcome)
		require.NotNil(t, result.RollbackDetails)
		assert.Equal(t, 1, result.RollbackDetails.EventsCreated)
		assert.Equal(t, 0, result.RollbackDetails.EventsRolledBack)
		require.Len(t, result.RollbackDetails.RollbackErrors, 1)
		assert.Contains(t, result.RollbackDetails.RollbackErrors[0], "evt-1")
		f.loops.AssertExpectations(t)
	})

	t.Run("fails when the idempotency key is blank", func(t *testing.T) {
		f := newCommitFixture()

		result, err := f.handler.Handle(ctx, CommitLoopCommand{IdempotencyKey: "   "})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, bookingDomain.ErrEmptyIdempotencyKey)
		f.loops.AssertNumberOfCalls(t, "FindByIdempotencyKey", 0)
	})

	t.Run("fails when the solve run does not exist", func(t *testing.T) {
		f := newCommitFixture()
		runID := uuid.New()

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil)
		f.solveRuns.On("FindByID", ctx, runID).Return(nil, nil)

		result, err := f.handler.Handle(ctx, CommitLoopCommand{
			SolveRunID:     runID,
			IdempotencyKey: "commit-1",
		})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrSolveRunNotFound)
	})

	t.Run("fails when the run has no committable solutions", func(t *testing.T) {
		f := newCommitFixture()
		created := time.Now().UTC().Add(-time.Minute)
		run := schedulingDomain.RehydrateSolveRun(
			uuid.New(), uuid.New(), nil,
			schedulingDomain.SchedulingPolicy{},
			schedulingDomain.LoopSolveResult{Status: schedulingDomain.SolveStatusUnsatisfiable},
			created, created,
		)

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil)
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)

		result, err := f.handler.Handle(ctx, CommitLoopCommand{
			SolveRunID:     run.ID(),
			IdempotencyKey: "commit-1",
		})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrRunNotCommittable)
	})

	t.Run("fails when the solution id is not in the run", func(t *testing.T) {
		f := newCommitFixture()
		request := bookableRequest(t)
		run, _ := committableRun(t, request, "Screen")

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil)
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)

		result, err := f.handler.Handle(ctx, CommitLoopCommand{
			SolveRunID:     run.ID(),
			SolutionID:     "0000000000000000",
			IdempotencyKey: "commit-1",
		})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrSolutionNotFound)
	})

	t.Run("fails when the request is already booked", func(t *testing.T) {
		f := newCommitFixture()
		request := bookableRequest(t)
		run, solution := committableRun(t, request, "Screen")
		require.NoError(t, request.MarkBooked(uuid.New(), time.Now().UTC()))
		request.ClearDomainEvents()

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil)
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)
		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)

		result, err := f.handler.Handle(ctx, commitCommand(run, solution))

		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrRequestNotBookable)
		f.loops.AssertNumberOfCalls(t, "Create", 0)
	})

	t.Run("fails when the request has expired", func(t *testing.T) {
		f := newCommitFixture()
		request := bookableRequest(t)
		run, solution := committableRun(t, request, "Screen")

		start := time.Now().UTC().Truncate(15 * time.Minute).Add(-48 * time.Hour)
		block, err := availabilityDomain.NewAvailabilityBlock(start, start.Add(2*time.Hour))
		require.NoError(t, err)
		expired := availabilityDomain.RehydrateAvailabilityRequest(
			request.ID(),
			"jordan@example.com",
			"Jordan Reyes",
			"UTC",
			availabilityDomain.RequestStatusSubmitted,
			time.Now().UTC().Add(-time.Hour),
			[]*availabilityDomain.AvailabilityBlock{block},
			time.Now().UTC().Add(-72*time.Hour),
			time.Now().UTC().Add(-48*time.Hour),
		)

		f.loops.On("FindByIdempotencyKey", ctx, "commit-1").Return(nil, nil)
		f.solveRuns.On("FindByID", ctx, run.ID()).Return(run, nil)
		f.requests.On("FindByID", ctx, request.ID()).Return(expired, nil)

		result, err := f.handler.Handle(ctx, commitCommand(run, solution))

		assert.Nil(t, result)
		assert.ErrorIs(t, err, availabilityDomain.ErrRequestExpired)
	})
}
