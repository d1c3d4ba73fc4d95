package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	availabilityDomain "github.com/looplinehq/loopline/internal/availability/domain"
	calendarDomain "github.com/looplinehq/loopline/internal/calendar/domain"
	"github.com/looplinehq/loopline/internal/scheduling/application/services"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/looplinehq/loopline/internal/shared/infrastructure/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockAvailabilityRepo is a mock implementation of availabilityDomain.Repository.
type mockAvailabilityRepo struct {
	mock.Mock
}

func (m *mockAvailabilityRepo) Save(ctx context.Context, request *availabilityDomain.AvailabilityRequest) error {
	args := m.Called(ctx, request)
	return args.Error(0)
}

func (m *mockAvailabilityRepo) FindByID(ctx context.Context, id uuid.UUID) (*availabilityDomain.AvailabilityRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*availabilityDomain.AvailabilityRequest), args.Error(1)
}

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

// mockScheduleReader is a mock implementation of application.ScheduleReader.
type mockScheduleReader struct {
	mock.Mock
}

func (m *mockScheduleReader) GetSchedule(ctx context.Context, emails []string, window sharedDomain.TimeInterval, granularityMinutes int) ([]calendarDomain.InterviewerSchedule, error) {
	args := m.Called(ctx, emails, window, granularityMinutes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]calendarDomain.InterviewerSchedule), args.Error(1)
}

// mockBookingReader is a mock implementation of services.BookingConflictReader.
type mockBookingReader struct {
	mock.Mock
}

func (m *mockBookingReader) FindActiveInvolving(ctx context.Context, emails []string, window sharedDomain.TimeInterval) ([]schedulingDomain.ExistingBooking, error) {
	args := m.Called(ctx, emails, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schedulingDomain.ExistingBooking), args.Error(1)
}

type solveLoopFixture struct {
	requests  *mockAvailabilityRepo
	solveRuns *mockSolveRunRepo
	schedules *mockScheduleReader
	bookings  *mockBookingReader
	outbox    *mockOutboxRepo
	uow       *mockUnitOfWork
	handler   *SolveLoopHandler
}

func newSolveLoopFixture() *solveLoopFixture {
	f := &solveLoopFixture{
		requests:  new(mockAvailabilityRepo),
		solveRuns: new(mockSolveRunRepo),
		schedules: new(mockScheduleReader),
		bookings:  new(mockBookingReader),
		outbox:    new(mockOutboxRepo),
		uow:       new(mockUnitOfWork),
	}
	f.handler = NewSolveLoopHandler(
		f.requests,
		f.solveRuns,
		services.NewSchedulePrefetcher(f.schedules, f.bookings),
		services.NewLoopSolver(),
		f.outbox,
		f.uow,
	)
	return f
}

func sessionFixture(order int, name string, minutes int, emails ...string) schedulingDomain.SessionTemplate {
	return schedulingDomain.SessionTemplate{
		ID:              uuid.New(),
		Order:           order,
		Name:            name,
		DurationMinutes: minutes,
		Pool:            schedulingDomain.InterviewerPool{Emails: emails},
	}
}

func submittedRequest(t *testing.T, span time.Duration) *availabilityDomain.AvailabilityRequest {
	t.Helper()
	request, err := availabilityDomain.NewAvailabilityRequest("jordan@example.com", "Jordan Reyes", "UTC", time.Time{})
	require.NoError(t, err)

	start := time.Now().UTC().Truncate(15 * time.Minute).Add(24 * time.Hour)
	err = request.SubmitAvailability(
		[]sharedDomain.TimeInterval{{Start: start, End: start.Add(span)}},
		availabilityDomain.DefaultNormalizeOptions(),
		time.Now().UTC(),
	)
	require.NoError(t, err)
	return request
}

// relaxedPolicy keeps solve outcomes independent of the wall-clock day the
// test happens to run on.
func relaxedPolicy() *schedulingDomain.SchedulingPolicy {
	return &schedulingDomain.SchedulingPolicy{EnforceBusinessHours: false}
}

func TestSolveLoopHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("solves the loop and persists the run", func(t *testing.T) {
		f := newSolveLoopFixture()
		request := submittedRequest(t, 6*time.Hour)
		window := request.Window()
		txCtx := context.WithValue(ctx, "tx", "transaction")

		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.schedules.On("GetSchedule", mock.Anything, []string{"alice@example.com"}, window, 15).
			Return([]calendarDomain.InterviewerSchedule{{
				Email:        "alice@example.com",
				WorkingHours: calendarDomain.DefaultWorkingHours(),
			}}, nil)
		f.bookings.On("FindActiveInvolving", mock.Anything, []string{"alice@example.com"}, window).
			Return([]schedulingDomain.ExistingBooking{}, nil)
		f.uow.On("Begin", ctx).Return(txCtx, nil)
		f.uow.On("Commit", txCtx).Return(nil)
		f.solveRuns.On("Save", txCtx, mock.AnythingOfType("*domain.SolveRun")).Return(nil)
		f.outbox.On("SaveBatch", txCtx, mock.AnythingOfType("[]*outbox.Message")).Return(nil)

		result, err := f.handler.Handle(ctx, SolveLoopCommand{
			RequestID: request.ID(),
			Sessions:  []schedulingDomain.SessionTemplate{sessionFixture(1, "Technical Screen", 45, "alice@example.com")},
			Policy:    relaxedPolicy(),
			Actor:     "scheduler@looplinehq.com",
		})

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.NotEqual(t, uuid.Nil, result.SolveRunID)
		assert.Equal(t, schedulingDomain.SolveStatusSolved, result.Result.Status)
		require.NotEmpty(t, result.Result.Solutions)

		placed := result.Result.Solutions[0].Sessions[0]
		assert.Equal(t, "alice@example.com", placed.InterviewerEmail)
		assert.False(t, placed.Start.Before(window.Start))
		assert.False(t, placed.End.After(window.End))
		assert.Equal(t, 1, result.Result.Metadata.GraphAPICalls)

		f.requests.AssertExpectations(t)
		f.schedules.AssertExpectations(t)
		f.solveRuns.AssertExpectations(t)
		f.outbox.AssertExpectations(t)
		f.uow.AssertExpectations(t)
	})

	t.Run("an unsatisfiable solve is still recorded", func(t *testing.T) {
		f := newSolveLoopFixture()
		request := submittedRequest(t, 2*time.Hour)
		txCtx := context.WithValue(ctx, "tx", "transaction")

		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.uow.On("Begin", ctx).Return(txCtx, nil)
		f.uow.On("Commit", txCtx).Return(nil)
		f.solveRuns.On("Save", txCtx, mock.AnythingOfType("*domain.SolveRun")).Return(nil)
		f.outbox.On("SaveBatch", txCtx, mock.AnythingOfType("[]*outbox.Message")).Return(nil)

		// No interviewers pooled: nothing to prefetch, nothing to place.
		result, err := f.handler.Handle(ctx, SolveLoopCommand{
			RequestID: request.ID(),
			Sessions:  []schedulingDomain.SessionTemplate{sessionFixture(1, "Technical Screen", 45)},
			Policy:    relaxedPolicy(),
		})

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Result.Status)
		assert.Empty(t, result.Result.Solutions)
		assert.NotEmpty(t, result.Result.TopConstraints)

		f.schedules.AssertNumberOfCalls(t, "GetSchedule", 0)
		f.solveRuns.AssertExpectations(t)
		f.outbox.AssertExpectations(t)
	})

	t.Run("fails when the request does not exist", func(t *testing.T) {
		f := newSolveLoopFixture()
		requestID := uuid.New()

		f.requests.On("FindByID", ctx, requestID).Return(nil, nil)

		result, err := f.handler.Handle(ctx, SolveLoopCommand{RequestID: requestID})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrRequestNotFound)
		f.uow.AssertNumberOfCalls(t, "Begin", 0)
	})

	t.Run("fails when the candidate has not submitted yet", func(t *testing.T) {
		f := newSolveLoopFixture()
		request, err := availabilityDomain.NewAvailabilityRequest("jordan@example.com", "Jordan Reyes", "UTC", time.Time{})
		require.NoError(t, err)

		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)

		result, err := f.handler.Handle(ctx, SolveLoopCommand{RequestID: request.ID()})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrRequestNotSolvable)
	})

	t.Run("fails when the request has expired", func(t *testing.T) {
		f := newSolveLoopFixture()
		start := time.Now().UTC().Truncate(15 * time.Minute).Add(-48 * time.Hour)
		block, err := availabilityDomain.NewAvailabilityBlock(start, start.Add(2*time.Hour))
		require.NoError(t, err)

		request := availabilityDomain.RehydrateAvailabilityRequest(
			uuid.New(),
			"jordan@example.com",
			"Jordan Reyes",
			"UTC",
			availabilityDomain.RequestStatusSubmitted,
			time.Now().UTC().Add(-time.Hour),
			[]*availabilityDomain.AvailabilityBlock{block},
			time.Now().UTC().Add(-72*time.Hour),
			time.Now().UTC().Add(-48*time.Hour),
		)

		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)

		result, err := f.handler.Handle(ctx, SolveLoopCommand{RequestID: request.ID()})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, availabilityDomain.ErrRequestExpired)
	})

	t.Run("a prefetch failure aborts before anything is written", func(t *testing.T) {
		f := newSolveLoopFixture()
		request := submittedRequest(t, 2*time.Hour)

		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.schedules.On("GetSchedule", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("graph unavailable"))
		f.bookings.On("FindActiveInvolving", mock.Anything, mock.Anything, mock.Anything).
			Return([]schedulingDomain.ExistingBooking{}, nil).Maybe()

		result, err := f.handler.Handle(ctx, SolveLoopCommand{
			RequestID: request.ID(),
			Sessions:  []schedulingDomain.SessionTemplate{sessionFixture(1, "Technical Screen", 45, "alice@example.com")},
			Policy:    relaxedPolicy(),
		})

		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "graph unavailable")
		f.uow.AssertNumberOfCalls(t, "Begin", 0)
		f.solveRuns.AssertNumberOfCalls(t, "Save", 0)
	})

	t.Run("a run save failure rolls the transaction back", func(t *testing.T) {
		f := newSolveLoopFixture()
		request := submittedRequest(t, 2*time.Hour)
		txCtx := context.WithValue(ctx, "tx", "transaction")

		f.requests.On("FindByID", ctx, request.ID()).Return(request, nil)
		f.uow.On("Begin", ctx).Return(txCtx, nil)
		f.uow.On("Rollback", txCtx).Return(nil)
		f.solveRuns.On("Save", txCtx, mock.AnythingOfType("*domain.SolveRun")).Return(errors.New("database error"))

		result, err := f.handler.Handle(ctx, SolveLoopCommand{
			RequestID: request.ID(),
			Sessions:  []schedulingDomain.SessionTemplate{sessionFixture(1, "Technical Screen", 45)},
			Policy:    relaxedPolicy(),
		})

		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "database error")
		f.uow.AssertExpectations(t)
	})
}
