package persistence_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/looplinehq/loopline/internal/booking/domain"
	"github.com/looplinehq/loopline/internal/booking/infrastructure/persistence"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Skipf("Failed to connect to test database: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Failed to ping test database: %v", err)
	}

	_, _ = pool.Exec(ctx, "DELETE FROM loop_booking_items")
	_, _ = pool.Exec(ctx, "DELETE FROM loop_bookings")
	_, _ = pool.Exec(ctx, "DELETE FROM bookings")

	t.Cleanup(pool.Close)
	return pool
}

func confirmedBooking(t *testing.T, start time.Time, emails ...string) *domain.Booking {
	t.Helper()

	booking, err := domain.NewBooking(
		uuid.New(),
		"Technical Screen",
		sharedDomain.TimeInterval{Start: start, End: start.Add(45 * time.Minute)},
		emails,
		"evt-"+uuid.NewString()[:8],
		"https://meet.example.com/screen",
	)
	require.NoError(t, err)
	booking.ClearDomainEvents()
	return booking
}

func TestPostgresBookingRepository_SaveAndFind(t *testing.T) {
	pool := setupTestDB(t)
	repo := persistence.NewPostgresBookingRepository(pool)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	booking := confirmedBooking(t, start, "Alice@Example.com")
	require.NoError(t, repo.Save(ctx, booking))

	found, err := repo.FindByID(ctx, booking.ID())
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, booking.ID(), found.ID())
	assert.Equal(t, booking.RequestID(), found.RequestID())
	assert.Equal(t, "Technical Screen", found.SessionName())
	assert.True(t, found.Start().Equal(start))
	assert.True(t, found.End().Equal(start.Add(45*time.Minute)))
	assert.Equal(t, []string{"alice@example.com"}, found.InterviewerEmails())
	assert.Equal(t, booking.CalendarEventID(), found.CalendarEventID())
	assert.Equal(t, "https://meet.example.com/screen", found.JoinURL())
	assert.Equal(t, domain.BookingStatusConfirmed, found.Status())
}

func TestPostgresBookingRepository_FindByIDNotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := persistence.NewPostgresBookingRepository(pool)

	found, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestPostgresBookingRepository_SaveUpsertsStatus(t *testing.T) {
	pool := setupTestDB(t)
	repo := persistence.NewPostgresBookingRepository(pool)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	booking := confirmedBooking(t, start, "alice@example.com")
	require.NoError(t, repo.Save(ctx, booking))

	require.NoError(t, booking.Cancel())
	require.NoError(t, repo.Save(ctx, booking))

	found, err := repo.FindByID(ctx, booking.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.BookingStatusCancelled, found.Status())
}

func TestPostgresBookingRepository_FindActiveInvolving(t *testing.T) {
	pool := setupTestDB(t)
	repo := persistence.NewPostgresBookingRepository(pool)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	window := sharedDomain.TimeInterval{Start: start, End: start.Add(4 * time.Hour)}

	inWindow := confirmedBooking(t, start.Add(time.Hour), "alice@example.com")
	require.NoError(t, repo.Save(ctx, inWindow))

	cancelled := confirmedBooking(t, start.Add(2*time.Hour), "alice@example.com")
	require.NoError(t, cancelled.Cancel())
	require.NoError(t, repo.Save(ctx, cancelled))

	outsideWindow := confirmedBooking(t, start.Add(6*time.Hour), "alice@example.com")
	require.NoError(t, repo.Save(ctx, outsideWindow))

	otherInterviewer := confirmedBooking(t, start.Add(time.Hour), "bob@example.com")
	require.NoError(t, repo.Save(ctx, otherInterviewer))

	found, err := repo.FindActiveInvolving(ctx, []string{"alice@example.com"}, window)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, inWindow.ID(), found[0].ID)
	assert.True(t, found[0].Start.Equal(inWindow.Start()))
	assert.Equal(t, []string{"alice@example.com"}, found[0].InterviewerEmails)
	assert.False(t, found[0].Cancelled)
}

func TestPostgresBookingRepository_FindActiveInvolvingEmptyPool(t *testing.T) {
	pool := setupTestDB(t)
	repo := persistence.NewPostgresBookingRepository(pool)

	found, err := repo.FindActiveInvolving(context.Background(), nil, sharedDomain.TimeInterval{
		Start: time.Now().UTC(),
		End:   time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, found)
}
