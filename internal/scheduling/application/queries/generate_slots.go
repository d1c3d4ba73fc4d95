package queries

import (
	"context"
	"errors"
	"time"

	"github.com/looplinehq/loopline/internal/scheduling/application/services"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

var ErrInvalidWindow = errors.New("slot window must be a chronological interval")

// GenerateSlotsQuery asks for bookable slots for one session over a
// window. A nil policy means the default one.
type GenerateSlotsQuery struct {
	Session schedulingDomain.SessionTemplate
	Window  sharedDomain.TimeInterval
	Policy  *schedulingDomain.SchedulingPolicy
}

// GenerateSlotsResult carries the generated slots and how much calendar
// I/O producing them cost.
type GenerateSlotsResult struct {
	Slots         []schedulingDomain.Slot
	GraphAPICalls int
}

// GenerateSlotsHandler handles the GenerateSlotsQuery.
type GenerateSlotsHandler struct {
	prefetcher *services.SchedulePrefetcher
	generator  *services.SlotGenerator
}

// NewGenerateSlotsHandler creates a new GenerateSlotsHandler.
func NewGenerateSlotsHandler(prefetcher *services.SchedulePrefetcher, generator *services.SlotGenerator) *GenerateSlotsHandler {
	return &GenerateSlotsHandler{prefetcher: prefetcher, generator: generator}
}

// Handle executes the GenerateSlotsQuery. Schedules for the session's
// pool and any conflicting bookings are fetched first; the scan itself
// performs no I/O.
func (h *GenerateSlotsHandler) Handle(ctx context.Context, query GenerateSlotsQuery) (*GenerateSlotsResult, error) {
	if err := query.Session.Validate(); err != nil {
		return nil, err
	}
	if !query.Window.IsValid() {
		return nil, ErrInvalidWindow
	}

	policy := schedulingDomain.DefaultPolicy()
	if query.Policy != nil {
		policy = query.Policy.Normalized()
	}

	sessions := []schedulingDomain.SessionTemplate{query.Session}
	prefetched, err := h.prefetcher.Fetch(ctx, sessions, query.Window, policy.SlotGranularityMinutes)
	if err != nil {
		return nil, err
	}

	slots := h.generator.Generate(services.GenerateSlotsInput{
		Session:          query.Session,
		Window:           query.Window,
		Schedules:        prefetched.Schedules,
		ExistingBookings: prefetched.ExistingBookings,
		Policy:           policy,
		Now:              time.Now().UTC(),
	})

	return &GenerateSlotsResult{
		Slots:         slots,
		GraphAPICalls: prefetched.GraphAPICalls,
	}, nil
}
