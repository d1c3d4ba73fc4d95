package services

import (
	"time"

	calendarDomain "github.com/looplinehq/loopline/internal/calendar/domain"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// MaxSlotsPerRequest caps how many slots one generation scan returns.
const MaxSlotsPerRequest = 30

// GenerateSlotsInput carries everything one slot scan needs. Schedules
// and bookings are supplied pre-fetched; the generator itself performs
// no I/O and is safe to call concurrently.
type GenerateSlotsInput struct {
	Session          schedulingDomain.SessionTemplate
	Window           sharedDomain.TimeInterval
	Schedules        []calendarDomain.InterviewerSchedule
	ExistingBookings []schedulingDomain.ExistingBooking
	Policy           schedulingDomain.SchedulingPolicy
	Now              time.Time
}

// SlotGenerator enumerates bookable slots for a single session. Every
// interviewer whose schedule is supplied must be free for a slot to
// count; the caller passes exactly the schedules of the people who will
// attend.
type SlotGenerator struct{}

// NewSlotGenerator creates a new SlotGenerator.
func NewSlotGenerator() *SlotGenerator {
	return &SlotGenerator{}
}

// Generate scans the window on the policy grid and returns the valid
// slots in start order, capped at MaxSlotsPerRequest. A slot is valid
// when every interviewer is inside working hours on an allowed weekday,
// clear of their busy intervals, and clear of any non-cancelled existing
// booking that involves them.
func (g *SlotGenerator) Generate(in GenerateSlotsInput) []schedulingDomain.Slot {
	policy := in.Policy.Normalized()
	duration := in.Session.Duration()
	if duration <= 0 || !in.Window.IsValid() || len(in.Schedules) == 0 {
		return nil
	}

	locations := make([]*time.Location, len(in.Schedules))
	emails := make([]string, 0, len(in.Schedules))
	for i, schedule := range in.Schedules {
		loc, err := schedule.WorkingHours.Location()
		if err != nil {
			loc = time.UTC
		}
		locations[i] = loc
		emails = append(emails, schedule.Email)
	}

	grid := policy.Granularity()
	cursor := snapUpToGrid(laterOf(in.Window.Start, in.Now), grid)

	var slots []schedulingDomain.Slot
	for cursor.Before(in.Window.End) && len(slots) < MaxSlotsPerRequest {
		slotEnd := cursor.Add(duration)
		if slotEnd.After(in.Window.End) {
			cursor = cursor.Add(grid)
			continue
		}

		interval := sharedDomain.TimeInterval{Start: cursor, End: slotEnd}
		if g.slotIsValid(interval, in.Schedules, locations, in.ExistingBookings, policy) {
			slots = append(slots, schedulingDomain.NewSlot(cursor, slotEnd, emails))
		}
		cursor = cursor.Add(grid)
	}
	return slots
}

func (g *SlotGenerator) slotIsValid(
	interval sharedDomain.TimeInterval,
	schedules []calendarDomain.InterviewerSchedule,
	locations []*time.Location,
	bookings []schedulingDomain.ExistingBooking,
	policy schedulingDomain.SchedulingPolicy,
) bool {
	for i, schedule := range schedules {
		if policy.EnforceBusinessHours && !schedule.WorkingHours.Covers(interval, locations[i]) {
			return false
		}
		if schedule.IsBusyDuring(interval) {
			return false
		}
		for _, booking := range bookings {
			if booking.BlocksInterval(interval, schedule.Email) {
				return false
			}
		}
	}
	return true
}

// snapUpToGrid rounds t up to the next grid boundary; times already on
// the boundary are unchanged.
func snapUpToGrid(t time.Time, grid time.Duration) time.Time {
	truncated := t.Truncate(grid)
	if truncated.Before(t) {
		return truncated.Add(grid)
	}
	return truncated
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
