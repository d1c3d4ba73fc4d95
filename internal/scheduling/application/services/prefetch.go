package services

import (
	"context"
	"time"

	calendarApplication "github.com/looplinehq/loopline/internal/calendar/application"
	calendarDomain "github.com/looplinehq/loopline/internal/calendar/domain"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"golang.org/x/sync/errgroup"
)

// BookingConflictReader lists active bookings that involve any of the
// given interviewers and overlap the window.
type BookingConflictReader interface {
	FindActiveInvolving(ctx context.Context, emails []string, window sharedDomain.TimeInterval) ([]schedulingDomain.ExistingBooking, error)
}

// PrefetchResult bundles the calendar state a solve or slot generation
// needs, gathered up front so the solver itself performs no I/O.
type PrefetchResult struct {
	Schedules        []calendarDomain.InterviewerSchedule
	ExistingBookings []schedulingDomain.ExistingBooking
	// GraphAPICalls counts schedule requests issued to the reader. A cache
	// in front of the provider may serve them without reaching it.
	GraphAPICalls int
}

// SchedulePrefetcher fetches interviewer schedules and conflicting
// bookings concurrently for the union of all session pools.
type SchedulePrefetcher struct {
	schedules calendarApplication.ScheduleReader
	bookings  BookingConflictReader
}

// NewSchedulePrefetcher creates a new SchedulePrefetcher.
func NewSchedulePrefetcher(schedules calendarApplication.ScheduleReader, bookings BookingConflictReader) *SchedulePrefetcher {
	return &SchedulePrefetcher{schedules: schedules, bookings: bookings}
}

// Fetch loads schedules and bookings for every interviewer pooled across
// the sessions. The booking window widens by the largest session buffer so
// padded conflict checks still see bookings just outside the candidate
// window.
func (p *SchedulePrefetcher) Fetch(
	ctx context.Context,
	sessions []schedulingDomain.SessionTemplate,
	window sharedDomain.TimeInterval,
	granularityMinutes int,
) (PrefetchResult, error) {
	emails := poolEmails(sessions)
	if len(emails) == 0 {
		return PrefetchResult{}, nil
	}

	var result PrefetchResult
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		schedules, err := p.schedules.GetSchedule(groupCtx, emails, window, granularityMinutes)
		if err != nil {
			return err
		}
		result.Schedules = schedules
		result.GraphAPICalls = 1
		return nil
	})

	if p.bookings != nil {
		group.Go(func() error {
			bookings, err := p.bookings.FindActiveInvolving(groupCtx, emails, padWindow(window, sessions))
			if err != nil {
				return err
			}
			result.ExistingBookings = bookings
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return PrefetchResult{}, err
	}
	return result, nil
}

// poolEmails returns the distinct normalized interviewer emails across all
// session pools, in first-seen order.
func poolEmails(sessions []schedulingDomain.SessionTemplate) []string {
	seen := make(map[string]struct{})
	var emails []string
	for _, session := range sessions {
		for _, email := range session.Pool.NormalizedEmails() {
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}
			emails = append(emails, email)
		}
	}
	return emails
}

func padWindow(window sharedDomain.TimeInterval, sessions []schedulingDomain.SessionTemplate) sharedDomain.TimeInterval {
	var pad time.Duration
	for _, session := range sessions {
		if buffer := session.Constraints.BufferBefore(); buffer > pad {
			pad = buffer
		}
		if buffer := session.Constraints.BufferAfter(); buffer > pad {
			pad = buffer
		}
	}
	return sharedDomain.TimeInterval{
		Start: window.Start.Add(-pad),
		End:   window.End.Add(pad),
	}
}
