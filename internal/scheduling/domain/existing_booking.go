package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// ExistingBooking is the conflict-check view of a booking owned by the
// booking context: just enough to keep new slots off intervals that are
// already promised to an interviewer.
type ExistingBooking struct {
	ID                uuid.UUID `json:"id"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	InterviewerEmails []string  `json:"interviewer_emails"`
	Cancelled         bool      `json:"cancelled"`
}

// Interval returns the booked span as a half-open interval.
func (b ExistingBooking) Interval() sharedDomain.TimeInterval {
	return sharedDomain.TimeInterval{Start: b.Start, End: b.End}
}

// Involves reports whether the booking claims the given interviewer,
// compared case-insensitively.
func (b ExistingBooking) Involves(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range b.InterviewerEmails {
		if strings.ToLower(strings.TrimSpace(e)) == email {
			return true
		}
	}
	return false
}

// BlocksInterval reports whether this booking makes the interval
// unbookable for the given interviewer. Cancelled bookings never block.
func (b ExistingBooking) BlocksInterval(interval sharedDomain.TimeInterval, email string) bool {
	if b.Cancelled {
		return false
	}
	return b.Involves(email) && b.Interval().Overlaps(interval)
}
