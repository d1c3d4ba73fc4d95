package domain

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

var (
	ErrEmptySessionName      = errors.New("session name cannot be empty")
	ErrInvalidSessionLength  = errors.New("session duration must be positive")
	ErrInvalidLocalClock     = errors.New("session clock constraint must be HH:MM")
	ErrInvalidSessionBuffers = errors.New("session buffers and gaps cannot be negative")
)

// InterviewerPool is the set of interviewers eligible to take a session.
type InterviewerPool struct {
	Emails        []string `json:"emails"`
	RequiredCount int      `json:"required_count"`
	PreferredTags []string `json:"preferred_tags,omitempty"`
}

// NormalizedEmails returns the pool addresses trimmed, lowercased, and
// de-duplicated, preserving first-occurrence order.
func (p InterviewerPool) NormalizedEmails() []string {
	return sharedDomain.NormalizeEmails(p.Emails)
}

// IsEmpty reports whether the pool has no usable addresses.
func (p InterviewerPool) IsEmpty() bool {
	return len(p.NormalizedEmails()) == 0
}

// SessionConstraints are per-session timing rules. Clock constraints use
// the 24h "HH:MM" form and are evaluated in the candidate's time zone;
// empty strings mean unconstrained. Buffers pad the session on the
// interviewers' calendars, the gap spaces this session from the next.
type SessionConstraints struct {
	EarliestStartLocal  string `json:"earliest_start_local,omitempty"`
	LatestEndLocal      string `json:"latest_end_local,omitempty"`
	BufferBeforeMinutes int    `json:"buffer_before_minutes,omitempty"`
	BufferAfterMinutes  int    `json:"buffer_after_minutes,omitempty"`
	MinGapToNextMinutes int    `json:"min_gap_to_next_minutes,omitempty"`
}

// BufferBefore returns the leading calendar pad as a duration.
func (c SessionConstraints) BufferBefore() time.Duration {
	return time.Duration(c.BufferBeforeMinutes) * time.Minute
}

// BufferAfter returns the trailing calendar pad as a duration.
func (c SessionConstraints) BufferAfter() time.Duration {
	return time.Duration(c.BufferAfterMinutes) * time.Minute
}

// MinGapToNext returns the required distance to the following session.
func (c SessionConstraints) MinGapToNext() time.Duration {
	return time.Duration(c.MinGapToNextMinutes) * time.Minute
}

// AllowsClockWindow reports whether a slot with the given bounds satisfies
// the clock constraints when evaluated in loc. Unset or malformed
// constraints do not restrict. An end falling exactly on midnight counts
// as 24:00 of the slot's day.
func (c SessionConstraints) AllowsClockWindow(start, end time.Time, loc *time.Location) bool {
	if c.EarliestStartLocal != "" {
		if earliest, err := minutesOfDay(c.EarliestStartLocal); err == nil {
			local := start.In(loc)
			if local.Hour()*60+local.Minute() < earliest {
				return false
			}
		}
	}
	if c.LatestEndLocal != "" {
		if latest, err := minutesOfDay(c.LatestEndLocal); err == nil {
			local := end.In(loc)
			endMinutes := local.Hour()*60 + local.Minute()
			if endMinutes == 0 {
				endMinutes = 24 * 60
			}
			if endMinutes > latest {
				return false
			}
		}
	}
	return true
}

// SessionTemplate describes one stage of an interview loop. Templates are
// immutable once a solve run references them; solve runs snapshot the
// templates they were given.
type SessionTemplate struct {
	ID              uuid.UUID          `json:"id"`
	Order           int                `json:"order"`
	Name            string             `json:"name"`
	DurationMinutes int                `json:"duration_minutes"`
	Pool            InterviewerPool    `json:"pool"`
	Constraints     SessionConstraints `json:"constraints"`
}

// Duration returns the session length as a duration.
func (t SessionTemplate) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// Validate checks the template's structural invariants. Pool emptiness is
// deliberately not validated here: an empty pool is a solvable-input
// problem the solver reports as a constraint violation, not a malformed
// template.
func (t SessionTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptySessionName
	}
	if t.DurationMinutes <= 0 {
		return ErrInvalidSessionLength
	}
	if t.Constraints.BufferBeforeMinutes < 0 || t.Constraints.BufferAfterMinutes < 0 ||
		t.Constraints.MinGapToNextMinutes < 0 {
		return ErrInvalidSessionBuffers
	}
	for _, clock := range []string{t.Constraints.EarliestStartLocal, t.Constraints.LatestEndLocal} {
		if clock == "" {
			continue
		}
		if _, err := minutesOfDay(clock); err != nil {
			return err
		}
	}
	return nil
}

// SortSessions returns the sessions ordered by their fixed Order field,
// stable for equal orders.
func SortSessions(sessions []SessionTemplate) []SessionTemplate {
	sorted := make([]SessionTemplate, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

// minutesOfDay parses an "HH:MM" clock into minutes from midnight.
// "24:00" is allowed as an end-of-day bound.
func minutesOfDay(clock string) (int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 {
		return 0, ErrInvalidLocalClock
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 24 {
		return 0, ErrInvalidLocalClock
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, ErrInvalidLocalClock
	}
	total := hours*60 + minutes
	if total > 24*60 {
		return 0, ErrInvalidLocalClock
	}
	return total, nil
}
