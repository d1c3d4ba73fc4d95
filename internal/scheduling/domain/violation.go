package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// Severity grades how strongly a constraint violation limits the solve.
type Severity string

const (
	// SeverityBlocking means no solution can exist while this holds.
	SeverityBlocking Severity = "BLOCKING"
	// SeverityLimiting means placements were lost but alternatives may exist.
	SeverityLimiting Severity = "LIMITING"
	// SeverityMinor means a single placement lost to a local conflict.
	SeverityMinor Severity = "MINOR"
)

// Rank orders severities for reporting, blocking first.
func (s Severity) Rank() int {
	switch s {
	case SeverityBlocking:
		return 0
	case SeverityLimiting:
		return 1
	default:
		return 2
	}
}

// ConstraintKey names the reason a placement or a whole solve failed.
// The set is closed; diagnostics map each key to at most one remedy.
type ConstraintKey string

const (
	ConstraintInterviewerPoolEmpty    ConstraintKey = "INTERVIEWER_POOL_EMPTY"
	ConstraintInterviewerPoolAllBusy  ConstraintKey = "INTERVIEWER_POOL_ALL_BUSY"
	ConstraintSessionTooLongForBlocks ConstraintKey = "SESSION_TOO_LONG_FOR_BLOCKS"
	ConstraintNoCandidateAvailability ConstraintKey = "NO_CANDIDATE_AVAILABILITY"
	ConstraintInsufficientGap         ConstraintKey = "INSUFFICIENT_GAP_BETWEEN_SESSIONS"
	ConstraintBusinessHoursViolation  ConstraintKey = "BUSINESS_HOURS_VIOLATION"
	ConstraintMaxDaysExceeded         ConstraintKey = "MAX_DAYS_EXCEEDED"
	ConstraintConflictingBookings     ConstraintKey = "CONFLICTING_EXISTING_BOOKINGS"
)

// Evidence pins a violation to the session, interviewer, or time range it
// came from. Which fields are set depends on the key; the constructors
// below fill exactly the fields each key carries.
type Evidence struct {
	SessionID        uuid.UUID                  `json:"session_id,omitempty"`
	SessionName      string                     `json:"session_name,omitempty"`
	InterviewerEmail string                     `json:"interviewer_email,omitempty"`
	TimeRange        *sharedDomain.TimeInterval `json:"time_range,omitempty"`
	Details          string                     `json:"details,omitempty"`
}

// ConstraintViolation is a structured infeasibility finding. Violations
// are data, never errors: an unsatisfiable solve returns them in the
// result instead of failing the call.
type ConstraintViolation struct {
	Key         ConstraintKey `json:"key"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	Evidence    Evidence      `json:"evidence"`
}

// NewPoolEmptyViolation reports a session with no interviewers assigned.
func NewPoolEmptyViolation(session SessionTemplate) ConstraintViolation {
	return ConstraintViolation{
		Key:         ConstraintInterviewerPoolEmpty,
		Severity:    SeverityBlocking,
		Description: fmt.Sprintf("session %q has no interviewers in its pool", session.Name),
		Evidence: Evidence{
			SessionID:   session.ID,
			SessionName: session.Name,
		},
	}
}

// NewPoolAllBusyViolation reports that every pool member is unavailable
// for the whole relevant window.
func NewPoolAllBusyViolation(session SessionTemplate, window sharedDomain.TimeInterval) ConstraintViolation {
	return ConstraintViolation{
		Key:         ConstraintInterviewerPoolAllBusy,
		Severity:    SeverityBlocking,
		Description: fmt.Sprintf("every interviewer in the pool for %q is busy across the candidate's availability", session.Name),
		Evidence: Evidence{
			SessionID:   session.ID,
			SessionName: session.Name,
			TimeRange:   &window,
		},
	}
}

// NewSessionTooLongViolation reports that no candidate block can host the
// session duration.
func NewSessionTooLongViolation(session SessionTemplate, longestBlock time.Duration) ConstraintViolation {
	return ConstraintViolation{
		Key:      ConstraintSessionTooLongForBlocks,
		Severity: SeverityBlocking,
		Description: fmt.Sprintf("session %q needs %d minutes but the longest candidate block is %d minutes",
			session.Name, session.DurationMinutes, int(longestBlock.Minutes())),
		Evidence: Evidence{
			SessionID:   session.ID,
			SessionName: session.Name,
			Details:     fmt.Sprintf("longest block %d min", int(longestBlock.Minutes())),
		},
	}
}

// NewNoCandidateAvailabilityViolation reports a solve attempted with no
// usable candidate blocks at all.
func NewNoCandidateAvailabilityViolation() ConstraintViolation {
	return ConstraintViolation{
		Key:         ConstraintNoCandidateAvailability,
		Severity:    SeverityBlocking,
		Description: "the candidate has no availability blocks to schedule against",
	}
}

// NewInsufficientGapViolation reports a session that could not be placed
// after its predecessor with the required gap.
func NewInsufficientGapViolation(session SessionTemplate, earliestAllowed time.Time) ConstraintViolation {
	return ConstraintViolation{
		Key:      ConstraintInsufficientGap,
		Severity: SeverityLimiting,
		Description: fmt.Sprintf("no feasible start for %q at or after %s once gaps and buffers are applied",
			session.Name, earliestAllowed.UTC().Format(time.RFC3339)),
		Evidence: Evidence{
			SessionID:   session.ID,
			SessionName: session.Name,
			Details:     "earliest allowed " + earliestAllowed.UTC().Format(time.RFC3339),
		},
	}
}

// NewBusinessHoursViolation reports placements lost to working-hours
// limits. An empty email means the session's own clock-window constraint
// excluded the availability rather than a particular interviewer's hours.
func NewBusinessHoursViolation(session SessionTemplate, email string) ConstraintViolation {
	description := fmt.Sprintf("candidate availability for %q falls outside the allowed business hours", session.Name)
	if email != "" {
		description = fmt.Sprintf("candidate availability for %q falls outside %s's working hours", session.Name, email)
	}
	return ConstraintViolation{
		Key:         ConstraintBusinessHoursViolation,
		Severity:    SeverityLimiting,
		Description: description,
		Evidence: Evidence{
			SessionID:        session.ID,
			SessionName:      session.Name,
			InterviewerEmail: email,
		},
	}
}

// NewMaxDaysExceededViolation reports a complete solution discarded for
// spanning more days than the policy allows.
func NewMaxDaysExceededViolation(daysSpan, maxDaysSpan int) ConstraintViolation {
	return ConstraintViolation{
		Key:      ConstraintMaxDaysExceeded,
		Severity: SeverityLimiting,
		Description: fmt.Sprintf("a complete loop spanning %d days was discarded; the policy allows at most %d",
			daysSpan, maxDaysSpan),
		Evidence: Evidence{
			Details: fmt.Sprintf("days span %d, limit %d", daysSpan, maxDaysSpan),
		},
	}
}

// NewConflictingBookingsViolation reports placements lost to existing
// confirmed bookings.
func NewConflictingBookingsViolation(session SessionTemplate, email string, booked sharedDomain.TimeInterval) ConstraintViolation {
	return ConstraintViolation{
		Key:      ConstraintConflictingBookings,
		Severity: SeverityMinor,
		Description: fmt.Sprintf("existing bookings for %s block candidate availability for %q",
			email, session.Name),
		Evidence: Evidence{
			SessionID:        session.ID,
			SessionName:      session.Name,
			InterviewerEmail: email,
			TimeRange:        &booked,
		},
	}
}

// ActionType names a remedy a caller can apply to make a loop solvable.
type ActionType string

const (
	ActionAddInterviewersToPool       ActionType = "ADD_INTERVIEWERS_TO_POOL"
	ActionExpandCandidateAvailability ActionType = "EXPAND_CANDIDATE_AVAILABILITY"
	ActionReduceSessionDuration       ActionType = "REDUCE_SESSION_DURATION"
	ActionAllowMultiDay               ActionType = "ALLOW_MULTI_DAY"
	ActionRemoveBufferConstraints     ActionType = "REMOVE_BUFFER_CONSTRAINTS"
	ActionExtendBusinessHours         ActionType = "EXTEND_BUSINESS_HOURS"
)

// ActionPayload carries the machine-usable part of a recommendation.
type ActionPayload struct {
	SessionID       uuid.UUID `json:"session_id,omitempty"`
	SuggestedValue  string    `json:"suggested_value,omitempty"`
	EstimatedImpact string    `json:"estimated_impact,omitempty"`
}

// RecommendedAction is one remedy derived from the collected violations,
// deduplicated per (action type, session).
type RecommendedAction struct {
	Type        ActionType    `json:"type"`
	Description string        `json:"description"`
	Priority    int           `json:"priority"`
	Payload     ActionPayload `json:"payload"`
}
