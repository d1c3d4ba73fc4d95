package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// ScheduledSession is one placed session inside a loop solution: which
// stage, when, and which interviewer takes it. Reason records why the
// placement was chosen, for audit output.
type ScheduledSession struct {
	SessionID        uuid.UUID `json:"session_id"`
	SessionName      string    `json:"session_name"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	InterviewerEmail string    `json:"interviewer_email"`
	Reason           string    `json:"reason"`
}

// Interval returns the placement bounds as a half-open interval.
func (s ScheduledSession) Interval() sharedDomain.TimeInterval {
	return sharedDomain.TimeInterval{Start: s.Start, End: s.End}
}

// ConflictStats counts the conflicts a solution routed around while being
// assembled. Purely observability: two solutions with identical sessions
// but different stats are still the same placement.
type ConflictStats struct {
	InterviewerBusyAvoided        int `json:"interviewer_busy_avoided"`
	ExistingBookingsAvoided       int `json:"existing_bookings_avoided"`
	CandidateBlockBoundaryAvoided int `json:"candidate_block_boundary_avoided"`
}

// LoopSolution is one complete placement of every session in the loop.
// Solutions are immutable once assembled; the ranker writes scores into
// copies, never into the originals.
type LoopSolution struct {
	SolutionID           string             `json:"solution_id"`
	Score                float64            `json:"score"`
	DaysSpan             int                `json:"days_span"`
	IsSingleDay          bool               `json:"is_single_day"`
	Sessions             []ScheduledSession `json:"sessions"`
	TotalDurationMinutes int                `json:"total_duration_minutes"`
	LoopStart            time.Time          `json:"loop_start"`
	LoopEnd              time.Time          `json:"loop_end"`
	ConflictsChecked     ConflictStats      `json:"conflicts_checked"`
}

// NewLoopSolution derives the aggregate fields from the placed sessions.
// DaysSpan counts inclusive calendar days between the first start and the
// last end, evaluated in the given location (the candidate's time zone).
// The solution id is a hash of the placements, so identical placements
// found from different starting points collapse to one identity.
func NewLoopSolution(sessions []ScheduledSession, stats ConflictStats, loc *time.Location) LoopSolution {
	if loc == nil {
		loc = time.UTC
	}

	solution := LoopSolution{
		Sessions:         sessions,
		ConflictsChecked: stats,
	}
	if len(sessions) == 0 {
		return solution
	}

	solution.LoopStart = sessions[0].Start
	solution.LoopEnd = sessions[0].End
	total := 0
	for _, s := range sessions {
		if s.Start.Before(solution.LoopStart) {
			solution.LoopStart = s.Start
		}
		if s.End.After(solution.LoopEnd) {
			solution.LoopEnd = s.End
		}
		total += int(s.End.Sub(s.Start) / time.Minute)
	}
	solution.TotalDurationMinutes = total

	firstDay := dateOf(solution.LoopStart, loc)
	lastDay := dateOf(solution.LoopEnd.Add(-time.Nanosecond), loc)
	solution.DaysSpan = int(lastDay.Sub(firstDay)/(24*time.Hour)) + 1
	solution.IsSingleDay = solution.DaysSpan == 1
	solution.SolutionID = solutionID(sessions)
	return solution
}

// solutionID hashes the placements into a 16-hex identifier, stable for
// identical placements regardless of how the search found them.
func solutionID(sessions []ScheduledSession) string {
	var b strings.Builder
	for _, s := range sessions {
		b.WriteString(s.SessionID.String())
		b.WriteString("|")
		b.WriteString(s.Start.UTC().Format(time.RFC3339))
		b.WriteString("|")
		b.WriteString(s.End.UTC().Format(time.RFC3339))
		b.WriteString("|")
		b.WriteString(strings.ToLower(s.InterviewerEmail))
		b.WriteString("\n")
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// dateOf returns midnight of t's calendar day in loc, expressed in UTC
// for stable day arithmetic.
func dateOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
