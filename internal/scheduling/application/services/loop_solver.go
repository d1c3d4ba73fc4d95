package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	calendarDomain "github.com/looplinehq/loopline/internal/calendar/domain"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// SolveLoopInput carries the pre-fetched inputs for one solve. The solver
// performs no I/O: schedules and bookings are supplied by the caller, the
// policy arrives by value, and identical inputs produce identical results
// apart from wall-clock cap hits.
type SolveLoopInput struct {
	Sessions          []schedulingDomain.SessionTemplate
	CandidateBlocks   []sharedDomain.TimeInterval
	CandidateTimeZone string
	Schedules         []calendarDomain.InterviewerSchedule
	ExistingBookings  []schedulingDomain.ExistingBooking
	Policy            schedulingDomain.SchedulingPolicy
	Now               time.Time
	GraphAPICalls     int
}

// LoopSolver places every session of an interview loop into the
// candidate's availability, one interviewer per session, under ordering,
// gap, working-hours, and day-span constraints. When no placement exists
// it explains why with structured violations instead of failing.
type LoopSolver struct {
	ranker *SolutionRanker
}

// NewLoopSolver creates a new LoopSolver.
func NewLoopSolver() *LoopSolver {
	return &LoopSolver{ranker: NewSolutionRanker()}
}

// Solve runs one bounded synchronous search. The two caps from the policy
// govern it independently: hitting either with no complete solution yields
// TIMEOUT, with at least one yields PARTIAL.
func (s *LoopSolver) Solve(in SolveLoopInput) schedulingDomain.LoopSolveResult {
	started := time.Now()
	policy := in.Policy.Normalized()

	finish := func(status schedulingDomain.SolveStatus, search *loopSearch, solutions []schedulingDomain.LoopSolution) schedulingDomain.LoopSolveResult {
		result := schedulingDomain.LoopSolveResult{
			Status:     status,
			Solutions:  solutions,
			Confidence: schedulingDomain.ConfidenceFor(status),
			Metadata: schedulingDomain.SolveMetadata{
				SolveDurationMs: time.Since(started).Milliseconds(),
				GraphAPICalls:   in.GraphAPICalls,
			},
		}
		if search != nil {
			result.Metadata.SearchIterations = search.iterations
			result.Metadata.SlotsEvaluated = search.slotsEvaluated
			result.Metadata.TimedOut = search.timedOut
			result.Metadata.IterationLimitReached = search.iterationLimit
			if !status.HasSolutions() {
				result.TopConstraints = TopConstraints(search.violations)
			}
			if status == schedulingDomain.SolveStatusUnsatisfiable {
				result.RecommendedActions = BuildUnsatDiagnostics(search.violations)
			}
		}
		return result
	}

	if len(in.Sessions) == 0 {
		return finish(schedulingDomain.SolveStatusUnsatisfiable, nil, nil)
	}
	for _, session := range in.Sessions {
		if err := session.Validate(); err != nil {
			return finish(schedulingDomain.SolveStatusError, nil, nil)
		}
	}

	loc := time.UTC
	if tz := strings.TrimSpace(in.CandidateTimeZone); tz != "" {
		resolved, err := time.LoadLocation(tz)
		if err != nil {
			return finish(schedulingDomain.SolveStatusError, nil, nil)
		}
		loc = resolved
	}

	search := newLoopSearch(in, policy, loc, started)
	if len(search.blocks) == 0 {
		search.addViolation(schedulingDomain.NewNoCandidateAvailabilityViolation())
		return finish(schedulingDomain.SolveStatusUnsatisfiable, search, nil)
	}

	sessions := schedulingDomain.SortSessions(in.Sessions)
	feasibilities := make([]sessionFeasibility, len(sessions))
	solvable := true
	for i, session := range sessions {
		if search.capped() {
			solvable = false
			break
		}
		feasibilities[i] = search.buildFeasibleSlotsForSession(session)
		if len(feasibilities[i].placements) == 0 {
			solvable = false
		}
	}
	if search.capped() && !solvable {
		return finish(schedulingDomain.SolveStatusTimeout, search, nil)
	}
	if !solvable {
		return finish(schedulingDomain.SolveStatusUnsatisfiable, search, nil)
	}

	assembled := search.enumerateSolutions(sessions, feasibilities)

	survivors := make([]schedulingDomain.LoopSolution, 0, len(assembled))
	for _, solution := range assembled {
		if solution.DaysSpan > policy.MaxDaysSpan {
			search.addViolation(schedulingDomain.NewMaxDaysExceededViolation(solution.DaysSpan, policy.MaxDaysSpan))
			continue
		}
		survivors = append(survivors, solution)
	}

	if len(survivors) > 0 {
		status := schedulingDomain.SolveStatusSolved
		if search.capped() {
			status = schedulingDomain.SolveStatusPartial
		}
		ranked := s.ranker.Rank(survivors, policy)
		if len(ranked) > policy.MaxSolutionsToReturn {
			ranked = ranked[:policy.MaxSolutionsToReturn]
		}
		return finish(status, search, ranked)
	}
	if search.capped() {
		return finish(schedulingDomain.SolveStatusTimeout, search, nil)
	}
	return finish(schedulingDomain.SolveStatusUnsatisfiable, search, nil)
}

// placement is one feasible (start, interviewer) choice for a session,
// with the conflicts choosing it routed around.
type placement struct {
	start          time.Time
	end            time.Time
	email          string
	busyAvoided    int
	bookingAvoided int
	reason         string
}

// sessionFeasibility is everything the search knows about one session:
// its feasible placements in start order and the boundary skips observed
// while scanning the candidate blocks.
type sessionFeasibility struct {
	session       schedulingDomain.SessionTemplate
	placements    []placement
	boundarySkips int
}

// loopSearch is the mutable state of one solve invocation.
type loopSearch struct {
	policy    schedulingDomain.SchedulingPolicy
	loc       *time.Location
	blocks    []sharedDomain.TimeInterval
	schedules map[string]calendarDomain.InterviewerSchedule
	locations map[string]*time.Location
	bookings  []schedulingDomain.ExistingBooking
	deadline  time.Time

	iterations     int
	slotsEvaluated int
	timedOut       bool
	iterationLimit bool
	violations     []schedulingDomain.ConstraintViolation
}

func newLoopSearch(in SolveLoopInput, policy schedulingDomain.SchedulingPolicy, loc *time.Location, started time.Time) *loopSearch {
	blocks := make([]sharedDomain.TimeInterval, 0, len(in.CandidateBlocks))
	for _, block := range in.CandidateBlocks {
		if !block.IsValid() || !block.End.After(in.Now) {
			continue
		}
		if block.Start.Before(in.Now) {
			block.Start = in.Now
		}
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start.Before(blocks[j].Start) })

	schedules := make(map[string]calendarDomain.InterviewerSchedule, len(in.Schedules))
	locations := make(map[string]*time.Location, len(in.Schedules))
	for _, schedule := range in.Schedules {
		email := strings.ToLower(strings.TrimSpace(schedule.Email))
		schedules[email] = schedule
		if scheduleLoc, err := schedule.WorkingHours.Location(); err == nil {
			locations[email] = scheduleLoc
		} else {
			locations[email] = time.UTC
		}
	}

	return &loopSearch{
		policy:    policy,
		loc:       loc,
		blocks:    blocks,
		schedules: schedules,
		locations: locations,
		bookings:  in.ExistingBookings,
		deadline:  started.Add(policy.SolverTimeout),
	}
}

func (s *loopSearch) addViolation(v schedulingDomain.ConstraintViolation) {
	s.violations = append(s.violations, v)
}

// tick spends one unit of search budget and reports whether either cap
// has been hit.
func (s *loopSearch) tick() bool {
	s.iterations++
	if s.iterations >= s.policy.MaxSearchIterations {
		s.iterationLimit = true
	}
	s.checkDeadline()
	return s.capped()
}

// checkDeadline flags the wall-clock cap without spending iteration
// budget.
func (s *loopSearch) checkDeadline() {
	if !s.timedOut && time.Now().After(s.deadline) {
		s.timedOut = true
	}
}

func (s *loopSearch) capped() bool {
	return s.timedOut || s.iterationLimit
}

// availabilityWindow spans from the first block start to the last block
// end, for violation evidence.
func (s *loopSearch) availabilityWindow() sharedDomain.TimeInterval {
	if len(s.blocks) == 0 {
		return sharedDomain.TimeInterval{}
	}
	window := sharedDomain.TimeInterval{Start: s.blocks[0].Start, End: s.blocks[0].End}
	for _, block := range s.blocks[1:] {
		if block.End.After(window.End) {
			window.End = block.End
		}
	}
	return window
}

// scheduleFor returns the interviewer's schedule, synthesizing default
// working hours with no busy intervals when none was fetched.
func (s *loopSearch) scheduleFor(email string) (calendarDomain.InterviewerSchedule, *time.Location) {
	if schedule, ok := s.schedules[email]; ok {
		return schedule, s.locations[email]
	}
	return calendarDomain.InterviewerSchedule{
		Email:        email,
		WorkingHours: calendarDomain.DefaultWorkingHours(),
	}, time.UTC
}

// buildFeasibleSlotsForSession scans every candidate block on the policy
// grid and records each cursor where at least one pool member can take
// the session. Pool members are tried in pool order; the first free one
// is chosen and the conflicts of those skipped are counted as avoided.
func (s *loopSearch) buildFeasibleSlotsForSession(session schedulingDomain.SessionTemplate) sessionFeasibility {
	feasibility := sessionFeasibility{session: session}
	duration := session.Duration()

	pool := session.Pool.NormalizedEmails()
	if len(pool) == 0 {
		s.addViolation(schedulingDomain.NewPoolEmptyViolation(session))
		return feasibility
	}

	longest := time.Duration(0)
	for _, block := range s.blocks {
		if block.Duration() > longest {
			longest = block.Duration()
		}
	}
	if longest < duration {
		s.addViolation(schedulingDomain.NewSessionTooLongViolation(session, longest))
		return feasibility
	}

	grid := s.policy.Granularity()
	pad := func(interval sharedDomain.TimeInterval) sharedDomain.TimeInterval {
		return sharedDomain.TimeInterval{
			Start: interval.Start.Add(-session.Constraints.BufferBefore()),
			End:   interval.End.Add(session.Constraints.BufferAfter()),
		}
	}

	var busyFailures, bookingFailures, hoursFailures, clockFailures int
	var blockedBy sharedDomain.TimeInterval
	var blockedEmail string
	var hoursEmail string

	for _, block := range s.blocks {
		for cursor := snapUpToGrid(block.Start, grid); cursor.Before(block.End); cursor = cursor.Add(grid) {
			s.checkDeadline()
			if s.capped() {
				return feasibility
			}

			slotEnd := cursor.Add(duration)
			if slotEnd.After(block.End) {
				feasibility.boundarySkips++
				continue
			}
			s.slotsEvaluated++

			if !session.Constraints.AllowsClockWindow(cursor, slotEnd, s.loc) {
				clockFailures++
				continue
			}

			interval := sharedDomain.TimeInterval{Start: cursor, End: slotEnd}
			padded := pad(interval)

			var chosen *placement
			cursorBusy, cursorBooked := 0, 0
			for _, email := range pool {
				schedule, scheduleLoc := s.scheduleFor(email)

				if s.policy.EnforceBusinessHours && !schedule.WorkingHours.Covers(interval, scheduleLoc) {
					hoursFailures++
					hoursEmail = email
					continue
				}
				if schedule.IsBusyDuring(padded) {
					busyFailures++
					cursorBusy++
					continue
				}
				if booked, hit := s.bookingConflict(padded, email); hit {
					bookingFailures++
					cursorBooked++
					blockedBy = booked
					blockedEmail = email
					continue
				}

				chosen = &placement{
					start:          cursor,
					end:            slotEnd,
					email:          email,
					busyAvoided:    cursorBusy,
					bookingAvoided: cursorBooked,
					reason:         placementReason(email, cursorBusy+cursorBooked),
				}
				break
			}
			if chosen != nil {
				feasibility.placements = append(feasibility.placements, *chosen)
			}
		}
	}

	sort.SliceStable(feasibility.placements, func(i, j int) bool {
		return feasibility.placements[i].start.Before(feasibility.placements[j].start)
	})

	if len(feasibility.placements) == 0 {
		switch {
		case busyFailures > 0 || bookingFailures > 0:
			s.addViolation(schedulingDomain.NewPoolAllBusyViolation(session, s.availabilityWindow()))
			if bookingFailures > 0 {
				s.addViolation(schedulingDomain.NewConflictingBookingsViolation(session, blockedEmail, blockedBy))
			}
		case hoursFailures > 0:
			s.addViolation(schedulingDomain.NewBusinessHoursViolation(session, hoursEmail))
		case clockFailures > 0:
			s.addViolation(schedulingDomain.NewBusinessHoursViolation(session, ""))
		default:
			s.addViolation(schedulingDomain.NewSessionTooLongViolation(session, longest))
		}
	}
	return feasibility
}

func (s *loopSearch) bookingConflict(interval sharedDomain.TimeInterval, email string) (sharedDomain.TimeInterval, bool) {
	for _, booking := range s.bookings {
		if booking.BlocksInterval(interval, email) {
			return booking.Interval(), true
		}
	}
	return sharedDomain.TimeInterval{}, false
}

// enumerateSolutions assembles full-loop chains from several independent
// starting points, one per candidate block, deduplicating identical
// placements found from different starts. Sessions keep their fixed order;
// when reordering is allowed a longest-first variant is also tried.
func (s *loopSearch) enumerateSolutions(
	sessions []schedulingDomain.SessionTemplate,
	feasibilities []sessionFeasibility,
) []schedulingDomain.LoopSolution {
	orderings := [][]int{identityOrder(len(sessions))}
	if s.policy.ReorderSessionsAllowed {
		orderings = append(orderings, longestFirstOrder(sessions))
	}

	boundarySkips := 0
	for _, feasibility := range feasibilities {
		boundarySkips += feasibility.boundarySkips
	}

	seen := make(map[string]struct{})
	var solutions []schedulingDomain.LoopSolution
	for _, ordering := range orderings {
		for _, block := range s.blocks {
			if s.capped() {
				return solutions
			}
			chain, ok := s.assembleChain(ordering, feasibilities, block.Start)
			if !ok {
				continue
			}

			stats := schedulingDomain.ConflictStats{CandidateBlockBoundaryAvoided: boundarySkips}
			placed := make([]schedulingDomain.ScheduledSession, len(chain))
			for i, choice := range chain {
				session := feasibilities[ordering[i]].session
				placed[i] = schedulingDomain.ScheduledSession{
					SessionID:        session.ID,
					SessionName:      session.Name,
					Start:            choice.start,
					End:              choice.end,
					InterviewerEmail: choice.email,
					Reason:           choice.reason,
				}
				stats.InterviewerBusyAvoided += choice.busyAvoided
				stats.ExistingBookingsAvoided += choice.bookingAvoided
			}

			solution := schedulingDomain.NewLoopSolution(placed, stats, s.loc)
			if _, dup := seen[solution.SolutionID]; dup {
				continue
			}
			seen[solution.SolutionID] = struct{}{}
			solutions = append(solutions, solution)
		}
	}
	return solutions
}

// assembleChain places the sessions greedily from one starting point:
// each session takes its earliest feasible placement that honors the
// predecessor's end plus its minimum gap. A session that cannot be placed
// records an insufficient-gap violation and fails the chain.
func (s *loopSearch) assembleChain(
	ordering []int,
	feasibilities []sessionFeasibility,
	startingPoint time.Time,
) ([]placement, bool) {
	chain := make([]placement, 0, len(ordering))
	earliest := startingPoint

	for position, idx := range ordering {
		feasibility := feasibilities[idx]

		var chosen *placement
		for i := range feasibility.placements {
			if s.tick() {
				return nil, false
			}
			if !feasibility.placements[i].start.Before(earliest) {
				chosen = &feasibility.placements[i]
				break
			}
		}
		if chosen == nil {
			if position > 0 {
				s.addViolation(schedulingDomain.NewInsufficientGapViolation(feasibility.session, earliest))
			}
			return nil, false
		}

		chain = append(chain, *chosen)
		earliest = chosen.end.Add(feasibility.session.Constraints.MinGapToNext())
	}
	return chain, true
}

func placementReason(email string, conflictsAvoided int) string {
	if conflictsAvoided > 0 {
		return fmt.Sprintf("earliest feasible start; chose %s after skipping %d busier pool member(s)", email, conflictsAvoided)
	}
	return fmt.Sprintf("earliest feasible start with %s free", email)
}

func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// longestFirstOrder packs long sessions first, a deterministic alternative
// tried only when the caller allows reordering.
func longestFirstOrder(sessions []schedulingDomain.SessionTemplate) []int {
	order := identityOrder(len(sessions))
	sort.SliceStable(order, func(i, j int) bool {
		return sessions[order[i]].DurationMinutes > sessions[order[j]].DurationMinutes
	})
	return order
}
