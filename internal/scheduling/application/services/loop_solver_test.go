package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	calendarDomain "github.com/looplinehq/loopline/internal/calendar/domain"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday. The default working hours cover 09:00-17:00 UTC on weekdays.
var solveDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
}

func loopSession(order int, name string, minutes int, emails ...string) schedulingDomain.SessionTemplate {
	return schedulingDomain.SessionTemplate{
		ID:              uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
		Order:           order,
		Name:            name,
		DurationMinutes: minutes,
		Pool:            schedulingDomain.InterviewerPool{Emails: emails},
	}
}

func freeSchedule(email string) calendarDomain.InterviewerSchedule {
	return calendarDomain.InterviewerSchedule{
		Email:        email,
		WorkingHours: calendarDomain.DefaultWorkingHours(),
	}
}

func busySchedule(email string, busy ...sharedDomain.TimeInterval) calendarDomain.InterviewerSchedule {
	schedule := freeSchedule(email)
	for _, interval := range busy {
		schedule.Busy = append(schedule.Busy, calendarDomain.BusyInterval{
			Start:  interval.Start,
			End:    interval.End,
			Status: calendarDomain.BusyStatusBusy,
		})
	}
	return schedule
}

func violationKeys(violations []schedulingDomain.ConstraintViolation) []schedulingDomain.ConstraintKey {
	keys := make([]schedulingDomain.ConstraintKey, 0, len(violations))
	for _, v := range violations {
		keys = append(keys, v.Key)
	}
	return keys
}

func actionTypes(actions []schedulingDomain.RecommendedAction) []schedulingDomain.ActionType {
	types := make([]schedulingDomain.ActionType, 0, len(actions))
	for _, a := range actions {
		types = append(types, a.Type)
	}
	return types
}

func TestLoopSolver_EmptySessionList(t *testing.T) {
	result := NewLoopSolver().Solve(SolveLoopInput{
		CandidateBlocks: []sharedDomain.TimeInterval{
			{Start: at(solveDay, 10, 0), End: at(solveDay, 16, 0)},
		},
		Policy: schedulingDomain.DefaultPolicy(),
		Now:    at(solveDay, 8, 0),
	})

	assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Status)
	assert.Empty(t, result.Solutions)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestLoopSolver_NoCandidateAvailability(t *testing.T) {
	t.Run("no blocks at all", func(t *testing.T) {
		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions:  []schedulingDomain.SessionTemplate{loopSession(1, "Screen", 45, "alice@example.com")},
			Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			Policy:    schedulingDomain.DefaultPolicy(),
			Now:       at(solveDay, 8, 0),
		})

		assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Status)
		assert.Empty(t, result.Solutions)
		assert.Contains(t, violationKeys(result.TopConstraints), schedulingDomain.ConstraintNoCandidateAvailability)
		assert.Contains(t, actionTypes(result.RecommendedActions), schedulingDomain.ActionExpandCandidateAvailability)
	})

	t.Run("blocks entirely in the past are unusable", func(t *testing.T) {
		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{loopSession(1, "Screen", 45, "alice@example.com")},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 9, 0), End: at(solveDay, 10, 0)},
			},
			Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			Policy:    schedulingDomain.DefaultPolicy(),
			Now:       at(solveDay, 12, 0),
		})

		assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Status)
		assert.Contains(t, violationKeys(result.TopConstraints), schedulingDomain.ConstraintNoCandidateAvailability)
	})
}

func TestLoopSolver_SingleSessionSolved(t *testing.T) {
	result := NewLoopSolver().Solve(SolveLoopInput{
		Sessions: []schedulingDomain.SessionTemplate{loopSession(1, "Technical Screen", 45, "alice@example.com")},
		CandidateBlocks: []sharedDomain.TimeInterval{
			{Start: at(solveDay, 10, 0), End: at(solveDay, 16, 0)},
		},
		Schedules:     []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
		Policy:        schedulingDomain.DefaultPolicy(),
		Now:           at(solveDay, 8, 0),
		GraphAPICalls: 2,
	})

	require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
	assert.Equal(t, 1.0, result.Confidence)
	require.NotEmpty(t, result.Solutions)

	best := result.Solutions[0]
	require.Len(t, best.Sessions, 1)
	placed := best.Sessions[0]
	assert.True(t, placed.Start.Equal(at(solveDay, 10, 0)))
	assert.True(t, placed.End.Equal(at(solveDay, 10, 45)))
	assert.Equal(t, "alice@example.com", placed.InterviewerEmail)
	assert.Equal(t, "Technical Screen", placed.SessionName)
	assert.True(t, best.IsSingleDay)
	assert.Equal(t, 1, best.DaysSpan)
	assert.Equal(t, 45, best.TotalDurationMinutes)
	assert.NotEmpty(t, best.SolutionID)

	assert.Equal(t, 2, result.Metadata.GraphAPICalls)
	assert.Greater(t, result.Metadata.SlotsEvaluated, 0)
	assert.Greater(t, result.Metadata.SearchIterations, 0)
	assert.False(t, result.Metadata.TimedOut)
	assert.False(t, result.Metadata.IterationLimitReached)
}

func TestLoopSolver_OrderedSessionsRespectOrderAndGap(t *testing.T) {
	manager := loopSession(1, "Hiring Manager", 30, "alice@example.com")
	manager.Constraints.MinGapToNextMinutes = 15
	technical := loopSession(2, "Technical Deep Dive", 60, "bob@example.com")
	values := loopSession(3, "Values", 30, "carol@example.com")

	result := NewLoopSolver().Solve(SolveLoopInput{
		// Supplied out of order; the solver sorts by Order.
		Sessions: []schedulingDomain.SessionTemplate{values, manager, technical},
		CandidateBlocks: []sharedDomain.TimeInterval{
			{Start: at(solveDay, 10, 0), End: at(solveDay, 16, 0)},
		},
		Schedules: []calendarDomain.InterviewerSchedule{
			freeSchedule("alice@example.com"),
			freeSchedule("bob@example.com"),
			freeSchedule("carol@example.com"),
		},
		Policy: schedulingDomain.DefaultPolicy(),
		Now:    at(solveDay, 8, 0),
	})

	require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
	require.NotEmpty(t, result.Solutions)

	for _, solution := range result.Solutions {
		require.Len(t, solution.Sessions, 3)
		assert.Equal(t, "Hiring Manager", solution.Sessions[0].SessionName)
		assert.Equal(t, "Technical Deep Dive", solution.Sessions[1].SessionName)
		assert.Equal(t, "Values", solution.Sessions[2].SessionName)
		for i := 0; i < len(solution.Sessions)-1; i++ {
			assert.False(t, solution.Sessions[i+1].Start.Before(solution.Sessions[i].End),
				"session %d must not start before session %d ends", i+1, i)
		}
	}

	best := result.Solutions[0]
	assert.True(t, best.Sessions[0].Start.Equal(at(solveDay, 10, 0)))
	// 30 minutes of interview plus the 15-minute gap.
	assert.True(t, best.Sessions[1].Start.Equal(at(solveDay, 10, 45)))
}

func TestLoopSolver_PoolSelection(t *testing.T) {
	t.Run("prefers earlier pool members when free", func(t *testing.T) {
		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{
				loopSession(1, "Screen", 60, "alice@example.com", "bob@example.com"),
			},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 12, 0)},
			},
			Schedules: []calendarDomain.InterviewerSchedule{
				freeSchedule("alice@example.com"),
				freeSchedule("bob@example.com"),
			},
			Policy: schedulingDomain.DefaultPolicy(),
			Now:    at(solveDay, 8, 0),
		})

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.NotEmpty(t, result.Solutions)
		assert.Equal(t, "alice@example.com", result.Solutions[0].Sessions[0].InterviewerEmail)
	})

	t.Run("skips busy pool members and counts the avoided conflict", func(t *testing.T) {
		busyWindow := sharedDomain.TimeInterval{Start: at(solveDay, 10, 0), End: at(solveDay, 12, 0)}

		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{
				loopSession(1, "Screen", 60, "alice@example.com", "bob@example.com"),
			},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 13, 0)},
			},
			Schedules: []calendarDomain.InterviewerSchedule{
				busySchedule("alice@example.com", busyWindow),
				freeSchedule("bob@example.com"),
			},
			Policy: schedulingDomain.DefaultPolicy(),
			Now:    at(solveDay, 8, 0),
		})

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.NotEmpty(t, result.Solutions)

		best := result.Solutions[0]
		placed := best.Sessions[0]
		assert.True(t, placed.Start.Equal(at(solveDay, 10, 0)))
		assert.Equal(t, "bob@example.com", placed.InterviewerEmail)
		assert.Equal(t, 1, best.ConflictsChecked.InterviewerBusyAvoided)
	})
}

func TestLoopSolver_AllPoolMembersBusy(t *testing.T) {
	allDay := sharedDomain.TimeInterval{Start: at(solveDay, 9, 0), End: at(solveDay, 17, 0)}

	result := NewLoopSolver().Solve(SolveLoopInput{
		Sessions: []schedulingDomain.SessionTemplate{
			loopSession(1, "Screen", 60, "alice@example.com", "bob@example.com"),
		},
		CandidateBlocks: []sharedDomain.TimeInterval{
			{Start: at(solveDay, 10, 0), End: at(solveDay, 14, 0)},
		},
		Schedules: []calendarDomain.InterviewerSchedule{
			busySchedule("alice@example.com", allDay),
			busySchedule("bob@example.com", allDay),
		},
		Policy: schedulingDomain.DefaultPolicy(),
		Now:    at(solveDay, 8, 0),
	})

	assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Status)
	assert.Empty(t, result.Solutions)
	require.NotEmpty(t, result.TopConstraints)
	assert.Equal(t, schedulingDomain.ConstraintInterviewerPoolAllBusy, result.TopConstraints[0].Key)
	// There is no mechanical remedy for a fully busy pool.
	assert.Empty(t, result.RecommendedActions)
}

func TestLoopSolver_SessionLongerThanEveryBlock(t *testing.T) {
	result := NewLoopSolver().Solve(SolveLoopInput{
		Sessions: []schedulingDomain.SessionTemplate{
			loopSession(1, "System Design", 120, "alice@example.com"),
		},
		CandidateBlocks: []sharedDomain.TimeInterval{
			{Start: at(solveDay, 10, 0), End: at(solveDay, 11, 0)},
		},
		Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
		Policy:    schedulingDomain.DefaultPolicy(),
		Now:       at(solveDay, 8, 0),
	})

	assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Status)
	assert.Contains(t, violationKeys(result.TopConstraints), schedulingDomain.ConstraintSessionTooLongForBlocks)

	require.NotEmpty(t, result.RecommendedActions)
	action := result.RecommendedActions[0]
	assert.Equal(t, schedulingDomain.ActionReduceSessionDuration, action.Type)
	assert.Equal(t, "longest block 60 min", action.Payload.SuggestedValue)
}

func TestLoopSolver_PoolEmpty(t *testing.T) {
	session := loopSession(1, "Screen", 45)

	result := NewLoopSolver().Solve(SolveLoopInput{
		Sessions: []schedulingDomain.SessionTemplate{session},
		CandidateBlocks: []sharedDomain.TimeInterval{
			{Start: at(solveDay, 10, 0), End: at(solveDay, 16, 0)},
		},
		Policy: schedulingDomain.DefaultPolicy(),
		Now:    at(solveDay, 8, 0),
	})

	assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Status)
	require.NotEmpty(t, result.TopConstraints)
	assert.Equal(t, schedulingDomain.ConstraintInterviewerPoolEmpty, result.TopConstraints[0].Key)

	require.NotEmpty(t, result.RecommendedActions)
	assert.Equal(t, schedulingDomain.ActionAddInterviewersToPool, result.RecommendedActions[0].Type)
	assert.Equal(t, session.ID, result.RecommendedActions[0].Payload.SessionID)
}

func TestLoopSolver_MaxDaysSpan(t *testing.T) {
	fourDayBlocks := []sharedDomain.TimeInterval{
		{Start: at(solveDay, 10, 0), End: at(solveDay, 12, 0)},
		{Start: at(solveDay.AddDate(0, 0, 1), 10, 0), End: at(solveDay.AddDate(0, 0, 1), 12, 0)},
		{Start: at(solveDay.AddDate(0, 0, 2), 10, 0), End: at(solveDay.AddDate(0, 0, 2), 12, 0)},
		{Start: at(solveDay.AddDate(0, 0, 3), 10, 0), End: at(solveDay.AddDate(0, 0, 3), 12, 0)},
	}
	schedules := []calendarDomain.InterviewerSchedule{
		freeSchedule("alice@example.com"),
		freeSchedule("bob@example.com"),
	}
	policy := schedulingDomain.DefaultPolicy()
	policy.MaxDaysSpan = 2

	t.Run("every returned solution fits the span limit", func(t *testing.T) {
		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{
				loopSession(1, "Screen", 60, "alice@example.com"),
				loopSession(2, "Technical", 60, "bob@example.com"),
			},
			CandidateBlocks: fourDayBlocks,
			Schedules:       schedules,
			Policy:          policy,
			Now:             at(solveDay, 8, 0),
		})

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.NotEmpty(t, result.Solutions)
		for _, solution := range result.Solutions {
			assert.LessOrEqual(t, solution.DaysSpan, 2)
		}
		// Earliest compact loop ranks first.
		assert.True(t, result.Solutions[0].LoopStart.Equal(at(solveDay, 10, 0)))
	})

	t.Run("chains forced past the limit are discarded", func(t *testing.T) {
		screen := loopSession(1, "Screen", 60, "alice@example.com")
		// The gap pushes the second session two calendar days out.
		screen.Constraints.MinGapToNextMinutes = 36 * 60
		technical := loopSession(2, "Technical", 60, "bob@example.com")

		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions:        []schedulingDomain.SessionTemplate{screen, technical},
			CandidateBlocks: fourDayBlocks,
			Schedules:       schedules,
			Policy:          policy,
			Now:             at(solveDay, 8, 0),
		})

		assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Status)
		assert.Empty(t, result.Solutions)
		assert.Contains(t, violationKeys(result.TopConstraints), schedulingDomain.ConstraintMaxDaysExceeded)
		assert.Contains(t, actionTypes(result.RecommendedActions), schedulingDomain.ActionAllowMultiDay)
	})
}

func TestLoopSolver_SessionClockConstraints(t *testing.T) {
	t.Run("earliest start pushes the session later", func(t *testing.T) {
		session := loopSession(1, "Panel", 60, "alice@example.com")
		session.Constraints.EarliestStartLocal = "13:00"

		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{session},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 16, 0)},
			},
			Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			Policy:    schedulingDomain.DefaultPolicy(),
			Now:       at(solveDay, 8, 0),
		})

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.NotEmpty(t, result.Solutions)
		assert.True(t, result.Solutions[0].Sessions[0].Start.Equal(at(solveDay, 13, 0)))
	})

	t.Run("latest end keeps the session early", func(t *testing.T) {
		session := loopSession(1, "Panel", 60, "alice@example.com")
		session.Constraints.LatestEndLocal = "12:00"

		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{session},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 16, 0)},
			},
			Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			Policy:    schedulingDomain.DefaultPolicy(),
			Now:       at(solveDay, 8, 0),
		})

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.NotEmpty(t, result.Solutions)
		assert.False(t, result.Solutions[0].Sessions[0].End.After(at(solveDay, 12, 0)))
	})

	t.Run("clock constraints are evaluated in the candidate's zone", func(t *testing.T) {
		session := loopSession(1, "Panel", 60, "alice@example.com")
		session.Constraints.EarliestStartLocal = "13:00"

		// 10:00-16:00 UTC is 05:00-11:00 in New York that week, entirely
		// before the candidate's 13:00 floor.
		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{session},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 16, 0)},
			},
			CandidateTimeZone: "America/New_York",
			Schedules:         []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			Policy:            schedulingDomain.DefaultPolicy(),
			Now:               at(solveDay, 8, 0),
		})

		assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Status)
		require.NotEmpty(t, result.TopConstraints)
		violation := result.TopConstraints[0]
		assert.Equal(t, schedulingDomain.ConstraintBusinessHoursViolation, violation.Key)
		assert.Empty(t, violation.Evidence.InterviewerEmail)
		assert.Contains(t, actionTypes(result.RecommendedActions), schedulingDomain.ActionExtendBusinessHours)
	})
}

func TestLoopSolver_BusinessHours(t *testing.T) {
	saturday := solveDay.AddDate(0, 0, 5)

	input := func(policy schedulingDomain.SchedulingPolicy) SolveLoopInput {
		return SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{loopSession(1, "Screen", 60, "alice@example.com")},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(saturday, 10, 0), End: at(saturday, 14, 0)},
			},
			Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			Policy:    policy,
			Now:       at(solveDay, 8, 0),
		}
	}

	t.Run("weekend availability fails against weekday hours", func(t *testing.T) {
		result := NewLoopSolver().Solve(input(schedulingDomain.DefaultPolicy()))

		assert.Equal(t, schedulingDomain.SolveStatusUnsatisfiable, result.Status)
		require.NotEmpty(t, result.TopConstraints)
		violation := result.TopConstraints[0]
		assert.Equal(t, schedulingDomain.ConstraintBusinessHoursViolation, violation.Key)
		assert.Equal(t, "alice@example.com", violation.Evidence.InterviewerEmail)
	})

	t.Run("disabling enforcement makes the weekend bookable", func(t *testing.T) {
		policy := schedulingDomain.DefaultPolicy()
		policy.EnforceBusinessHours = false

		result := NewLoopSolver().Solve(input(policy))

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.NotEmpty(t, result.Solutions)
		assert.True(t, result.Solutions[0].Sessions[0].Start.Equal(at(saturday, 10, 0)))
	})
}

func TestLoopSolver_BuffersPadConflictChecks(t *testing.T) {
	session := loopSession(1, "Screen", 60, "alice@example.com")
	session.Constraints.BufferBeforeMinutes = 15
	session.Constraints.BufferAfterMinutes = 15

	result := NewLoopSolver().Solve(SolveLoopInput{
		Sessions: []schedulingDomain.SessionTemplate{session},
		CandidateBlocks: []sharedDomain.TimeInterval{
			{Start: at(solveDay, 10, 0), End: at(solveDay, 14, 0)},
		},
		Schedules: []calendarDomain.InterviewerSchedule{
			busySchedule("alice@example.com", sharedDomain.TimeInterval{
				Start: at(solveDay, 11, 0), End: at(solveDay, 12, 0),
			}),
		},
		Policy: schedulingDomain.DefaultPolicy(),
		Now:    at(solveDay, 8, 0),
	})

	require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
	require.NotEmpty(t, result.Solutions)
	// 12:00 would touch the meeting once the leading buffer is applied;
	// 12:15 is the first start whose padded span clears it.
	assert.True(t, result.Solutions[0].Sessions[0].Start.Equal(at(solveDay, 12, 15)))
}

func TestLoopSolver_ExistingBookings(t *testing.T) {
	session := loopSession(1, "Screen", 60, "alice@example.com")
	blocks := []sharedDomain.TimeInterval{
		{Start: at(solveDay, 10, 0), End: at(solveDay, 13, 0)},
	}
	booking := schedulingDomain.ExistingBooking{
		ID:                uuid.New(),
		Start:             at(solveDay, 10, 0),
		End:               at(solveDay, 11, 0),
		InterviewerEmails: []string{"alice@example.com"},
	}

	t.Run("an active booking pushes the session past it", func(t *testing.T) {
		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions:         []schedulingDomain.SessionTemplate{session},
			CandidateBlocks:  blocks,
			Schedules:        []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			ExistingBookings: []schedulingDomain.ExistingBooking{booking},
			Policy:           schedulingDomain.DefaultPolicy(),
			Now:              at(solveDay, 8, 0),
		})

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.NotEmpty(t, result.Solutions)
		assert.True(t, result.Solutions[0].Sessions[0].Start.Equal(at(solveDay, 11, 0)))
	})

	t.Run("a cancelled booking does not block", func(t *testing.T) {
		cancelled := booking
		cancelled.Cancelled = true

		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions:         []schedulingDomain.SessionTemplate{session},
			CandidateBlocks:  blocks,
			Schedules:        []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			ExistingBookings: []schedulingDomain.ExistingBooking{cancelled},
			Policy:           schedulingDomain.DefaultPolicy(),
			Now:              at(solveDay, 8, 0),
		})

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.NotEmpty(t, result.Solutions)
		assert.True(t, result.Solutions[0].Sessions[0].Start.Equal(at(solveDay, 10, 0)))
	})
}

func TestLoopSolver_NeverOffersPastStarts(t *testing.T) {
	result := NewLoopSolver().Solve(SolveLoopInput{
		Sessions: []schedulingDomain.SessionTemplate{loopSession(1, "Screen", 60, "alice@example.com")},
		CandidateBlocks: []sharedDomain.TimeInterval{
			{Start: at(solveDay, 9, 0), End: at(solveDay, 12, 0)},
		},
		Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
		Policy:    schedulingDomain.DefaultPolicy(),
		Now:       at(solveDay, 10, 37),
	})

	require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
	require.NotEmpty(t, result.Solutions)
	// The block start is clamped to now and snapped up to the grid.
	assert.True(t, result.Solutions[0].Sessions[0].Start.Equal(at(solveDay, 10, 45)))
}

func TestLoopSolver_ReorderSessions(t *testing.T) {
	short := loopSession(1, "Quick Chat", 30, "alice@example.com")
	long := loopSession(2, "Deep Dive", 90, "bob@example.com")

	input := func(policy schedulingDomain.SchedulingPolicy) SolveLoopInput {
		return SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{short, long},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 13, 0)},
			},
			Schedules: []calendarDomain.InterviewerSchedule{
				freeSchedule("alice@example.com"),
				freeSchedule("bob@example.com"),
			},
			Policy: policy,
			Now:    at(solveDay, 8, 0),
		}
	}

	t.Run("fixed order yields only the declared sequence", func(t *testing.T) {
		result := NewLoopSolver().Solve(input(schedulingDomain.DefaultPolicy()))

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.Len(t, result.Solutions, 1)
		assert.Equal(t, "Quick Chat", result.Solutions[0].Sessions[0].SessionName)
	})

	t.Run("reordering adds a longest-first alternative", func(t *testing.T) {
		policy := schedulingDomain.DefaultPolicy()
		policy.ReorderSessionsAllowed = true

		result := NewLoopSolver().Solve(input(policy))

		require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
		require.Len(t, result.Solutions, 2)

		firstNames := make([]string, 0, 2)
		for _, solution := range result.Solutions {
			firstNames = append(firstNames, solution.Sessions[0].SessionName)
		}
		assert.Contains(t, firstNames, "Deep Dive")
	})
}

func TestLoopSolver_DeduplicatesIdenticalChains(t *testing.T) {
	// Overlapping blocks produce the same chain from two starting points.
	result := NewLoopSolver().Solve(SolveLoopInput{
		Sessions: []schedulingDomain.SessionTemplate{loopSession(1, "Screen", 60, "alice@example.com")},
		CandidateBlocks: []sharedDomain.TimeInterval{
			{Start: at(solveDay, 10, 0), End: at(solveDay, 12, 0)},
			{Start: at(solveDay, 10, 0), End: at(solveDay, 11, 30)},
		},
		Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
		Policy:    schedulingDomain.DefaultPolicy(),
		Now:       at(solveDay, 8, 0),
	})

	require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
	assert.Len(t, result.Solutions, 1)
}

func TestLoopSolver_InvalidInputs(t *testing.T) {
	t.Run("a malformed session is an error, not a violation", func(t *testing.T) {
		broken := loopSession(1, "Screen", 0, "alice@example.com")

		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{broken},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 16, 0)},
			},
			Policy: schedulingDomain.DefaultPolicy(),
			Now:    at(solveDay, 8, 0),
		})

		assert.Equal(t, schedulingDomain.SolveStatusError, result.Status)
		assert.Equal(t, 0.0, result.Confidence)
	})

	t.Run("an unresolvable candidate zone is an error", func(t *testing.T) {
		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{loopSession(1, "Screen", 45, "alice@example.com")},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 16, 0)},
			},
			CandidateTimeZone: "Mars/Olympus_Mons",
			Policy:            schedulingDomain.DefaultPolicy(),
			Now:               at(solveDay, 8, 0),
		})

		assert.Equal(t, schedulingDomain.SolveStatusError, result.Status)
	})
}

func TestLoopSolver_SearchCaps(t *testing.T) {
	t.Run("cap before any solution is a timeout", func(t *testing.T) {
		policy := schedulingDomain.DefaultPolicy()
		policy.MaxSearchIterations = 1

		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{loopSession(1, "Screen", 60, "alice@example.com")},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 12, 0)},
			},
			Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			Policy:    policy,
			Now:       at(solveDay, 8, 0),
		})

		assert.Equal(t, schedulingDomain.SolveStatusTimeout, result.Status)
		assert.Empty(t, result.Solutions)
		assert.Equal(t, 0.25, result.Confidence)
		assert.True(t, result.Metadata.IterationLimitReached)
		assert.False(t, result.Metadata.TimedOut)
	})

	t.Run("cap after the first solution is partial", func(t *testing.T) {
		policy := schedulingDomain.DefaultPolicy()
		policy.MaxSearchIterations = 2

		result := NewLoopSolver().Solve(SolveLoopInput{
			Sessions: []schedulingDomain.SessionTemplate{loopSession(1, "Screen", 60, "alice@example.com")},
			CandidateBlocks: []sharedDomain.TimeInterval{
				{Start: at(solveDay, 10, 0), End: at(solveDay, 12, 0)},
				{Start: at(solveDay.AddDate(0, 0, 1), 10, 0), End: at(solveDay.AddDate(0, 0, 1), 12, 0)},
			},
			Schedules: []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
			Policy:    policy,
			Now:       at(solveDay, 8, 0),
		})

		assert.Equal(t, schedulingDomain.SolveStatusPartial, result.Status)
		assert.Len(t, result.Solutions, 1)
		assert.Equal(t, 0.75, result.Confidence)
		assert.True(t, result.Metadata.IterationLimitReached)
	})
}

func TestLoopSolver_TrimsToMaxSolutions(t *testing.T) {
	policy := schedulingDomain.DefaultPolicy()
	policy.MaxSolutionsToReturn = 2

	blocks := make([]sharedDomain.TimeInterval, 0, 4)
	for day := 0; day < 4; day++ {
		blocks = append(blocks, sharedDomain.TimeInterval{
			Start: at(solveDay.AddDate(0, 0, day), 10, 0),
			End:   at(solveDay.AddDate(0, 0, day), 12, 0),
		})
	}

	result := NewLoopSolver().Solve(SolveLoopInput{
		Sessions:        []schedulingDomain.SessionTemplate{loopSession(1, "Screen", 60, "alice@example.com")},
		CandidateBlocks: blocks,
		Schedules:       []calendarDomain.InterviewerSchedule{freeSchedule("alice@example.com")},
		Policy:          policy,
		Now:             at(solveDay, 8, 0),
	})

	require.Equal(t, schedulingDomain.SolveStatusSolved, result.Status)
	assert.Len(t, result.Solutions, 2)
	// Best-ranked solutions survive the trim: the two earliest days.
	assert.True(t, result.Solutions[0].LoopStart.Equal(at(solveDay, 10, 0)))
	assert.True(t, result.Solutions[1].LoopStart.Equal(at(solveDay.AddDate(0, 0, 1), 10, 0)))
}
