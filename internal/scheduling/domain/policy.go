package domain

import "time"

// SchedulingPolicy tunes slot generation and loop solving. It is a plain
// value passed into every call; handlers never share or mutate one, so
// concurrent solves with different policies cannot interfere.
type SchedulingPolicy struct {
	SlotGranularityMinutes int           `json:"slot_granularity_minutes"`
	MaxSolutionsToReturn   int           `json:"max_solutions_to_return"`
	PreferSingleDay        bool          `json:"prefer_single_day"`
	MaxDaysSpan            int           `json:"max_days_span"`
	EnforceBusinessHours   bool          `json:"enforce_business_hours"`
	ReorderSessionsAllowed bool          `json:"reorder_sessions_allowed"`
	SolverTimeout          time.Duration `json:"solver_timeout"`
	MaxSearchIterations    int           `json:"max_search_iterations"`
}

// DefaultPolicy returns the policy used when a caller supplies none.
func DefaultPolicy() SchedulingPolicy {
	return SchedulingPolicy{
		SlotGranularityMinutes: 15,
		MaxSolutionsToReturn:   5,
		PreferSingleDay:        true,
		MaxDaysSpan:            3,
		EnforceBusinessHours:   true,
		ReorderSessionsAllowed: false,
		SolverTimeout:          10 * time.Second,
		MaxSearchIterations:    5000,
	}
}

// Normalized replaces zero or negative tuning values with their defaults
// so a partially filled policy is always safe to run with.
func (p SchedulingPolicy) Normalized() SchedulingPolicy {
	defaults := DefaultPolicy()
	if p.SlotGranularityMinutes <= 0 {
		p.SlotGranularityMinutes = defaults.SlotGranularityMinutes
	}
	if p.MaxSolutionsToReturn <= 0 {
		p.MaxSolutionsToReturn = defaults.MaxSolutionsToReturn
	}
	if p.MaxDaysSpan <= 0 {
		p.MaxDaysSpan = defaults.MaxDaysSpan
	}
	if p.SolverTimeout <= 0 {
		p.SolverTimeout = defaults.SolverTimeout
	}
	if p.MaxSearchIterations <= 0 {
		p.MaxSearchIterations = defaults.MaxSearchIterations
	}
	return p
}

// Granularity returns the slot grid step as a duration.
func (p SchedulingPolicy) Granularity() time.Duration {
	return time.Duration(p.SlotGranularityMinutes) * time.Minute
}
