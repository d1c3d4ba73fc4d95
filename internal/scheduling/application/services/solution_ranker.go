package services

import (
	"sort"

	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
)

// Scoring weights. The single-day bonus dominates so a compact loop beats
// a slightly earlier spread-out one; earliness separates solutions with
// the same shape.
const (
	singleDayBonus      = 100.0
	daysSpanPenalty     = 25.0
	earlinessWeightHour = 0.1
)

// SolutionRanker orders loop solutions by policy preference. Scoring is a
// pure function of one solution and the policy, so re-ranking the same
// input always yields the same order.
type SolutionRanker struct{}

// NewSolutionRanker creates a new SolutionRanker.
func NewSolutionRanker() *SolutionRanker {
	return &SolutionRanker{}
}

// Rank scores the solutions and returns them best-first. The sort is
// stable: equal scores keep their creation order, which makes repeated
// solves over identical inputs reproducible.
func (r *SolutionRanker) Rank(solutions []schedulingDomain.LoopSolution, policy schedulingDomain.SchedulingPolicy) []schedulingDomain.LoopSolution {
	ranked := make([]schedulingDomain.LoopSolution, len(solutions))
	copy(ranked, solutions)
	for i := range ranked {
		ranked[i].Score = r.Score(ranked[i], policy)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Score computes one solution's rank value: a bonus for single-day loops
// when the policy prefers them, a penalty per extra day of span, and a
// reward for earlier loop starts. Scores are only meaningful relative to
// other solutions for the same request; the absolute value carries a
// constant offset from the earliness term.
func (r *SolutionRanker) Score(solution schedulingDomain.LoopSolution, policy schedulingDomain.SchedulingPolicy) float64 {
	score := 0.0
	if policy.PreferSingleDay && solution.IsSingleDay {
		score += singleDayBonus
	}
	if solution.DaysSpan > 1 {
		score -= float64(solution.DaysSpan-1) * daysSpanPenalty
	}
	score -= float64(solution.LoopStart.UTC().Unix()) / 3600.0 * earlinessWeightHour
	return score
}
