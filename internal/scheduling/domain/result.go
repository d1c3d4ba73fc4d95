package domain

// SolveStatus is the terminal state of one solver invocation.
type SolveStatus string

const (
	// SolveStatusSolved means at least one complete solution was found.
	SolveStatusSolved SolveStatus = "SOLVED"
	// SolveStatusUnsatisfiable means the search completed and proved no
	// solution exists under the given inputs.
	SolveStatusUnsatisfiable SolveStatus = "UNSATISFIABLE"
	// SolveStatusPartial means a cap was hit after at least one complete
	// solution had been found; more may exist.
	SolveStatusPartial SolveStatus = "PARTIAL"
	// SolveStatusTimeout means a cap was hit before any complete solution.
	SolveStatusTimeout SolveStatus = "TIMEOUT"
	// SolveStatusError means the solve could not run at all, for example
	// an unresolvable candidate time zone.
	SolveStatusError SolveStatus = "ERROR"
)

// HasSolutions reports whether this status carries usable solutions.
func (s SolveStatus) HasSolutions() bool {
	return s == SolveStatusSolved || s == SolveStatusPartial
}

// ConfidenceFor maps a status to the confidence reported with the result:
// full confidence for a completed search, reduced when caps cut it short,
// none when nothing usable was produced.
func ConfidenceFor(status SolveStatus) float64 {
	switch status {
	case SolveStatusSolved:
		return 1.0
	case SolveStatusPartial:
		return 0.75
	case SolveStatusTimeout:
		return 0.25
	default:
		return 0.0
	}
}

// SolveMetadata reports how much work one solve invocation did and which
// caps, if any, cut it short.
type SolveMetadata struct {
	SolveDurationMs       int64 `json:"solve_duration_ms"`
	SearchIterations      int   `json:"search_iterations"`
	SlotsEvaluated        int   `json:"slots_evaluated"`
	GraphAPICalls         int   `json:"graph_api_calls"`
	TimedOut              bool  `json:"timed_out"`
	IterationLimitReached bool  `json:"iteration_limit_reached"`
}

// LoopSolveResult is the complete outcome of one solver invocation:
// ranked solutions on success, ordered constraints and remedies when the
// loop is unsatisfiable, and search metadata either way.
type LoopSolveResult struct {
	Status             SolveStatus           `json:"status"`
	Solutions          []LoopSolution        `json:"solutions"`
	TopConstraints     []ConstraintViolation `json:"top_constraints"`
	RecommendedActions []RecommendedAction   `json:"recommended_actions"`
	Confidence         float64               `json:"confidence"`
	Metadata           SolveMetadata         `json:"metadata"`
}

// FindSolution looks a solution up by id.
func (r LoopSolveResult) FindSolution(id string) (LoopSolution, bool) {
	for _, s := range r.Solutions {
		if s.SolutionID == id {
			return s, true
		}
	}
	return LoopSolution{}, false
}
