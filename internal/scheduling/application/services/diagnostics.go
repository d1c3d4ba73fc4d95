package services

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	schedulingDomain "github.com/looplinehq/loopline/internal/scheduling/domain"
)

// remedyFor is the fixed violation-to-remedy table. Keys without an entry
// (a pool being entirely busy, conflicts with existing bookings) have no
// mechanical fix to suggest.
var remedyFor = map[schedulingDomain.ConstraintKey]schedulingDomain.ActionType{
	schedulingDomain.ConstraintInterviewerPoolEmpty:    schedulingDomain.ActionAddInterviewersToPool,
	schedulingDomain.ConstraintNoCandidateAvailability: schedulingDomain.ActionExpandCandidateAvailability,
	schedulingDomain.ConstraintSessionTooLongForBlocks: schedulingDomain.ActionReduceSessionDuration,
	schedulingDomain.ConstraintMaxDaysExceeded:         schedulingDomain.ActionAllowMultiDay,
	schedulingDomain.ConstraintInsufficientGap:         schedulingDomain.ActionRemoveBufferConstraints,
	schedulingDomain.ConstraintBusinessHoursViolation:  schedulingDomain.ActionExtendBusinessHours,
}

// TopConstraints deduplicates violations per (key, session) and orders
// the representatives by severity, then by how often each one occurred.
func TopConstraints(violations []schedulingDomain.ConstraintViolation) []schedulingDomain.ConstraintViolation {
	if len(violations) == 0 {
		return nil
	}

	type group struct {
		violation schedulingDomain.ConstraintViolation
		count     int
		order     int
	}

	type groupKey struct {
		key       schedulingDomain.ConstraintKey
		sessionID uuid.UUID
	}

	groups := make(map[groupKey]*group)
	var keys []groupKey
	for i, violation := range violations {
		k := groupKey{key: violation.Key, sessionID: violation.Evidence.SessionID}
		if existing, ok := groups[k]; ok {
			existing.count++
			continue
		}
		groups[k] = &group{violation: violation, count: 1, order: i}
		keys = append(keys, k)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		a, b := groups[keys[i]], groups[keys[j]]
		if a.violation.Severity.Rank() != b.violation.Severity.Rank() {
			return a.violation.Severity.Rank() < b.violation.Severity.Rank()
		}
		if a.count != b.count {
			return a.count > b.count
		}
		return a.order < b.order
	})

	top := make([]schedulingDomain.ConstraintViolation, 0, len(keys))
	for _, k := range keys {
		top = append(top, groups[k].violation)
	}
	return top
}

// BuildUnsatDiagnostics turns the collected violations into remediation
// advice using the fixed key-to-action table. Recommendations are
// deduplicated per (action type, session): the same problem reported many
// times for one session yields one recommendation whose priority counts
// the violations it would resolve, while the same problem on two sessions
// yields two session-scoped recommendations.
func BuildUnsatDiagnostics(violations []schedulingDomain.ConstraintViolation) []schedulingDomain.RecommendedAction {
	type actionKey struct {
		actionType schedulingDomain.ActionType
		sessionID  uuid.UUID
	}

	type pending struct {
		action schedulingDomain.RecommendedAction
		order  int
	}

	actions := make(map[actionKey]*pending)
	var keys []actionKey
	for i, violation := range violations {
		actionType, ok := remedyFor[violation.Key]
		if !ok {
			continue
		}

		k := actionKey{actionType: actionType, sessionID: violation.Evidence.SessionID}
		if existing, ok := actions[k]; ok {
			existing.action.Priority++
			existing.action.Payload.EstimatedImpact = estimatedImpact(existing.action.Priority)
			continue
		}

		actions[k] = &pending{
			order: i,
			action: schedulingDomain.RecommendedAction{
				Type:        actionType,
				Description: actionDescription(actionType, violation),
				Priority:    1,
				Payload: schedulingDomain.ActionPayload{
					SessionID:       violation.Evidence.SessionID,
					SuggestedValue:  violation.Evidence.Details,
					EstimatedImpact: estimatedImpact(1),
				},
			},
		}
		keys = append(keys, k)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		a, b := actions[keys[i]], actions[keys[j]]
		if a.action.Priority != b.action.Priority {
			return a.action.Priority > b.action.Priority
		}
		return a.order < b.order
	})

	out := make([]schedulingDomain.RecommendedAction, 0, len(keys))
	for _, k := range keys {
		out = append(out, actions[k].action)
	}
	return out
}

func actionDescription(actionType schedulingDomain.ActionType, violation schedulingDomain.ConstraintViolation) string {
	name := violation.Evidence.SessionName
	switch actionType {
	case schedulingDomain.ActionAddInterviewersToPool:
		return fmt.Sprintf("Add interviewers to the pool for %q", name)
	case schedulingDomain.ActionExpandCandidateAvailability:
		return "Ask the candidate for additional availability"
	case schedulingDomain.ActionReduceSessionDuration:
		return fmt.Sprintf("Shorten %q so it fits within the candidate's blocks", name)
	case schedulingDomain.ActionAllowMultiDay:
		return "Allow the loop to span more days"
	case schedulingDomain.ActionRemoveBufferConstraints:
		return fmt.Sprintf("Relax the gap and buffer constraints around %q", name)
	case schedulingDomain.ActionExtendBusinessHours:
		return fmt.Sprintf("Extend the allowed business hours for %q", name)
	default:
		return violation.Description
	}
}

func estimatedImpact(resolved int) string {
	return fmt.Sprintf("resolves %d violation(s)", resolved)
}
