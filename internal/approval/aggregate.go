package approval

import "fmt"

// AggregationPolicy selects how step decisions roll up into the submission
// status.
//
// PolicyAnyApproval reproduces the behavior observed in the legacy HR
// modules: a single approved step approves the whole submission, even when
// lower levels are still pending or rejected. PolicySequential is the
// stricter reading where every level must approve in order. The policy is
// configuration so the legacy behavior can be switched off without a code
// change.
type AggregationPolicy string

const (
	PolicyAnyApproval AggregationPolicy = "any_approval"
	PolicySequential  AggregationPolicy = "sequential"
)

// ParseAggregationPolicy validates a policy name, defaulting empty input to
// PolicyAnyApproval.
func ParseAggregationPolicy(s string) (AggregationPolicy, error) {
	switch AggregationPolicy(s) {
	case "":
		return PolicyAnyApproval, nil
	case PolicyAnyApproval:
		return PolicyAnyApproval, nil
	case PolicySequential:
		return PolicySequential, nil
	}
	return "", fmt.Errorf("unknown aggregation policy: %q", s)
}

// Aggregate derives the submission status and current approved level from
// the full current step set. It is called inside the decision transaction so
// the result always reflects a serialized view of the chain.
func Aggregate(policy AggregationPolicy, steps []*Step) (Status, *int) {
	if policy == PolicySequential {
		return aggregateSequential(steps)
	}
	return aggregateAnyApproval(steps)
}

// aggregateAnyApproval: any approved step wins (level = max approved level);
// all steps rejected (non-empty set) rejects; anything else stays pending.
func aggregateAnyApproval(steps []*Step) (Status, *int) {
	maxApproved := 0
	allRejected := len(steps) > 0

	for _, s := range steps {
		switch s.Decision {
		case DecisionApproved:
			if s.Level > maxApproved {
				maxApproved = s.Level
			}
			allRejected = false
		case DecisionRejected:
		default:
			allRejected = false
		}
	}

	if maxApproved > 0 {
		level := maxApproved
		return StatusApproved, &level
	}
	if allRejected {
		return StatusRejected, nil
	}
	return StatusPending, nil
}

// aggregateSequential: one rejection rejects the submission; approved only
// when every step has approved, with level = the highest level in the chain.
// Otherwise pending, with level = the highest approved prefix level.
func aggregateSequential(steps []*Step) (Status, *int) {
	if len(steps) == 0 {
		return StatusPending, nil
	}

	maxLevel, maxApproved := 0, 0
	approvedCount := 0
	for _, s := range steps {
		if s.Level > maxLevel {
			maxLevel = s.Level
		}
		switch s.Decision {
		case DecisionRejected:
			return StatusRejected, nil
		case DecisionApproved:
			approvedCount++
			if s.Level > maxApproved {
				maxApproved = s.Level
			}
		}
	}

	if approvedCount == len(steps) {
		level := maxLevel
		return StatusApproved, &level
	}
	if maxApproved > 0 {
		level := maxApproved
		return StatusPending, &level
	}
	return StatusPending, nil
}

// AnyDecided reports whether any step carries a non-pending decision, i.e.
// the chain is frozen with respect to reconciliation.
func AnyDecided(steps []*Step) bool {
	for _, s := range steps {
		if s.Decision != DecisionPending {
			return true
		}
	}
	return false
}
