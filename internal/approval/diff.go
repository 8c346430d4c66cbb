package approval

import (
	"fmt"
	"sort"
)

// ChainEntry is a validated, canonicalized desired step.
type ChainEntry struct {
	ID             *string
	Level          int
	ApproverUserID *string
	ApproverRole   *Role
}

// ChainDiff is the outcome of matching a desired chain against the persisted
// one: separate create / update / delete sets, applied atomically by the
// repository. An untouched step appears in no set.
type ChainDiff struct {
	Create []ChainEntry
	Update []StepUpdate
	Delete []*Step
}

// StepUpdate pairs an existing step with its new definition. Applying it
// resets the decision to pending and clears decided_by / decided_at / note.
type StepUpdate struct {
	Step           *Step
	Level          int
	ApproverUserID *string
	ApproverRole   *Role
}

// Empty reports whether the diff performs no writes.
func (d ChainDiff) Empty() bool {
	return len(d.Create) == 0 && len(d.Update) == 0 && len(d.Delete) == 0
}

// ValidateDesired checks structural invariants of a caller-supplied chain and
// canonicalizes it. All violations are collected and reported together:
// levels must be >= 1 and unique, and each step must name exactly one of
// approver_user_id / approver_role, the role being a known one.
func ValidateDesired(desired []DesiredStep) ([]ChainEntry, []string) {
	var details []string
	entries := make([]ChainEntry, 0, len(desired))
	seenLevels := make(map[int]struct{}, len(desired))

	if len(desired) == 0 {
		details = append(details, "approval chain must contain at least one step")
	}

	for i, d := range desired {
		entry := ChainEntry{ID: d.ID, Level: d.Level}

		if d.Level < 1 {
			details = append(details, fmt.Sprintf("step %d: level must be >= 1, got %d", i+1, d.Level))
		} else if _, dup := seenLevels[d.Level]; dup {
			details = append(details, fmt.Sprintf("step %d: duplicate level %d", i+1, d.Level))
		} else {
			seenLevels[d.Level] = struct{}{}
		}

		hasUser := d.ApproverUserID != nil && *d.ApproverUserID != ""
		hasRole := d.ApproverRole != nil && *d.ApproverRole != ""
		switch {
		case hasUser && hasRole:
			details = append(details, fmt.Sprintf("step %d: approver_user_id and approver_role are mutually exclusive", i+1))
		case !hasUser && !hasRole:
			details = append(details, fmt.Sprintf("step %d: one of approver_user_id or approver_role is required", i+1))
		case hasUser:
			entry.ApproverUserID = d.ApproverUserID
		default:
			role, err := ParseRole(*d.ApproverRole)
			if err != nil {
				details = append(details, fmt.Sprintf("step %d: %v", i+1, err))
			} else {
				entry.ApproverRole = &role
			}
		}

		entries = append(entries, entry)
	}

	if len(details) > 0 {
		return nil, details
	}
	return entries, nil
}

// ApproverUserIDs returns the distinct user ids referenced by a chain, for
// batch resolution against the user directory.
func ApproverUserIDs(entries []ChainEntry) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range entries {
		if e.ApproverUserID == nil {
			continue
		}
		if _, ok := seen[*e.ApproverUserID]; ok {
			continue
		}
		seen[*e.ApproverUserID] = struct{}{}
		ids = append(ids, *e.ApproverUserID)
	}
	sort.Strings(ids)
	return ids
}

// ComputeChainDiff matches desired entries to existing steps by id. A matched
// pair whose level or approver changed becomes an update; an identical pair
// produces no write; a desired entry without an id becomes a create; an
// existing step no desired entry claims becomes a delete. A desired id that
// matches no existing step, or that is claimed twice, is an error.
func ComputeChainDiff(existing []*Step, desired []ChainEntry) (ChainDiff, error) {
	byID := make(map[string]*Step, len(existing))
	for _, s := range existing {
		byID[s.ID] = s
	}

	var diff ChainDiff
	claimed := make(map[string]struct{}, len(desired))

	for _, e := range desired {
		if e.ID == nil {
			diff.Create = append(diff.Create, e)
			continue
		}
		step, ok := byID[*e.ID]
		if !ok {
			return ChainDiff{}, fmt.Errorf("step %s does not belong to this submission", *e.ID)
		}
		if _, dup := claimed[*e.ID]; dup {
			return ChainDiff{}, fmt.Errorf("step %s appears more than once in the desired chain", *e.ID)
		}
		claimed[*e.ID] = struct{}{}

		if stepMatchesEntry(step, e) {
			continue
		}
		diff.Update = append(diff.Update, StepUpdate{
			Step:           step,
			Level:          e.Level,
			ApproverUserID: e.ApproverUserID,
			ApproverRole:   e.ApproverRole,
		})
	}

	for _, s := range existing {
		if _, ok := claimed[s.ID]; !ok {
			diff.Delete = append(diff.Delete, s)
		}
	}

	return diff, nil
}

func stepMatchesEntry(s *Step, e ChainEntry) bool {
	if s.Level != e.Level {
		return false
	}
	if !equalStrPtr(s.ApproverUserID, e.ApproverUserID) {
		return false
	}
	return equalRolePtr(s.ApproverRole, e.ApproverRole)
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalRolePtr(a, b *Role) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
