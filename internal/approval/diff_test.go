package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func rolePtr(r Role) *Role { return &r }

func TestValidateDesired_CollectsAllViolations(t *testing.T) {
	desired := []DesiredStep{
		{Level: 0, ApproverUserID: strPtr("u-1")},                              // bad level
		{Level: 2, ApproverUserID: strPtr("u-2"), ApproverRole: strPtr("HR")},  // both set
		{Level: 2},                                                             // duplicate level, no approver
		{Level: 3, ApproverRole: strPtr("WIZARD")},                             // unknown role
	}

	entries, details := ValidateDesired(desired)
	assert.Nil(t, entries)
	require.Len(t, details, 5)
	assert.Contains(t, details[0], "level must be >= 1")
	assert.Contains(t, details[1], "mutually exclusive")
	assert.Contains(t, details[2], "duplicate level 2")
	assert.Contains(t, details[3], "one of approver_user_id or approver_role is required")
	assert.Contains(t, details[4], "unknown role")
}

func TestValidateDesired_EmptyChain(t *testing.T) {
	entries, details := ValidateDesired(nil)
	assert.Nil(t, entries)
	require.Len(t, details, 1)
	assert.Contains(t, details[0], "at least one step")
}

func TestValidateDesired_CanonicalizesRoles(t *testing.T) {
	entries, details := ValidateDesired([]DesiredStep{
		{Level: 1, ApproverRole: strPtr("hr")},
		{Level: 2, ApproverUserID: strPtr("u-9")},
	})
	require.Empty(t, details)
	require.Len(t, entries, 2)
	assert.Equal(t, RoleHR, *entries[0].ApproverRole)
	assert.Nil(t, entries[0].ApproverUserID)
	assert.Equal(t, "u-9", *entries[1].ApproverUserID)
}

func TestComputeChainDiff_IdenticalChainIsEmpty(t *testing.T) {
	existing := []*Step{
		{ID: "A", Level: 1, ApproverUserID: strPtr("x")},
		{ID: "B", Level: 2, ApproverRole: rolePtr(RoleHR)},
	}
	desired := []ChainEntry{
		{ID: strPtr("A"), Level: 1, ApproverUserID: strPtr("x")},
		{ID: strPtr("B"), Level: 2, ApproverRole: rolePtr(RoleHR)},
	}

	diff, err := ComputeChainDiff(existing, desired)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestComputeChainDiff_UpdateDeleteCreate(t *testing.T) {
	// Existing: A at level 1 (approver X), B at level 2 (approver Y).
	// Desired: A at level 1 with approver Z, plus a new level 3 step for HR.
	// Expect: A updated, B deleted, one create.
	existing := []*Step{
		{ID: "A", Level: 1, ApproverUserID: strPtr("x")},
		{ID: "B", Level: 2, ApproverUserID: strPtr("y")},
	}
	desired := []ChainEntry{
		{ID: strPtr("A"), Level: 1, ApproverUserID: strPtr("z")},
		{Level: 3, ApproverRole: rolePtr(RoleHR)},
	}

	diff, err := ComputeChainDiff(existing, desired)
	require.NoError(t, err)

	require.Len(t, diff.Update, 1)
	assert.Equal(t, "A", diff.Update[0].Step.ID)
	assert.Equal(t, 1, diff.Update[0].Level)
	assert.Equal(t, "z", *diff.Update[0].ApproverUserID)

	require.Len(t, diff.Delete, 1)
	assert.Equal(t, "B", diff.Delete[0].ID)

	require.Len(t, diff.Create, 1)
	assert.Equal(t, 3, diff.Create[0].Level)
	assert.Equal(t, RoleHR, *diff.Create[0].ApproverRole)
}

func TestComputeChainDiff_LevelSwap(t *testing.T) {
	existing := []*Step{
		{ID: "A", Level: 1, ApproverUserID: strPtr("x")},
		{ID: "B", Level: 2, ApproverUserID: strPtr("y")},
	}
	desired := []ChainEntry{
		{ID: strPtr("A"), Level: 2, ApproverUserID: strPtr("x")},
		{ID: strPtr("B"), Level: 1, ApproverUserID: strPtr("y")},
	}

	diff, err := ComputeChainDiff(existing, desired)
	require.NoError(t, err)
	assert.Len(t, diff.Update, 2)
	assert.Empty(t, diff.Create)
	assert.Empty(t, diff.Delete)
}

func TestComputeChainDiff_UnknownID(t *testing.T) {
	existing := []*Step{{ID: "A", Level: 1, ApproverUserID: strPtr("x")}}
	desired := []ChainEntry{{ID: strPtr("nope"), Level: 1, ApproverUserID: strPtr("x")}}

	_, err := ComputeChainDiff(existing, desired)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong")
}

func TestComputeChainDiff_DuplicateID(t *testing.T) {
	existing := []*Step{{ID: "A", Level: 1, ApproverUserID: strPtr("x")}}
	desired := []ChainEntry{
		{ID: strPtr("A"), Level: 1, ApproverUserID: strPtr("x")},
		{ID: strPtr("A"), Level: 2, ApproverUserID: strPtr("x")},
	}

	_, err := ComputeChainDiff(existing, desired)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestApproverUserIDs_Distinct(t *testing.T) {
	entries := []ChainEntry{
		{Level: 1, ApproverUserID: strPtr("b")},
		{Level: 2, ApproverUserID: strPtr("a")},
		{Level: 3, ApproverUserID: strPtr("b")},
		{Level: 4, ApproverRole: rolePtr(RoleHR)},
	}
	assert.Equal(t, []string{"a", "b"}, ApproverUserIDs(entries))
}
