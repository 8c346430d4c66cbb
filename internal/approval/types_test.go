package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for raw, want := range map[string]Status{
		"pending":  StatusPending,
		"APPROVED": StatusApproved,
		" Rejected ": StatusRejected,
	} {
		got, err := ParseStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	_, err := ParseStatus("archived")
	assert.Error(t, err)
}

func TestParseDecision_RejectsPending(t *testing.T) {
	_, err := ParseDecision("pending")
	assert.Error(t, err)

	got, err := ParseDecision(" Approved ")
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, got)
}
