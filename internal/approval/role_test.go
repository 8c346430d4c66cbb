package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole_CaseInsensitive(t *testing.T) {
	for _, raw := range []string{"hr", "HR", " Hr "} {
		role, err := ParseRole(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, RoleHR, role)
	}

	_, err := ParseRole("intern")
	assert.Error(t, err)
}

func TestCanDecide(t *testing.T) {
	userStep := &Step{ApproverUserID: strPtr("u-1")}
	roleStep := &Step{ApproverRole: rolePtr(RoleManager)}

	tests := []struct {
		name  string
		step  *Step
		actor Actor
		want  bool
	}{
		{"matching user id", userStep, Actor{UserID: "u-1", Role: "HR"}, true},
		{"wrong user id", userStep, Actor{UserID: "u-2", Role: "HR"}, false},
		{"role does not satisfy a user step", userStep, Actor{UserID: "u-2", Role: "ADMIN"}, false},
		{"matching role, case-folded", roleStep, Actor{UserID: "u-9", Role: "manager"}, true},
		{"wrong role", roleStep, Actor{UserID: "u-9", Role: "HR"}, false},
		{"unknown role string", roleStep, Actor{UserID: "u-9", Role: "boss"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanDecide(tt.step, tt.actor))
		})
	}
}

func TestActorIsAdmin(t *testing.T) {
	assert.True(t, Actor{Role: "admin"}.IsAdmin())
	assert.False(t, Actor{Role: "hr"}.IsAdmin())
	assert.False(t, Actor{}.IsAdmin())
}
