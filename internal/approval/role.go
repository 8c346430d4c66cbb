package approval

import (
	"fmt"
	"strings"
)

// Role is the closed set of approver roles recognized by the engine. The
// source systems compared role strings ad hoc and case-insensitively; here
// every comparison goes through ParseRole / Matches so there is exactly one
// place that folds case.
type Role string

const (
	RoleSupervisor Role = "SUPERVISOR"
	RoleManager    Role = "MANAGER"
	RoleHR         Role = "HR"
	RoleDirector   Role = "DIRECTOR"
	RoleAdmin      Role = "ADMIN"
)

// ParseRole canonicalizes a role string, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleSupervisor:
		return RoleSupervisor, nil
	case RoleManager:
		return RoleManager, nil
	case RoleHR:
		return RoleHR, nil
	case RoleDirector:
		return RoleDirector, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

// Matches compares a raw role string against a canonical role.
func (r Role) Matches(raw string) bool {
	parsed, err := ParseRole(raw)
	return err == nil && parsed == r
}

// Actor identifies who is attempting an operation.
type Actor struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the actor carries the ADMIN role.
func (a Actor) IsAdmin() bool {
	return RoleAdmin.Matches(a.Role)
}

// CanDecide reports whether the actor is the designated approver for a step:
// either their user id equals the step's approver_user_id, or their role
// matches the step's approver_role.
func CanDecide(step *Step, actor Actor) bool {
	if step.ApproverUserID != nil {
		return *step.ApproverUserID == actor.UserID
	}
	if step.ApproverRole != nil {
		return step.ApproverRole.Matches(actor.Role)
	}
	return false
}
