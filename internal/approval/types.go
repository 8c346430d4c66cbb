// Package approval holds the domain model of the multi-level approval engine:
// submission and step types, the chain diff, the aggregation policies and the
// approver matching rules. Everything in this package is pure; persistence
// and transport live in internal/repository and internal/handler.
package approval

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags what an employee submitted for sign-off.
type Kind string

const (
	KindLeave       Kind = "leave"
	KindSickLeave   Kind = "sick_leave"
	KindHourlyLeave Kind = "hourly_leave"
	KindDaySwap     Kind = "day_swap"
)

// ParseKind validates a submission kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindLeave:
		return KindLeave, nil
	case KindSickLeave:
		return KindSickLeave, nil
	case KindHourlyLeave:
		return KindHourlyLeave, nil
	case KindDaySwap:
		return KindDaySwap, nil
	}
	return "", fmt.Errorf("unknown submission kind: %q", s)
}

// IsLeave reports whether the kind represents time away from work with a
// date span, which drives the return-to-work side effect.
func (k Kind) IsLeave() bool {
	return k == KindLeave || k == KindSickLeave
}

// Status is the submission-level aggregate outcome.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a submission status string.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("unknown submission status: %q", s)
}

// Terminal reports whether the status permits no further engine transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is an approver's judgment on a single step.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ParseDecision accepts only the two terminal judgments; "pending" is not a
// decision a caller can submit.
func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionApproved:
		return DecisionApproved, nil
	case DecisionRejected:
		return DecisionRejected, nil
	}
	return "", fmt.Errorf("invalid decision: %q (want approved or rejected)", s)
}

// Submission is one employee request moving through an approval chain.
type Submission struct {
	ID                   string                 `json:"id"`
	RequesterID          string                 `json:"requester_id"`
	Kind                 Kind                   `json:"kind"`
	Status               Status                 `json:"status"`
	CurrentApprovedLevel *int                   `json:"current_approved_level,omitempty"`
	StartDate            *string                `json:"start_date,omitempty"` // YYYY-MM-DD, leave kinds only
	EndDate              *string                `json:"end_date,omitempty"`
	Reason               *string                `json:"reason,omitempty"`
	Payload              map[string]interface{} `json:"payload,omitempty"`
	DeletedAt            *time.Time             `json:"deleted_at,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// Step is one ordinal position in a submission's approval chain. Exactly one
// of ApproverUserID and ApproverRole is set.
type Step struct {
	ID             string     `json:"id"`
	SubmissionID   string     `json:"submission_id"`
	Level          int        `json:"level"`
	ApproverUserID *string    `json:"approver_user_id,omitempty"`
	ApproverRole   *Role      `json:"approver_role,omitempty"`
	Decision       Decision   `json:"decision"`
	DecidedBy      *string    `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	Note           *string    `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DesiredStep is one entry of a caller-supplied replacement chain. A nil ID
// signals a new step; a non-nil ID must match an existing step.
type DesiredStep struct {
	ID             *string `json:"id,omitempty"`
	Level          int     `json:"level"`
	ApproverUserID *string `json:"approver_user_id,omitempty"`
	ApproverRole   *string `json:"approver_role,omitempty"`
}

// DecisionEvent is emitted after a decision commits, for the side-effect
// dispatcher.
type DecisionEvent struct {
	SubmissionID string   `json:"submission_id"`
	RequesterID  string   `json:"requester_id"`
	Kind         Kind     `json:"kind"`
	Status       Status   `json:"status"`
	Decision     Decision `json:"decision"`
	Level        int      `json:"level"`
	DecidedBy    string   `json:"decided_by"`
	Note         *string  `json:"note,omitempty"`
}
