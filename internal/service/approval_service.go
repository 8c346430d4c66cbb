package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-hr-approvals/internal/apperr"
	"github.com/pesio-ai/be-hr-approvals/internal/approval"
	"github.com/pesio-ai/be-hr-approvals/internal/client"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-hr-approvals/internal/repository"
)

// SubmissionStore is the persistence boundary of the approval engine,
// implemented by repository.SubmissionRepository.
type SubmissionStore interface {
	Create(ctx context.Context, sub *approval.Submission, entries []approval.ChainEntry) ([]*approval.Step, error)
	GetByID(ctx context.Context, id string) (*approval.Submission, []*approval.Step, error)
	List(ctx context.Context, requesterID, kind, status *string, limit, offset int) ([]*approval.Submission, error)
	SoftDelete(ctx context.Context, id string, actor approval.Actor) error
	ReplaceChain(ctx context.Context, submissionID string, desired []approval.ChainEntry) ([]*approval.Step, error)
	DecideStep(ctx context.Context, stepID string, actor approval.Actor, decision approval.Decision, note *string) (*approval.Step, *approval.Submission, error)
}

// StepsStore serves step-level reads, implemented by
// repository.ApprovalStepsRepository.
type StepsStore interface {
	GetByID(ctx context.Context, id string) (*approval.Step, error)
	GetPendingForApprover(ctx context.Context, actor approval.Actor) ([]*approval.Step, error)
}

// AuditStore appends and reads the immutable audit log, implemented by
// repository.ApprovalAuditRepository.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetBySubmissionID(ctx context.Context, submissionID string) ([]*repository.AuditEntry, error)
}

// ApprovalService orchestrates the approval engine: submission creation,
// chain reconciliation, decisions and their side effects.
type ApprovalService struct {
	submissions SubmissionStore
	steps       StepsStore
	audit       AuditStore
	directory   client.UserDirectory
	schedule    client.ScheduleAdjuster
	dispatcher  *SideEffectDispatcher
	log         *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	submissions SubmissionStore,
	steps StepsStore,
	audit AuditStore,
	directory client.UserDirectory,
	schedule client.ScheduleAdjuster,
	dispatcher *SideEffectDispatcher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		submissions: submissions,
		steps:       steps,
		audit:       audit,
		directory:   directory,
		schedule:    schedule,
		dispatcher:  dispatcher,
		log:         log,
	}
}

// ── Requests / results ────────────────────────────────────────────────────────

// CreateSubmissionRequest creates a submission with its initial chain.
type CreateSubmissionRequest struct {
	RequesterID string                 `json:"requester_id"`
	Kind        string                 `json:"kind"`
	StartDate   *string                `json:"start_date,omitempty"`
	EndDate     *string                `json:"end_date,omitempty"`
	Reason      *string                `json:"reason,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Chain       []approval.DesiredStep `json:"chain"`
}

// DecideStepRequest applies one approver decision to a step.
type DecideStepRequest struct {
	StepID           string
	Actor            approval.Actor
	Decision         string
	Note             *string
	ReturnPatternRef *string
}

// DecideStepResult carries the updated step and submission plus any
// non-fatal side-effect warnings.
type DecideStepResult struct {
	Step       *approval.Step       `json:"step"`
	Submission *approval.Submission `json:"submission"`
	Warnings   []string             `json:"warnings,omitempty"`
}

// ── Submission lifecycle ──────────────────────────────────────────────────────

// CreateSubmission validates the request and initial chain, then creates the
// submission with all steps pending in one transaction.
func (s *ApprovalService) CreateSubmission(ctx context.Context, req *CreateSubmissionRequest) (*approval.Submission, []*approval.Step, error) {
	var details []string

	kind, err := approval.ParseKind(req.Kind)
	if err != nil {
		details = append(details, err.Error())
	}
	if req.RequesterID == "" {
		details = append(details, "requester_id is required")
	}
	details = append(details, validateDates(kind, req.StartDate, req.EndDate)...)

	for i, d := range req.Chain {
		if d.ID != nil {
			details = append(details, fmt.Sprintf("step %d: id is not allowed on a new submission", i+1))
		}
	}

	entries, err := s.validateChain(ctx, req.Chain, details)
	if err != nil {
		return nil, nil, err
	}

	sub := &approval.Submission{
		RequesterID: req.RequesterID,
		Kind:        kind,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Reason:      req.Reason,
		Payload:     req.Payload,
	}

	steps, err := s.submissions.Create(ctx, sub, entries)
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("submission_id", sub.ID).
		Str("kind", string(sub.Kind)).
		Int("steps", len(steps)).
		Msg("submission created")

	s.appendAudit(ctx, &repository.AuditEntry{
		SubmissionID: sub.ID,
		Action:       "submitted",
		PerformedBy:  req.RequesterID,
		StatusAfter:  statusPtr(sub.Status),
		Metadata:     map[string]interface{}{"kind": sub.Kind, "steps": len(steps)},
	})

	s.dispatcher.Enqueue("submission_created", approval.DecisionEvent{
		SubmissionID: sub.ID,
		RequesterID:  sub.RequesterID,
		Kind:         sub.Kind,
		Status:       sub.Status,
	})

	return sub, steps, nil
}

// GetSubmission returns a live submission with its chain.
func (s *ApprovalService) GetSubmission(ctx context.Context, id string) (*approval.Submission, []*approval.Step, error) {
	return s.submissions.GetByID(ctx, id)
}

// ListSubmissions returns live submissions matching the optional filters.
func (s *ApprovalService) ListSubmissions(ctx context.Context, requesterID, kind, status *string, limit, offset int) ([]*approval.Submission, error) {
	return s.submissions.List(ctx, requesterID, kind, status, limit, offset)
}

// GetStep returns a single live approval step.
func (s *ApprovalService) GetStep(ctx context.Context, id string) (*approval.Step, error) {
	return s.steps.GetByID(ctx, id)
}

// GetPendingApprovals returns the steps currently awaiting the actor.
func (s *ApprovalService) GetPendingApprovals(ctx context.Context, actor approval.Actor) ([]*approval.Step, error) {
	return s.steps.GetPendingForApprover(ctx, actor)
}

// GetAuditTrail returns the audit log of a submission, oldest first.
func (s *ApprovalService) GetAuditTrail(ctx context.Context, submissionID string) ([]*repository.AuditEntry, error) {
	return s.audit.GetBySubmissionID(ctx, submissionID)
}

// DeleteSubmission soft-deletes a pending submission.
func (s *ApprovalService) DeleteSubmission(ctx context.Context, id string, actor approval.Actor) error {
	if err := s.submissions.SoftDelete(ctx, id, actor); err != nil {
		return err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		SubmissionID: id,
		Action:       "deleted",
		PerformedBy:  actor.UserID,
	})
	return nil
}

// ── Reconciliation ────────────────────────────────────────────────────────────

// ReplaceChain reconciles a submission's approval chain with the desired one.
// Only the requester or an admin may edit the chain, and only while no step
// has been decided.
func (s *ApprovalService) ReplaceChain(ctx context.Context, submissionID string, actor approval.Actor, desired []approval.DesiredStep) ([]*approval.Step, error) {
	sub, _, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.RequesterID != actor.UserID && !actor.IsAdmin() {
		return nil, apperr.Forbidden("only the requester or an admin may edit the approval chain")
	}

	entries, err := s.validateChain(ctx, desired, nil)
	if err != nil {
		return nil, err
	}

	steps, err := s.submissions.ReplaceChain(ctx, submissionID, entries)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("submission_id", submissionID).
		Int("steps", len(steps)).
		Msg("approval chain replaced")

	s.appendAudit(ctx, &repository.AuditEntry{
		SubmissionID: submissionID,
		Action:       "chain_replaced",
		PerformedBy:  actor.UserID,
		Metadata:     map[string]interface{}{"steps": len(steps)},
	})

	return steps, nil
}

// ── Decision ──────────────────────────────────────────────────────────────────

// DecideStep applies one approver decision: the step transition and the
// aggregate recompute commit in a single transaction, then side effects run
// decoupled from that commit. Side-effect failures surface as warnings only.
func (s *ApprovalService) DecideStep(ctx context.Context, req *DecideStepRequest) (*DecideStepResult, error) {
	decision, err := approval.ParseDecision(req.Decision)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	step, sub, err := s.submissions.DecideStep(ctx, req.StepID, req.Actor, decision, req.Note)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("submission_id", sub.ID).
		Str("step_id", step.ID).
		Int("level", step.Level).
		Str("decision", string(decision)).
		Str("status", string(sub.Status)).
		Msg("decision recorded")

	s.appendAudit(ctx, &repository.AuditEntry{
		SubmissionID: sub.ID,
		StepID:       &step.ID,
		Action:       string(decision),
		PerformedBy:  req.Actor.UserID,
		StatusAfter:  statusPtr(sub.Status),
		Metadata:     map[string]interface{}{"level": step.Level},
	})

	result := &DecideStepResult{Step: step, Submission: sub}

	if sub.Status.Terminal() {
		event := approval.DecisionEvent{
			SubmissionID: sub.ID,
			RequesterID:  sub.RequesterID,
			Kind:         sub.Kind,
			Status:       sub.Status,
			Decision:     decision,
			Level:        step.Level,
			DecidedBy:    req.Actor.UserID,
			Note:         req.Note,
		}
		s.dispatcher.Enqueue("submission_"+string(sub.Status), event)

		if warning := s.adjustReturnToWork(ctx, sub, req.ReturnPatternRef); warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	return result, nil
}

// adjustReturnToWork attempts the best-effort return-to-work schedule write
// for approved leave submissions. The returned warning is empty on success
// or when the side effect does not apply.
func (s *ApprovalService) adjustReturnToWork(ctx context.Context, sub *approval.Submission, patternRef *string) string {
	if sub.Status != approval.StatusApproved || !sub.Kind.IsLeave() {
		return ""
	}
	if sub.EndDate == nil {
		return ""
	}

	endDate, err := time.Parse("2006-01-02", *sub.EndDate)
	if err != nil {
		s.log.Warn().Err(err).Str("submission_id", sub.ID).Msg("return-to-work: invalid end date")
		return fmt.Sprintf("return-to-work entry skipped: invalid end date %q", *sub.EndDate)
	}

	returnDate := endDate.AddDate(0, 0, 1)
	if err := s.schedule.UpsertReturnToWork(ctx, sub.RequesterID, returnDate, patternRef); err != nil {
		s.log.Warn().Err(err).
			Str("submission_id", sub.ID).
			Str("return_date", returnDate.Format("2006-01-02")).
			Msg("return-to-work: schedule adjustment failed (non-fatal)")
		return fmt.Sprintf("return-to-work entry for %s could not be written: %v", returnDate.Format("2006-01-02"), err)
	}
	return ""
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// validateChain runs structural validation and batch approver resolution.
// Pre-collected details from the caller are folded into the same validation
// error so everything is reported together.
func (s *ApprovalService) validateChain(ctx context.Context, desired []approval.DesiredStep, details []string) ([]approval.ChainEntry, error) {
	entries, structural := approval.ValidateDesired(desired)
	details = append(details, structural...)

	if len(structural) == 0 {
		ids := approval.ApproverUserIDs(entries)
		if len(ids) > 0 {
			resolved, err := s.directory.ResolveExisting(ctx, ids)
			if err != nil {
				return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to resolve approvers against user directory")
			}
			known := make(map[string]struct{}, len(resolved))
			for _, id := range resolved {
				known[id] = struct{}{}
			}
			for _, id := range ids {
				if _, ok := known[id]; !ok {
					details = append(details, fmt.Sprintf("approver %s does not exist or is inactive", id))
				}
			}
		}
	}

	if len(details) > 0 {
		return nil, apperr.Validation(details...)
	}
	return entries, nil
}

// validateDates checks the date span carried by leave-kind submissions.
func validateDates(kind approval.Kind, start, end *string) []string {
	if !kind.IsLeave() {
		return nil
	}

	var details []string
	var from, to time.Time
	var err error

	if start == nil {
		details = append(details, "start_date is required for leave submissions")
	} else if from, err = time.Parse("2006-01-02", *start); err != nil {
		details = append(details, fmt.Sprintf("start_date: invalid date %q", *start))
	}
	if end == nil {
		details = append(details, "end_date is required for leave submissions")
	} else if to, err = time.Parse("2006-01-02", *end); err != nil {
		details = append(details, fmt.Sprintf("end_date: invalid date %q", *end))
	}
	if len(details) == 0 && to.Before(from) {
		details = append(details, "end_date must not be before start_date")
	}
	return details
}

// appendAudit writes an audit entry and logs a warning on failure (never
// returns an error).
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("submission_id", entry.SubmissionID).
			Str("action", entry.Action).
			Msg("failed to write audit log entry")
	}
}

func statusPtr(s approval.Status) *string {
	v := string(s)
	return &v
}
