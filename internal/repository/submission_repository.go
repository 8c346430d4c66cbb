package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-approvals/internal/apperr"
	"github.com/pesio-ai/be-hr-approvals/internal/approval"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/database"
)

// SubmissionRepository owns the submission aggregate: the submission row plus
// its ordered approval steps. Every mutating operation runs in a single
// transaction that takes a row-level lock on the submission, so concurrent
// reconciles and decisions on the same submission serialize, while different
// submissions never contend.
type SubmissionRepository struct {
	db     *database.DB
	policy approval.AggregationPolicy
}

// NewSubmissionRepository creates a SubmissionRepository with the configured
// aggregation policy.
func NewSubmissionRepository(db *database.DB, policy approval.AggregationPolicy) *SubmissionRepository {
	return &SubmissionRepository{db: db, policy: policy}
}

const submissionColumns = `
	id, requester_id, kind, status, current_approved_level,
	start_date, end_date, reason, payload,
	deleted_at, created_at, updated_at`

const stepColumns = `
	id, submission_id, level, approver_user_id, approver_role,
	decision, decided_by, decided_at, note,
	created_at, updated_at`

// Create inserts a submission and its validated initial chain in one
// transaction. The chain entries must already have passed ValidateDesired.
func (r *SubmissionRepository) Create(ctx context.Context, sub *approval.Submission, entries []approval.ChainEntry) ([]*approval.Step, error) {
	var steps []*approval.Step

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO hr_submissions
			    (requester_id, kind, status, start_date, end_date, reason, payload)
			VALUES ($1, $2::hr_submission_kind, 'pending'::hr_submission_status, $3, $4, $5, $6)
			RETURNING id, status, created_at, updated_at
		`

		payload, err := marshalPayload(sub.Payload)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, query,
			sub.RequesterID,
			sub.Kind,
			sub.StartDate,
			sub.EndDate,
			sub.Reason,
			payload,
		).Scan(&sub.ID, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create submission")
		}

		steps, err = insertSteps(ctx, tx, sub.ID, entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// GetByID returns a live submission and its live steps ordered by level.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*approval.Submission, []*approval.Step, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM hr_submissions
		WHERE id = $1 AND deleted_at IS NULL
	`

	sub, err := scanSubmission(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, apperr.NotFound("submission", id)
	}
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get submission")
	}

	steps, err := r.liveSteps(ctx, r.db, id)
	if err != nil {
		return nil, nil, err
	}
	return sub, steps, nil
}

// List returns live submissions matching the optional filters, newest first.
func (r *SubmissionRepository) List(ctx context.Context, requesterID, kind, status *string, limit, offset int) ([]*approval.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM hr_submissions
		WHERE deleted_at IS NULL
		  AND ($1::text IS NULL OR requester_id = $1)
		  AND ($2::text IS NULL OR kind = $2::hr_submission_kind)
		  AND ($3::text IS NULL OR status = $3::hr_submission_status)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.db.Query(ctx, query, requesterID, kind, status, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list submissions")
	}
	defer rows.Close()

	var subs []*approval.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan submission")
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SoftDelete marks a pending submission deleted. Only the requester or an
// admin may delete; terminal submissions cannot be deleted. Historical steps
// are left untouched; they become unreachable through normal queries once
// the submission is marked.
func (r *SubmissionRepository) SoftDelete(ctx context.Context, id string, actor approval.Actor) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		sub, err := lockSubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.Status.Terminal() {
			return apperr.Conflict(fmt.Sprintf("submission %s is %s and can no longer be deleted", id, sub.Status))
		}
		if sub.RequesterID != actor.UserID && !actor.IsAdmin() {
			return apperr.Forbidden("only the requester or an admin may delete a submission")
		}

		_, err = tx.Exec(ctx, `
			UPDATE hr_submissions
			SET deleted_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, id)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to delete submission")
		}
		return nil
	})
}

// ReplaceChain reconciles the persisted chain with a validated desired chain
// in one transaction: lock the submission, refuse terminal submissions and
// frozen chains, compute the diff against the current live steps, and apply
// it. Returns the resulting chain ordered by level.
func (r *SubmissionRepository) ReplaceChain(ctx context.Context, submissionID string, desired []approval.ChainEntry) ([]*approval.Step, error) {
	var result []*approval.Step

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		sub, err := lockSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if sub.Status.Terminal() {
			return apperr.Conflict(fmt.Sprintf("submission %s is %s; its chain can no longer be edited", submissionID, sub.Status))
		}

		existing, err := r.liveSteps(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if approval.AnyDecided(existing) {
			return apperr.Conflict("chain is frozen: at least one step has already been decided")
		}

		diff, err := approval.ComputeChainDiff(existing, desired)
		if err != nil {
			return apperr.Validation(err.Error())
		}
		if err := applyChainDiff(ctx, tx, submissionID, diff); err != nil {
			return err
		}

		result, err = r.liveSteps(ctx, tx, submissionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DecideStep applies one approver decision in a single transaction: lock the
// owning submission, re-check that both submission and step are still
// pending, verify the actor is the designated approver, write the decision
// and recompute the aggregate from the full step set. Exactly one concurrent
// caller can succeed per step; the rest receive Conflict.
func (r *SubmissionRepository) DecideStep(
	ctx context.Context,
	stepID string,
	actor approval.Actor,
	decision approval.Decision,
	note *string,
) (*approval.Step, *approval.Submission, error) {
	var (
		step *approval.Step
		sub  *approval.Submission
	)

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		// Lock the submission row through the step join so every decision
		// and reconcile on this submission serializes on the same lock.
		query := `
			SELECT st.id, st.submission_id, st.level, st.approver_user_id, st.approver_role,
			       st.decision, st.decided_by, st.decided_at, st.note,
			       st.created_at, st.updated_at,
			       s.id, s.requester_id, s.kind, s.status, s.current_approved_level,
			       s.start_date, s.end_date, s.reason, s.payload,
			       s.deleted_at, s.created_at, s.updated_at
			FROM hr_approval_steps st
			JOIN hr_submissions s ON s.id = st.submission_id
			WHERE st.id = $1
			  AND st.deleted_at IS NULL
			  AND s.deleted_at IS NULL
			FOR UPDATE OF s
		`

		var err error
		step, sub, err = scanStepWithSubmission(tx.QueryRow(ctx, query, stepID))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("approval step", stepID)
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to load approval step")
		}

		if sub.Status.Terminal() {
			return apperr.Conflict(fmt.Sprintf("submission %s is already %s", sub.ID, sub.Status))
		}
		if step.Decision != approval.DecisionPending {
			return apperr.Conflict(fmt.Sprintf("step %s is already %s", stepID, step.Decision))
		}
		if !approval.CanDecide(step, actor) {
			return apperr.Forbidden("user is not the designated approver for this step")
		}

		if err := applyDecision(ctx, tx, step, actor, decision, note); err != nil {
			return err
		}

		steps, err := r.liveSteps(ctx, tx, sub.ID)
		if err != nil {
			return err
		}

		status, level := approval.Aggregate(r.policy, steps)
		err = tx.QueryRow(ctx, `
			UPDATE hr_submissions
			SET status                 = $2::hr_submission_status,
			    current_approved_level = $3,
			    updated_at             = NOW()
			WHERE id = $1
			RETURNING updated_at
		`, sub.ID, status, level).Scan(&sub.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to update submission status")
		}
		sub.Status = status
		sub.CurrentApprovedLevel = level

		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return step, sub, nil
}

// ── transaction helpers ──────────────────────────────────────────────────────

// querier is satisfied by both *database.DB and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// rowQuerier is satisfied by both *database.DB and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// applyDecision writes one decision with a pending guard in the WHERE clause.
// FOR UPDATE OF s locks only the submission row, so a transaction resuming
// after a competing commit can still see the step's pre-commit pending tuple;
// the guard makes the step transition single-shot regardless. An empty
// RETURNING means another caller decided the step first.
func applyDecision(ctx context.Context, q rowQuerier, step *approval.Step, actor approval.Actor, decision approval.Decision, note *string) error {
	err := q.QueryRow(ctx, `
		UPDATE hr_approval_steps
		SET decision   = $2::hr_step_decision,
		    decided_by = $3,
		    decided_at = NOW(),
		    note       = $4,
		    updated_at = NOW()
		WHERE id = $1
		  AND decision = 'pending'::hr_step_decision
		RETURNING decided_at, updated_at
	`, step.ID, decision, actor.UserID, note).Scan(&step.DecidedAt, &step.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict(fmt.Sprintf("step %s was decided by another request", step.ID))
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to record decision")
	}
	step.Decision = decision
	step.DecidedBy = &actor.UserID
	step.Note = note
	return nil
}

// lockSubmission loads a live submission under FOR UPDATE.
func lockSubmission(ctx context.Context, tx pgx.Tx, id string) (*approval.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM hr_submissions
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`

	sub, err := scanSubmission(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("submission", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to lock submission")
	}
	return sub, nil
}

// liveSteps returns the non-deleted steps of a submission ordered by level.
func (r *SubmissionRepository) liveSteps(ctx context.Context, q querier, submissionID string) ([]*approval.Step, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM hr_approval_steps
		WHERE submission_id = $1 AND deleted_at IS NULL
		ORDER BY level ASC
	`

	rows, err := q.Query(ctx, query, submissionID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load approval steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// insertSteps creates pending steps for the given chain entries.
func insertSteps(ctx context.Context, tx pgx.Tx, submissionID string, entries []approval.ChainEntry) ([]*approval.Step, error) {
	query := `
		INSERT INTO hr_approval_steps
		    (submission_id, level, approver_user_id, approver_role, decision)
		VALUES ($1, $2, $3, $4, 'pending'::hr_step_decision)
		RETURNING ` + stepColumns

	steps := make([]*approval.Step, 0, len(entries))
	for _, e := range entries {
		step, err := scanStep(tx.QueryRow(ctx, query, submissionID, e.Level, e.ApproverUserID, e.ApproverRole))
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to create approval step")
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// applyChainDiff applies deletes, updates and creates in that order. Updates
// run in two phases (levels are first moved to their negated values) so
// level swaps between surviving steps never trip the partial unique index
// mid-transaction.
func applyChainDiff(ctx context.Context, tx pgx.Tx, submissionID string, diff approval.ChainDiff) error {
	for _, s := range diff.Delete {
		_, err := tx.Exec(ctx, `
			UPDATE hr_approval_steps
			SET deleted_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, s.ID)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to delete approval step")
		}
	}

	for _, u := range diff.Update {
		_, err := tx.Exec(ctx, `
			UPDATE hr_approval_steps SET level = -level WHERE id = $1
		`, u.Step.ID)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to stage approval step update")
		}
	}
	for _, u := range diff.Update {
		_, err := tx.Exec(ctx, `
			UPDATE hr_approval_steps
			SET level            = $2,
			    approver_user_id = $3,
			    approver_role    = $4,
			    decision         = 'pending'::hr_step_decision,
			    decided_by       = NULL,
			    decided_at       = NULL,
			    note             = NULL,
			    updated_at       = NOW()
			WHERE id = $1
		`, u.Step.ID, u.Level, u.ApproverUserID, u.ApproverRole)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to update approval step")
		}
	}

	_, err := insertSteps(ctx, tx, submissionID, diff.Create)
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*approval.Submission, error) {
	sub := &approval.Submission{}
	var payload []byte
	err := row.Scan(
		&sub.ID,
		&sub.RequesterID,
		&sub.Kind,
		&sub.Status,
		&sub.CurrentApprovedLevel,
		&sub.StartDate,
		&sub.EndDate,
		&sub.Reason,
		&payload,
		&sub.DeletedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalPayload(payload, &sub.Payload); err != nil {
		return nil, err
	}
	return sub, nil
}

func scanStep(row rowScanner) (*approval.Step, error) {
	s := &approval.Step{}
	err := row.Scan(
		&s.ID,
		&s.SubmissionID,
		&s.Level,
		&s.ApproverUserID,
		&s.ApproverRole,
		&s.Decision,
		&s.DecidedBy,
		&s.DecidedAt,
		&s.Note,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanSteps(rows pgx.Rows) ([]*approval.Step, error) {
	var steps []*approval.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func scanStepWithSubmission(row rowScanner) (*approval.Step, *approval.Submission, error) {
	s := &approval.Step{}
	sub := &approval.Submission{}
	var payload []byte
	err := row.Scan(
		&s.ID,
		&s.SubmissionID,
		&s.Level,
		&s.ApproverUserID,
		&s.ApproverRole,
		&s.Decision,
		&s.DecidedBy,
		&s.DecidedAt,
		&s.Note,
		&s.CreatedAt,
		&s.UpdatedAt,
		&sub.ID,
		&sub.RequesterID,
		&sub.Kind,
		&sub.Status,
		&sub.CurrentApprovedLevel,
		&sub.StartDate,
		&sub.EndDate,
		&sub.Reason,
		&payload,
		&sub.DeletedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, nil, err
	}
	if err := unmarshalPayload(payload, &sub.Payload); err != nil {
		return nil, nil, err
	}
	return s, sub, nil
}

func marshalPayload(payload map[string]interface{}) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to marshal submission payload")
	}
	return data, nil
}

func unmarshalPayload(data []byte, dest *map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal submission payload")
	}
	return nil
}
