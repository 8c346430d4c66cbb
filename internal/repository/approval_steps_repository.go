package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-approvals/internal/apperr"
	"github.com/pesio-ai/be-hr-approvals/internal/approval"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/database"
)

// ApprovalStepsRepository handles reads on individual approval steps. All
// step mutations go through SubmissionRepository so they stay inside the
// submission's transaction boundary.
type ApprovalStepsRepository struct {
	db *database.DB
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db *database.DB) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

// GetByID returns a live step belonging to a live submission.
func (r *ApprovalStepsRepository) GetByID(ctx context.Context, id string) (*approval.Step, error) {
	query := `
		SELECT st.id, st.submission_id, st.level, st.approver_user_id, st.approver_role,
		       st.decision, st.decided_by, st.decided_at, st.note,
		       st.created_at, st.updated_at
		FROM hr_approval_steps st
		JOIN hr_submissions s ON s.id = st.submission_id
		WHERE st.id = $1
		  AND st.deleted_at IS NULL
		  AND s.deleted_at IS NULL
	`

	step, err := scanStep(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("approval step", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval step")
	}
	return step, nil
}

// GetPendingForApprover returns all pending steps the given actor may decide:
// steps naming their user id, plus steps naming a role they hold. Only steps
// of still-pending submissions are returned, oldest first.
func (r *ApprovalStepsRepository) GetPendingForApprover(ctx context.Context, actor approval.Actor) ([]*approval.Step, error) {
	var role *approval.Role
	if parsed, err := approval.ParseRole(actor.Role); err == nil {
		role = &parsed
	}

	query := `
		SELECT st.id, st.submission_id, st.level, st.approver_user_id, st.approver_role,
		       st.decision, st.decided_by, st.decided_at, st.note,
		       st.created_at, st.updated_at
		FROM hr_approval_steps st
		JOIN hr_submissions s ON s.id = st.submission_id
		WHERE st.deleted_at IS NULL
		  AND s.deleted_at IS NULL
		  AND st.decision = 'pending'
		  AND s.status = 'pending'
		  AND (st.approver_user_id = $1 OR ($2::text IS NOT NULL AND st.approver_role = $2))
		ORDER BY st.created_at ASC, st.level ASC
	`

	rows, err := r.db.Query(ctx, query, actor.UserID, role)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return scanSteps(rows)
}
