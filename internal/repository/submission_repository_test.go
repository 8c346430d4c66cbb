package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-approvals/internal/apperr"
	"github.com/pesio-ai/be-hr-approvals/internal/approval"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeRowQuerier struct {
	row  pgx.Row
	sql  string
	args []any
}

func (q *fakeRowQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.sql = sql
	q.args = args
	return q.row
}

func pendingStep(id string) *approval.Step {
	return &approval.Step{ID: id, SubmissionID: "sub-1", Level: 1, Decision: approval.DecisionPending}
}

func TestApplyDecision_UpdatesOnlyPendingRows(t *testing.T) {
	q := &fakeRowQuerier{row: fakeRow{scan: func(dest ...any) error { return nil }}}
	step := pendingStep("step-1")

	err := applyDecision(context.Background(), q, step, approval.Actor{UserID: "mgr-1"}, approval.DecisionApproved, nil)
	require.NoError(t, err)

	// The WHERE clause must carry the pending guard: the locking SELECT in
	// DecideStep locks the submission row only, so a waiter resuming after a
	// competing commit can pass the in-memory re-check on a stale step tuple.
	assert.Contains(t, q.sql, `AND decision = 'pending'::hr_step_decision`)
	require.Len(t, q.args, 4)
	assert.Equal(t, "step-1", q.args[0])
	assert.Equal(t, approval.DecisionApproved, q.args[1])
	assert.Equal(t, "mgr-1", q.args[2])
}

func TestApplyDecision_LostRaceIsConflict(t *testing.T) {
	q := &fakeRowQuerier{row: fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}}
	step := pendingStep("step-1")

	err := applyDecision(context.Background(), q, step, approval.Actor{UserID: "mgr-2"}, approval.DecisionRejected, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict))

	// The loser must not mutate the in-memory step.
	assert.Equal(t, approval.DecisionPending, step.Decision)
	assert.Nil(t, step.DecidedBy)
}

func TestApplyDecision_QueryFailureIsInternal(t *testing.T) {
	q := &fakeRowQuerier{row: fakeRow{scan: func(dest ...any) error { return fmt.Errorf("connection reset") }}}
	step := pendingStep("step-1")

	err := applyDecision(context.Background(), q, step, approval.Actor{UserID: "mgr-1"}, approval.DecisionApproved, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeInternal))
	assert.Equal(t, approval.DecisionPending, step.Decision)
}

func TestApplyDecision_WinnerCarriesActorAndNote(t *testing.T) {
	q := &fakeRowQuerier{row: fakeRow{scan: func(dest ...any) error { return nil }}}
	step := pendingStep("step-1")
	note := "looks fine"

	err := applyDecision(context.Background(), q, step, approval.Actor{UserID: "hr-1"}, approval.DecisionApproved, &note)
	require.NoError(t, err)

	assert.Equal(t, approval.DecisionApproved, step.Decision)
	require.NotNil(t, step.DecidedBy)
	assert.Equal(t, "hr-1", *step.DecidedBy)
	require.NotNil(t, step.Note)
	assert.Equal(t, "looks fine", *step.Note)
}
