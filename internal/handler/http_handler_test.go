package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-approvals/internal/apperr"
	"github.com/pesio-ai/be-hr-approvals/internal/approval"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-hr-approvals/internal/repository"
	"github.com/pesio-ai/be-hr-approvals/internal/service"
)

// memStore is a minimal in-memory SubmissionStore / StepsStore for transport
// tests. Behavior below the service boundary is covered in internal/service
// and internal/approval; here we only need enough state for happy paths and
// coded errors to reach the wire.
type memStore struct {
	nextID int
	subs   map[string]*approval.Submission
	steps  map[string][]*approval.Step
}

func newMemStore() *memStore {
	return &memStore{
		subs:  make(map[string]*approval.Submission),
		steps: make(map[string][]*approval.Step),
	}
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStore) Create(ctx context.Context, sub *approval.Submission, entries []approval.ChainEntry) ([]*approval.Step, error) {
	sub.ID = m.id("sub")
	sub.Status = approval.StatusPending
	m.subs[sub.ID] = sub

	var steps []*approval.Step
	for _, e := range entries {
		steps = append(steps, &approval.Step{
			ID:             m.id("step"),
			SubmissionID:   sub.ID,
			Level:          e.Level,
			ApproverUserID: e.ApproverUserID,
			ApproverRole:   e.ApproverRole,
			Decision:       approval.DecisionPending,
		})
	}
	m.steps[sub.ID] = steps
	return steps, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*approval.Submission, []*approval.Step, error) {
	sub, ok := m.subs[id]
	if !ok {
		return nil, nil, apperr.NotFound("submission", id)
	}
	return sub, m.steps[id], nil
}

func (m *memStore) List(ctx context.Context, requesterID, kind, status *string, limit, offset int) ([]*approval.Submission, error) {
	var out []*approval.Submission
	for _, sub := range m.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (m *memStore) SoftDelete(ctx context.Context, id string, actor approval.Actor) error {
	sub, ok := m.subs[id]
	if !ok {
		return apperr.NotFound("submission", id)
	}
	if sub.RequesterID != actor.UserID && !actor.IsAdmin() {
		return apperr.Forbidden("only the requester or an admin may delete a submission")
	}
	delete(m.subs, id)
	return nil
}

func (m *memStore) ReplaceChain(ctx context.Context, submissionID string, desired []approval.ChainEntry) ([]*approval.Step, error) {
	if _, ok := m.subs[submissionID]; !ok {
		return nil, apperr.NotFound("submission", submissionID)
	}
	var steps []*approval.Step
	for _, e := range desired {
		steps = append(steps, &approval.Step{
			ID:             m.id("step"),
			SubmissionID:   submissionID,
			Level:          e.Level,
			ApproverUserID: e.ApproverUserID,
			ApproverRole:   e.ApproverRole,
			Decision:       approval.DecisionPending,
		})
	}
	m.steps[submissionID] = steps
	return steps, nil
}

func (m *memStore) DecideStep(ctx context.Context, stepID string, actor approval.Actor, decision approval.Decision, note *string) (*approval.Step, *approval.Submission, error) {
	for subID, steps := range m.steps {
		for _, s := range steps {
			if s.ID != stepID {
				continue
			}
			if s.Decision != approval.DecisionPending {
				return nil, nil, apperr.Conflict("step is already decided")
			}
			if !approval.CanDecide(s, actor) {
				return nil, nil, apperr.Forbidden("user is not the designated approver for this step")
			}
			now := time.Now()
			s.Decision = decision
			s.DecidedBy = &actor.UserID
			s.DecidedAt = &now
			s.Note = note

			sub := m.subs[subID]
			status, level := approval.Aggregate(approval.PolicyAnyApproval, steps)
			sub.Status = status
			sub.CurrentApprovedLevel = level
			return s, sub, nil
		}
	}
	return nil, nil, apperr.NotFound("approval step", stepID)
}

func (m *memStore) GetPendingForApprover(ctx context.Context, actor approval.Actor) ([]*approval.Step, error) {
	var out []*approval.Step
	for _, steps := range m.steps {
		for _, s := range steps {
			if s.Decision == approval.DecisionPending && approval.CanDecide(s, actor) {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// memSteps serves step-level reads over the same state; its GetByID shadows
// the promoted submission lookup.
type memSteps struct {
	*memStore
}

func (m *memSteps) GetByID(ctx context.Context, id string) (*approval.Step, error) {
	for _, steps := range m.steps {
		for _, s := range steps {
			if s.ID == id {
				return s, nil
			}
		}
	}
	return nil, apperr.NotFound("approval step", id)
}

type memAudit struct {
	entries []*repository.AuditEntry
}

func (m *memAudit) Append(ctx context.Context, entry *repository.AuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) GetBySubmissionID(ctx context.Context, submissionID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range m.entries {
		if e.SubmissionID == submissionID {
			out = append(out, e)
		}
	}
	return out, nil
}

type allowAllDirectory struct{}

func (allowAllDirectory) ResolveExisting(ctx context.Context, userIDs []string) ([]string, error) {
	return userIDs, nil
}

type noopNotifier struct{}

func (noopNotifier) PublishSubmissionEvent(ctx context.Context, eventType string, event approval.DecisionEvent) {
}

type noopSchedule struct{}

func (noopSchedule) UpsertReturnToWork(ctx context.Context, userID string, date time.Time, patternRef *string) error {
	return nil
}

func newTestHandler(t *testing.T) (*HTTPHandler, *memStore) {
	t.Helper()

	log := &logger.Logger{Logger: zerolog.Nop()}
	store := newMemStore()
	dispatcher := service.NewSideEffectDispatcher(noopNotifier{}, 16, log)
	t.Cleanup(dispatcher.Close)

	svc := service.NewApprovalService(store, &memSteps{store}, &memAudit{}, allowAllDirectory{}, noopSchedule{}, dispatcher, log)
	return NewHTTPHandler(svc, log), store
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target, userID, role, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCreateSubmission_RequiresIdentity(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.CreateSubmission, http.MethodPost, "/api/v1/submissions", "", "", `{"kind":"day_swap"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication required", decodeBody(t, rec)["error"])
}

func TestCreateSubmission_InvalidBody(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.CreateSubmission, http.MethodPost, "/api/v1/submissions", "emp-1", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSubmission_ValidationDetailsOnTheWire(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.CreateSubmission, http.MethodPost, "/api/v1/submissions", "emp-1", "",
		`{"kind":"leave","chain":[{"level":0}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "VALIDATION", body["code"])
	details, ok := body["details"].([]interface{})
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(details), 3) // dates, level, approver
}

func TestCreateSubmission_RequesterComesFromHeaderNotBody(t *testing.T) {
	h, store := newTestHandler(t)

	rec := doJSON(t, h.CreateSubmission, http.MethodPost, "/api/v1/submissions", "emp-1", "",
		`{"requester_id":"someone-else","kind":"day_swap","chain":[{"level":1,"approver_role":"manager"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	sub := body["submission"].(map[string]interface{})
	assert.Equal(t, "emp-1", sub["requester_id"])
	assert.Equal(t, "pending", sub["status"])

	steps := body["steps"].([]interface{})
	require.Len(t, steps, 1)
	assert.Equal(t, "MANAGER", steps[0].(map[string]interface{})["approver_role"])

	require.Len(t, store.subs, 1)
}

func TestGetSubmission(t *testing.T) {
	h, store := newTestHandler(t)
	sub := &approval.Submission{RequesterID: "emp-1", Kind: approval.KindDaySwap}
	_, err := store.Create(context.Background(), sub, []approval.ChainEntry{{Level: 1}})
	require.NoError(t, err)

	rec := doJSON(t, h.GetSubmission, http.MethodGet, "/api/v1/submissions/get?id="+sub.ID, "emp-1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.GetSubmission, http.MethodGet, "/api/v1/submissions/get?id=missing", "emp-1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["code"])

	rec = doJSON(t, h.GetSubmission, http.MethodGet, "/api/v1/submissions/get", "emp-1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecideStep_StatusMapping(t *testing.T) {
	h, store := newTestHandler(t)
	sub := &approval.Submission{RequesterID: "emp-1", Kind: approval.KindDaySwap}
	mgr := "mgr-1"
	steps, err := store.Create(context.Background(), sub, []approval.ChainEntry{{Level: 1, ApproverUserID: &mgr}})
	require.NoError(t, err)
	stepID := steps[0].ID

	// Wrong approver.
	rec := doJSON(t, h.DecideStep, http.MethodPost, "/api/v1/steps/decide", "intruder", "",
		fmt.Sprintf(`{"step_id":%q,"decision":"approved"}`, stepID))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Designated approver approves.
	rec = doJSON(t, h.DecideStep, http.MethodPost, "/api/v1/steps/decide", "mgr-1", "",
		fmt.Sprintf(`{"step_id":%q,"decision":"approved","note":"ok"}`, stepID))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	result := body["submission"].(map[string]interface{})
	assert.Equal(t, "approved", result["status"])
	assert.Equal(t, float64(1), result["current_approved_level"])

	// Second decision conflicts.
	rec = doJSON(t, h.DecideStep, http.MethodPost, "/api/v1/steps/decide", "mgr-1", "",
		fmt.Sprintf(`{"step_id":%q,"decision":"rejected"}`, stepID))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeBody(t, rec)["code"])
}

func TestReplaceChain_MissingSubmissionID(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.ReplaceChain, http.MethodPut, "/api/v1/submissions/chain", "emp-1", "",
		`{"chain":[{"level":1,"approver_role":"hr"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteSubmission(t *testing.T) {
	h, store := newTestHandler(t)
	sub := &approval.Submission{RequesterID: "emp-1", Kind: approval.KindDaySwap}
	_, err := store.Create(context.Background(), sub, []approval.ChainEntry{{Level: 1}})
	require.NoError(t, err)

	rec := doJSON(t, h.DeleteSubmission, http.MethodDelete, "/api/v1/submissions/delete?id="+sub.ID, "stranger", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h.DeleteSubmission, http.MethodDelete, "/api/v1/submissions/delete?id="+sub.ID, "emp-1", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.subs)
}

func TestPendingApprovals(t *testing.T) {
	h, store := newTestHandler(t)
	sub := &approval.Submission{RequesterID: "emp-1", Kind: approval.KindDaySwap}
	hr := approval.RoleHR
	_, err := store.Create(context.Background(), sub, []approval.ChainEntry{{Level: 1, ApproverRole: &hr}})
	require.NoError(t, err)

	rec := doJSON(t, h.PendingApprovals, http.MethodGet, "/api/v1/approvals/pending", "hr-1", "hr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	steps := decodeBody(t, rec)["steps"].([]interface{})
	assert.Len(t, steps, 1)

	rec = doJSON(t, h.PendingApprovals, http.MethodGet, "/api/v1/approvals/pending", "emp-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["steps"])
}

func TestListSubmissions_ClampsLimit(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.ListSubmissions, http.MethodGet, "/api/v1/submissions?limit=9999&offset=-3", "emp-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(50), body["limit"])
	assert.Equal(t, float64(0), body["offset"])
}

func TestListSubmissions_RejectsUnknownFilters(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.ListSubmissions, http.MethodGet, "/api/v1/submissions?kind=vacation", "emp-1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decodeBody(t, rec)["code"])

	rec = doJSON(t, h.ListSubmissions, http.MethodGet, "/api/v1/submissions?status=archived", "emp-1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Filters are canonicalized, not just validated.
	rec = doJSON(t, h.ListSubmissions, http.MethodGet, "/api/v1/submissions?kind=LEAVE&status=Pending", "emp-1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetStep(t *testing.T) {
	h, store := newTestHandler(t)
	sub := &approval.Submission{RequesterID: "emp-1", Kind: approval.KindDaySwap}
	mgr := "mgr-1"
	steps, err := store.Create(context.Background(), sub, []approval.ChainEntry{{Level: 1, ApproverUserID: &mgr}})
	require.NoError(t, err)

	rec := doJSON(t, h.GetStep, http.MethodGet, "/api/v1/steps/get?id="+steps[0].ID, "emp-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	step := decodeBody(t, rec)["step"].(map[string]interface{})
	assert.Equal(t, steps[0].ID, step["id"])
	assert.Equal(t, float64(1), step["level"])

	rec = doJSON(t, h.GetStep, http.MethodGet, "/api/v1/steps/get?id=step-none", "emp-1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h.GetStep, http.MethodGet, "/api/v1/steps/get", "emp-1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
