package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-hr-approvals/internal/apperr"
	"github.com/pesio-ai/be-hr-approvals/internal/approval"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-hr-approvals/internal/service"
)

// HTTPHandler handles HTTP requests. The acting identity arrives in the
// X-User-ID / X-User-Role headers, set by the platform gateway after session
// verification.
type HTTPHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc *service.ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{service: svc, log: log}
}

// CreateSubmission handles POST /api/v1/submissions.
func (h *HTTPHandler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req service.CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	req.RequesterID = actor.UserID

	sub, steps, err := h.service.CreateSubmission(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"submission": sub,
		"steps":      steps,
	})
}

// GetSubmission handles GET /api/v1/submissions/get?id=.
func (h *HTTPHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, r, apperr.Validation("id is required"))
		return
	}

	sub, steps, err := h.service.GetSubmission(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"submission": sub,
		"steps":      steps,
	})
}

// ListSubmissions handles GET /api/v1/submissions.
func (h *HTTPHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	requesterID := optionalQuery(r, "requester_id")

	kind := optionalQuery(r, "kind")
	if kind != nil {
		k, err := approval.ParseKind(*kind)
		if err != nil {
			h.writeError(w, r, apperr.Validation(err.Error()))
			return
		}
		v := string(k)
		kind = &v
	}

	status := optionalQuery(r, "status")
	if status != nil {
		st, err := approval.ParseStatus(*status)
		if err != nil {
			h.writeError(w, r, apperr.Validation(err.Error()))
			return
		}
		v := string(st)
		status = &v
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	subs, err := h.service.ListSubmissions(r.Context(), requesterID, kind, status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": subs,
		"limit":       limit,
		"offset":      offset,
	})
}

// ReplaceChain handles PUT /api/v1/submissions/chain.
func (h *HTTPHandler) ReplaceChain(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		SubmissionID string                 `json:"submission_id"`
		Chain        []approval.DesiredStep `json:"chain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	if req.SubmissionID == "" {
		h.writeError(w, r, apperr.Validation("submission_id is required"))
		return
	}

	steps, err := h.service.ReplaceChain(r.Context(), req.SubmissionID, actor, req.Chain)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

// GetStep handles GET /api/v1/steps/get?id=.
func (h *HTTPHandler) GetStep(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, r, apperr.Validation("id is required"))
		return
	}

	step, err := h.service.GetStep(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"step": step})
}

// DecideStep handles POST /api/v1/steps/decide.
func (h *HTTPHandler) DecideStep(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		StepID           string  `json:"step_id"`
		Decision         string  `json:"decision"`
		Note             *string `json:"note,omitempty"`
		ReturnPatternRef *string `json:"return_pattern_ref,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	if req.StepID == "" {
		h.writeError(w, r, apperr.Validation("step_id is required"))
		return
	}

	result, err := h.service.DecideStep(r.Context(), &service.DecideStepRequest{
		StepID:           req.StepID,
		Actor:            actor,
		Decision:         req.Decision,
		Note:             req.Note,
		ReturnPatternRef: req.ReturnPatternRef,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// DeleteSubmission handles DELETE /api/v1/submissions/delete?id=.
func (h *HTTPHandler) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, r, apperr.Validation("id is required"))
		return
	}

	if err := h.service.DeleteSubmission(r.Context(), id, actor); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PendingApprovals handles GET /api/v1/approvals/pending.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	steps, err := h.service.GetPendingApprovals(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

// AuditTrail handles GET /api/v1/submissions/audit?id=.
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, r, apperr.Validation("id is required"))
		return
	}

	entries, err := h.service.GetAuditTrail(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ── helpers ───────────────────────────────────────────────────────────────────

// actor extracts the acting identity from the gateway headers, writing a 401
// when no user id is present.
func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (approval.Actor, bool) {
	actor := approval.Actor{
		UserID: r.Header.Get("X-User-ID"),
		Role:   r.Header.Get("X-User-Role"),
	}
	if actor.UserID == "" {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return approval.Actor{}, false
	}
	return actor, true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	body := map[string]interface{}{
		"error": err.Error(),
		"code":  apperr.CodeOf(err),
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}

	h.writeJSON(w, status, body)
}

func optionalQuery(r *http.Request, key string) *string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	return &v
}
