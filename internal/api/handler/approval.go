package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/service"
	"github.com/go-chi/chi/v5"
)

var errRoleMismatch = fmt.Errorf("requested queue does not match your role: %w", models.ErrAuthorization)

type ApprovalHandler struct {
	svc *service.ApprovalService
}

func NewApprovalHandler(svc *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

type decisionRequest struct {
	Action           string `json:"action" validate:"required,oneof=approve reject"`
	Reason           string `json:"reason" validate:"max=500"`
	DigitalSignature string `json:"digital_signature" validate:"required"`
}

type approvalListResponse struct {
	Role   string                    `json:"role"`
	Items  []models.ApprovalWorkflow `json:"items"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// queueRole picks the queue to list. The token decides; ?role= may only
// narrow an admin's view or restate the caller's own role.
func queueRole(tokenRole, requested string) (string, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	switch {
	case requested == "" || requested == tokenRole:
		return tokenRole, nil
	case tokenRole == domain.RoleAdmin && (requested == domain.RoleMaker || requested == domain.RoleManager):
		return requested, nil
	}
	return "", errRoleMismatch
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, models.FieldValidationError(domain.Field(name), fmt.Errorf("%s must be a non-negative integer", name))
	}
	return v, nil
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	who, err := requestActor(r)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	role, err := queueRole(who.Role, r.URL.Query().Get("role"))
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}

	items, err := h.svc.PendingForRole(r.Context(), role, limit, offset)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	RespondJSON(w, http.StatusOK, approvalListResponse{Role: role, Items: items, Limit: limit, Offset: offset})
}

func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.Workflow(r.Context(), chi.URLParam(r, "voucherId"))
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	RespondJSON(w, http.StatusOK, detail)
}

func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	who, err := requestActor(r)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, nil)
		return
	}

	res, err := h.svc.ProcessApproval(r.Context(), service.DecisionRequest{
		VoucherID:        chi.URLParam(r, "voucherId"),
		Action:           req.Action,
		ApprovedBy:       who.UserID,
		ApproverRole:     who.Role,
		Reason:           req.Reason,
		DigitalSignature: req.DigitalSignature,
	})
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
