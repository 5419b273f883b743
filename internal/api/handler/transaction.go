package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/branch-transactions/internal/api/problem"
	"github.com/ayo6706/branch-transactions/internal/confirmation"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/wizard"
	"github.com/go-chi/chi/v5"
)

// TransactionHandler serves the confirmation screen of submitted transactions.
type TransactionHandler struct {
	controller *confirmation.Controller
	registry   *wizard.Registry
}

func NewTransactionHandler(controller *confirmation.Controller, registry *wizard.Registry) *TransactionHandler {
	return &TransactionHandler{controller: controller, registry: registry}
}

type cancelRequest struct {
	Confirmed bool `json:"confirmed"`
}

// respondConfirmationError adds the redirect or refreshed view the controller
// attaches to its state errors.
func respondConfirmationError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *confirmation.InvalidStateError
	if errors.As(err, &invalid) {
		RespondProblem(w, r, http.StatusConflict, "confirmation/invalid-state", err.Error(),
			problem.Extensions{Redirect: invalid.Redirect})
		return
	}
	var stateErr *confirmation.StateError
	if errors.As(err, &stateErr) {
		RespondProblem(w, r, http.StatusConflict, "confirmation/not-cancellable", err.Error(),
			problem.Extensions{Current: stateErr.View})
		return
	}
	respondServiceError(w, r, err, nil)
}

// carried returns the record held by the caller's finished wizard, if the
// client named one with ?session=.
func (h *TransactionHandler) carried(r *http.Request, owner string) *models.TransactionRecord {
	id := r.URL.Query().Get("session")
	if id == "" || h.registry == nil {
		return nil
	}
	s, err := h.registry.Get(id, owner)
	if err != nil {
		return nil
	}
	return s.Result()
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	who, err := requestActor(r)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	t, err := parseType(chi.URLParam(r, "type"))
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	view, err := h.controller.Load(r.Context(), t, chi.URLParam(r, "id"), h.carried(r, who.UserID))
	if err != nil {
		respondConfirmationError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

func (h *TransactionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	t, err := parseType(chi.URLParam(r, "type"))
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	res, err := h.controller.Cancel(r.Context(), t, chi.URLParam(r, "id"), req.Confirmed)
	if err != nil {
		respondConfirmationError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// Update opens an update-mode wizard on a pending record. The new session is
// driven through the wizard routes.
func (h *TransactionHandler) Update(w http.ResponseWriter, r *http.Request) {
	who, err := requestActor(r)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	t, err := parseType(chi.URLParam(r, "type"))
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	s, err := h.controller.Update(r.Context(), t, chi.URLParam(r, "id"), who.UserID)
	if err != nil {
		respondConfirmationError(w, r, err)
		return
	}
	h.registry.Add(s)
	RespondJSON(w, http.StatusCreated, s.View())
}
