package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/service"
	"github.com/ayo6706/branch-transactions/internal/wizard"
	"github.com/go-chi/chi/v5"
)

// WizardHandler exposes wizard sessions. Every session belongs to the user who
// opened it; other users get 404.
type WizardHandler struct {
	factory  *wizard.Factory
	registry *wizard.Registry
}

func NewWizardHandler(factory *wizard.Factory, registry *wizard.Registry) *WizardHandler {
	return &WizardHandler{factory: factory, registry: registry}
}

type createWizardRequest struct {
	Type        string `json:"type" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,phone"`
}

type fieldValue struct {
	Field string `json:"field" validate:"required"`
	Value string `json:"value"`
}

type setFieldsRequest struct {
	Fields []fieldValue `json:"fields" validate:"required,min=1,dive"`
}

type setFieldsResponse struct {
	View   wizard.View        `json:"view"`
	Inline domain.FieldErrors `json:"inline_errors,omitempty"`
}

type debitAccountRequest struct {
	AccountNumber string `json:"account_number" validate:"required"`
}

type signatureRequest struct {
	SignerName string `json:"signer_name" validate:"required,max=120"`
	Data       string `json:"data" validate:"required"`
}

type submitRequest struct {
	OTPCode string `json:"otp_code" validate:"required"`
}

type verifyResponse struct {
	Resolution service.Resolution `json:"resolution"`
	View       wizard.View        `json:"view"`
}

func parseType(raw string) (domain.TransactionType, error) {
	t, err := domain.ParseTransactionType(raw)
	if err != nil {
		return "", models.FieldValidationError(domain.Field("type"), err)
	}
	return t, nil
}

// session resolves {id} for the caller and writes the error response itself.
func (h *WizardHandler) session(w http.ResponseWriter, r *http.Request) (*wizard.Sequencer, bool) {
	who, err := requestActor(r)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return nil, false
	}
	s, err := h.registry.Get(chi.URLParam(r, "id"), who.UserID)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return nil, false
	}
	return s, true
}

func (h *WizardHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, err := requestActor(r)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	var req createWizardRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	t, err := parseType(req.Type)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}

	// Customers always act on their own phone; staff may open a wizard for a
	// walk-in customer by naming the phone.
	var s *wizard.Sequencer
	if who.Phone != "" {
		s, err = h.factory.NewForCustomer(who.UserID, who.Phone, t)
	} else {
		s, err = h.factory.New(who.UserID, req.PhoneNumber, t)
	}
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	h.registry.Add(s)
	RespondJSON(w, http.StatusCreated, s.View())
}

func (h *WizardHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, s.View())
}

func (h *WizardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	who, err := requestActor(r)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	if err := h.registry.Remove(chi.URLParam(r, "id"), who.UserID); err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetFields applies values in order. Inline errors do not fail the request;
// they come back alongside the view so the client can mark the fields.
func (h *WizardHandler) SetFields(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req setFieldsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}

	var inline domain.FieldErrors
	for _, fv := range req.Fields {
		fe, err := s.SetField(domain.Field(fv.Field), fv.Value)
		if err != nil {
			respondServiceError(w, r, err, s.View())
			return
		}
		if fe != nil {
			inline = append(inline, *fe)
		}
	}
	RespondJSON(w, http.StatusOK, setFieldsResponse{View: s.View(), Inline: inline})
}

func (h *WizardHandler) SelectDebitAccount(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req debitAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	view, err := s.SelectDebitAccount(r.Context(), req.AccountNumber)
	if err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

func (h *WizardHandler) VerifyCreditAccount(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := s.VerifyCreditAccount(r.Context())
	if err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	RespondJSON(w, http.StatusOK, verifyResponse{Resolution: res, View: s.View()})
}

func (h *WizardHandler) AddSignature(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req signatureRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	view, err := s.AddSignature(models.Signature{SignerName: req.SignerName, Data: req.Data})
	if err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	RespondJSON(w, http.StatusCreated, view)
}

func (h *WizardHandler) RemoveSignature(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondServiceError(w, r, fmt.Errorf("%w: %v", wizard.ErrSignatureIndex, err), s.View())
		return
	}
	view, err := s.RemoveSignature(index)
	if err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

func (h *WizardHandler) Continue(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.Continue(r.Context())
	if err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

func (h *WizardHandler) Back(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.Back()
	if err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

func (h *WizardHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.ResendOTP(r.Context())
	if err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

func (h *WizardHandler) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	view, err := s.Submit(r.Context(), req.OTPCode)
	if err != nil {
		respondServiceError(w, r, err, s.View())
		return
	}
	RespondJSON(w, http.StatusOK, view)
}
