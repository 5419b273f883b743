package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/service"
)

var errForeignPhone = fmt.Errorf("customers may only list their own accounts: %w", models.ErrAuthorization)

// ReferenceHandler serves the lookups forms are filled from: exchange rates
// and the caller's accounts.
type ReferenceHandler struct {
	rates    *service.ExchangeRateService
	accounts *service.AccountDirectory
}

func NewReferenceHandler(rates *service.ExchangeRateService, accounts *service.AccountDirectory) *ReferenceHandler {
	return &ReferenceHandler{rates: rates, accounts: accounts}
}

type accountsResponse struct {
	PhoneNumber string           `json:"phone_number"`
	Accounts    []models.Account `json:"accounts"`
}

type preferredResponse struct {
	Account *models.Account `json:"account"`
}

// phoneFor returns the phone whose accounts are listed. Customer tokens carry
// their phone; staff name the walk-in customer with ?phone=.
func phoneFor(r *http.Request) (string, error) {
	who, err := requestActor(r)
	if err != nil {
		return "", err
	}
	requested := strings.TrimSpace(r.URL.Query().Get("phone"))
	if who.Phone != "" {
		if requested != "" && requested != who.Phone {
			return "", errForeignPhone
		}
		return who.Phone, nil
	}
	if err := domain.ValidatePhone(requested); err != nil {
		return "", models.FieldValidationError(domain.FieldPhone, err)
	}
	return requested, nil
}

func (h *ReferenceHandler) ExchangeRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.rates.Rates(r.Context())
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	RespondJSON(w, http.StatusOK, rates)
}

func (h *ReferenceHandler) Accounts(w http.ResponseWriter, r *http.Request) {
	phone, err := phoneFor(r)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	accounts, err := h.accounts.Accounts(r.Context(), phone)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	RespondJSON(w, http.StatusOK, accountsResponse{PhoneNumber: phone, Accounts: accounts})
}

func (h *ReferenceHandler) PreferredAccount(w http.ResponseWriter, r *http.Request) {
	phone, err := phoneFor(r)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	acct, err := h.accounts.Preferred(r.Context(), phone)
	if err != nil {
		respondServiceError(w, r, err, nil)
		return
	}
	RespondJSON(w, http.StatusOK, preferredResponse{Account: acct})
}
