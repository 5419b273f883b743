package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/shopspring/decimal"
)

// Backend is the core-banking REST API the service fronts.
type Backend interface {
	RequestOTP(ctx context.Context, phone string) (OTPResult, error)
	LookupAccount(ctx context.Context, accountNumber string) (*models.Account, error)
	ListAccounts(ctx context.Context, phone string) ([]models.Account, error)
	Submit(ctx context.Context, t domain.TransactionType, payload SubmitPayload) (*models.TransactionRecord, error)
	Update(ctx context.Context, t domain.TransactionType, id string, payload SubmitPayload) (*models.TransactionRecord, error)
	Cancel(ctx context.Context, t domain.TransactionType, id string) (*models.TransactionRecord, error)
	Get(ctx context.Context, t domain.TransactionType, id string) (*models.TransactionRecord, error)
	ExchangeRates(ctx context.Context) ([]models.ExchangeRate, error)
}

var (
	ErrNotFound     = fmt.Errorf("backend resource not found: %w", models.ErrNotFound)
	ErrOTPRejected  = fmt.Errorf("otp rejected by backend: %w", models.ErrVerificationFailed)
	ErrUnauthorized = fmt.Errorf("backend refused credentials: %w", models.ErrAuthorization)
	ErrUnavailable  = fmt.Errorf("backend unavailable: %w", models.ErrNetwork)
)

// RejectedError is a well-formed business rejection from the backend.
type RejectedError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend rejected request (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend rejected request (%d): %s", e.Status, e.Message)
}

// Unwrap classifies conflicts as workflow state errors and everything else as verification failures.
func (e *RejectedError) Unwrap() error {
	if e.Status == 409 {
		return models.ErrWorkflowState
	}
	return models.ErrVerificationFailed
}

// RejectionMessage extracts the backend's message from err, if any.
func RejectionMessage(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Message
	}
	return ""
}

type OTPResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SignaturePayload struct {
	SignatoryName string `json:"signatoryName"`
	SignatureData string `json:"signatureData"`
}

// SubmitPayload is the body of submit and update calls. Amount is always ETB.
type SubmitPayload struct {
	PhoneNumber              string             `json:"phoneNumber"`
	AccountNumber            string             `json:"accountNumber"`
	AccountHolderName        string             `json:"accountHolderName,omitempty"`
	BeneficiaryAccountNumber string             `json:"beneficiaryAccountNumber,omitempty"`
	BeneficiaryName          string             `json:"beneficiaryName,omitempty"`
	Amount                   json.Number        `json:"amount,omitempty"`
	Currency                 string             `json:"currency,omitempty"`
	OriginalAmount           json.Number        `json:"originalAmount,omitempty"`
	OriginalCurrency         string             `json:"originalCurrency,omitempty"`
	ExchangeRate             json.Number        `json:"exchangeRate,omitempty"`
	ChequeNumber             string             `json:"chequeNumber,omitempty"`
	Reason                   string             `json:"reason,omitempty"`
	StopPaymentID            string             `json:"stopPaymentId,omitempty"`
	Narrative                string             `json:"narrative,omitempty"`
	Signatures               []SignaturePayload `json:"signatures,omitempty"`
	OTPCode                  string             `json:"otpCode"`
}

// AmountNumber renders d as a JSON number with two fraction digits.
func AmountNumber(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(domain.AmountScale))
}

// RateNumber renders an exchange rate without truncating its precision.
func RateNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// PayloadFromDraft builds the wire payload. The ETB amount is what the backend books.
func PayloadFromDraft(d *models.TransactionDraft) SubmitPayload {
	p := SubmitPayload{
		PhoneNumber:       d.PhoneNumber,
		AccountNumber:     d.DebitAccountNumber,
		AccountHolderName: d.DebitAccountHolderName,
		ChequeNumber:      d.ChequeNumber,
		Reason:            d.StopReason,
		StopPaymentID:     d.StopPaymentID,
		Narrative:         d.Narrative,
		OTPCode:           d.OTPCode,
	}
	if d.Type.HasCreditAccount() {
		p.BeneficiaryAccountNumber = d.CreditAccountNumber
		p.BeneficiaryName = d.CreditAccountHolderName
	}
	if d.Type.HasAmount() {
		p.Amount = AmountNumber(d.AmountETB)
		p.Currency = domain.BaseCurrency
		original := d.OriginalMoney()
		if !original.IsBase() {
			p.OriginalAmount = AmountNumber(original.Amount)
			p.OriginalCurrency = original.Currency
			p.ExchangeRate = RateNumber(d.ExchangeRate)
		}
	}
	for _, s := range d.Signatures {
		p.Signatures = append(p.Signatures, SignaturePayload{SignatoryName: s.SignerName, SignatureData: s.Data})
	}
	return p
}
