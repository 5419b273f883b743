package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Signature is a captured signature image with its signatory.
type Signature struct {
	SignerName string `json:"signer_name"`
	Data       string `json:"data"`
}

// Complete reports whether the signature has both a name and image data.
func (s Signature) Complete() bool {
	return strings.TrimSpace(s.SignerName) != "" && strings.TrimSpace(s.Data) != ""
}

// TransactionDraft is the in-progress form data held by a wizard session.
type TransactionDraft struct {
	Type                    domain.TransactionType `json:"type"`
	PhoneNumber             string                 `json:"phone_number"`
	DebitAccountNumber      string                 `json:"debit_account_number"`
	DebitAccountHolderName  string                 `json:"debit_account_holder_name,omitempty"`
	DebitAccountType        string                 `json:"debit_account_type,omitempty"`
	IsDiaspora              bool                   `json:"is_diaspora"`
	CustomerSegment         string                 `json:"customer_segment,omitempty"`
	CreditAccountNumber     string                 `json:"credit_account_number,omitempty"`
	CreditAccountHolderName string                 `json:"credit_account_holder_name,omitempty"`
	IsCreditAccountVerified bool                   `json:"is_credit_account_verified"`
	Amount                  string                 `json:"amount,omitempty"`
	Currency                string                 `json:"currency,omitempty"`
	ExchangeRate            decimal.Decimal        `json:"exchange_rate"`
	AmountETB               decimal.Decimal        `json:"amount_etb"`
	ChequeNumber            string                 `json:"cheque_number,omitempty"`
	StopReason              string                 `json:"stop_reason,omitempty"`
	StopPaymentID           string                 `json:"stop_payment_id,omitempty"`
	Narrative               string                 `json:"narrative,omitempty"`
	TermsAccepted           bool                   `json:"terms_accepted"`
	Signatures              []Signature            `json:"signatures"`
	OTPCode                 string                 `json:"-"`
}

// RequiresSignatures is driven by the debit account type, never by user choice.
func (d *TransactionDraft) RequiresSignatures() bool {
	return strings.EqualFold(d.DebitAccountType, domain.AccountTypeCurrent)
}

// OriginalMoney returns the entered amount in its entered currency.
func (d *TransactionDraft) OriginalMoney() domain.Money {
	amount, _ := domain.ParseAmount(d.Amount)
	currency := d.Currency
	if currency == "" {
		currency = domain.BaseCurrency
	}
	return domain.NewMoney(amount, currency)
}

// Account is a customer account as reported by the core-banking backend.
type Account struct {
	AccountNumber   string `json:"account_number"`
	HolderName      string `json:"holder_name"`
	AccountType     string `json:"account_type"`
	IsDiaspora      bool   `json:"is_diaspora"`
	CustomerSegment string `json:"customer_segment,omitempty"`
	Currency        string `json:"currency,omitempty"`
}

// TransactionRecord is the canonical server-side record of a submitted transaction.
type TransactionRecord struct {
	ID                  string                 `json:"id"`
	Type                domain.TransactionType `json:"type"`
	Status              string                 `json:"status"`
	PhoneNumber         string                 `json:"phone_number,omitempty"`
	DebitAccountNumber  string                 `json:"debit_account_number,omitempty"`
	AccountHolderName   string                 `json:"account_holder_name,omitempty"`
	AccountType         string                 `json:"account_type,omitempty"`
	CreditAccountNumber string                 `json:"credit_account_number,omitempty"`
	CreditHolderName    string                 `json:"credit_holder_name,omitempty"`
	Amount              decimal.Decimal        `json:"amount"`
	OriginalAmount      decimal.Decimal        `json:"original_amount"`
	OriginalCurrency    string                 `json:"original_currency,omitempty"`
	ExchangeRate        decimal.Decimal        `json:"exchange_rate"`
	ChequeNumber        string                 `json:"cheque_number,omitempty"`
	StopPaymentID       string                 `json:"stop_payment_id,omitempty"`
	Reason              string                 `json:"reason,omitempty"`
	TokenNumber         string                 `json:"token_number,omitempty"`
	QueueNumber         string                 `json:"queue_number,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
}

// Complete reports whether the record is populated enough to render without a fetch.
func (r *TransactionRecord) Complete() bool {
	if r == nil {
		return false
	}
	return r.ID != "" && r.Status != "" && r.Type.Valid()
}

// ExchangeRate is one row of the published rate board, in ETB per unit.
type ExchangeRate struct {
	CurrencyCode       string          `json:"currency_code"`
	CashBuying         decimal.Decimal `json:"cash_buying"`
	CashSelling        decimal.Decimal `json:"cash_selling"`
	TransactionBuying  decimal.Decimal `json:"transaction_buying"`
	TransactionSelling decimal.Decimal `json:"transaction_selling"`
}

// BuyingRate is the rate applied when a customer hands foreign currency to the bank.
// Cash withdrawals use the cash board, everything else the transaction board.
func (r ExchangeRate) BuyingRate(t domain.TransactionType) decimal.Decimal {
	if t == domain.TxWithdrawal {
		return r.CashBuying
	}
	return r.TransactionBuying
}

type ApprovalWorkflow struct {
	ID               uuid.UUID              `json:"id"`
	VoucherID        string                 `json:"voucher_id"`
	VoucherType      string                 `json:"voucher_type"`
	TransactionType  domain.TransactionType `json:"transaction_type"`
	Amount           decimal.Decimal        `json:"amount"`
	OriginalAmount   decimal.Decimal        `json:"original_amount"`
	OriginalCurrency string                 `json:"original_currency"`
	Segment          string                 `json:"segment"`
	Tier             domain.ApprovalTier    `json:"tier"`
	Status           string                 `json:"status"`
	ApprovalReason   string                 `json:"approval_reason,omitempty"`
	VoucherData      json.RawMessage        `json:"voucher_data,omitempty"`
	SignatureHash    *string                `json:"signature_hash,omitempty"`
	CreatedBy        string                 `json:"created_by,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

type ApprovalDecision struct {
	ID           uuid.UUID `json:"id"`
	WorkflowID   uuid.UUID `json:"workflow_id"`
	VoucherID    string    `json:"voucher_id"`
	Action       string    `json:"action"`
	ApprovedBy   string    `json:"approved_by"`
	ApproverRole string    `json:"approver_role"`
	Reason       string    `json:"reason,omitempty"`
	BindingHash  string    `json:"binding_hash"`
	PrevStatus   string    `json:"prev_status"`
	NextStatus   string    `json:"next_status"`
	DecidedAt    time.Time `json:"decided_at"`
}

// SignatureBinding ties a signature digest to one voucher and role within a time bucket.
type SignatureBinding struct {
	BindingHash     string    `json:"binding_hash"`
	SignatureDigest string    `json:"signature_digest"`
	VoucherID       string    `json:"voucher_id"`
	VoucherType     string    `json:"voucher_type"`
	Role            string    `json:"role"`
	BucketStart     time.Time `json:"bucket_start"`
	Algorithm       string    `json:"algorithm"`
}

type AuditEntry struct {
	ID         uuid.UUID       `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	PrevState  string          `json:"prev_state,omitempty"`
	NextState  string          `json:"next_state,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
