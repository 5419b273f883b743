package domain

import (
	"fmt"
	"strings"
)

// TransactionType identifies which branch form a draft belongs to.
type TransactionType string

const (
	TxWithdrawal        TransactionType = "withdrawal"
	TxFundTransfer      TransactionType = "fund_transfer"
	TxStopPayment       TransactionType = "stop_payment"
	TxRevokeStopPayment TransactionType = "revoke_stop_payment"
)

// Backend resource names. They double as voucher types on approval workflows.
const (
	ResourceCashWithdrawal    = "CashWithdrawal"
	ResourceFundTransfer      = "FundTransfer"
	ResourceStopPayment       = "StopPayment"
	ResourceRevokeStopPayment = "RevokeStopPayment"
)

var transactionResources = map[TransactionType]string{
	TxWithdrawal:        ResourceCashWithdrawal,
	TxFundTransfer:      ResourceFundTransfer,
	TxStopPayment:       ResourceStopPayment,
	TxRevokeStopPayment: ResourceRevokeStopPayment,
}

var transactionAliases = map[string]TransactionType{
	"withdrawal":          TxWithdrawal,
	"cash_withdrawal":     TxWithdrawal,
	"cashwithdrawal":      TxWithdrawal,
	"transfer":            TxFundTransfer,
	"fund_transfer":       TxFundTransfer,
	"fundtransfer":        TxFundTransfer,
	"stop_payment":        TxStopPayment,
	"stoppayment":         TxStopPayment,
	"revoke_stop_payment": TxRevokeStopPayment,
	"revokestoppayment":   TxRevokeStopPayment,
}

// ParseTransactionType accepts the API spelling, the hyphenated form or the backend resource name.
func ParseTransactionType(raw string) (TransactionType, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	if t, ok := transactionAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown transaction type %q", raw)
}

// Valid reports whether t is one of the supported transaction types.
func (t TransactionType) Valid() bool {
	_, ok := transactionResources[t]
	return ok
}

// Resource returns the backend path segment for t.
func (t TransactionType) Resource() string {
	return transactionResources[t]
}

// VoucherType is the type recorded on approval workflows.
func (t TransactionType) VoucherType() string {
	return transactionResources[t]
}

// HasAmount reports whether the form collects a monetary amount.
func (t TransactionType) HasAmount() bool {
	return t != TxRevokeStopPayment
}

// HasCreditAccount reports whether the form names a beneficiary account.
func (t TransactionType) HasCreditAccount() bool {
	return t == TxFundTransfer
}

const (
	BaseCurrency       = "ETB"
	AccountTypeCurrent = "Current"
	AccountTypeSavings = "Savings"

	// RecordStatusPending is the only backend record status that can be cancelled.
	RecordStatusPending   = "Pending"
	RecordStatusCancelled = "Cancelled"
)

// Approval workflow statuses, listed in forward order.
const (
	WorkflowDraft               = "draft"
	WorkflowPendingVerification = "pending_verification"
	WorkflowPendingApproval     = "pending_approval"
	WorkflowVerified            = "verified"
	WorkflowApproved            = "approved"
	WorkflowRejected            = "rejected"
	WorkflowCompleted           = "completed"
)

const (
	RoleCustomer = "customer"
	RoleMaker    = "maker"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

const (
	SegmentRetail   = "retail"
	SegmentBusiness = "business"
	SegmentDiaspora = "diaspora"
)

// Approval decisions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// NormalizeSegment maps unknown or empty segments to retail.
func NormalizeSegment(segment string) string {
	switch s := strings.ToLower(strings.TrimSpace(segment)); s {
	case SegmentBusiness, SegmentDiaspora:
		return s
	case "corporate", "sme":
		return SegmentBusiness
	default:
		return SegmentRetail
	}
}
