package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ApprovalTier decides which roles must act on a workflow.
type ApprovalTier string

const (
	TierNone            ApprovalTier = "none"
	TierManager         ApprovalTier = "manager"
	TierMakerAndManager ApprovalTier = "maker_and_manager"
)

// EscalationFactor multiplies the threshold above which a maker must verify before the manager approves.
var EscalationFactor = decimal.NewFromInt(5)

// ApprovalThresholds are ETB limits per form and customer segment.
var ApprovalThresholds = map[TransactionType]map[string]decimal.Decimal{
	TxWithdrawal: {
		SegmentRetail:   decimal.NewFromInt(100_000),
		SegmentBusiness: decimal.NewFromInt(500_000),
		SegmentDiaspora: decimal.NewFromInt(200_000),
	},
	TxFundTransfer: {
		SegmentRetail:   decimal.NewFromInt(200_000),
		SegmentBusiness: decimal.NewFromInt(1_000_000),
		SegmentDiaspora: decimal.NewFromInt(300_000),
	},
	TxStopPayment: {
		SegmentRetail:   decimal.NewFromInt(250_000),
		SegmentBusiness: decimal.NewFromInt(1_000_000),
		SegmentDiaspora: decimal.NewFromInt(250_000),
	},
}

type ApprovalInput struct {
	Type     TransactionType
	Amount   decimal.Decimal
	Currency string
	// Rate converts one unit of Currency into ETB. Ignored for ETB amounts.
	Rate    decimal.Decimal
	Segment string
}

type ApprovalOutcome struct {
	Required  bool            `json:"required"`
	Reason    string          `json:"reason,omitempty"`
	AmountETB decimal.Decimal `json:"amount_etb"`
	Threshold decimal.Decimal `json:"threshold"`
	Tier      ApprovalTier    `json:"tier"`
}

// ApprovalEvaluator maps a draft to its approval requirement. It performs no I/O.
type ApprovalEvaluator struct {
	thresholds map[TransactionType]map[string]decimal.Decimal
	escalation decimal.Decimal
}

func NewApprovalEvaluator() *ApprovalEvaluator {
	return &ApprovalEvaluator{thresholds: ApprovalThresholds, escalation: EscalationFactor}
}

// WithThresholds replaces the threshold table, mainly for tests.
func (e *ApprovalEvaluator) WithThresholds(t map[TransactionType]map[string]decimal.Decimal) *ApprovalEvaluator {
	e.thresholds = t
	return e
}

func (e *ApprovalEvaluator) Evaluate(in ApprovalInput) ApprovalOutcome {
	segment := NormalizeSegment(in.Segment)

	if in.Type == TxRevokeStopPayment {
		return ApprovalOutcome{
			Required: true,
			Reason:   "revoking a stop payment always requires manager approval",
			Tier:     TierManager,
		}
	}

	money := NewMoney(in.Amount, in.Currency)
	amountETB := money.Amount
	if !money.IsBase() {
		if !in.Rate.IsPositive() {
			return ApprovalOutcome{
				Required: true,
				Reason:   fmt.Sprintf("no exchange rate available for %s", money.Currency),
				Tier:     TierManager,
			}
		}
		amountETB = ConvertToETB(in.Amount, in.Rate)
	}

	limits, ok := e.thresholds[in.Type]
	if !ok {
		return ApprovalOutcome{AmountETB: amountETB, Tier: TierNone}
	}
	threshold, ok := limits[segment]
	if !ok {
		threshold = limits[SegmentRetail]
	}

	out := ApprovalOutcome{AmountETB: amountETB, Threshold: threshold, Tier: TierNone}
	if !amountETB.GreaterThan(threshold) {
		return out
	}

	out.Required = true
	out.Tier = TierManager
	if amountETB.GreaterThan(threshold.Mul(e.escalation)) {
		out.Tier = TierMakerAndManager
	}
	out.Reason = fmt.Sprintf("amount %s ETB exceeds the %s ETB limit for %s %s",
		amountETB.StringFixed(AmountScale), threshold.StringFixed(AmountScale), segment, in.Type.Resource())
	return out
}
