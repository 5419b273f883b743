package wizard

import (
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/otp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	ErrUnknownType       = fmt.Errorf("unknown transaction type: %w", models.ErrValidation)
	ErrRecordIncomplete  = fmt.Errorf("transaction record is incomplete: %w", models.ErrWorkflowState)
	ErrRecordNotEditable = fmt.Errorf("only pending transactions can be updated: %w", models.ErrWorkflowState)
)

// Dependencies are shared by every sequencer a factory creates.
type Dependencies struct {
	Backend     Submitter
	OTP         *otp.Client
	Verifier    AccountResolver
	Accounts    AccountSource
	Rates       RateProvider
	Evaluator   *domain.ApprovalEvaluator
	Workflows   WorkflowRecorder
	Clock       clockwork.Clock
	OTPValidity time.Duration
	OTPCooldown time.Duration
	Logger      *zap.Logger
}

type Factory struct {
	deps *Dependencies
}

func NewFactory(deps Dependencies) *Factory {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Evaluator == nil {
		deps.Evaluator = domain.NewApprovalEvaluator()
	}
	return &Factory{deps: &deps}
}

func (f *Factory) newSequencer(owner string, mode Mode, draft *models.TransactionDraft) *Sequencer {
	now := f.deps.Clock.Now()
	return &Sequencer{
		id:        uuid.NewString(),
		owner:     owner,
		mode:      mode,
		createdAt: now,
		deps:      f.deps,
		draft:     draft,
		flow:      NewFlow(StepTable(draft.Type)),
		challenge: otp.NewChallenge(f.deps.OTP,
			otp.WithClock(f.deps.Clock),
			otp.WithValidity(f.deps.OTPValidity),
			otp.WithCooldown(f.deps.OTPCooldown)),
		rejected:   map[string]struct{}{},
		lastActive: now,
	}
}

// New opens a create-mode wizard for t, prefilled with the caller's phone.
func (f *Factory) New(owner, phone string, t domain.TransactionType) (*Sequencer, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	draft := &models.TransactionDraft{
		Type:        t,
		PhoneNumber: strings.TrimSpace(phone),
		Currency:    domain.BaseCurrency,
	}
	return f.newSequencer(owner, ModeCreate, draft), nil
}

// NewForCustomer opens a wizard bound to the signed-in customer's phone. The
// phone field cannot be edited afterwards.
func (f *Factory) NewForCustomer(owner, phone string, t domain.TransactionType) (*Sequencer, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, models.FieldValidationError(domain.FieldPhone, domain.ErrPhoneFormat)
	}
	s, err := f.New(owner, phone, t)
	if err != nil {
		return nil, err
	}
	s.phoneLocked = true
	return s, nil
}

// NewForUpdate seeds a draft from an existing record and starts on the confirm
// step, the one that requests the OTP.
func (f *Factory) NewForUpdate(owner string, rec *models.TransactionRecord) (*Sequencer, error) {
	if !rec.Complete() {
		return nil, ErrRecordIncomplete
	}
	if rec.Status != domain.RecordStatusPending {
		return nil, ErrRecordNotEditable
	}

	draft := &models.TransactionDraft{
		Type:                    rec.Type,
		PhoneNumber:             rec.PhoneNumber,
		DebitAccountNumber:      rec.DebitAccountNumber,
		DebitAccountHolderName:  rec.AccountHolderName,
		DebitAccountType:        rec.AccountType,
		CustomerSegment:         domain.SegmentRetail,
		CreditAccountNumber:     rec.CreditAccountNumber,
		CreditAccountHolderName: rec.CreditHolderName,
		IsCreditAccountVerified: rec.CreditAccountNumber != "",
		Currency:                domain.BaseCurrency,
		AmountETB:               rec.Amount,
		ChequeNumber:            rec.ChequeNumber,
		StopPaymentID:           rec.StopPaymentID,
		StopReason:              rec.Reason,
		TermsAccepted:           rec.Type == domain.TxFundTransfer,
	}
	if rec.Type.HasAmount() {
		draft.Amount = rec.Amount.StringFixed(domain.AmountScale)
		draft.ExchangeRate = rec.ExchangeRate
		if c := strings.ToUpper(rec.OriginalCurrency); c != "" && c != domain.BaseCurrency && rec.OriginalAmount.IsPositive() {
			draft.Amount = rec.OriginalAmount.StringFixed(domain.AmountScale)
			draft.Currency = c
			draft.IsDiaspora = true
			draft.CustomerSegment = domain.SegmentDiaspora
		}
	}

	s := f.newSequencer(owner, ModeUpdate, draft)
	s.recordID = rec.ID
	s.flow.Jump(StepConfirm)

	original := draft.OriginalMoney()
	outcome := f.deps.Evaluator.Evaluate(domain.ApprovalInput{
		Type:     draft.Type,
		Amount:   original.Amount,
		Currency: original.Currency,
		Rate:     draft.ExchangeRate,
		Segment:  draft.CustomerSegment,
	})
	s.approval = &outcome
	return s, nil
}
