package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/gateway"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"github.com/ayo6706/branch-transactions/internal/otp"
	"github.com/ayo6706/branch-transactions/internal/service"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrBusy             = fmt.Errorf("another request for this wizard is in flight: %w", models.ErrWorkflowState)
	ErrClosed           = fmt.Errorf("wizard session is closed: %w", models.ErrWorkflowState)
	ErrAlreadySubmitted = fmt.Errorf("transaction already submitted: %w", models.ErrWorkflowState)
	ErrWrongStep        = fmt.Errorf("operation not available on this step: %w", models.ErrWorkflowState)
	ErrLastStep         = fmt.Errorf("no further step, submit instead: %w", models.ErrWorkflowState)
	ErrMissingRecordID  = fmt.Errorf("backend accepted the submission without an id: %w", models.ErrVerificationFailed)
	ErrSignatureData    = fmt.Errorf("signature image is required: %w", models.ErrValidation)
	ErrSignatureIndex   = fmt.Errorf("no signature at that position: %w", models.ErrValidation)
	ErrPhoneLocked      = fmt.Errorf("phone number comes from the signed-in customer: %w", models.ErrValidation)
)

type Mode string

const (
	ModeCreate Mode = "create"
	ModeUpdate Mode = "update"
)

// Submitter sends finished drafts to the backend.
type Submitter interface {
	Submit(ctx context.Context, t domain.TransactionType, payload gateway.SubmitPayload) (*models.TransactionRecord, error)
	Update(ctx context.Context, t domain.TransactionType, id string, payload gateway.SubmitPayload) (*models.TransactionRecord, error)
}

type AccountResolver interface {
	Resolve(ctx context.Context, accountNumber string) (service.Resolution, error)
}

type AccountSource interface {
	Owned(ctx context.Context, phone, number string) (*models.Account, bool, error)
	Remember(ctx context.Context, phone, accountNumber string)
	Invalidate(ctx context.Context, phone string)
}

type RateProvider interface {
	Rate(ctx context.Context, currency string, t domain.TransactionType) (decimal.Decimal, error)
}

type WorkflowRecorder interface {
	CreateWorkflow(ctx context.Context, req service.CreateWorkflowRequest) (*models.ApprovalWorkflow, error)
}

// Sequencer drives one wizard session. State is guarded by mu; callMu admits a
// single backend call at a time and is never waited on.
type Sequencer struct {
	id        string
	owner     string
	mode      Mode
	recordID  string
	createdAt time.Time
	deps      *Dependencies

	callMu sync.Mutex

	mu          sync.Mutex
	draft       *models.TransactionDraft
	flow        *Flow[*models.TransactionDraft]
	challenge   *otp.Challenge
	fieldErrors domain.FieldErrors
	stepError   string
	rejected    map[string]struct{}
	approval    *domain.ApprovalOutcome
	result      *models.TransactionRecord
	workflow    *models.ApprovalWorkflow
	busy        bool
	closed      bool
	phoneLocked bool
	lastActive  time.Time
}

func (s *Sequencer) ID() string    { return s.id }
func (s *Sequencer) Owner() string { return s.owner }

// begin takes the in-flight guard. The returned func releases it.
func (s *Sequencer) begin() (func(), error) {
	if !s.callMu.TryLock() {
		return nil, ErrBusy
	}
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		s.callMu.Unlock()
		return nil, err
	}
	s.busy = true
	s.touchLocked()
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		s.callMu.Unlock()
	}, nil
}

func (s *Sequencer) usableLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.result != nil:
		return ErrAlreadySubmitted
	}
	return nil
}

func (s *Sequencer) touchLocked() {
	s.lastActive = s.deps.Clock.Now()
}

// LastActive is read by the session sweeper.
func (s *Sequencer) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SetField stores value and returns its inline error, if any. It never blocks
// and never calls the backend.
func (s *Sequencer) SetField(field domain.Field, value string) (*domain.FieldError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return nil, err
	}
	// a backend call is working on a copy of the draft
	if s.busy {
		return nil, ErrBusy
	}
	s.touchLocked()

	validator, ok := domain.FieldValidators(s.draft.Type)[field]
	if !ok || !s.flow.Current().Owns(field) {
		return nil, models.FieldValidationError(field, domain.ErrFieldNotEditable)
	}
	if field == domain.FieldPhone && s.phoneLocked {
		return nil, models.FieldValidationError(field, ErrPhoneLocked)
	}

	previousPhone := s.draft.PhoneNumber
	if err := s.applyLocked(field, value); err != nil {
		return nil, err
	}
	if field == domain.FieldPhone && s.deps.Accounts != nil && previousPhone != "" && previousPhone != s.draft.PhoneNumber {
		go s.deps.Accounts.Invalidate(context.Background(), previousPhone)
	}

	s.clearFieldErrorLocked(field)
	if err := validator(fieldValue(s.draft, field)); err != nil {
		fe := domain.FieldError{Field: field, Message: err.Error()}
		s.fieldErrors = append(s.fieldErrors, fe)
		return &fe, nil
	}
	return nil, nil
}

func (s *Sequencer) applyLocked(field domain.Field, value string) error {
	d := s.draft
	value = strings.TrimSpace(value)
	switch field {
	case domain.FieldPhone:
		if value != d.PhoneNumber {
			d.PhoneNumber = value
			s.resetDebitLocked()
		}
	case domain.FieldDebitAccount:
		if value != d.DebitAccountNumber {
			d.DebitAccountNumber = value
			s.resetDebitLocked()
		}
	case domain.FieldCreditAccount:
		if value != d.CreditAccountNumber {
			d.CreditAccountNumber = value
			d.CreditAccountHolderName = ""
			d.IsCreditAccountVerified = false
		}
	case domain.FieldAmount:
		d.Amount = value
		s.resetConversionLocked()
	case domain.FieldCurrency:
		if value == "" {
			value = domain.BaseCurrency
		}
		d.Currency = strings.ToUpper(value)
		s.resetConversionLocked()
	case domain.FieldChequeNumber:
		d.ChequeNumber = value
	case domain.FieldStopReason:
		d.StopReason = value
	case domain.FieldStopPaymentID:
		d.StopPaymentID = value
	case domain.FieldNarrative:
		d.Narrative = value
	case domain.FieldTermsAccepted:
		accepted, err := strconv.ParseBool(value)
		if err != nil {
			accepted = false
		}
		d.TermsAccepted = accepted
	case domain.FieldOTP:
		d.OTPCode = value
	default:
		return models.FieldValidationError(field, domain.ErrFieldNotEditable)
	}
	return nil
}

func (s *Sequencer) resetDebitLocked() {
	d := s.draft
	d.DebitAccountHolderName = ""
	d.DebitAccountType = ""
	d.IsDiaspora = false
	d.CustomerSegment = ""
	d.Signatures = nil
	s.resetConversionLocked()
}

func (s *Sequencer) resetConversionLocked() {
	s.draft.ExchangeRate = decimal.Zero
	s.draft.AmountETB = decimal.Zero
	s.approval = nil
}

func (s *Sequencer) clearFieldErrorLocked(field domain.Field) {
	kept := s.fieldErrors[:0]
	for _, fe := range s.fieldErrors {
		if fe.Field != field {
			kept = append(kept, fe)
		}
	}
	s.fieldErrors = kept
}

// SelectDebitAccount picks a debit account. Accounts the phone owns are taken
// from its account list; anything else goes through the verifier.
func (s *Sequencer) SelectDebitAccount(ctx context.Context, number string) (View, error) {
	release, err := s.begin()
	if err != nil {
		return View{}, err
	}
	defer release()

	number = strings.TrimSpace(number)
	s.mu.Lock()
	if s.flow.Current().ID != StepDetails {
		s.mu.Unlock()
		return View{}, ErrWrongStep
	}
	phone := s.draft.PhoneNumber
	s.mu.Unlock()

	if err := domain.ValidatePhone(phone); err != nil {
		return View{}, models.FieldValidationError(domain.FieldPhone, err)
	}
	if err := domain.ValidateAccountNumber(number); err != nil {
		return View{}, models.FieldValidationError(domain.FieldDebitAccount, err)
	}

	acct, owned, err := s.deps.Accounts.Owned(ctx, phone, number)
	if err != nil && !errors.Is(err, models.ErrNetwork) {
		return View{}, err
	}
	if !owned {
		res, err := s.deps.Verifier.Resolve(ctx, number)
		if err != nil {
			return View{}, err
		}
		if !res.Found {
			s.mu.Lock()
			s.draft.DebitAccountNumber = number
			s.resetDebitLocked()
			s.mu.Unlock()
			return View{}, models.FieldValidationError(domain.FieldDebitAccount, domain.ErrAccountNotFound)
		}
		acct = &models.Account{
			AccountNumber:   number,
			HolderName:      res.HolderName,
			AccountType:     res.AccountType,
			IsDiaspora:      res.IsDiaspora,
			CustomerSegment: res.Segment,
		}
	}

	s.mu.Lock()
	d := s.draft
	if d.DebitAccountNumber != number {
		d.Signatures = nil
	}
	d.DebitAccountNumber = number
	d.DebitAccountHolderName = acct.HolderName
	d.DebitAccountType = acct.AccountType
	d.IsDiaspora = acct.IsDiaspora
	d.CustomerSegment = domain.NormalizeSegment(acct.CustomerSegment)
	if acct.IsDiaspora {
		d.CustomerSegment = domain.SegmentDiaspora
	}
	if !d.IsDiaspora && !strings.EqualFold(d.Currency, domain.BaseCurrency) {
		d.Currency = domain.BaseCurrency
	}
	s.resetConversionLocked()
	s.clearFieldErrorLocked(domain.FieldDebitAccount)
	s.mu.Unlock()

	if owned {
		s.deps.Accounts.Remember(ctx, phone, number)
	}
	return s.View(), nil
}

// VerifyCreditAccount resolves the beneficiary and marks it verified when found.
func (s *Sequencer) VerifyCreditAccount(ctx context.Context) (service.Resolution, error) {
	release, err := s.begin()
	if err != nil {
		return service.Resolution{}, err
	}
	defer release()

	s.mu.Lock()
	if !s.draft.Type.HasCreditAccount() || s.flow.Current().ID != StepDetails {
		s.mu.Unlock()
		return service.Resolution{}, ErrWrongStep
	}
	credit, debit := s.draft.CreditAccountNumber, s.draft.DebitAccountNumber
	s.mu.Unlock()

	if err := domain.ValidateAccountNumber(credit); err != nil {
		return service.Resolution{}, models.FieldValidationError(domain.FieldCreditAccount, err)
	}
	if credit == debit {
		return service.Resolution{}, models.FieldValidationError(domain.FieldCreditAccount, domain.ErrSameAccount)
	}

	res, err := s.deps.Verifier.Resolve(ctx, credit)
	if err != nil {
		return service.Resolution{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft.CreditAccountNumber != credit {
		// the customer edited the number while the lookup ran
		return res, nil
	}
	s.clearFieldErrorLocked(domain.FieldCreditAccount)
	s.draft.IsCreditAccountVerified = res.Found
	s.draft.CreditAccountHolderName = res.HolderName
	if !res.Found {
		s.fieldErrors = append(s.fieldErrors, domain.FieldError{Field: domain.FieldCreditAccount, Message: domain.ErrAccountNotFound.Error()})
	}
	return res, nil
}

func (s *Sequencer) AddSignature(sig models.Signature) (View, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	if s.busy {
		s.mu.Unlock()
		return View{}, ErrBusy
	}
	if s.flow.Current().ID != StepSignatures {
		s.mu.Unlock()
		return View{}, ErrWrongStep
	}
	if strings.TrimSpace(sig.Data) == "" {
		s.mu.Unlock()
		return View{}, ErrSignatureData
	}
	sig.SignerName = strings.TrimSpace(sig.SignerName)
	s.draft.Signatures = append(s.draft.Signatures, sig)
	s.clearFieldErrorLocked(domain.FieldSignatures)
	s.touchLocked()
	s.mu.Unlock()
	return s.View(), nil
}

func (s *Sequencer) RemoveSignature(index int) (View, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	if s.busy {
		s.mu.Unlock()
		return View{}, ErrBusy
	}
	if s.flow.Current().ID != StepSignatures {
		s.mu.Unlock()
		return View{}, ErrWrongStep
	}
	if index < 0 || index >= len(s.draft.Signatures) {
		s.mu.Unlock()
		return View{}, ErrSignatureIndex
	}
	s.draft.Signatures = append(s.draft.Signatures[:index], s.draft.Signatures[index+1:]...)
	s.touchLocked()
	s.mu.Unlock()
	return s.View(), nil
}

// Continue validates the current step and advances. Leaving confirm requests an
// OTP unless a code for the same phone is still live.
func (s *Sequencer) Continue(ctx context.Context) (View, error) {
	release, err := s.begin()
	if err != nil {
		return View{}, err
	}
	defer release()

	s.mu.Lock()
	from := s.flow.Current().ID
	if from == StepOTP {
		s.mu.Unlock()
		return View{}, ErrLastStep
	}
	if errs := s.flow.Validate(s.draft); len(errs) > 0 {
		s.fieldErrors = errs
		s.mu.Unlock()
		return View{}, models.NewValidationError(errs)
	}
	s.fieldErrors = nil
	s.stepError = ""
	draft := *s.draft
	s.mu.Unlock()

	switch from {
	case StepDetails:
		if err := s.prepareAmount(ctx, &draft); err != nil {
			return View{}, err
		}
	case StepConfirm:
		if s.challenge.Live(draft.PhoneNumber) {
			break
		}
		if _, err := s.challenge.Request(ctx, draft.PhoneNumber); err != nil {
			s.mu.Lock()
			s.stepError = err.Error()
			s.mu.Unlock()
			return View{}, err
		}
	}

	s.mu.Lock()
	next, _ := s.flow.Next(s.draft)
	s.mu.Unlock()
	observability.IncrementWizardTransition(string(draft.Type), string(from), string(next.ID))
	return s.View(), nil
}

// prepareAmount converts foreign amounts to ETB and evaluates the approval banner.
func (s *Sequencer) prepareAmount(ctx context.Context, draft *models.TransactionDraft) error {
	rate := decimal.NewFromInt(1)
	amount := decimal.Zero
	currency := domain.BaseCurrency

	if draft.Type.HasAmount() {
		parsed, err := domain.ParseAmount(draft.Amount)
		if err != nil {
			return models.FieldValidationError(domain.FieldAmount, err)
		}
		amount = parsed
		if draft.Currency != "" {
			currency = strings.ToUpper(draft.Currency)
		}
		if currency != domain.BaseCurrency {
			r, err := s.deps.Rates.Rate(ctx, currency, draft.Type)
			switch {
			case errors.Is(err, service.ErrRateUnavailable):
				return models.FieldValidationError(domain.FieldCurrency, service.ErrRateUnavailable)
			case err != nil:
				return err
			}
			rate = r
		}
	}

	amountETB := domain.ConvertToETB(amount, rate)
	if draft.Type.HasAmount() {
		if err := domain.WithinMax(draft.Type, amountETB); err != nil {
			fe := domain.FieldError{Field: domain.FieldAmount, Message: err.Error()}
			s.mu.Lock()
			s.fieldErrors = domain.FieldErrors{fe}
			s.mu.Unlock()
			return models.NewValidationError(domain.FieldErrors{fe})
		}
	}

	outcome := s.deps.Evaluator.Evaluate(domain.ApprovalInput{
		Type:     draft.Type,
		Amount:   amount,
		Currency: currency,
		Rate:     rate,
		Segment:  draft.CustomerSegment,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if draft.Type.HasAmount() {
		s.draft.ExchangeRate = rate
		s.draft.AmountETB = amountETB
		s.draft.Currency = currency
	}
	s.approval = &outcome
	return nil
}

// Back returns to the previous visible step, keeping every field.
func (s *Sequencer) Back() (View, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	if s.busy {
		s.mu.Unlock()
		return View{}, ErrBusy
	}
	from := s.flow.Current().ID
	to, _ := s.flow.Back(s.draft)
	s.fieldErrors = nil
	s.stepError = ""
	s.touchLocked()
	txType := s.draft.Type
	s.mu.Unlock()

	if from != to.ID {
		observability.IncrementWizardTransition(string(txType), string(from), string(to.ID))
	}
	return s.View(), nil
}

func (s *Sequencer) ResendOTP(ctx context.Context) (View, error) {
	release, err := s.begin()
	if err != nil {
		return View{}, err
	}
	defer release()

	s.mu.Lock()
	if s.flow.Current().ID != StepOTP {
		s.mu.Unlock()
		return View{}, ErrWrongStep
	}
	s.mu.Unlock()

	if _, err := s.challenge.Resend(ctx); err != nil {
		if !errors.Is(err, otp.ErrCooldownActive) {
			s.mu.Lock()
			s.stepError = err.Error()
			s.mu.Unlock()
		}
		return View{}, err
	}
	s.mu.Lock()
	s.stepError = ""
	s.draft.OTPCode = ""
	s.mu.Unlock()
	return s.View(), nil
}

// Submit sends the draft with code. An OTP rejection keeps the session on the
// OTP step with every field intact; a network failure leaves the draft untouched.
func (s *Sequencer) Submit(ctx context.Context, code string) (View, error) {
	release, err := s.begin()
	if err != nil {
		return View{}, err
	}
	defer release()

	code = strings.TrimSpace(code)
	s.mu.Lock()
	if s.flow.Current().ID != StepOTP {
		s.mu.Unlock()
		return View{}, ErrWrongStep
	}
	s.draft.OTPCode = code
	if errs := s.flow.Validate(s.draft); len(errs) > 0 {
		s.fieldErrors = errs
		s.mu.Unlock()
		return View{}, models.NewValidationError(errs)
	}
	if _, seen := s.rejected[code]; seen {
		s.mu.Unlock()
		return View{}, models.FieldValidationError(domain.FieldOTP, ErrOTPAlreadyRejected)
	}
	s.mu.Unlock()

	if err := s.challenge.Usable(); err != nil {
		if errors.Is(err, otp.ErrExpired) {
			return View{}, models.FieldValidationError(domain.FieldOTP, err)
		}
		return View{}, err
	}

	s.mu.Lock()
	draft := *s.draft
	draft.Signatures = append([]models.Signature(nil), s.draft.Signatures...)
	mode, recordID := s.mode, s.recordID
	s.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "wizard.submit",
		attribute.String(observability.AttrSessionID, s.id),
		attribute.String(observability.AttrTransactionType, string(draft.Type)))
	defer span.End()

	payload := gateway.PayloadFromDraft(&draft)
	var rec *models.TransactionRecord
	if mode == ModeUpdate {
		rec, err = s.deps.Backend.Update(ctx, draft.Type, recordID, payload)
	} else {
		rec, err = s.deps.Backend.Submit(ctx, draft.Type, payload)
	}
	if err != nil {
		observability.SetSpanError(span, err)
		return View{}, s.submitFailed(draft.Type, mode, code, err)
	}
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		observability.IncrementWizardSubmit(string(draft.Type), string(mode), "missing_id")
		s.setStepError(ErrMissingRecordID.Error())
		return View{}, ErrMissingRecordID
	}
	fillRecord(rec, &draft)

	s.challenge.MarkVerified()
	observability.IncrementWizardSubmit(string(draft.Type), string(mode), "success")
	s.deps.Logger.Info("transaction submitted",
		zap.String("session_id", s.id),
		zap.String("type", string(draft.Type)),
		zap.String("mode", string(mode)),
		zap.String("record_id", rec.ID))

	var workflow *models.ApprovalWorkflow
	if mode == ModeCreate && s.deps.Workflows != nil {
		workflow = s.recordWorkflow(ctx, &draft, rec)
	}

	s.mu.Lock()
	s.result = rec
	s.workflow = workflow
	s.draft = &models.TransactionDraft{Type: draft.Type, PhoneNumber: draft.PhoneNumber}
	s.fieldErrors = nil
	s.stepError = ""
	s.mu.Unlock()
	return s.View(), nil
}

func (s *Sequencer) submitFailed(t domain.TransactionType, mode Mode, code string, err error) error {
	switch {
	case errors.Is(err, gateway.ErrOTPRejected):
		observability.IncrementWizardSubmit(string(t), string(mode), "otp_rejected")
		s.mu.Lock()
		s.rejected[code] = struct{}{}
		fe := domain.FieldError{Field: domain.FieldOTP, Message: otpRejectionMessage(err)}
		s.fieldErrors = domain.FieldErrors{fe}
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", models.NewValidationError(domain.FieldErrors{fe}), err)
	case errors.Is(err, models.ErrNetwork):
		observability.IncrementWizardSubmit(string(t), string(mode), "network_error")
		s.setStepError("The service is unreachable. Your details are kept, try again.")
		return err
	case errors.Is(err, models.ErrAuthorization):
		observability.IncrementWizardSubmit(string(t), string(mode), "unauthorized")
		return err
	default:
		observability.IncrementWizardSubmit(string(t), string(mode), "rejected")
		msg := gateway.RejectionMessage(err)
		if msg == "" {
			msg = err.Error()
		}
		s.setStepError(msg)
		return err
	}
}

func otpRejectionMessage(err error) string {
	if msg := gateway.RejectionMessage(err); msg != "" {
		return msg
	}
	return "the code was not accepted, request a new one"
}

func (s *Sequencer) setStepError(msg string) {
	s.mu.Lock()
	s.stepError = msg
	s.mu.Unlock()
}

// recordWorkflow creates the approval workflow for an accepted submission.
// The backend already holds the transaction, so failures are logged only.
func (s *Sequencer) recordWorkflow(ctx context.Context, draft *models.TransactionDraft, rec *models.TransactionRecord) *models.ApprovalWorkflow {
	s.mu.Lock()
	var outcome domain.ApprovalOutcome
	if s.approval != nil {
		outcome = *s.approval
	}
	s.mu.Unlock()

	original := draft.OriginalMoney()
	voucher := gateway.PayloadFromDraft(draft)
	voucher.OTPCode = ""
	voucher.Signatures = nil
	data, _ := json.Marshal(voucher)

	req := service.CreateWorkflowRequest{
		VoucherID:        rec.ID,
		TransactionType:  draft.Type,
		AmountETB:        draft.AmountETB,
		OriginalAmount:   original.Amount,
		OriginalCurrency: original.Currency,
		Segment:          draft.CustomerSegment,
		Outcome:          outcome,
		VoucherData:      data,
		CreatedBy:        s.owner,
	}
	if len(draft.Signatures) > 0 {
		req.CustomerSignature = draft.Signatures[0].Data
	}

	w, err := s.deps.Workflows.CreateWorkflow(ctx, req)
	if err != nil {
		s.deps.Logger.Error("record approval workflow", zap.String("record_id", rec.ID), zap.Error(err))
		return nil
	}
	return w
}

// fillRecord backfills fields the backend left out of its response.
func fillRecord(rec *models.TransactionRecord, d *models.TransactionDraft) {
	if !rec.Type.Valid() {
		rec.Type = d.Type
	}
	if rec.Status == "" {
		rec.Status = domain.RecordStatusPending
	}
	if rec.DebitAccountNumber == "" {
		rec.DebitAccountNumber = d.DebitAccountNumber
	}
	if rec.AccountHolderName == "" {
		rec.AccountHolderName = d.DebitAccountHolderName
	}
	if rec.CreditAccountNumber == "" && d.Type.HasCreditAccount() {
		rec.CreditAccountNumber = d.CreditAccountNumber
		rec.CreditHolderName = d.CreditAccountHolderName
	}
	if rec.Amount.IsZero() && d.Type.HasAmount() {
		rec.Amount = d.AmountETB
	}
	if rec.OriginalCurrency == "" && d.Type.HasAmount() {
		orig := d.OriginalMoney()
		rec.OriginalAmount = orig.Amount
		rec.OriginalCurrency = orig.Currency
		rec.ExchangeRate = d.ExchangeRate
	}
}

// Close discards the draft and frees the OTP timer. It is idempotent.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.challenge.Release()
	if s.draft != nil {
		s.draft.OTPCode = ""
		s.draft.Signatures = nil
	}
}

func (s *Sequencer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Result returns the submitted record once the wizard has finished.
func (s *Sequencer) Result() *models.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}
