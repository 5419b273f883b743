package wizard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/branch-transactions/internal/cache"
	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/gateway"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/otp"
	"github.com/ayo6706/branch-transactions/internal/repository"
	"github.com/ayo6706/branch-transactions/internal/service"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSignature = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR4nGNgYGD4DwABBAEAwS2OUAAAAABJRU5ErkJggg=="

type submitCall struct {
	txType   domain.TransactionType
	recordID string
	payload  gateway.SubmitPayload
}

type stubSubmitter struct {
	mu      sync.Mutex
	calls   []submitCall
	gate    chan struct{}
	respond func(t domain.TransactionType, p gateway.SubmitPayload) (*models.TransactionRecord, error)
}

func (s *stubSubmitter) Submit(ctx context.Context, t domain.TransactionType, p gateway.SubmitPayload) (*models.TransactionRecord, error) {
	return s.call(submitCall{txType: t, payload: p})
}

func (s *stubSubmitter) Update(ctx context.Context, t domain.TransactionType, id string, p gateway.SubmitPayload) (*models.TransactionRecord, error) {
	return s.call(submitCall{txType: t, recordID: id, payload: p})
}

func (s *stubSubmitter) call(c submitCall) (*models.TransactionRecord, error) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	gate, respond := s.gate, s.respond
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return respond(c.txType, c.payload)
}

func (s *stubSubmitter) Calls() []submitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submitCall(nil), s.calls...)
}

type fixture struct {
	backend   *gateway.MockBackend
	submitter *stubSubmitter
	store     *repository.MemoryStore
	clock     *clockwork.FakeClock
	factory   *Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := gateway.NewMockBackend()
	backend.OTPGenerator = func() string { return "123456" }
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
	kv := cache.New(nil, clock)
	store := repository.NewMemoryStore()
	approvals := service.NewApprovalService(store, service.NewAuditService(store),
		service.NewSignatureBinder("test-binding-key"), zap.NewNop(), service.WithApprovalClock(clock))

	submitter := &stubSubmitter{respond: func(domain.TransactionType, gateway.SubmitPayload) (*models.TransactionRecord, error) {
		return &models.TransactionRecord{ID: "abc", TokenNumber: "T-0042", QueueNumber: "17"}, nil
	}}

	factory := NewFactory(Dependencies{
		Backend:   submitter,
		OTP:       otp.NewClient(backend, zap.NewNop()),
		Verifier:  service.NewAccountVerifier(backend, zap.NewNop()),
		Accounts:  service.NewAccountDirectory(backend, kv, zap.NewNop()),
		Rates:     service.NewExchangeRateService(backend, kv, time.Minute, zap.NewNop()),
		Workflows: approvals,
		Clock:     clock,
	})
	return &fixture{backend: backend, submitter: submitter, store: store, clock: clock, factory: factory}
}

func (f *fixture) open(t *testing.T, phone string, txType domain.TransactionType) *Sequencer {
	t.Helper()
	s, err := f.factory.New("teller-1", phone, txType)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func setField(t *testing.T, s *Sequencer, field domain.Field, value string) {
	t.Helper()
	fe, err := s.SetField(field, value)
	require.NoError(t, err)
	require.Nil(t, fe, "unexpected inline error on %s", field)
}

func validationFields(t *testing.T, err error) domain.FieldErrors {
	t.Helper()
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Fields
}

// toOTPStep fills a 500 ETB transfer between two savings accounts and walks it to the OTP step.
func toOTPStep(t *testing.T, s *Sequencer) {
	t.Helper()
	ctx := context.Background()
	_, err := s.SelectDebitAccount(ctx, "1234567890")
	require.NoError(t, err)
	setField(t, s, domain.FieldCreditAccount, "0987654321")
	res, err := s.VerifyCreditAccount(ctx)
	require.NoError(t, err)
	require.True(t, res.Found)
	setField(t, s, domain.FieldAmount, "500.00")

	view, err := s.Continue(ctx)
	require.NoError(t, err)
	require.Equal(t, StepConfirm, view.Step)
	setField(t, s, domain.FieldTermsAccepted, "true")

	view, err = s.Continue(ctx)
	require.NoError(t, err)
	require.Equal(t, StepOTP, view.Step)
}

func TestSequencer_FundTransferEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "0911000001", domain.TxFundTransfer)

	view, err := s.SelectDebitAccount(ctx, "1234567890")
	require.NoError(t, err)
	assert.Equal(t, "John Doe", view.Draft.DebitAccountHolderName)
	assert.Equal(t, []StepID{StepDetails, StepConfirm, StepOTP}, view.Steps)

	setField(t, s, domain.FieldCreditAccount, "0987654321")
	res, err := s.VerifyCreditAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", res.HolderName)
	setField(t, s, domain.FieldAmount, "500.00")

	view, err = s.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepConfirm, view.Step)
	require.NotNil(t, view.Approval)
	assert.False(t, view.Approval.Required)
	require.NotNil(t, view.Display)
	assert.Equal(t, "500.00", view.Display.AmountETB)
	assert.Empty(t, view.Display.OriginalCurrency)

	_, err = s.Continue(ctx)
	assert.Equal(t, []domain.Field{domain.FieldTermsAccepted}, fieldsOf(validationFields(t, err)))

	setField(t, s, domain.FieldTermsAccepted, "true")
	view, err = s.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepOTP, view.Step)
	assert.Equal(t, otp.StateRequested, view.OTP.State)
	assert.False(t, view.OTP.CanResend)

	view, err = s.Submit(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, view.Submitted)
	assert.Nil(t, view.Draft)
	require.NotNil(t, view.Result)
	assert.Equal(t, "abc", view.Result.ID)
	assert.Equal(t, "T-0042", view.Result.TokenNumber)
	assert.Equal(t, "17", view.Result.QueueNumber)
	assert.Equal(t, domain.RecordStatusPending, view.Result.Status)
	assert.Equal(t, "Jane Roe", view.Result.CreditHolderName)

	calls := f.submitter.Calls()
	require.Len(t, calls, 1)
	p := calls[0].payload
	assert.Equal(t, "1234567890", p.AccountNumber)
	assert.Equal(t, "0987654321", p.BeneficiaryAccountNumber)
	assert.Equal(t, "Jane Roe", p.BeneficiaryName)
	assert.Equal(t, "500.00", p.Amount.String())
	assert.Equal(t, domain.BaseCurrency, p.Currency)
	assert.Empty(t, p.OriginalCurrency)
	assert.Equal(t, "123456", p.OTPCode)

	require.NotNil(t, view.Workflow)
	assert.Equal(t, "abc", view.Workflow.VoucherID)
	assert.Equal(t, domain.WorkflowCompleted, view.Workflow.Status)

	_, err = s.Submit(ctx, "123456")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	_, err = s.SetField(domain.FieldAmount, "1")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func fieldsOf(errs domain.FieldErrors) []domain.Field {
	out := make([]domain.Field, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestSequencer_DetailsGate(t *testing.T) {
	ctx := context.Background()

	t.Run("errors come back in form order", func(t *testing.T) {
		s := newFixture(t).open(t, "0911000001", domain.TxFundTransfer)
		_, err := s.Continue(ctx)
		fields := fieldsOf(validationFields(t, err))
		assert.Equal(t, []domain.Field{domain.FieldDebitAccount, domain.FieldCreditAccount, domain.FieldAmount}, fields)
		assert.Equal(t, domain.FieldDebitAccount, s.View().FocusField)
		assert.Equal(t, StepDetails, s.View().Step)
	})

	t.Run("unknown beneficiary blocks continue", func(t *testing.T) {
		s := newFixture(t).open(t, "0911000001", domain.TxFundTransfer)
		_, err := s.SelectDebitAccount(ctx, "1234567890")
		require.NoError(t, err)
		setField(t, s, domain.FieldCreditAccount, "1111111111")
		setField(t, s, domain.FieldAmount, "100")

		res, err := s.VerifyCreditAccount(ctx)
		require.NoError(t, err)
		assert.False(t, res.Found)

		_, err = s.Continue(ctx)
		fields := validationFields(t, err)
		require.Len(t, fields, 1)
		assert.Equal(t, domain.FieldCreditAccount, fields[0].Field)
		assert.Equal(t, domain.ErrAccountNotVerified.Error(), fields[0].Message)
	})

	t.Run("beneficiary equal to debit account", func(t *testing.T) {
		s := newFixture(t).open(t, "0911000001", domain.TxFundTransfer)
		_, err := s.SelectDebitAccount(ctx, "1234567890")
		require.NoError(t, err)
		setField(t, s, domain.FieldCreditAccount, "1234567890")

		_, err = s.VerifyCreditAccount(ctx)
		fields := validationFields(t, err)
		assert.Equal(t, domain.ErrSameAccount.Error(), fields[0].Message)
	})

	t.Run("editing the beneficiary drops its verification", func(t *testing.T) {
		s := newFixture(t).open(t, "0911000001", domain.TxFundTransfer)
		_, err := s.SelectDebitAccount(ctx, "1234567890")
		require.NoError(t, err)
		setField(t, s, domain.FieldCreditAccount, "0987654321")
		_, err = s.VerifyCreditAccount(ctx)
		require.NoError(t, err)
		require.True(t, s.View().Draft.IsCreditAccountVerified)

		setField(t, s, domain.FieldCreditAccount, "0987654322")
		draft := s.View().Draft
		assert.False(t, draft.IsCreditAccountVerified)
		assert.Empty(t, draft.CreditAccountHolderName)
	})

	t.Run("foreign currency needs a diaspora account", func(t *testing.T) {
		s := newFixture(t).open(t, "0911000001", domain.TxWithdrawal)
		_, err := s.SelectDebitAccount(ctx, "1234567890")
		require.NoError(t, err)
		setField(t, s, domain.FieldAmount, "100")
		setField(t, s, domain.FieldCurrency, "usd")

		_, err = s.Continue(ctx)
		fields := validationFields(t, err)
		require.Len(t, fields, 1)
		assert.Equal(t, domain.FieldCurrency, fields[0].Field)
		assert.Equal(t, ErrForeignCurrency.Error(), fields[0].Message)
	})

	t.Run("fields outside the current step are refused", func(t *testing.T) {
		s := newFixture(t).open(t, "0911000001", domain.TxWithdrawal)
		_, err := s.SetField(domain.FieldOTP, "123456")
		assert.ErrorIs(t, err, models.ErrValidation)
		_, err = s.SetField(domain.FieldCreditAccount, "0987654321")
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("inline error is returned without blocking", func(t *testing.T) {
		s := newFixture(t).open(t, "0911000001", domain.TxWithdrawal)
		fe, err := s.SetField(domain.FieldAmount, "12.345")
		require.NoError(t, err)
		require.NotNil(t, fe)
		assert.Equal(t, domain.FieldAmount, fe.Field)

		fe, err = s.SetField(domain.FieldAmount, "12.34")
		require.NoError(t, err)
		assert.Nil(t, fe)
		assert.Empty(t, s.View().FieldErrors)
	})
}

func TestSequencer_UnknownDebitAccount(t *testing.T) {
	s := newFixture(t).open(t, "0911000001", domain.TxWithdrawal)
	_, err := s.SelectDebitAccount(context.Background(), "2222222222")
	fields := validationFields(t, err)
	assert.Equal(t, domain.FieldDebitAccount, fields[0].Field)
	assert.Empty(t, s.View().Draft.DebitAccountHolderName)
}

func TestSequencer_SignaturesForCurrentAccounts(t *testing.T) {
	ctx := context.Background()
	s := newFixture(t).open(t, "0911000001", domain.TxWithdrawal)

	view, err := s.SelectDebitAccount(ctx, "1234567891234")
	require.NoError(t, err)
	assert.Equal(t, []StepID{StepDetails, StepSignatures, StepConfirm, StepOTP}, view.Steps)
	setField(t, s, domain.FieldAmount, "2500")

	view, err = s.Continue(ctx)
	require.NoError(t, err)
	require.Equal(t, StepSignatures, view.Step)

	_, err = s.Continue(ctx)
	fields := validationFields(t, err)
	assert.Equal(t, domain.ErrSignatureRequired.Error(), fields[0].Message)

	_, err = s.AddSignature(models.Signature{SignerName: " ", Data: testSignature})
	require.NoError(t, err)
	_, err = s.Continue(ctx)
	fields = validationFields(t, err)
	assert.Equal(t, domain.ErrSignerNameRequired.Error(), fields[0].Message)

	_, err = s.RemoveSignature(3)
	assert.ErrorIs(t, err, ErrSignatureIndex)
	_, err = s.RemoveSignature(0)
	require.NoError(t, err)
	_, err = s.AddSignature(models.Signature{SignerName: "John Doe", Data: ""})
	assert.ErrorIs(t, err, ErrSignatureData)
	_, err = s.AddSignature(models.Signature{SignerName: "John Doe", Data: testSignature})
	require.NoError(t, err)

	view, err = s.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepConfirm, view.Step)

	view, err = s.Back()
	require.NoError(t, err)
	assert.Equal(t, StepSignatures, view.Step)
	assert.Len(t, view.Draft.Signatures, 1)
	assert.Equal(t, "2500", view.Draft.Amount)
}

func TestSequencer_SwitchingDebitAccountDropsSignatures(t *testing.T) {
	ctx := context.Background()
	s := newFixture(t).open(t, "0911000001", domain.TxWithdrawal)

	_, err := s.SelectDebitAccount(ctx, "1234567891234")
	require.NoError(t, err)
	setField(t, s, domain.FieldAmount, "2500")
	_, err = s.Continue(ctx)
	require.NoError(t, err)
	_, err = s.AddSignature(models.Signature{SignerName: "John Doe", Data: testSignature})
	require.NoError(t, err)

	_, err = s.Back()
	require.NoError(t, err)
	view, err := s.SelectDebitAccount(ctx, "1234567890")
	require.NoError(t, err)
	assert.Empty(t, view.Draft.Signatures)
	assert.Equal(t, []StepID{StepDetails, StepConfirm, StepOTP}, view.Steps)
}

func TestSequencer_DiasporaWithdrawalConvertsToETB(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "0911000003", domain.TxWithdrawal)

	view, err := s.SelectDebitAccount(ctx, "5550001112")
	require.NoError(t, err)
	assert.True(t, view.Draft.IsDiaspora)
	assert.Equal(t, domain.SegmentDiaspora, view.Draft.CustomerSegment)

	setField(t, s, domain.FieldCurrency, "USD")
	setField(t, s, domain.FieldAmount, "250")

	view, err = s.Continue(ctx)
	require.NoError(t, err)
	require.Equal(t, StepConfirm, view.Step)
	require.NotNil(t, view.Display)
	assert.Equal(t, "14200.00", view.Display.AmountETB)
	assert.Equal(t, "250.00", view.Display.OriginalAmount)
	assert.Equal(t, "USD", view.Display.OriginalCurrency)
	assert.Equal(t, "56.8", view.Display.ExchangeRate)
	assert.False(t, view.Approval.Required)

	_, err = s.Continue(ctx)
	require.NoError(t, err)
	_, err = s.Submit(ctx, "123456")
	require.NoError(t, err)

	p := f.submitter.Calls()[0].payload
	assert.Equal(t, "14200.00", p.Amount.String())
	assert.Equal(t, domain.BaseCurrency, p.Currency)
	assert.Equal(t, "250.00", p.OriginalAmount.String())
	assert.Equal(t, "USD", p.OriginalCurrency)
	assert.Equal(t, "56.8", p.ExchangeRate.String())

	w := s.View().Workflow
	require.NotNil(t, w)
	assert.True(t, w.Amount.Equal(decimal.RequireFromString("14200")))
	assert.Equal(t, "USD", w.OriginalCurrency)
}

func TestSequencer_ForeignAmountCappedInETB(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "0911000003", domain.TxWithdrawal)
	_, err := s.SelectDebitAccount(ctx, "5550001112")
	require.NoError(t, err)

	setField(t, s, domain.FieldCurrency, "USD")
	setField(t, s, domain.FieldAmount, "900000")

	_, err = s.Continue(ctx)
	fields := validationFields(t, err)
	assert.Equal(t, domain.FieldAmount, fields[0].Field)
	assert.Equal(t, domain.ErrAmountTooLarge.Error(), fields[0].Message)

	view := s.View()
	assert.Equal(t, StepDetails, view.Step)
	assert.Equal(t, domain.FieldAmount, view.FocusField)
	assert.True(t, view.Draft.AmountETB.IsZero())
	assert.Nil(t, view.Approval)
	assert.Empty(t, f.submitter.Calls())
}

type gatedRates struct {
	entered chan struct{}
	gate    chan struct{}
	rate    decimal.Decimal
}

func (g *gatedRates) Rate(ctx context.Context, currency string, t domain.TransactionType) (decimal.Decimal, error) {
	close(g.entered)
	<-g.gate
	return g.rate, nil
}

func TestSequencer_EditsWaitForTheRateLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rates := &gatedRates{entered: make(chan struct{}), gate: make(chan struct{}), rate: decimal.RequireFromString("56.8")}
	deps := *f.factory.deps
	deps.Rates = rates
	s, err := NewFactory(deps).New("teller-1", "0911000003", domain.TxWithdrawal)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.SelectDebitAccount(ctx, "5550001112")
	require.NoError(t, err)
	setField(t, s, domain.FieldCurrency, "USD")
	setField(t, s, domain.FieldAmount, "10")

	done := make(chan error, 1)
	go func() {
		_, err := s.Continue(ctx)
		done <- err
	}()
	<-rates.entered

	_, err = s.SetField(domain.FieldAmount, "9000")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.SetField(domain.FieldCurrency, "EUR")
	assert.ErrorIs(t, err, ErrBusy)

	close(rates.gate)
	require.NoError(t, <-done)

	view := s.View()
	assert.Equal(t, StepConfirm, view.Step)
	assert.Equal(t, "10", view.Draft.Amount)
	assert.Equal(t, "568.00", view.Display.AmountETB)
}

func TestSequencer_ChangingAmountClearsConversion(t *testing.T) {
	ctx := context.Background()
	s := newFixture(t).open(t, "0911000003", domain.TxWithdrawal)
	_, err := s.SelectDebitAccount(ctx, "5550001112")
	require.NoError(t, err)
	setField(t, s, domain.FieldCurrency, "USD")
	setField(t, s, domain.FieldAmount, "250")
	_, err = s.Continue(ctx)
	require.NoError(t, err)

	_, err = s.Back()
	require.NoError(t, err)
	setField(t, s, domain.FieldAmount, "300")
	view := s.View()
	assert.Nil(t, view.Display)
	assert.Nil(t, view.Approval)
	assert.True(t, view.Draft.AmountETB.IsZero())
}

func TestSequencer_ApprovalRequiredCreatesPendingWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "0911000001", domain.TxWithdrawal)

	_, err := s.SelectDebitAccount(ctx, "1234567890")
	require.NoError(t, err)
	setField(t, s, domain.FieldAmount, "150000")
	view, err := s.Continue(ctx)
	require.NoError(t, err)
	require.NotNil(t, view.Approval)
	assert.True(t, view.Approval.Required)
	assert.Equal(t, domain.TierManager, view.Approval.Tier)

	_, err = s.Continue(ctx)
	require.NoError(t, err)
	view, err = s.Submit(ctx, "123456")
	require.NoError(t, err)
	require.NotNil(t, view.Workflow)
	assert.Equal(t, domain.WorkflowPendingApproval, view.Workflow.Status)

	stored, err := f.store.Queries().GetWorkflowByVoucher(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "teller-1", stored.CreatedBy)
	assert.NotContains(t, string(stored.VoucherData), `"otpCode":"123456"`)
}

func TestSequencer_OTPRejectionKeepsTheForm(t *testing.T) {
	f := newFixture(t)
	f.submitter.respond = func(t domain.TransactionType, p gateway.SubmitPayload) (*models.TransactionRecord, error) {
		return f.backend.Submit(context.Background(), t, p)
	}
	ctx := context.Background()
	s := f.open(t, "0911000001", domain.TxFundTransfer)
	toOTPStep(t, s)

	_, err := s.Submit(ctx, "654321")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrOTPRejected)
	assert.Equal(t, models.ErrValidation, models.Kind(err))

	view := s.View()
	assert.Equal(t, StepOTP, view.Step)
	assert.False(t, view.Submitted)
	assert.Equal(t, domain.FieldOTP, view.FocusField)
	assert.Equal(t, "1234567890", view.Draft.DebitAccountNumber)
	assert.Equal(t, "Jane Roe", view.Draft.CreditAccountHolderName)
	assert.Equal(t, "500.00", view.Draft.Amount)

	s.mu.Lock()
	kept := s.draft.OTPCode
	s.mu.Unlock()
	assert.Equal(t, "654321", kept)

	_, err = s.Submit(ctx, "654321")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Len(t, f.submitter.Calls(), 1, "a rejected code is not sent twice")

	view, err = s.Submit(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, view.Submitted)
	assert.NotEmpty(t, view.Result.ID)
}

func TestSequencer_NetworkFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	fail := true
	f.submitter.respond = func(domain.TransactionType, gateway.SubmitPayload) (*models.TransactionRecord, error) {
		if fail {
			return nil, gateway.ErrUnavailable
		}
		return &models.TransactionRecord{ID: "abc"}, nil
	}
	ctx := context.Background()
	s := f.open(t, "0911000001", domain.TxFundTransfer)
	toOTPStep(t, s)

	_, err := s.Submit(ctx, "123456")
	assert.ErrorIs(t, err, models.ErrNetwork)
	view := s.View()
	assert.False(t, view.Submitted)
	assert.NotEmpty(t, view.StepError)
	assert.Equal(t, "500.00", view.Draft.Amount)

	fail = false
	view, err = s.Submit(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, "abc", view.Result.ID)
}

func TestSequencer_MissingRecordID(t *testing.T) {
	f := newFixture(t)
	f.submitter.respond = func(domain.TransactionType, gateway.SubmitPayload) (*models.TransactionRecord, error) {
		return &models.TransactionRecord{TokenNumber: "T-1"}, nil
	}
	s := f.open(t, "0911000001", domain.TxFundTransfer)
	toOTPStep(t, s)

	_, err := s.Submit(context.Background(), "123456")
	assert.ErrorIs(t, err, ErrMissingRecordID)
	assert.False(t, s.View().Submitted)
}

func TestSequencer_ExpiredOTP(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "0911000001", domain.TxFundTransfer)
	toOTPStep(t, s)

	f.clock.Advance(otp.DefaultValidity + time.Second)
	_, err := s.Submit(context.Background(), "123456")
	fields := validationFields(t, err)
	assert.Equal(t, domain.FieldOTP, fields[0].Field)
	assert.Empty(t, f.submitter.Calls())
}

func TestSequencer_ResendCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "0911000001", domain.TxFundTransfer)
	toOTPStep(t, s)

	_, err := s.ResendOTP(ctx)
	assert.ErrorIs(t, err, otp.ErrCooldownActive)

	f.clock.Advance(otp.ResendCooldown)
	require.Eventually(t, func() bool { return s.View().OTP.CanResend }, time.Second, 5*time.Millisecond)
	view, err := s.ResendOTP(ctx)
	require.NoError(t, err)
	assert.Equal(t, otp.StateResent, view.OTP.State)
	assert.Equal(t, 30, view.OTP.CooldownRemainingSeconds)
}

func TestSequencer_BackToConfirmReusesLiveCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "0911000001", domain.TxFundTransfer)
	toOTPStep(t, s)
	issued := s.View().OTP.ExpiresAt

	view, err := s.Back()
	require.NoError(t, err)
	require.Equal(t, StepConfirm, view.Step)

	view, err = s.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepOTP, view.Step)
	assert.Equal(t, otp.StateRequested, view.OTP.State)
	assert.Equal(t, issued, view.OTP.ExpiresAt, "no new code was requested")

	t.Run("expired code is requested again", func(t *testing.T) {
		f.clock.Advance(otp.DefaultValidity + time.Second)
		_, err := s.Back()
		require.NoError(t, err)
		view, err := s.Continue(ctx)
		require.NoError(t, err)
		assert.Equal(t, StepOTP, view.Step)
		assert.Equal(t, otp.StateRequested, view.OTP.State)
		assert.NotEqual(t, issued, view.OTP.ExpiresAt)
	})

	view, err = s.Submit(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, view.Submitted)
}

func TestSequencer_OneCallInFlight(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	s := f.open(t, "0911000001", domain.TxFundTransfer)
	toOTPStep(t, s)
	f.submitter.gate = gate

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "123456")
		done <- err
	}()
	require.Eventually(t, func() bool { return s.View().Busy }, time.Second, 5*time.Millisecond)

	_, err := s.Submit(context.Background(), "123456")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.ResendOTP(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Back()
	assert.ErrorIs(t, err, ErrBusy)

	close(gate)
	require.NoError(t, <-done)
	assert.Len(t, f.submitter.Calls(), 1)
	assert.False(t, s.View().Busy)
}

func TestSequencer_UpdateMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &models.TransactionRecord{
		ID:                 "abc",
		Type:               domain.TxWithdrawal,
		Status:             domain.RecordStatusPending,
		PhoneNumber:        "0911000001",
		DebitAccountNumber: "1234567890",
		AccountHolderName:  "John Doe",
		AccountType:        domain.AccountTypeSavings,
		Amount:             decimal.RequireFromString("500"),
	}

	s, err := f.factory.NewForUpdate("teller-1", rec)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	view := s.View()
	assert.Equal(t, ModeUpdate, view.Mode)
	assert.Equal(t, "abc", view.RecordID)
	assert.Equal(t, StepConfirm, view.Step)
	assert.Equal(t, "500.00", view.Draft.Amount)
	require.NotNil(t, view.Approval)

	_, err = s.Continue(ctx)
	require.NoError(t, err)
	view, err = s.Submit(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, view.Submitted)
	assert.Nil(t, view.Workflow)

	calls := f.submitter.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "abc", calls[0].recordID)

	t.Run("only pending records", func(t *testing.T) {
		cancelled := *rec
		cancelled.Status = domain.RecordStatusCancelled
		_, err := f.factory.NewForUpdate("teller-1", &cancelled)
		assert.ErrorIs(t, err, ErrRecordNotEditable)
		_, err = f.factory.NewForUpdate("teller-1", &models.TransactionRecord{Status: domain.RecordStatusPending})
		assert.ErrorIs(t, err, ErrRecordIncomplete)
	})
}

func TestSequencer_Close(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "0911000001", domain.TxFundTransfer)
	toOTPStep(t, s)

	s.Close()
	s.Close()
	assert.True(t, s.Closed())
	_, err := s.Submit(context.Background(), "123456")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.SetField(domain.FieldOTP, "123456")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFactory_NewForCustomerLocksPhone(t *testing.T) {
	f := newFixture(t)
	s, err := f.factory.NewForCustomer("cust-1", "0911000001", domain.TxWithdrawal)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.SetField(domain.FieldPhone, "0911000002")
	assert.Equal(t, ErrPhoneLocked.Error(), validationFields(t, err)[0].Message)
	assert.Equal(t, "0911000001", s.View().Draft.PhoneNumber)

	_, err = f.factory.NewForCustomer("cust-1", " ", domain.TxWithdrawal)
	assert.ErrorIs(t, err, models.ErrValidation)

	staff := f.open(t, "0911000001", domain.TxWithdrawal)
	setField(t, staff, domain.FieldPhone, "0911000002")
	assert.Equal(t, "0911000002", staff.View().Draft.PhoneNumber)
}

func TestFactory_UnknownType(t *testing.T) {
	_, err := newFixture(t).factory.New("teller-1", "0911000001", domain.TransactionType("loan"))
	assert.ErrorIs(t, err, ErrUnknownType)
}
