package wizard

import (
	"testing"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepTable(t *testing.T) {
	tests := []struct {
		txType      domain.TransactionType
		accountType string
		want        []StepID
	}{
		{domain.TxWithdrawal, domain.AccountTypeSavings, []StepID{StepDetails, StepConfirm, StepOTP}},
		{domain.TxWithdrawal, domain.AccountTypeCurrent, []StepID{StepDetails, StepSignatures, StepConfirm, StepOTP}},
		{domain.TxFundTransfer, domain.AccountTypeCurrent, []StepID{StepDetails, StepSignatures, StepConfirm, StepOTP}},
		{domain.TxStopPayment, "", []StepID{StepDetails, StepConfirm, StepOTP}},
		{domain.TxRevokeStopPayment, domain.AccountTypeCurrent, []StepID{StepDetails, StepConfirm, StepOTP}},
	}
	for _, tt := range tests {
		t.Run(string(tt.txType)+"/"+tt.accountType, func(t *testing.T) {
			draft := &models.TransactionDraft{Type: tt.txType, DebitAccountType: tt.accountType}
			assert.Equal(t, tt.want, NewFlow(StepTable(tt.txType)).Visible(draft))
		})
	}
}

func TestFlow_NextAndBackSkipHiddenSteps(t *testing.T) {
	draft := &models.TransactionDraft{Type: domain.TxWithdrawal, DebitAccountType: domain.AccountTypeSavings}
	flow := NewFlow(StepTable(domain.TxWithdrawal))

	step, ok := flow.Next(draft)
	require.True(t, ok)
	assert.Equal(t, StepConfirm, step.ID)

	step, ok = flow.Back(draft)
	require.True(t, ok)
	assert.Equal(t, StepDetails, step.ID)

	_, ok = flow.Back(draft)
	assert.False(t, ok)

	require.True(t, flow.Jump(StepOTP))
	_, ok = flow.Next(draft)
	assert.False(t, ok)
	assert.Equal(t, StepOTP, flow.Current().ID)
	assert.False(t, flow.Jump("review"))
}

func TestFlow_StepOwnsItsFields(t *testing.T) {
	steps := StepTable(domain.TxFundTransfer)
	assert.True(t, steps[0].Owns(domain.FieldCreditAccount))
	assert.False(t, steps[0].Owns(domain.FieldOTP))
	assert.True(t, steps[len(steps)-1].Owns(domain.FieldOTP))
}

func TestRegistry_OwnerScopeAndSweep(t *testing.T) {
	f := newFixture(t)
	clock := f.clock
	reg := NewRegistry(15*time.Minute, clock)
	t.Cleanup(reg.CloseAll)

	idle, err := f.factory.New("teller-1", "0911000001", domain.TxWithdrawal)
	require.NoError(t, err)
	active, err := f.factory.New("teller-1", "0911000002", domain.TxWithdrawal)
	require.NoError(t, err)
	reg.Add(idle)
	reg.Add(active)

	_, err = reg.Get(idle.ID(), "teller-2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, reg.Remove(idle.ID(), "teller-2"), ErrSessionNotFound)
	got, err := reg.Get(idle.ID(), "teller-1")
	require.NoError(t, err)
	assert.Same(t, idle, got)

	clock.Advance(10 * time.Minute)
	_, err = active.SetField(domain.FieldAmount, "100")
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, reg.Sweep())
	assert.True(t, idle.Closed())
	assert.False(t, active.Closed())
	_, err = reg.Get(idle.ID(), "teller-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Remove(active.ID(), "teller-1"))
	assert.True(t, active.Closed())
	assert.Zero(t, reg.Len())
}
