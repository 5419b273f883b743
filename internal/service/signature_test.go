package service

import (
	"testing"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureBinder_BindAndVerify(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 17, 0, time.UTC)
	voucher := VoucherRef{ID: "V-1", Type: domain.ResourceFundTransfer}
	binder := NewSignatureBinder("k")

	b, err := binder.Bind(testSignature, voucher, domain.RoleManager, at)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmHMAC, b.Algorithm)
	assert.Equal(t, at.Truncate(time.Minute), b.BucketStart)
	assert.True(t, binder.Verify(b, testSignature))
	assert.False(t, binder.Verify(b, testSignature+"AA"))

	same, err := binder.Bind(testSignature, voucher, domain.RoleManager, at.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, b.BindingHash, same.BindingHash, "same bucket reproduces the binding")

	for name, other := range map[string]func() (models.SignatureBinding, error){
		"voucher": func() (models.SignatureBinding, error) {
			return binder.Bind(testSignature, VoucherRef{ID: "V-2", Type: domain.ResourceFundTransfer}, domain.RoleManager, at)
		},
		"role": func() (models.SignatureBinding, error) {
			return binder.Bind(testSignature, voucher, domain.RoleMaker, at)
		},
		"bucket": func() (models.SignatureBinding, error) {
			return binder.Bind(testSignature, voucher, domain.RoleManager, at.Add(time.Minute))
		},
		"key": func() (models.SignatureBinding, error) {
			return NewSignatureBinder("other").Bind(testSignature, voucher, domain.RoleManager, at)
		},
	} {
		got, err := other()
		require.NoError(t, err, name)
		assert.NotEqual(t, b.BindingHash, got.BindingHash, name)
	}
}

func TestSignatureBinder_WithoutKey(t *testing.T) {
	binder := NewSignatureBinder("")
	b, err := binder.Bind("raw-signature", VoucherRef{ID: "V-1", Type: domain.ResourceCashWithdrawal}, domain.RoleMaker, time.Now())
	require.NoError(t, err)
	assert.Equal(t, AlgorithmSHA256, b.Algorithm)
	assert.True(t, binder.Verify(b, "raw-signature"))
	assert.False(t, NewSignatureBinder("k").Verify(b, "raw-signature"))
}

func TestSignatureBinder_RequiresInputs(t *testing.T) {
	binder := NewSignatureBinder("k")
	_, err := binder.Bind("  ", VoucherRef{ID: "V-1", Type: domain.ResourceFundTransfer}, domain.RoleManager, time.Now())
	assert.ErrorIs(t, err, domain.ErrSignatureRequired)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = binder.Bind(testSignature, VoucherRef{}, domain.RoleManager, time.Now())
	assert.ErrorIs(t, err, ErrVoucherRequired)
}
