package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAccountNumber_Boundaries(t *testing.T) {
	tests := []struct {
		name  string
		value string
		valid bool
	}{
		{"nine digits", strings.Repeat("1", 9), false},
		{"ten digits", strings.Repeat("1", 10), true},
		{"sixteen digits", strings.Repeat("1", 16), true},
		{"seventeen digits", strings.Repeat("1", 17), false},
		{"non numeric", "12345abcde", false},
		{"decimal point", "12345.67890", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAccountNumber(tc.value)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrAccountNumberFormat)
			}
		})
	}
}

func TestValidateOTP(t *testing.T) {
	assert.NoError(t, ValidateOTP("123456"))
	assert.ErrorIs(t, ValidateOTP("12345"), ErrOTPFormat)
	assert.ErrorIs(t, ValidateOTP("1234567"), ErrOTPFormat)
	assert.ErrorIs(t, ValidateOTP("12a456"), ErrOTPFormat)
}

func TestFieldValidators_PerForm(t *testing.T) {
	transfer := FieldValidators(TxFundTransfer)
	assert.Contains(t, transfer, FieldCreditAccount)
	assert.Contains(t, transfer, FieldTermsAccepted)

	revoke := FieldValidators(TxRevokeStopPayment)
	assert.NotContains(t, revoke, FieldAmount)
	assert.Contains(t, revoke, FieldStopPaymentID)

	withdrawal := FieldValidators(TxWithdrawal)
	assert.NoError(t, withdrawal[FieldAmount]("1000000"))
	assert.ErrorIs(t, withdrawal[FieldAmount]("1000000.01"), ErrAmountTooLarge)
	assert.NoError(t, withdrawal[FieldCurrency]("usd"))
	assert.ErrorIs(t, withdrawal[FieldCurrency]("XX"), ErrCurrencyFormat)
}

func TestFieldErrors_First(t *testing.T) {
	fe := FieldErrors{
		{Field: FieldCreditAccount, Message: "account not found"},
		{Field: FieldAmount, Message: "amount is required"},
	}
	first, ok := fe.First()
	assert.True(t, ok)
	assert.Equal(t, FieldCreditAccount, first.Field)
	assert.True(t, fe.Has(FieldAmount))
	assert.False(t, fe.Has(FieldOTP))
	assert.Contains(t, fe.Error(), "credit_account_number: account not found")
}

func TestParseTransactionType(t *testing.T) {
	for raw, want := range map[string]TransactionType{
		"withdrawal":          TxWithdrawal,
		"transfer":            TxFundTransfer,
		"FundTransfer":        TxFundTransfer,
		"stop-payment":        TxStopPayment,
		"revoke-stop-payment": TxRevokeStopPayment,
	} {
		got, err := ParseTransactionType(raw)
		assert.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseTransactionType("deposit")
	assert.Error(t, err)
}
