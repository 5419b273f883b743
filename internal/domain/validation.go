package domain

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Field names a draft input, as used in field errors and the fields API.
type Field string

const (
	FieldPhone         Field = "phone_number"
	FieldDebitAccount  Field = "debit_account_number"
	FieldCreditAccount Field = "credit_account_number"
	FieldAmount        Field = "amount"
	FieldCurrency      Field = "currency"
	FieldChequeNumber  Field = "cheque_number"
	FieldStopReason    Field = "stop_reason"
	FieldStopPaymentID Field = "stop_payment_id"
	FieldNarrative     Field = "narrative"
	FieldTermsAccepted Field = "terms_accepted"
	FieldSignatures    Field = "signatures"
	FieldOTP           Field = "otp_code"
)

var (
	ErrAccountNumberFormat = errors.New("account number must be 10 to 16 digits")
	ErrOTPFormat           = errors.New("OTP must be exactly 6 digits")
	ErrPhoneFormat         = errors.New("phone number is invalid")
	ErrCurrencyFormat      = errors.New("currency must be a 3-letter ISO code")
	ErrChequeNumberFormat  = errors.New("cheque number must be 6 to 12 digits")
	ErrStopReasonRequired  = errors.New("a reason is required")
	ErrStopReasonTooLong   = errors.New("reason must be at most 250 characters")
	ErrNarrativeTooLong    = errors.New("narrative must be at most 140 characters")
	ErrStopPaymentRequired = errors.New("stop payment reference is required")
	ErrTermsNotAccepted    = errors.New("terms and conditions must be accepted")
	ErrSameAccount         = errors.New("beneficiary account must differ from the debit account")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountNotVerified  = errors.New("beneficiary account must be verified")
	ErrSignatureRequired   = errors.New("at least one signature is required")
	ErrSignerNameRequired  = errors.New("each signature needs a signatory name")
	ErrFieldNotEditable    = errors.New("field is not part of this form")
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validator returns the shared validator instance, with the custom "phone" tag registered.
func Validator() *validator.Validate {
	return validate
}

// MaxAmounts caps the entered amount per form, in ETB.
var MaxAmounts = map[TransactionType]decimal.Decimal{
	TxWithdrawal:   decimal.NewFromInt(1_000_000),
	TxFundTransfer: decimal.NewFromInt(10_000_000),
	TxStopPayment:  decimal.NewFromInt(10_000_000),
}

// FieldValidator validates a single raw input value.
type FieldValidator func(value string) error

// FieldError is a single inline error.
type FieldError struct {
	Field   Field  `json:"field"`
	Message string `json:"message"`
}

// FieldErrors keeps errors in the order fields appear on the form.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, e := range fe {
		parts = append(parts, string(e.Field)+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// First returns the first invalid field, the one the form scrolls to.
func (fe FieldErrors) First() (FieldError, bool) {
	if len(fe) == 0 {
		return FieldError{}, false
	}
	return fe[0], true
}

func (fe FieldErrors) Has(field Field) bool {
	for _, e := range fe {
		if e.Field == field {
			return true
		}
	}
	return false
}

func tagCheck(value, tag string, failure error) error {
	if err := validate.Var(value, tag); err != nil {
		return failure
	}
	return nil
}

func ValidateAccountNumber(value string) error {
	return tagCheck(strings.TrimSpace(value), "required,number,min=10,max=16", ErrAccountNumberFormat)
}

func ValidateOTP(value string) error {
	return tagCheck(strings.TrimSpace(value), "required,number,len=6", ErrOTPFormat)
}

func ValidatePhone(value string) error {
	return tagCheck(strings.TrimSpace(value), "required,phone", ErrPhoneFormat)
}

func validateCurrency(value string) error {
	return tagCheck(strings.ToUpper(strings.TrimSpace(value)), "required,iso4217", ErrCurrencyFormat)
}

func validateChequeNumber(value string) error {
	return tagCheck(strings.TrimSpace(value), "required,number,min=6,max=12", ErrChequeNumberFormat)
}

func validateStopReason(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrStopReasonRequired
	}
	return tagCheck(value, "max=250", ErrStopReasonTooLong)
}

func validateNarrative(value string) error {
	return tagCheck(value, "max=140", ErrNarrativeTooLong)
}

func validateStopPaymentID(value string) error {
	if strings.TrimSpace(value) == "" {
		return ErrStopPaymentRequired
	}
	return nil
}

func validateTerms(value string) error {
	if strings.EqualFold(strings.TrimSpace(value), "true") {
		return nil
	}
	return ErrTermsNotAccepted
}

func amountValidator(t TransactionType) FieldValidator {
	return func(value string) error {
		amount, err := ParseAmount(value)
		if err != nil {
			return err
		}
		return WithinMax(t, amount)
	}
}

// WithinMax checks an ETB amount against the form's cap.
func WithinMax(t TransactionType, amountETB decimal.Decimal) error {
	if limit, ok := MaxAmounts[t]; ok && amountETB.GreaterThan(limit) {
		return ErrAmountTooLarge
	}
	return nil
}

// FieldValidators returns the validator map for the string fields of a form.
func FieldValidators(t TransactionType) map[Field]FieldValidator {
	m := map[Field]FieldValidator{
		FieldPhone:        ValidatePhone,
		FieldDebitAccount: ValidateAccountNumber,
		FieldOTP:          ValidateOTP,
		FieldNarrative:    validateNarrative,
	}
	switch t {
	case TxWithdrawal:
		m[FieldAmount] = amountValidator(t)
		m[FieldCurrency] = validateCurrency
	case TxFundTransfer:
		m[FieldAmount] = amountValidator(t)
		m[FieldCurrency] = validateCurrency
		m[FieldCreditAccount] = ValidateAccountNumber
		m[FieldTermsAccepted] = validateTerms
	case TxStopPayment:
		m[FieldAmount] = amountValidator(t)
		m[FieldCurrency] = validateCurrency
		m[FieldChequeNumber] = validateChequeNumber
		m[FieldStopReason] = validateStopReason
	case TxRevokeStopPayment:
		m[FieldStopPaymentID] = validateStopPaymentID
		m[FieldStopReason] = validateStopReason
	}
	return m
}
