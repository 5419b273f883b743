package wizard

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
)

type draftStep = Step[*models.TransactionDraft]

var (
	ErrDebitAccountUnresolved = errors.New("select or verify the debit account")
	ErrForeignCurrency        = errors.New("foreign currency is only available to diaspora accounts")
	ErrOTPAlreadyRejected     = errors.New("this code was rejected, request a new one")
)

// fieldValue reads a draft field in the string form its validator expects.
func fieldValue(d *models.TransactionDraft, f domain.Field) string {
	switch f {
	case domain.FieldPhone:
		return d.PhoneNumber
	case domain.FieldDebitAccount:
		return d.DebitAccountNumber
	case domain.FieldCreditAccount:
		return d.CreditAccountNumber
	case domain.FieldAmount:
		return d.Amount
	case domain.FieldCurrency:
		return d.Currency
	case domain.FieldChequeNumber:
		return d.ChequeNumber
	case domain.FieldStopReason:
		return d.StopReason
	case domain.FieldStopPaymentID:
		return d.StopPaymentID
	case domain.FieldNarrative:
		return d.Narrative
	case domain.FieldTermsAccepted:
		return strconv.FormatBool(d.TermsAccepted)
	case domain.FieldOTP:
		return d.OTPCode
	}
	return ""
}

// checkFields runs the per-field validators for fields, in order.
func checkFields(d *models.TransactionDraft, fields []domain.Field) domain.FieldErrors {
	validators := domain.FieldValidators(d.Type)
	var errs domain.FieldErrors
	for _, f := range fields {
		v, ok := validators[f]
		if !ok {
			continue
		}
		if err := v(fieldValue(d, f)); err != nil {
			errs = append(errs, domain.FieldError{Field: f, Message: err.Error()})
		}
	}
	return errs
}

func detailsFields(t domain.TransactionType) []domain.Field {
	switch t {
	case domain.TxWithdrawal:
		return []domain.Field{domain.FieldPhone, domain.FieldDebitAccount, domain.FieldAmount, domain.FieldCurrency, domain.FieldNarrative}
	case domain.TxFundTransfer:
		return []domain.Field{domain.FieldPhone, domain.FieldDebitAccount, domain.FieldCreditAccount, domain.FieldAmount, domain.FieldCurrency, domain.FieldNarrative}
	case domain.TxStopPayment:
		return []domain.Field{domain.FieldPhone, domain.FieldDebitAccount, domain.FieldChequeNumber, domain.FieldAmount, domain.FieldCurrency, domain.FieldStopReason}
	case domain.TxRevokeStopPayment:
		return []domain.Field{domain.FieldPhone, domain.FieldDebitAccount, domain.FieldStopPaymentID, domain.FieldStopReason}
	}
	return nil
}

func validateDetails(fields []domain.Field) func(*models.TransactionDraft) domain.FieldErrors {
	return func(d *models.TransactionDraft) domain.FieldErrors {
		errs := checkFields(d, fields)

		if !errs.Has(domain.FieldDebitAccount) && strings.TrimSpace(d.DebitAccountHolderName) == "" {
			errs = append(errs, domain.FieldError{Field: domain.FieldDebitAccount, Message: ErrDebitAccountUnresolved.Error()})
		}
		if d.Type.HasCreditAccount() && !errs.Has(domain.FieldCreditAccount) {
			switch {
			case d.CreditAccountNumber == d.DebitAccountNumber:
				errs = append(errs, domain.FieldError{Field: domain.FieldCreditAccount, Message: domain.ErrSameAccount.Error()})
			case !d.IsCreditAccountVerified:
				errs = append(errs, domain.FieldError{Field: domain.FieldCreditAccount, Message: domain.ErrAccountNotVerified.Error()})
			}
		}
		if d.Type.HasAmount() && !errs.Has(domain.FieldCurrency) && !d.IsDiaspora &&
			d.Currency != "" && !strings.EqualFold(d.Currency, domain.BaseCurrency) {
			errs = append(errs, domain.FieldError{Field: domain.FieldCurrency, Message: ErrForeignCurrency.Error()})
		}
		return orderErrors(errs, fields)
	}
}

// orderErrors sorts errors into form order so First points at the topmost field.
func orderErrors(errs domain.FieldErrors, fields []domain.Field) domain.FieldErrors {
	if len(errs) < 2 {
		return errs
	}
	out := make(domain.FieldErrors, 0, len(errs))
	for _, f := range fields {
		for _, e := range errs {
			if e.Field == f {
				out = append(out, e)
			}
		}
	}
	return out
}

func validateSignatures(d *models.TransactionDraft) domain.FieldErrors {
	if len(d.Signatures) == 0 {
		return domain.FieldErrors{{Field: domain.FieldSignatures, Message: domain.ErrSignatureRequired.Error()}}
	}
	for _, s := range d.Signatures {
		if !s.Complete() {
			return domain.FieldErrors{{Field: domain.FieldSignatures, Message: domain.ErrSignerNameRequired.Error()}}
		}
	}
	return nil
}

func needsNoSignatures(d *models.TransactionDraft) bool {
	return !d.RequiresSignatures()
}

func confirmFields(t domain.TransactionType) []domain.Field {
	if t == domain.TxFundTransfer {
		return []domain.Field{domain.FieldTermsAccepted}
	}
	return nil
}

func validateConfirm(fields []domain.Field) func(*models.TransactionDraft) domain.FieldErrors {
	return func(d *models.TransactionDraft) domain.FieldErrors {
		return checkFields(d, fields)
	}
}

func validateOTP(d *models.TransactionDraft) domain.FieldErrors {
	return checkFields(d, []domain.Field{domain.FieldOTP})
}

// StepTable returns the declarative step sequence for a transaction type.
func StepTable(t domain.TransactionType) []draftStep {
	details := detailsFields(t)
	confirm := confirmFields(t)
	steps := []draftStep{{ID: StepDetails, Fields: details, Validate: validateDetails(details)}}
	if t != domain.TxRevokeStopPayment {
		steps = append(steps, draftStep{
			ID:       StepSignatures,
			Fields:   []domain.Field{domain.FieldSignatures},
			Validate: validateSignatures,
			SkipIf:   needsNoSignatures,
		})
	}
	return append(steps,
		draftStep{ID: StepConfirm, Fields: confirm, Validate: validateConfirm(confirm)},
		draftStep{ID: StepOTP, Fields: []domain.Field{domain.FieldOTP}, Validate: validateOTP},
	)
}
