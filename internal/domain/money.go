package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fraction digits carried by every amount.
const AmountScale int32 = 2

var (
	ErrAmountRequired    = errors.New("amount is required")
	ErrAmountInvalid     = errors.New("amount must be a number")
	ErrAmountNotPositive = errors.New("amount must be greater than zero")
	ErrAmountPrecision   = errors.New("amount must have at most 2 decimal places")
	ErrAmountTooLarge    = errors.New("amount exceeds the maximum allowed")
)

var amountPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// Money pairs a decimal amount with its ISO 4217 currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

// IsBase reports whether m is already denominated in ETB.
func (m Money) IsBase() bool {
	return m.Currency == "" || m.Currency == BaseCurrency
}

// Convert multiplies by rate and rounds to AmountScale.
func (m Money) Convert(targetCurrency string, rate decimal.Decimal) Money {
	return Money{
		Amount:   m.Amount.Mul(rate).Round(AmountScale),
		Currency: targetCurrency,
	}
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(AmountScale), m.Currency)
}

// ParseAmount parses a user-entered amount. It must be positive with at most two fraction digits.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return decimal.Zero, ErrAmountRequired
	}
	if !amountPattern.MatchString(raw) {
		return decimal.Zero, ErrAmountInvalid
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrAmountInvalid
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrAmountNotPositive
	}
	// counted as typed, so "12.300" is refused like "12.345"
	if i := strings.IndexByte(raw, '.'); i >= 0 && len(raw)-i-1 > int(AmountScale) {
		return decimal.Zero, ErrAmountPrecision
	}
	return d, nil
}

// ConvertToETB returns round(amount * rate, 2).
func ConvertToETB(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(AmountScale)
}
