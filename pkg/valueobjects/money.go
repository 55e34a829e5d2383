// Package valueobjects holds validated value types shared by the workflow
// and its front ends.
package valueobjects

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/roundup-invest/receipt-review/errors"
	"github.com/shopspring/decimal"
)

// Currency represents a valid ISO 4217 currency code
type Currency string

// Supported currencies
const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

var validCurrencies = map[Currency]bool{
	USD: true,
	EUR: true,
	GBP: true,
}

const (
	ErrInvalidAmount   = "INVALID_AMOUNT"
	ErrInvalidCurrency = "INVALID_CURRENCY"
)

// Money is a receipt amount in a supported currency.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney creates a new Money instance with validation
func NewMoney(amount decimal.Decimal, currency Currency) (*Money, error) {
	if !isValidCurrency(currency) {
		return nil, errors.ValidationFailed(
			"invalid currency",
			fmt.Sprintf("currency %s is not supported", currency),
		)
	}
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	return &Money{amount: amount, currency: currency}, nil
}

// ValidateAmount checks a user-entered receipt amount: non-negative with at
// most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.ValidationFailed("invalid amount", "amount cannot be negative")
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return errors.ValidationFailed("invalid amount", "amount cannot have more than 2 decimal places")
	}
	return nil
}

// ParseAmount parses and validates a user-entered amount such as "49.99".
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.ValidationFailed("invalid amount format", err.Error())
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// Amount returns the decimal amount
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the currency code
func (m Money) Currency() Currency {
	return m.currency
}

// String renders the amount with the currency's symbol and grouping, e.g. "$1,049.99".
func (m Money) String() string {
	return Format(m.amount, m.currency)
}

// Format renders amount in currency without validating it.
func Format(amount decimal.Decimal, currency Currency) string {
	cur := money.GetCurrency(string(currency))
	if cur == nil {
		return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}

func isValidCurrency(currency Currency) bool {
	return validCurrencies[currency]
}
