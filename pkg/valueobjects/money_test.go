package valueobjects

import (
	"testing"

	"github.com/roundup-invest/receipt-review/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoney(t *testing.T) {
	tests := []struct {
		name        string
		amount      decimal.Decimal
		currency    Currency
		shouldError bool
	}{
		{name: "valid money", amount: decimal.RequireFromString("10.99"), currency: USD},
		{name: "zero", amount: decimal.Zero, currency: EUR},
		{name: "negative amount", amount: decimal.RequireFromString("-10.99"), currency: USD, shouldError: true},
		{name: "invalid currency", amount: decimal.RequireFromString("10.99"), currency: "XXX", shouldError: true},
		{name: "too many decimal places", amount: decimal.RequireFromString("10.999"), currency: USD, shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMoney(tt.amount, tt.currency)
			if tt.shouldError {
				assert.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ValidationError))
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.amount.Equal(m.Amount()))
			assert.Equal(t, tt.currency, m.Currency())
		})
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" $49.99 ")
	require.NoError(t, err)
	assert.Equal(t, "49.99", amount.String())

	amount, err = ParseAmount("12.500")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("12.5")))

	_, err = ParseAmount("abc")
	assert.Error(t, err)

	_, err = ParseAmount("-1")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "$1,049.99", Format(decimal.RequireFromString("1049.99"), USD))
	assert.Equal(t, "$0.01", Format(decimal.RequireFromString("0.01"), USD))
	assert.Equal(t, "£5.00", Format(decimal.NewFromInt(5), GBP))

	m, err := NewMoney(decimal.RequireFromString("3.5"), USD)
	require.NoError(t, err)
	assert.Equal(t, "$3.50", m.String())
}
