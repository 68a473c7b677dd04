// Package money implements the engine's monetary value type: a
// decimal amount paired with a currency code, scaled to that currency's
// minor-unit count and rounded HALF_UP on every construction and
// arithmetic result. Mixed-currency arithmetic is rejected.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnits maps an ISO-4217 currency code to the number of decimal
// places its minor unit uses. Currencies not listed default to 2.
var minorUnits = map[string]int32{
	"KRW": 0,
	"JPY": 0,
	"USD": 2,
	"EUR": 2,
	"MYR": 2,
	"GBP": 2,
}

func scaleFor(currency string) int32 {
	if s, ok := minorUnits[currency]; ok {
		return s
	}
	return 2
}

// Money is an immutable amount/currency pair. The zero value is not valid;
// use New or Zero.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New builds a Money from a decimal amount, rounding HALF_UP to the
// currency's minor-unit scale. Negative amounts are rejected.
func New(amount decimal.Decimal, currency string) (Money, error) {
	if currency == "" {
		return Money{}, fmt.Errorf("money: currency code is required")
	}
	rounded := amount.Round(scaleFor(currency))
	if rounded.IsNegative() {
		return Money{}, fmt.Errorf("money: amount must not be negative, got %s", rounded.String())
	}
	return Money{amount: rounded, currency: currency}, nil
}

// MustNew is New, panicking on error. Reserved for constant/test construction.
func MustNew(amount decimal.Decimal, currency string) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMinorUnits builds a Money from an integer count of minor units
// (e.g. cents), the representation aggregate rows persist.
func FromMinorUnits(minorAmount int64, currency string) Money {
	scale := scaleFor(currency)
	d := decimal.New(minorAmount, -scale)
	return Money{amount: d, currency: currency}
}

// Parse builds a Money from a decimal string (e.g. "19.99"), the form
// the saga's persisted context carries amounts in between steps.
func Parse(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid decimal amount %q: %w", s, err)
	}
	return New(d, currency)
}

// Zero returns a zero-valued Money in the given currency.
func Zero(currency string) Money {
	return Money{amount: decimal.NewFromInt(0).Round(scaleFor(currency)), currency: currency}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsPositive() bool        { return m.amount.IsPositive() }

// MinorUnits returns the amount expressed as an integer count of minor
// units, the form persisted in aggregate tables.
func (m Money) MinorUnits() int64 {
	scale := scaleFor(m.currency)
	return m.amount.Shift(scale).Round(0).IntPart()
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(scaleFor(m.currency)), m.currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("money: currency mismatch: %s vs %s", m.currency, other.currency)
	}
	return nil
}

// Add returns m+other. Fails on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return New(m.amount.Add(other.amount), m.currency)
}

// Sub returns m-other. Fails on currency mismatch or a negative result.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	result := m.amount.Sub(other.amount)
	if result.IsNegative() {
		return Money{}, fmt.Errorf("money: subtraction would go negative: %s - %s", m.amount.String(), other.amount.String())
	}
	return New(result, m.currency)
}

// Mul returns m scaled by factor, rounded HALF_UP to the currency's scale.
func (m Money) Mul(factor decimal.Decimal) (Money, error) {
	return New(m.amount.Mul(factor), m.currency)
}

// Equal reports value equality (amount and currency).
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// Sum adds a list of Money values of the same currency, starting from a
// zero of that currency. Returns an error on an empty list or mismatch.
func Sum(items []Money) (Money, error) {
	if len(items) == 0 {
		return Money{}, fmt.Errorf("money: cannot sum an empty list")
	}
	total := Zero(items[0].currency)
	var err error
	for _, item := range items {
		total, err = total.Add(item)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
