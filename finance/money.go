package finance

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrency is used when a transaction or rollover carries no code.
const DefaultCurrency Currency = "USD"

const fallbackScale int32 = 2

var hundred = decimal.NewFromInt(100)

// Currency is an ISO-4217 code. Every arithmetic helper rounds its result
// to the currency's minor unit, so callers never keep an unrounded total.
type Currency string

// Scale returns the number of minor-unit digits for the currency.
func (c Currency) Scale() int32 {
	code := string(c)
	if code == "" {
		code = string(DefaultCurrency)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fallbackScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

func (c Currency) Round(a decimal.Decimal) decimal.Decimal {
	return a.Round(c.Scale())
}

func (c Currency) Add(a, b decimal.Decimal) decimal.Decimal {
	return c.Round(c.Round(a).Add(c.Round(b)))
}

func (c Currency) Sub(a, b decimal.Decimal) decimal.Decimal {
	return c.Round(c.Round(a).Sub(c.Round(b)))
}

// Percent returns a * pct / 100, rounded.
func (c Currency) Percent(a, pct decimal.Decimal) decimal.Decimal {
	return c.Round(c.Round(a).Mul(pct).Div(hundred))
}

// Sum adds all values with rounding after each step.
func (c Currency) Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = c.Add(total, v)
	}
	return total
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// CurrencyOf returns the transaction currency or the default one.
func CurrencyOf(t *Transaction) Currency {
	if t == nil || t.Currency == "" {
		return DefaultCurrency
	}
	return t.Currency
}

func init() {
	// Amounts travel as JSON numbers on the wire and in stored documents.
	decimal.MarshalJSONWithoutQuotes = true
}
