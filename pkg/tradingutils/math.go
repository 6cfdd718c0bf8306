package tradingutils

import (
	"github.com/shopspring/decimal"
)

// presentationDigits caps the decimal expansion of exchange-bound values so
// formatted prices stay within what the venue accepts.
const presentationDigits = 10

// RoundPrice rounds a price to the nearest multiple of the tick size.
func RoundPrice(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.Sign() <= 0 {
		return price
	}
	ticks := price.Div(tickSize).Round(0)
	return ticks.Mul(tickSize).Round(presentationDigits)
}

// RoundQuantity floors a quantity to the step size and enforces the minimum
// order quantity.
func RoundQuantity(qty, step, minQty decimal.Decimal) decimal.Decimal {
	if step.Sign() > 0 {
		steps := qty.Div(step).Floor()
		qty = steps.Mul(step)
	}
	if qty.LessThan(minQty) {
		qty = minQty
	}
	return qty.Round(presentationDigits)
}

// PctOf returns value * pct / 100.
func PctOf(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(decimal.NewFromInt(100))
}

// Format renders an exchange-bound number with the fixed presentation width.
func Format(v decimal.Decimal) string {
	return v.StringFixed(presentationDigits)
}
