package domain

import (
	"github.com/shopspring/decimal"
)

// Round truncates an amount to the given currency precision using
// banker's-free half-up rounding, the behavior exchanges quote in.
func Round(amount decimal.Decimal, places int32) decimal.Decimal {
	return amount.Round(places)
}

// SplitCommission computes the commission and net portions of an amount.
// The commission is rounded to the currency precision first and the net is
// derived by subtraction, so commission + net always equals amount exactly.
func SplitCommission(amount, rate decimal.Decimal, places int32) (commission, net decimal.Decimal) {
	commission = amount.Mul(rate).Round(places)
	net = amount.Sub(commission)
	return commission, net
}

// Convert applies an exchange rate and rounds to the target precision.
func Convert(amount, rate decimal.Decimal, targetPlaces int32) decimal.Decimal {
	return amount.Mul(rate).Round(targetPlaces)
}
