package revaluation

import "github.com/shopspring/decimal"

// AmountScale is the number of fractional digits functional amounts are booked at.
const AmountScale int32 = 2

// Materiality decides whether a computed difference is worth a journal line.
type Materiality struct {
	Absolute decimal.Decimal
	Relative decimal.Decimal
}

// DefaultMateriality is $1.00 or 0.01% of the booked amount.
var DefaultMateriality = Materiality{
	Absolute: decimal.New(1, 0),
	Relative: decimal.New(1, -4),
}

// Required applies the gate: |gl| >= Absolute or |gl| / max(|book|, 1) >= Relative.
func (m Materiality) Required(gainLoss, book decimal.Decimal) bool {
	if gainLoss.IsZero() {
		return false
	}
	abs := gainLoss.Abs()
	if abs.GreaterThanOrEqual(m.Absolute) {
		return true
	}
	base := book.Abs()
	floor := decimal.New(1, 0)
	if base.LessThan(floor) {
		base = floor
	}
	return abs.Div(base).GreaterThanOrEqual(m.Relative)
}
