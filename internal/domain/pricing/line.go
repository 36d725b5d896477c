// Package pricing computes subtotals, discounts, tax breakdowns and totals for
// restaurant orders. Everything here is pure: collaborators live in the
// discount, tax, loyalty and order packages and hand plain values to it.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places money is rounded to.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Line is one (item, quantity, unit price) entry of an order.
type Line struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Total returns quantity × unit price.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Validate reports whether the line has a positive quantity and a
// non-negative unit price.
func (l Line) Validate() error {
	if reason := l.invalidReason(); reason != "" {
		return &InvalidLineItemError{ItemID: l.ItemID, Reason: reason}
	}
	return nil
}

func (l Line) invalidReason() string {
	switch {
	case l.Quantity <= 0:
		return "quantity must be greater than 0"
	case l.UnitPrice.IsNegative():
		return "unit price must not be negative"
	default:
		return ""
	}
}

// InvalidLineItemError indicates a line with a bad quantity or price.
type InvalidLineItemError struct {
	Index  int
	ItemID string
	Reason string
}

func (e *InvalidLineItemError) Error() string {
	return fmt.Sprintf("invalid line item %q: %s", e.ItemID, e.Reason)
}

// ComputeSubtotal sums quantity × unit price over all lines. The first
// invalid line aborts the computation.
func ComputeSubtotal(lines []Line) (decimal.Decimal, error) {
	sum := decimal.Zero
	for i, l := range lines {
		if reason := l.invalidReason(); reason != "" {
			return decimal.Zero, &InvalidLineItemError{Index: i, ItemID: l.ItemID, Reason: reason}
		}
		sum = sum.Add(l.Total())
	}
	return sum, nil
}

// RoundMoney rounds d to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// PercentageOf returns round(base × rate / 100, 2).
func PercentageOf(base, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(base.Mul(rate).Div(hundred))
}
