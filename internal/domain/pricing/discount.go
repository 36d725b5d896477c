package pricing

import "github.com/shopspring/decimal"

// DiscountApplication is a validated promo code together with the amount it
// takes off the subtotal.
type DiscountApplication struct {
	Code           string          `json:"code"`
	DiscountCodeID string          `json:"discount_code_id"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
}

// ClampDiscount limits amount to the range [0, subtotal].
func ClampDiscount(amount, subtotal decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() || subtotal.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}

// Discounts is the split of an order's total discount between its
// contributors.
type Discounts struct {
	Promo   decimal.Decimal
	Loyalty decimal.Decimal
}

// Total returns the combined discount.
func (d Discounts) Total() decimal.Decimal {
	return d.Promo.Add(d.Loyalty)
}

// CombineDiscounts clamps the promo discount to the subtotal and the loyalty
// discount to whatever the promo left, so the sum never exceeds subtotal.
func CombineDiscounts(subtotal, promo, loyalty decimal.Decimal) Discounts {
	p := ClampDiscount(promo, subtotal)
	l := ClampDiscount(loyalty, subtotal.Sub(p))
	return Discounts{Promo: p, Loyalty: l}
}
