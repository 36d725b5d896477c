package pricing

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrEmptyOrder is returned when an order without lines is priced for
// finalization.
var ErrEmptyOrder = errors.New("order has no lines")

// InvariantError reports a priced order whose amounts do not add up.
type InvariantError struct {
	Field  string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("priced order invariant violated: %s: %s", e.Field, e.Reason)
}

// LoyaltyRedemption is the part of an order paid with loyalty points.
type LoyaltyRedemption struct {
	CustomerID string          `json:"customer_id"`
	Points     int64           `json:"points"`
	Amount     decimal.Decimal `json:"amount"`
}

// PricedOrder is the full price breakdown of an order. It has no ID or
// CreatedAt until the order store accepts it.
type PricedOrder struct {
	ID              string
	DraftID         string
	Lines           []Line
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	PromoDiscount   decimal.Decimal
	LoyaltyDiscount decimal.Decimal
	Discount        *DiscountApplication
	Loyalty         *LoyaltyRedemption
	TaxBreakdown    []TaxEntry
	TaxTotal        decimal.Decimal
	TotalAmount     decimal.Decimal
	Category        string
	Note            string
	CustomerID      *string
	CreatedBy       string
	CreatedAt       time.Time
	// Warnings carries non-fatal problems hit while pricing, such as an
	// unreachable tax service.
	Warnings []string
}

// ComposeParams holds the already computed parts of an order.
type ComposeParams struct {
	DraftID    string
	Lines      []Line
	Discount   *DiscountApplication
	Loyalty    *LoyaltyRedemption
	Tax        Breakdown
	Category   string
	Note       string
	CustomerID *string
	CreatedBy  string
	Warnings   []string
}

// Compose assembles a PricedOrder from its parts. Discounts are clamped
// against the subtotal, and the result is validated before it is returned.
func Compose(p ComposeParams) (*PricedOrder, error) {
	if len(p.Lines) == 0 {
		return nil, ErrEmptyOrder
	}
	subtotal, err := ComputeSubtotal(p.Lines)
	if err != nil {
		return nil, err
	}

	promo, loyalty := decimal.Zero, decimal.Zero
	if p.Discount != nil {
		promo = p.Discount.Amount
	}
	if p.Loyalty != nil {
		loyalty = p.Loyalty.Amount
	}
	d := CombineDiscounts(subtotal, promo, loyalty)

	var discount *DiscountApplication
	if p.Discount != nil {
		app := *p.Discount
		app.Amount = d.Promo
		discount = &app
	}
	var redemption *LoyaltyRedemption
	if p.Loyalty != nil && d.Loyalty.IsPositive() {
		r := *p.Loyalty
		r.Amount = d.Loyalty
		redemption = &r
	}

	entries := make([]TaxEntry, len(p.Tax.Entries))
	copy(entries, p.Tax.Entries)
	taxTotal := SumEntries(entries)

	lines := make([]Line, len(p.Lines))
	copy(lines, p.Lines)

	o := &PricedOrder{
		DraftID:         p.DraftID,
		Lines:           lines,
		Subtotal:        subtotal,
		DiscountAmount:  d.Total(),
		PromoDiscount:   d.Promo,
		LoyaltyDiscount: d.Loyalty,
		Discount:        discount,
		Loyalty:         redemption,
		TaxBreakdown:    entries,
		TaxTotal:        taxTotal,
		TotalAmount:     subtotal.Sub(d.Total()).Add(taxTotal),
		Category:        p.Category,
		Note:            p.Note,
		CustomerID:      p.CustomerID,
		CreatedBy:       p.CreatedBy,
		Warnings:        p.Warnings,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks that the order is non-empty and that its amounts satisfy
// subtotal = Σ lines, 0 ≤ discount ≤ subtotal, taxTotal = Σ breakdown and
// total = subtotal − discount + taxTotal.
func (o *PricedOrder) Validate() error {
	if len(o.Lines) == 0 {
		return ErrEmptyOrder
	}
	subtotal, err := ComputeSubtotal(o.Lines)
	if err != nil {
		return err
	}
	switch {
	case !subtotal.Equal(o.Subtotal):
		return &InvariantError{Field: "subtotal", Reason: fmt.Sprintf("%s != sum of lines %s", o.Subtotal, subtotal)}
	case o.DiscountAmount.IsNegative():
		return &InvariantError{Field: "discount_amount", Reason: "negative"}
	case o.DiscountAmount.GreaterThan(o.Subtotal):
		return &InvariantError{Field: "discount_amount", Reason: fmt.Sprintf("%s exceeds subtotal %s", o.DiscountAmount, o.Subtotal)}
	case !o.PromoDiscount.Add(o.LoyaltyDiscount).Equal(o.DiscountAmount):
		return &InvariantError{Field: "discount_amount", Reason: "does not equal promo + loyalty"}
	}

	if tax := SumEntries(o.TaxBreakdown); !tax.Equal(o.TaxTotal) {
		return &InvariantError{Field: "tax_total", Reason: fmt.Sprintf("%s != sum of breakdown %s", o.TaxTotal, tax)}
	}
	if want := o.Subtotal.Sub(o.DiscountAmount).Add(o.TaxTotal); !want.Equal(o.TotalAmount) {
		return &InvariantError{Field: "total_amount", Reason: fmt.Sprintf("%s != %s", o.TotalAmount, want)}
	}
	return nil
}

// Round rounds every money amount to MoneyPlaces. It is applied right before
// persisting. Tax entries are already rounded, and catalog prices carry at
// most two places, so a valid order stays valid.
func (o *PricedOrder) Round() {
	o.Subtotal = RoundMoney(o.Subtotal)
	o.PromoDiscount = RoundMoney(o.PromoDiscount)
	o.LoyaltyDiscount = RoundMoney(o.LoyaltyDiscount)
	o.DiscountAmount = o.PromoDiscount.Add(o.LoyaltyDiscount)
	o.TaxTotal = RoundMoney(o.TaxTotal)
	o.TotalAmount = RoundMoney(o.Subtotal.Sub(o.DiscountAmount).Add(o.TaxTotal))
	if o.Discount != nil {
		o.Discount.Amount = o.PromoDiscount
	}
	if o.Loyalty != nil {
		o.Loyalty.Amount = o.LoyaltyDiscount
	}
}
