package discount

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

// Check verifies that the rule can be applied to subtotal at now. The
// returned error is always an *IneligibleError.
func (r *Rule) Check(subtotal decimal.Decimal, now time.Time) error {
	reason := r.ineligibility(subtotal, now)
	if reason == "" {
		return nil
	}
	return &IneligibleError{Code: r.Code, Reason: reason}
}

func (r *Rule) ineligibility(subtotal decimal.Decimal, now time.Time) Reason {
	switch {
	case !r.Active:
		return ReasonInactive
	case r.ValidFrom != nil && now.Before(*r.ValidFrom):
		return ReasonInactive
	case r.ExpiresAt != nil && !now.Before(*r.ExpiresAt):
		return ReasonExpired
	case r.MaxUses != nil && r.Uses >= *r.MaxUses:
		return ReasonExhausted
	case subtotal.LessThan(r.MinimumOrderAmount):
		return ReasonBelowMinimum
	default:
		return ""
	}
}

// Amount computes the discount the rule grants on subtotal, clamped to
// [0, subtotal].
func (r *Rule) Amount(subtotal decimal.Decimal) (decimal.Decimal, error) {
	var raw decimal.Decimal
	switch r.Type {
	case TypePercentage:
		raw = pricing.PercentageOf(subtotal, r.Value)
		if r.MaxDiscount.IsPositive() {
			raw = decimal.Min(raw, r.MaxDiscount)
		}
	case TypeFixed:
		raw = pricing.RoundMoney(r.Value)
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", r.Type)
	}
	return pricing.ClampDiscount(raw, subtotal), nil
}
