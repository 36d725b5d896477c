package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage takes a percentage of the subtotal.
	TypePercentage Type = "percentage"
	// TypeFixed takes a fixed amount, capped at the subtotal.
	TypeFixed Type = "fixed"
)

// Valid reports whether t is a known discount type.
func (t Type) Valid() bool {
	return t == TypePercentage || t == TypeFixed
}

// Reason explains why a code cannot be applied.
type Reason string

const (
	ReasonNotFound     Reason = "not found"
	ReasonInactive     Reason = "inactive"
	ReasonExpired      Reason = "expired"
	ReasonExhausted    Reason = "exhausted"
	ReasonBelowMinimum Reason = "below minimum order amount"
)

// ErrNotFound is returned by repositories when no rule matches a code.
var ErrNotFound = errors.New("discount code not found")

// ErrUsageExhausted is returned by the order store when the usage counter
// hit its cap between validation and submission.
var ErrUsageExhausted = errors.New("discount code usage exhausted")

// IneligibleError reports a code that failed an eligibility check.
type IneligibleError struct {
	Code   string
	Reason Reason
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("discount code %q is not applicable: %s", e.Code, e.Reason)
}

// Rule defines a discount code's value and eligibility constraints.
// MaxUses and ExpiresAt are unlimited when nil.
type Rule struct {
	ID                 string
	Code               string
	Type               Type
	Value              decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	// MaxDiscount caps percentage discounts when positive.
	MaxDiscount decimal.Decimal
	Active      bool
	ValidFrom   *time.Time
	ExpiresAt   *time.Time
	MaxUses     *int
	Uses        int
	Description string
}

// Repository provides lookup and maintenance of discount rules. Usage
// counters are incremented by the order store, not through this interface.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	Upsert(ctx context.Context, rule *Rule) error
}
