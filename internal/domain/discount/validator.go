package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

// Validator checks a discount code against a subtotal and returns the
// resulting discount.
type Validator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*pricing.DiscountApplication, error)
}

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the rule for code, checks eligibility and computes the
// discount amount. It does not touch the usage counter, so a code can be
// re-applied freely while the cart is being edited.
func (v *RepoValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*pricing.DiscountApplication, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &IneligibleError{Code: code, Reason: ReasonNotFound}
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &IneligibleError{Code: code, Reason: ReasonNotFound}
		}
		return nil, errors.Wrap(err, "lookup discount code")
	}

	if err := rule.Check(subtotal, v.now()); err != nil {
		return nil, err
	}

	amount, err := rule.Amount(subtotal)
	if err != nil {
		return nil, err
	}

	return &pricing.DiscountApplication{
		Code:           rule.Code,
		DiscountCodeID: rule.ID,
		Amount:         amount,
		Description:    rule.Description,
	}, nil
}
