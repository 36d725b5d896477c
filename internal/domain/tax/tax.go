package tax

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

// AppliesToAll marks a config that applies to every order category.
const AppliesToAll = "all"

// ErrServiceUnavailable is reported, as a warning, when tax configs could not
// be loaded. Pricing continues with an empty breakdown.
var ErrServiceUnavailable = errors.New("tax service unavailable")

// Config is a configured tax component such as GST or a service charge.
type Config struct {
	ID        string
	Name      string
	Rate      decimal.Decimal
	AppliesTo string
	Active    bool
	// Position preserves insertion order; breakdowns are listed by it.
	Position int64
}

// Matches reports whether the config is active and applies to category.
func (c Config) Matches(category string) bool {
	if !c.Active {
		return false
	}
	return strings.EqualFold(c.AppliesTo, AppliesToAll) || strings.EqualFold(c.AppliesTo, category)
}

// Repository provides tax configs in insertion order.
type Repository interface {
	ActiveConfigs(ctx context.Context, category string) ([]Config, error)
	Upsert(ctx context.Context, cfg *Config) error
}

// Calculator computes tax breakdowns from the configured tax components.
type Calculator struct {
	repo Repository
}

// NewCalculator creates a Calculator backed by repo.
func NewCalculator(repo Repository) *Calculator {
	return &Calculator{repo: repo}
}

// Calculate returns the breakdown for base (the post-discount subtotal) and
// the order category. Amounts are always computed locally from the rates.
//
// A repository failure is not fatal: the breakdown is empty and the second
// return value wraps ErrServiceUnavailable so the caller can surface it.
func (c *Calculator) Calculate(ctx context.Context, base decimal.Decimal, category string) (pricing.Breakdown, error) {
	configs, err := c.repo.ActiveConfigs(ctx, category)
	if err != nil {
		zctx.From(ctx).Warn("Tax configs unavailable, pricing without tax",
			zap.String("category", category),
			zap.Error(err),
		)
		return pricing.CalculateTax(base, nil), errors.Wrap(ErrServiceUnavailable, err.Error())
	}

	configs = slices.Clone(configs)
	slices.SortStableFunc(configs, func(a, b Config) int {
		return cmp.Compare(a.Position, b.Position)
	})

	rates := make([]pricing.TaxRate, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Matches(category) {
			continue
		}
		rates = append(rates, pricing.TaxRate{Name: cfg.Name, Rate: cfg.Rate})
	}
	return pricing.CalculateTax(base, rates), nil
}
