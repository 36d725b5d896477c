package loyalty

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

// ErrAccountNotFound is returned when a customer has no loyalty account.
var ErrAccountNotFound = errors.New("loyalty account not found")

// ErrInvalidPoints is returned for non-positive redemption requests.
var ErrInvalidPoints = errors.New("points must be greater than 0")

// InsufficientBalanceError reports a redemption request above the
// customer's balance.
type InsufficientBalanceError struct {
	CustomerID string
	Requested  int64
	Balance    int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient loyalty balance for customer %s: requested %d, available %d",
		e.CustomerID, e.Requested, e.Balance)
}

// Repository reads loyalty balances. Debits happen in the order store,
// in the same transaction that persists the order.
type Repository interface {
	Balance(ctx context.Context, customerID string) (int64, error)
}

// Rate converts points into money: one point is worth MinorUnit × Multiplier.
type Rate struct {
	MinorUnit  decimal.Decimal
	Multiplier int64
}

// DefaultRate values one point at 0.10.
var DefaultRate = Rate{MinorUnit: decimal.New(1, -2), Multiplier: 10}

// PointValue returns the money value of a single point.
func (r Rate) PointValue() decimal.Decimal {
	return r.MinorUnit.Mul(decimal.NewFromInt(r.Multiplier))
}

// Value returns the money value of points.
func (r Rate) Value(points int64) decimal.Decimal {
	return r.PointValue().Mul(decimal.NewFromInt(points))
}

// PointsFor returns how many whole points fit into amount.
func (r Rate) PointsFor(amount decimal.Decimal) int64 {
	pv := r.PointValue()
	if !pv.IsPositive() || !amount.IsPositive() {
		return 0
	}
	return amount.Div(pv).Floor().IntPart()
}

// Plan converts a redemption request into a discount that fits into
// remaining (the subtotal left after the promo discount). Only the points
// needed are consumed.
func Plan(rate Rate, customerID string, requested int64, remaining decimal.Decimal) pricing.LoyaltyRedemption {
	points := min(requested, rate.PointsFor(remaining))
	if points < 0 {
		points = 0
	}
	return pricing.LoyaltyRedemption{
		CustomerID: customerID,
		Points:     points,
		Amount:     pricing.RoundMoney(rate.Value(points)),
	}
}

// Service answers balance questions against a Repository.
type Service struct {
	repo Repository
}

// NewService creates a loyalty Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Check verifies that the customer holds at least points. It never
// mutates the balance. A customer without an account gets
// ErrAccountNotFound.
func (s *Service) Check(ctx context.Context, customerID string, points int64) (int64, error) {
	if points <= 0 {
		return 0, ErrInvalidPoints
	}
	balance, err := s.repo.Balance(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return 0, errors.Wrapf(ErrAccountNotFound, "customer %s", customerID)
		}
		return 0, errors.Wrap(err, "get loyalty balance")
	}
	if points > balance {
		return balance, &InsufficientBalanceError{CustomerID: customerID, Requested: points, Balance: balance}
	}
	return balance, nil
}
