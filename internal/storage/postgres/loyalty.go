package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kitchen-checkout/internal/domain/loyalty"
)

const (
	getLoyaltyBalanceSQL = `SELECT balance FROM loyalty_accounts WHERE customer_id = $1`

	creditLoyaltySQL = `INSERT INTO loyalty_accounts (customer_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (customer_id) DO UPDATE SET
			balance = loyalty_accounts.balance + EXCLUDED.balance,
			updated_at = now()
		RETURNING balance`

	// debitLoyaltySQL only matches when the balance covers the debit.
	debitLoyaltySQL = `UPDATE loyalty_accounts SET balance = balance - $2, updated_at = now()
		WHERE customer_id = $1 AND balance >= $2`

	insertLedgerSQL = `INSERT INTO loyalty_ledger (customer_id, order_id, delta, reason)
		VALUES ($1, $2, $3, $4)`
)

var _ loyalty.Repository = (*LoyaltyRepository)(nil)

// LoyaltyRepository implements loyalty.Repository backed by PostgreSQL.
// Every balance change is mirrored in loyalty_ledger.
type LoyaltyRepository struct {
	pool *pgxpool.Pool
}

// NewLoyaltyRepository returns a LoyaltyRepository that uses the given pool.
func NewLoyaltyRepository(pool *pgxpool.Pool) *LoyaltyRepository {
	return &LoyaltyRepository{pool: pool}
}

// Balance returns the customer's current point balance.
// Returns loyalty.ErrAccountNotFound when the customer has no account.
func (r *LoyaltyRepository) Balance(ctx context.Context, customerID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, getLoyaltyBalanceSQL, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, loyalty.ErrAccountNotFound
		}
		return 0, errors.Wrapf(err, "get loyalty balance for %q", customerID)
	}
	return balance, nil
}

// Credit adds points to the customer's account, opening it if needed, and
// returns the new balance.
func (r *LoyaltyRepository) Credit(ctx context.Context, customerID string, points int64, reason string) (int64, error) {
	if points <= 0 {
		return 0, loyalty.ErrInvalidPoints
	}
	var balance int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, creditLoyaltySQL, customerID, points).Scan(&balance); err != nil {
			return errors.Wrap(err, "credit account")
		}
		if _, err := tx.Exec(ctx, insertLedgerSQL, customerID, nil, points, reason); err != nil {
			return errors.Wrap(err, "insert ledger entry")
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "credit loyalty points for %q", customerID)
	}
	return balance, nil
}

// debitLoyalty takes points from the customer inside tx and records the
// ledger entry against orderID.
func debitLoyalty(ctx context.Context, tx pgx.Tx, customerID, orderID string, points int64) error {
	tag, err := tx.Exec(ctx, debitLoyaltySQL, customerID, points)
	if err != nil {
		return errors.Wrap(err, "debit loyalty points")
	}
	if tag.RowsAffected() == 0 {
		var balance int64
		if err := tx.QueryRow(ctx, getLoyaltyBalanceSQL, customerID).Scan(&balance); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrap(err, "get loyalty balance")
		}
		return &loyalty.InsufficientBalanceError{CustomerID: customerID, Requested: points, Balance: balance}
	}
	if _, err := tx.Exec(ctx, insertLedgerSQL, customerID, orderID, -points, "order redemption"); err != nil {
		return errors.Wrap(err, "insert ledger entry")
	}
	return nil
}
