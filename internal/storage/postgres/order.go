package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-checkout/internal/domain/discount"
	"github.com/xenking/kitchen-checkout/internal/domain/loyalty"
	"github.com/xenking/kitchen-checkout/internal/domain/order"
	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
)

const (
	// insertOrderSQL returns no row when the draft was already submitted.
	insertOrderSQL = `INSERT INTO orders (id, draft_id, subtotal, discount_amount, promo_discount,
		loyalty_discount, discount_code_id, discount_code, loyalty_points, tax_total, total_amount,
		category, note, customer_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (draft_id) DO NOTHING
		RETURNING created_at`

	getOrderByDraftSQL = `SELECT id, created_at FROM orders WHERE draft_id = $1`

	getOrderSQL = `SELECT id, draft_id, subtotal, discount_amount, promo_discount, loyalty_discount,
		discount_code_id, discount_code, loyalty_points, tax_total, total_amount,
		category, note, customer_id, created_by, created_at
		FROM orders WHERE id = $1`

	getOrderLinesSQL = `SELECT item_id, name, quantity, unit_price
		FROM order_lines WHERE order_id = $1 ORDER BY position`

	getOrderTaxLinesSQL = `SELECT name, rate, amount
		FROM order_tax_lines WHERE order_id = $1 ORDER BY position`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL. A submission is a
// single transaction covering the order rows, the discount usage increment
// and the loyalty debit.
type OrderStore struct {
	pool  *pgxpool.Pool
	newID func() string
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{
		pool:  pool,
		newID: func() string { return uuid.New().String() },
	}
}

// Submit persists req.Order under req.IdempotencyKey. A key that was already
// submitted returns the original receipt with Replayed set and applies no
// side effects. Exhausted discounts return discount.ErrUsageExhausted and a
// short balance returns *loyalty.InsufficientBalanceError; both roll the
// transaction back. Other failures are wrapped in *order.SubmissionError.
func (s *OrderStore) Submit(ctx context.Context, req order.SubmitRequest) (*order.Receipt, error) {
	var receipt *order.Receipt
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := s.submit(ctx, tx, req)
		receipt = r
		return err
	})
	if err == nil {
		return receipt, nil
	}

	var balErr *loyalty.InsufficientBalanceError
	switch {
	case errors.Is(err, discount.ErrUsageExhausted), errors.As(err, &balErr):
		return nil, err
	case errors.Is(err, pricing.ErrEmptyOrder):
		return nil, &order.SubmissionError{Err: err}
	}
	return nil, &order.SubmissionError{Retryable: isTransient(err), Err: errors.Wrap(err, "submit order")}
}

func (s *OrderStore) submit(ctx context.Context, tx pgx.Tx, req order.SubmitRequest) (*order.Receipt, error) {
	o := req.Order
	if len(o.Lines) == 0 {
		return nil, pricing.ErrEmptyOrder
	}

	var (
		discountID   *string
		discountCode *string
		points       int64
	)
	if o.Discount != nil {
		discountID = &o.Discount.DiscountCodeID
		discountCode = &o.Discount.Code
	}
	if o.Loyalty != nil {
		points = o.Loyalty.Points
	}

	id := s.newID()
	var createdAt time.Time
	err := tx.QueryRow(ctx, insertOrderSQL,
		id, req.IdempotencyKey, o.Subtotal, o.DiscountAmount, o.PromoDiscount,
		o.LoyaltyDiscount, discountID, discountCode, points, o.TaxTotal, o.TotalAmount,
		o.Category, o.Note, o.CustomerID, o.CreatedBy,
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var r order.Receipt
		if err := tx.QueryRow(ctx, getOrderByDraftSQL, req.IdempotencyKey).Scan(&r.OrderID, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "get existing order")
		}
		r.Replayed = true
		return &r, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	lineRows := make([][]any, len(o.Lines))
	for i, l := range o.Lines {
		lineRows[i] = []any{id, i, l.ItemID, l.Name, l.Quantity, l.UnitPrice}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"order_lines"},
		[]string{"order_id", "position", "item_id", "name", "quantity", "unit_price"},
		pgx.CopyFromRows(lineRows),
	); err != nil {
		return nil, errors.Wrap(err, "insert order lines")
	}

	if len(o.TaxBreakdown) > 0 {
		taxRows := make([][]any, len(o.TaxBreakdown))
		for i, e := range o.TaxBreakdown {
			taxRows[i] = []any{id, i, e.Name, e.Rate, e.Amount}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"order_tax_lines"},
			[]string{"order_id", "position", "name", "rate", "amount"},
			pgx.CopyFromRows(taxRows),
		); err != nil {
			return nil, errors.Wrap(err, "insert order tax lines")
		}
	}

	if discountID != nil && *discountID != "" {
		if err := incrementDiscountUses(ctx, tx, *discountID); err != nil {
			return nil, err
		}
	}
	if o.Loyalty != nil && points > 0 {
		if err := debitLoyalty(ctx, tx, o.Loyalty.CustomerID, id, points); err != nil {
			return nil, err
		}
	}

	return &order.Receipt{OrderID: id, CreatedAt: createdAt}, nil
}

// Lookup returns the receipt of the order submitted under idempotencyKey,
// or order.ErrOrderNotFound.
func (s *OrderStore) Lookup(ctx context.Context, idempotencyKey string) (*order.Receipt, error) {
	var r order.Receipt
	err := s.pool.QueryRow(ctx, getOrderByDraftSQL, idempotencyKey).Scan(&r.OrderID, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "lookup order of draft %q", idempotencyKey)
	}
	r.Replayed = true
	return &r, nil
}

// Get loads a persisted order with its lines and tax breakdown.
// Returns order.ErrOrderNotFound when no order matches.
func (s *OrderStore) Get(ctx context.Context, id string) (*pricing.PricedOrder, error) {
	rows, err := s.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	rows, err = s.pool.Query(ctx, getOrderLinesSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get lines of order %q", id)
	}
	if o.Lines, err = pgx.CollectRows(rows, scanOrderLine); err != nil {
		return nil, errors.Wrapf(err, "get lines of order %q", id)
	}

	rows, err = s.pool.Query(ctx, getOrderTaxLinesSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get tax lines of order %q", id)
	}
	if o.TaxBreakdown, err = pgx.CollectRows(rows, scanTaxEntry); err != nil {
		return nil, errors.Wrapf(err, "get tax lines of order %q", id)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (pricing.PricedOrder, error) {
	var (
		o            pricing.PricedOrder
		discountID   *string
		discountCode *string
		points       int64
	)
	err := row.Scan(
		&o.ID, &o.DraftID, &o.Subtotal, &o.DiscountAmount, &o.PromoDiscount, &o.LoyaltyDiscount,
		&discountID, &discountCode, &points, &o.TaxTotal, &o.TotalAmount,
		&o.Category, &o.Note, &o.CustomerID, &o.CreatedBy, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	if discountCode != nil {
		o.Discount = &pricing.DiscountApplication{Code: *discountCode, Amount: o.PromoDiscount}
		if discountID != nil {
			o.Discount.DiscountCodeID = *discountID
		}
	}
	if points > 0 && o.CustomerID != nil {
		o.Loyalty = &pricing.LoyaltyRedemption{CustomerID: *o.CustomerID, Points: points, Amount: o.LoyaltyDiscount}
	}
	return o, nil
}

func scanOrderLine(row pgx.CollectableRow) (pricing.Line, error) {
	var (
		l        pricing.Line
		quantity int32
	)
	err := row.Scan(&l.ItemID, &l.Name, &quantity, &l.UnitPrice)
	l.Quantity = int(quantity)
	return l, err
}

func scanTaxEntry(row pgx.CollectableRow) (pricing.TaxEntry, error) {
	var (
		e    pricing.TaxEntry
		rate decimal.Decimal
	)
	err := row.Scan(&e.Name, &rate, &e.Amount)
	e.Rate = rate
	return e, err
}
