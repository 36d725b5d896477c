package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kitchen-checkout/internal/domain/discount"
)

const (
	getDiscountByCodeSQL = `SELECT id, code, discount_type, value, minimum_order_amount, max_discount,
		active, valid_from, expires_at, max_uses, uses, description
		FROM discount_codes WHERE code = UPPER($1)`

	upsertDiscountSQL = `INSERT INTO discount_codes (id, code, discount_type, value, minimum_order_amount,
		max_discount, active, valid_from, expires_at, max_uses, description)
		VALUES ($1, UPPER($2), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			minimum_order_amount = EXCLUDED.minimum_order_amount,
			max_discount = EXCLUDED.max_discount,
			active = EXCLUDED.active,
			valid_from = EXCLUDED.valid_from,
			expires_at = EXCLUDED.expires_at,
			max_uses = EXCLUDED.max_uses,
			description = EXCLUDED.description
		RETURNING id, uses`

	// incrementDiscountUsesSQL only matches while the cap allows another use.
	incrementDiscountUsesSQL = `UPDATE discount_codes SET uses = uses + 1
		WHERE id = $1 AND (max_uses IS NULL OR uses < max_uses)`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a discount rule by code (case-insensitive), active or
// not; eligibility is decided by the validator.
// Returns discount.ErrNotFound when no rule matches.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Rule, error) {
	rows, err := r.pool.Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find discount code %q", code)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanDiscountRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find discount code %q", code)
	}
	return &rule, nil
}

// Upsert creates or updates a rule keyed by code. A rule without an ID gets
// a new one. The usage counter is preserved on update and copied back into
// rule together with the stored ID.
func (r *DiscountRepository) Upsert(ctx context.Context, rule *discount.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	err := r.pool.QueryRow(ctx, upsertDiscountSQL,
		rule.ID, rule.Code, string(rule.Type), rule.Value, rule.MinimumOrderAmount,
		rule.MaxDiscount, rule.Active, rule.ValidFrom, rule.ExpiresAt, rule.MaxUses, rule.Description,
	).Scan(&rule.ID, &rule.Uses)
	if err != nil {
		return errors.Wrapf(err, "upsert discount code %q", rule.Code)
	}
	rule.Code = strings.ToUpper(rule.Code)
	return nil
}

func incrementDiscountUses(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, incrementDiscountUsesSQL, id)
	if err != nil {
		return errors.Wrap(err, "increment discount uses")
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrUsageExhausted
	}
	return nil
}

func scanDiscountRule(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		rule         discount.Rule
		discountType string
		maxUses      *int32
		uses         int32
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &discountType, &rule.Value, &rule.MinimumOrderAmount, &rule.MaxDiscount,
		&rule.Active, &rule.ValidFrom, &rule.ExpiresAt, &maxUses, &uses, &rule.Description,
	)
	rule.Type = discount.Type(discountType)
	rule.Uses = int(uses)
	if maxUses != nil {
		m := int(*maxUses)
		rule.MaxUses = &m
	}
	return rule, err
}
