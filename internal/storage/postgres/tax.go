package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kitchen-checkout/internal/domain/tax"
)

const (
	activeTaxConfigsSQL = `SELECT id, name, rate, applies_to, active, position
		FROM tax_configs
		WHERE active AND (LOWER(applies_to) = 'all' OR LOWER(applies_to) = LOWER($1))
		ORDER BY position`

	upsertTaxConfigSQL = `INSERT INTO tax_configs (id, name, rate, applies_to, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			rate = EXCLUDED.rate,
			applies_to = EXCLUDED.applies_to,
			active = EXCLUDED.active
		RETURNING position`
)

var _ tax.Repository = (*TaxRepository)(nil)

// TaxRepository implements tax.Repository backed by PostgreSQL.
type TaxRepository struct {
	pool *pgxpool.Pool
}

// NewTaxRepository returns a TaxRepository that uses the given pool.
func NewTaxRepository(pool *pgxpool.Pool) *TaxRepository {
	return &TaxRepository{pool: pool}
}

// ActiveConfigs returns the active tax configs applying to category in
// insertion order.
func (r *TaxRepository) ActiveConfigs(ctx context.Context, category string) ([]tax.Config, error) {
	rows, err := r.pool.Query(ctx, activeTaxConfigsSQL, category)
	if err != nil {
		return nil, errors.Wrap(err, "list tax configs")
	}
	return pgx.CollectRows(rows, scanTaxConfig)
}

// Upsert creates or replaces a tax config. Position is assigned on first
// insert and kept afterwards.
func (r *TaxRepository) Upsert(ctx context.Context, cfg *tax.Config) error {
	appliesTo := cfg.AppliesTo
	if appliesTo == "" {
		appliesTo = tax.AppliesToAll
	}
	err := r.pool.QueryRow(ctx, upsertTaxConfigSQL,
		cfg.ID, cfg.Name, cfg.Rate, appliesTo, cfg.Active,
	).Scan(&cfg.Position)
	if err != nil {
		return errors.Wrapf(err, "upsert tax config %q", cfg.ID)
	}
	cfg.AppliesTo = appliesTo
	return nil
}

func scanTaxConfig(row pgx.CollectableRow) (tax.Config, error) {
	var c tax.Config
	err := row.Scan(&c.ID, &c.Name, &c.Rate, &c.AppliesTo, &c.Active, &c.Position)
	return c, err
}
