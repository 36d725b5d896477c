package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kitchen-checkout/internal/domain/catalog"
)

const (
	listMenuItemsSQL = `SELECT id, name, price, category, available
		FROM menu_items ORDER BY category, id`

	getMenuItemSQL = `SELECT id, name, price, category, available
		FROM menu_items WHERE id = $1`

	upsertMenuItemSQL = `INSERT INTO menu_items (id, name, price, category, available)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			available = EXCLUDED.available,
			updated_at = now()`
)

var _ catalog.Repository = (*MenuRepository)(nil)

// MenuRepository implements catalog.Repository backed by PostgreSQL.
type MenuRepository struct {
	pool *pgxpool.Pool
}

// NewMenuRepository returns a MenuRepository that uses the given pool.
func NewMenuRepository(pool *pgxpool.Pool) *MenuRepository {
	return &MenuRepository{pool: pool}
}

// List returns the whole menu grouped by category.
func (r *MenuRepository) List(ctx context.Context) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, listMenuItemsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list menu items")
	}
	return pgx.CollectRows(rows, scanMenuItem)
}

// GetByID returns a single menu item.
func (r *MenuRepository) GetByID(ctx context.Context, id string) (*catalog.Item, error) {
	rows, err := r.pool.Query(ctx, getMenuItemSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get menu item %q", id)
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanMenuItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get menu item %q", id)
	}
	return &item, nil
}

// Upsert creates or replaces a menu item.
func (r *MenuRepository) Upsert(ctx context.Context, item *catalog.Item) error {
	_, err := r.pool.Exec(ctx, upsertMenuItemSQL,
		item.ID, item.Name, item.Price, item.Category, item.Available,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert menu item %q", item.ID)
	}
	return nil
}

func scanMenuItem(row pgx.CollectableRow) (catalog.Item, error) {
	var item catalog.Item
	err := row.Scan(&item.ID, &item.Name, &item.Price, &item.Category, &item.Available)
	return item, err
}
