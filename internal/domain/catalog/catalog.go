package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested menu item does not exist.
var ErrNotFound = errors.New("menu item not found")

// Item is a menu item that can be put on an order.
type Item struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Category  string
	Available bool
}

// Repository defines read and maintenance operations for the menu.
type Repository interface {
	List(ctx context.Context) ([]Item, error)
	GetByID(ctx context.Context, id string) (*Item, error)
	Upsert(ctx context.Context, item *Item) error
}
