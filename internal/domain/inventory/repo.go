package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("inventory item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ItemRepository persists inventory items. Decrement and Increment are the
// only writers of OnHand.
type ItemRepository interface {
	Create(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	List(ctx context.Context, category Category, limit, offset int) ([]*Item, int, error)
	// Decrement subtracts qty only if OnHand >= qty, as one atomic step. On
	// shortage it returns the current item together with ErrInsufficientStock.
	Decrement(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*Item, error)
	Increment(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*Item, error)
}
