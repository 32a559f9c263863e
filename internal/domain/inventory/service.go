package inventory

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/metrics"
)

// QuantityPlaces and MoneyPlaces are the scales quantities and money are
// stored at.
const (
	QuantityPlaces = 3
	MoneyPlaces    = 2
)

// CheckQuantity rejects quantities that are not positive or that carry more
// decimals than QuantityPlaces.
func CheckQuantity(field string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return apperr.New(apperr.InvalidInput, "%s must be greater than zero", field)
	}
	if !qty.Equal(qty.Truncate(QuantityPlaces)) {
		return apperr.New(apperr.InvalidInput, "%s %s has more than %d decimal places", field, qty.String(), QuantityPlaces)
	}
	return nil
}

// Pool is the shared, finite stock of the clinic. It knows nothing about
// consultations: Reserve takes stock, Release gives it back.
type Pool struct {
	items   ItemRepository
	metrics *metrics.Metrics
}

func NewPool(items ItemRepository) *Pool {
	return &Pool{items: items}
}

// SetMetrics attaches optional Prometheus counters.
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Reserve atomically checks and decrements the stock of one item.
func (p *Pool) Reserve(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) (*Item, error) {
	if err := CheckQuantity("quantity", qty); err != nil {
		return nil, err
	}
	it, err := p.items.Decrement(ctx, itemID, qty)
	switch {
	case err == nil:
		p.metrics.ObserveReservation("ok")
		return it, nil
	case errors.Is(err, ErrNotFound):
		p.metrics.ObserveReservation(string(apperr.UnknownItem))
		return nil, apperr.New(apperr.UnknownItem, "inventory item %s does not exist", itemID)
	case errors.Is(err, ErrInsufficientStock):
		p.metrics.ObserveReservation(string(apperr.InsufficientStock))
		return nil, apperr.New(apperr.InsufficientStock,
			"insufficient stock for %s: available %s %s, requested %s",
			it.Name, it.OnHand.String(), it.Unit, qty.String())
	default:
		return nil, apperr.Fault(err, "reserve inventory item %s", itemID)
	}
}

// Release adds qty back to the item. It is used for ledger removals,
// cancellations and restocking.
func (p *Pool) Release(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) (*Item, error) {
	if err := CheckQuantity("quantity", qty); err != nil {
		return nil, err
	}
	it, err := p.items.Increment(ctx, itemID, qty)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.UnknownItem, "inventory item %s does not exist", itemID)
	}
	if err != nil {
		return nil, apperr.Fault(err, "release inventory item %s", itemID)
	}
	p.metrics.ObserveRelease()
	return it, nil
}

// Restock records a stock replenishment.
func (p *Pool) Restock(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) (*Item, error) {
	return p.Release(ctx, itemID, qty)
}

func (p *Pool) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	it, err := p.items.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.UnknownItem, "inventory item %s does not exist", id)
	}
	if err != nil {
		return nil, apperr.Fault(err, "get inventory item %s", id)
	}
	return it, nil
}

func (p *Pool) List(ctx context.Context, category Category, limit, offset int) ([]*Item, int, error) {
	if category != "" && !category.Valid() {
		return nil, 0, apperr.New(apperr.InvalidInput, "invalid category: %s", category)
	}
	items, total, err := p.items.List(ctx, category, limit, offset)
	if err != nil {
		return nil, 0, apperr.Fault(err, "list inventory items")
	}
	return items, total, nil
}

// Create registers a new catalog item.
func (p *Pool) Create(ctx context.Context, it *Item) error {
	it.Name = strings.TrimSpace(it.Name)
	if it.Name == "" {
		return apperr.New(apperr.InvalidInput, "name is required")
	}
	if !it.Category.Valid() {
		return apperr.New(apperr.InvalidInput, "invalid category: %s", it.Category)
	}
	if it.Unit == "" {
		it.Unit = "unit"
	}
	if it.OnHand.IsNegative() {
		return apperr.New(apperr.InvalidInput, "on_hand must not be negative")
	}
	if !it.OnHand.Equal(it.OnHand.Truncate(QuantityPlaces)) {
		return apperr.New(apperr.InvalidInput, "on_hand %s has more than %d decimal places", it.OnHand.String(), QuantityPlaces)
	}
	if it.UnitCost.IsNegative() {
		return apperr.New(apperr.InvalidInput, "unit_cost must not be negative")
	}
	it.UnitCost = it.UnitCost.Round(MoneyPlaces)
	if err := p.items.Create(ctx, it); err != nil {
		return apperr.Fault(err, "create inventory item")
	}
	return nil
}
