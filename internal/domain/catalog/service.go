package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/metrics"
)

// StockReader looks up inventory items. Satisfied by *inventory.Pool.
type StockReader interface {
	Get(ctx context.Context, id uuid.UUID) (*inventory.Item, error)
}

// Catalog resolves composite procedures into inventory consumptions and
// prices. It reads stock for availability checks but never mutates it.
type Catalog struct {
	repo    ProcedureRepository
	stock   StockReader
	tx      db.Transactor
	cache   Cache
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewCatalog(repo ProcedureRepository, stock StockReader, tx db.Transactor, cache Cache, logger zerolog.Logger) *Catalog {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Catalog{repo: repo, stock: stock, tx: tx, cache: cache, logger: logger}
}

func (c *Catalog) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Lookup returns an active procedure, reading through the cache.
func (c *Catalog) Lookup(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	p, err := c.load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.UnknownProcedure, "procedure %s does not exist", id)
	}
	if err != nil {
		return nil, apperr.Fault(err, "load procedure %s", id)
	}
	if !p.Active {
		return nil, apperr.New(apperr.UnknownProcedure, "procedure %s (%s) is inactive", p.Code, id)
	}
	return p, nil
}

func (c *Catalog) load(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	p, ok, err := c.cache.Get(ctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Str("procedure_id", id.String()).Msg("procedure cache read failed")
	}
	if ok {
		c.metrics.ObserveCacheLookup(true)
		return p, nil
	}
	c.metrics.ObserveCacheLookup(false)

	p, err = c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, p); err != nil {
		c.logger.Warn().Err(err).Str("procedure_id", id.String()).Msg("procedure cache write failed")
	}
	return p, nil
}

// Expand returns the consumptions needed to perform the procedure multiplier
// times.
func (c *Catalog) Expand(ctx context.Context, id uuid.UUID, multiplier decimal.Decimal) ([]Consumption, error) {
	if err := inventory.CheckQuantity("quantity", multiplier); err != nil {
		return nil, err
	}
	p, err := c.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	out := p.Expand(multiplier)
	if err := CheckExpansion(p, multiplier, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckExpansion rejects an expansion whose quantities could not be stored
// without rounding.
func CheckExpansion(p *Procedure, multiplier decimal.Decimal, consumptions []Consumption) error {
	for _, cons := range consumptions {
		if !cons.Quantity.Equal(cons.Quantity.Truncate(inventory.QuantityPlaces)) {
			return apperr.New(apperr.InvalidInput,
				"procedure %s × %s needs %s of item %s, more than %d decimal places",
				p.Code, multiplier.String(), cons.Quantity.String(), cons.ItemID, inventory.QuantityPlaces)
		}
	}
	return nil
}

// UnitPrice is the sum of the procedure's fee schedule.
func (c *Catalog) UnitPrice(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	p, err := c.Lookup(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return p.UnitPrice(), nil
}

// Availability reports whether current stock covers the procedure performed
// multiplier times. The answer can be stale by the time a reservation runs.
func (c *Catalog) Availability(ctx context.Context, id uuid.UUID, multiplier decimal.Decimal) (*Availability, error) {
	consumptions, err := c.Expand(ctx, id, multiplier)
	if err != nil {
		return nil, err
	}
	out := &Availability{ProcedureID: id, Quantity: multiplier, Performable: true}
	for _, cons := range consumptions {
		it, err := c.stock.Get(ctx, cons.ItemID)
		if err != nil {
			return nil, err
		}
		ok := it.OnHand.GreaterThanOrEqual(cons.Quantity)
		out.Performable = out.Performable && ok
		out.Components = append(out.Components, ComponentAvailability{
			ItemID:     cons.ItemID,
			Name:       it.Name,
			Required:   cons.Quantity,
			OnHand:     it.OnHand,
			Sufficient: ok,
		})
	}
	return out, nil
}

// Invalidate drops the cached copy of a procedure.
func (c *Catalog) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := c.cache.Delete(ctx, id); err != nil {
		return apperr.Fault(err, "invalidate procedure %s", id)
	}
	return nil
}

// evict is Invalidate for callers whose write already committed: a cache
// failure is logged and left to the TTL.
func (c *Catalog) evict(ctx context.Context, id uuid.UUID) {
	if err := c.Invalidate(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("procedure_id", id.String()).Msg("procedure cache invalidation failed")
	}
}

// Get returns a procedure whether or not it is active.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	p, err := c.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "procedure %s not found", id)
	}
	if err != nil {
		return nil, apperr.Fault(err, "get procedure %s", id)
	}
	return p, nil
}

func (c *Catalog) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Procedure, int, error) {
	items, total, err := c.repo.List(ctx, activeOnly, limit, offset)
	if err != nil {
		return nil, 0, apperr.Fault(err, "list procedures")
	}
	return items, total, nil
}

func (c *Catalog) Create(ctx context.Context, p *Procedure) error {
	p.Code = strings.TrimSpace(p.Code)
	if p.Code == "" {
		return apperr.New(apperr.InvalidInput, "code is required")
	}
	if err := c.validate(ctx, p); err != nil {
		return err
	}
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		return c.repo.Create(ctx, p)
	})
	if errors.Is(err, ErrDuplicateCode) {
		return apperr.New(apperr.InvalidInput, "procedure code %q already exists", p.Code)
	}
	if err != nil {
		return apperr.Fault(err, "create procedure")
	}
	c.evict(ctx, p.ID)
	return nil
}

// Update replaces a definition. Line items already recorded keep the price and
// consumptions captured when they were added.
//
// The cache entry is dropped before and after the write. A Lookup that read
// the old row while the write was in flight may have cached it again, and the
// second eviction removes it.
func (c *Catalog) Update(ctx context.Context, p *Procedure) error {
	if err := c.validate(ctx, p); err != nil {
		return err
	}
	c.evict(ctx, p.ID)
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		return c.repo.Update(ctx, p)
	})
	if errors.Is(err, ErrNotFound) {
		return apperr.New(apperr.NotFound, "procedure %s not found", p.ID)
	}
	if err != nil {
		return apperr.Fault(err, "update procedure %s", p.ID)
	}
	c.evict(ctx, p.ID)
	return nil
}

func (c *Catalog) validate(ctx context.Context, p *Procedure) error {
	p.Description = strings.TrimSpace(p.Description)
	if p.Description == "" {
		return apperr.New(apperr.InvalidInput, "description is required")
	}
	for i, comp := range p.Components {
		if err := inventory.CheckQuantity(fmt.Sprintf("component %d: quantity", i), comp.Quantity); err != nil {
			return err
		}
		if _, err := c.stock.Get(ctx, comp.ItemID); err != nil {
			return err
		}
	}
	for i, f := range p.Fees {
		if strings.TrimSpace(f.Party) == "" {
			return apperr.New(apperr.InvalidInput, "fee %d: party is required", i)
		}
		if f.Amount.IsNegative() {
			return apperr.New(apperr.InvalidInput, "fee %d: amount must not be negative", i)
		}
		p.Fees[i].Amount = f.Amount.Round(inventory.MoneyPlaces)
	}
	return nil
}
