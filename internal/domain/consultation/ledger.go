package consultation

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

// Stock is the part of inventory.Pool the ledger uses.
type Stock interface {
	Get(ctx context.Context, id uuid.UUID) (*inventory.Item, error)
	Reserve(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*inventory.Item, error)
	Release(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*inventory.Item, error)
}

// Procedures resolves active procedure definitions. Satisfied by
// *catalog.Catalog.
type Procedures interface {
	Lookup(ctx context.Context, id uuid.UUID) (*catalog.Procedure, error)
}

// Ledger applies and reverses line item consumption against the inventory.
// Each call is all-or-nothing: it joins the caller's transaction or opens
// its own.
type Ledger struct {
	tx         db.Transactor
	stock      Stock
	procedures Procedures
	lines      LineItemRepository
	costs      *CostAggregator
}

func NewLedger(tx db.Transactor, stock Stock, procedures Procedures, lines LineItemRepository, costs *CostAggregator) *Ledger {
	return &Ledger{tx: tx, stock: stock, procedures: procedures, lines: lines, costs: costs}
}

// LineItemInput describes a consumption to record.
type LineItemInput struct {
	Kind     Kind            `json:"kind"`
	RefID    uuid.UUID       `json:"ref_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Note     *string         `json:"note,omitempty"`
}

// AddLineItem reserves stock for the input and records a line with the unit
// cost in effect now. Procedures are expanded into their components and every
// component is reserved; if any of them is short nothing is kept.
func (l *Ledger) AddLineItem(ctx context.Context, consultationID uuid.UUID, in LineItemInput) (*LineItem, error) {
	if !in.Kind.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "invalid kind: %s", in.Kind)
	}
	if err := inventory.CheckQuantity("quantity", in.Quantity); err != nil {
		return nil, err
	}

	var line *LineItem
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		_, err := l.costs.consultations.GetByID(ctx, consultationID)
		if errors.Is(err, ErrNotFound) {
			return apperr.New(apperr.NotFound, "consultation %s not found", consultationID)
		}
		if err != nil {
			return apperr.Fault(err, "load consultation %s", consultationID)
		}
		li, err := l.resolve(ctx, consultationID, in)
		if err != nil {
			return err
		}
		for _, c := range lockOrder(li.Consumptions) {
			if _, err := l.stock.Reserve(ctx, c.ItemID, c.Quantity); err != nil {
				return err
			}
		}
		if err := l.lines.Create(ctx, li); err != nil {
			return apperr.Fault(err, "insert line item")
		}
		if _, err := l.costs.Recompute(ctx, consultationID); err != nil {
			return err
		}
		line = li
		return nil
	})
	if err != nil {
		return nil, apperr.Fault(err, "add line item")
	}
	return line, nil
}

// resolve snapshots description, unit cost and leaf consumptions.
func (l *Ledger) resolve(ctx context.Context, consultationID uuid.UUID, in LineItemInput) (*LineItem, error) {
	li := &LineItem{
		ConsultationID: consultationID,
		Kind:           in.Kind,
		RefID:          in.RefID,
		Quantity:       in.Quantity,
		Note:           in.Note,
	}
	if in.Kind == KindProcedure {
		p, err := l.procedures.Lookup(ctx, in.RefID)
		if err != nil {
			return nil, err
		}
		li.Description = p.Description
		li.UnitCost = p.UnitPrice()
		li.Consumptions = p.Expand(in.Quantity)
		if err := catalog.CheckExpansion(p, in.Quantity, li.Consumptions); err != nil {
			return nil, err
		}
	} else {
		it, err := l.stock.Get(ctx, in.RefID)
		if err != nil {
			return nil, err
		}
		if want := kindCategories[in.Kind]; it.Category != want {
			return nil, apperr.New(apperr.UnknownItem, "inventory item %s is %s, not %s", it.Name, it.Category, want)
		}
		li.Description = it.Name
		li.UnitCost = it.UnitCost
		li.Consumptions = []catalog.Consumption{{ItemID: it.ID, Quantity: in.Quantity}}
	}
	li.Subtotal = Subtotal(li.Quantity, li.UnitCost)
	return li, nil
}

// lockOrder returns the consumptions sorted by item id. Reserving in this
// order means two transactions touching the same items lock their rows in the
// same sequence.
func lockOrder(consumptions []catalog.Consumption) []catalog.Consumption {
	out := append([]catalog.Consumption(nil), consumptions...)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ItemID[:], out[j].ItemID[:]) < 0
	})
	return out
}

// RemoveLineItem releases exactly the consumptions stored on the line, deletes
// it and recomputes the total. The live catalog is never consulted.
func (l *Ledger) RemoveLineItem(ctx context.Context, lineItemID uuid.UUID) (*LineItem, error) {
	var removed *LineItem
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		li, err := l.lines.GetByID(ctx, lineItemID)
		if errors.Is(err, ErrLineItemNotFound) {
			return apperr.New(apperr.NotFound, "line item %s not found", lineItemID)
		}
		if err != nil {
			return apperr.Fault(err, "load line item %s", lineItemID)
		}
		for _, c := range li.Consumptions {
			if _, err := l.stock.Release(ctx, c.ItemID, c.Quantity); err != nil {
				return err
			}
		}
		if err := l.lines.Delete(ctx, li.ID); err != nil {
			return apperr.Fault(err, "delete line item %s", li.ID)
		}
		if _, err := l.costs.Recompute(ctx, li.ConsultationID); err != nil {
			return err
		}
		removed = li
		return nil
	})
	if err != nil {
		return nil, apperr.Fault(err, "remove line item")
	}
	return removed, nil
}
