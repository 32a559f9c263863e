package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Component is one inventory consumption performed each time the procedure
// is carried out.
type Component struct {
	ItemID   uuid.UUID       `db:"item_id" json:"item_id"`
	Quantity decimal.Decimal `db:"quantity" json:"quantity"`
}

// Fee is one entry of a procedure's fee schedule.
type Fee struct {
	Party  string          `db:"party" json:"party"`
	Amount decimal.Decimal `db:"amount" json:"amount"`
}

// Procedure maps to procedure_definitions and its child tables.
type Procedure struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Code        string      `db:"code" json:"code"`
	Description string      `db:"description" json:"description"`
	Active      bool        `db:"active" json:"active"`
	Components  []Component `json:"components"`
	Fees        []Fee       `json:"fees"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// UnitPrice is the sum of the fee schedule.
func (p *Procedure) UnitPrice() decimal.Decimal {
	total := decimal.Zero
	for _, f := range p.Fees {
		total = total.Add(f.Amount)
	}
	return total
}

// Consumption is a resolved leaf decrement: how much of one inventory item a
// line item took.
type Consumption struct {
	ItemID   uuid.UUID       `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Expand multiplies every component by multiplier. Components that name the
// same item are merged, keeping the order in which items first appear.
func (p *Procedure) Expand(multiplier decimal.Decimal) []Consumption {
	out := make([]Consumption, 0, len(p.Components))
	index := make(map[uuid.UUID]int, len(p.Components))
	for _, c := range p.Components {
		qty := c.Quantity.Mul(multiplier)
		if i, ok := index[c.ItemID]; ok {
			out[i].Quantity = out[i].Quantity.Add(qty)
			continue
		}
		index[c.ItemID] = len(out)
		out = append(out, Consumption{ItemID: c.ItemID, Quantity: qty})
	}
	return out
}

func (p *Procedure) clone() *Procedure {
	cp := *p
	cp.Components = append([]Component(nil), p.Components...)
	cp.Fees = append([]Fee(nil), p.Fees...)
	return &cp
}

// ComponentAvailability reports stock for one component of a procedure.
type ComponentAvailability struct {
	ItemID     uuid.UUID       `json:"item_id"`
	Name       string          `json:"name"`
	Required   decimal.Decimal `json:"required"`
	OnHand     decimal.Decimal `json:"on_hand"`
	Sufficient bool            `json:"sufficient"`
}

// Availability is an advisory snapshot; it never reserves anything.
type Availability struct {
	ProcedureID uuid.UUID               `json:"procedure_id"`
	Quantity    decimal.Decimal         `json:"quantity"`
	Performable bool                    `json:"performable"`
	Components  []ComponentAvailability `json:"components"`
}
