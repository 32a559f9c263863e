package consultation

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/platform/apperr"
)

// MoneyPlaces is the precision money is rounded to.
const MoneyPlaces = inventory.MoneyPlaces

// Subtotal is quantity × unit cost rounded to MoneyPlaces.
func Subtotal(qty, unitCost decimal.Decimal) decimal.Decimal {
	return qty.Mul(unitCost).Round(MoneyPlaces)
}

// ComputeTotal returns fee (or zero) plus every line subtotal and extra
// charge amount.
func ComputeTotal(fee *decimal.Decimal, lines []*LineItem, extras []*ExtraCharge) decimal.Decimal {
	total := decimal.Zero
	if fee != nil {
		total = total.Add(*fee)
	}
	for _, li := range lines {
		total = total.Add(li.Subtotal)
	}
	for _, ec := range extras {
		total = total.Add(ec.Amount)
	}
	return total.Round(MoneyPlaces)
}

// CostAggregator keeps Consultation.Total equal to ComputeTotal over the
// stored ledger. Recompute must run in the same transaction as the mutation
// that triggered it.
type CostAggregator struct {
	consultations ConsultationRepository
	lines         LineItemRepository
	extras        ExtraChargeRepository
}

func NewCostAggregator(consultations ConsultationRepository, lines LineItemRepository, extras ExtraChargeRepository) *CostAggregator {
	return &CostAggregator{consultations: consultations, lines: lines, extras: extras}
}

func (a *CostAggregator) Recompute(ctx context.Context, consultationID uuid.UUID) (decimal.Decimal, error) {
	c, err := a.consultations.GetByID(ctx, consultationID)
	if err != nil {
		return decimal.Zero, apperr.Fault(err, "load consultation %s", consultationID)
	}
	lines, err := a.lines.ListByConsultation(ctx, consultationID)
	if err != nil {
		return decimal.Zero, apperr.Fault(err, "load line items")
	}
	extras, err := a.extras.ListByConsultation(ctx, consultationID)
	if err != nil {
		return decimal.Zero, apperr.Fault(err, "load extra charges")
	}
	total := ComputeTotal(c.Fee, lines, extras)
	if err := a.consultations.SetTotal(ctx, consultationID, total); err != nil {
		return decimal.Zero, apperr.Fault(err, "store total")
	}
	return total, nil
}
