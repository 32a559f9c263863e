package consultation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/metrics"
)

// Service is the public surface of the consultation ledger. Every operation
// runs as one transaction; mutating operations lock the consultation row
// first so operations on the same consultation serialize.
type Service struct {
	tx            db.Transactor
	consultations ConsultationRepository
	lines         LineItemRepository
	extras        ExtraChargeRepository
	ledger        *Ledger
	costs         *CostAggregator
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	publisher     Publisher
	now           func() time.Time
}

func NewService(tx db.Transactor, consultations ConsultationRepository, lines LineItemRepository,
	extras ExtraChargeRepository, stock Stock, procedures Procedures, logger zerolog.Logger) *Service {
	costs := NewCostAggregator(consultations, lines, extras)
	return &Service{
		tx:            tx,
		consultations: consultations,
		lines:         lines,
		extras:        extras,
		ledger:        NewLedger(tx, stock, procedures, lines, costs),
		costs:         costs,
		logger:        logger,
		publisher:     NoopPublisher{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetPublisher attaches the post-commit event sink.
func (s *Service) SetPublisher(p Publisher) {
	if p == nil {
		p = NoopPublisher{}
	}
	s.publisher = p
}

// CreateInput carries the references supplied by the patient and staff
// registries.
type CreateInput struct {
	PatientID uuid.UUID        `json:"patient_id"`
	StaffID   uuid.UUID        `json:"staff_id"`
	Reason    string           `json:"reason"`
	Fee       *decimal.Decimal `json:"fee"`
	// Queued leaves the consultation waiting until Start is called.
	Queued bool `json:"queued"`
}

type ExtraChargeInput struct {
	Concept string          `json:"concept"`
	Amount  decimal.Decimal `json:"amount"`
	Note    *string         `json:"note,omitempty"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Consultation, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.New(apperr.InvalidInput, "patient_id is required")
	}
	if in.StaffID == uuid.Nil {
		return nil, apperr.New(apperr.InvalidInput, "staff_id is required")
	}
	fee, err := normalizeFee(in.Fee)
	if err != nil {
		return nil, err
	}

	c := &Consultation{
		PatientID: in.PatientID,
		StaffID:   in.StaffID,
		Status:    StatusWaiting,
		Reason:    strings.TrimSpace(in.Reason),
		Fee:       fee,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.consultations.Create(ctx, c); err != nil {
			return apperr.Fault(err, "insert consultation")
		}
		if !in.Queued {
			if err := transition(c, StatusInProgress, s.now()); err != nil {
				return err
			}
			if err := s.consultations.Update(ctx, c); err != nil {
				return apperr.Fault(err, "start consultation")
			}
		}
		total, err := s.costs.Recompute(ctx, c.ID)
		c.Total = total
		return err
	})
	s.observe("create", err)
	if err != nil {
		return nil, apperr.Fault(err, "create consultation")
	}
	s.metrics.ObserveTransition(string(c.Status))
	s.publish(ctx, EventCreated, c, nil)
	return c, nil
}

// Get returns a snapshot of the consultation with its line items and extra
// charges.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	var c *Consultation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.load(ctx, id, false); err != nil {
			return err
		}
		if c.LineItems, err = s.lines.ListByConsultation(ctx, id); err != nil {
			return apperr.Fault(err, "load line items")
		}
		if c.ExtraCharges, err = s.extras.ListByConsultation(ctx, id); err != nil {
			return apperr.Fault(err, "load extra charges")
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Fault(err, "get consultation")
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Consultation, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.New(apperr.InvalidInput, "invalid status: %s", f.Status)
	}
	items, total, err := s.consultations.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Fault(err, "list consultations")
	}
	return items, total, nil
}

// Start moves a queued consultation to in-progress.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.move(ctx, "start", id, StatusWaiting, StatusInProgress)
}

func (s *Service) SendToBilling(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.move(ctx, "send_to_billing", id, StatusInProgress, StatusPendingBilling)
}

func (s *Service) ReturnToPhysician(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.move(ctx, "return_to_physician", id, StatusPendingBilling, StatusInProgress)
}

func (s *Service) move(ctx context.Context, op string, id uuid.UUID, from, to Status) (*Consultation, error) {
	c, err := s.withLocked(ctx, op, id, func(ctx context.Context, c *Consultation) error {
		if c.Status != from {
			return apperr.New(apperr.InvalidState, "consultation %s is %s, expected %s", c.ID, c.Status, from)
		}
		if err := transition(c, to, s.now()); err != nil {
			return err
		}
		return s.update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(to))
	s.publish(ctx, EventStatusChanged, c, nil)
	return c, nil
}

// Finalize closes a consultation at the billing desk. An empty ledger is
// allowed but logged.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, notes *string) (*Consultation, error) {
	c, err := s.withLocked(ctx, "finalize", id, func(ctx context.Context, c *Consultation) error {
		if err := transition(c, StatusCompleted, s.now()); err != nil {
			return err
		}
		if notes != nil {
			trimmed := strings.TrimSpace(*notes)
			c.Notes = &trimmed
		}
		lines, err := s.lines.ListByConsultation(ctx, c.ID)
		if err != nil {
			return apperr.Fault(err, "load line items")
		}
		extras, err := s.extras.ListByConsultation(ctx, c.ID)
		if err != nil {
			return apperr.Fault(err, "load extra charges")
		}
		if len(lines) == 0 && len(extras) == 0 {
			s.logger.Warn().Str("consultation_id", c.ID.String()).Msg("finalizing consultation with an empty ledger")
		}
		return s.update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(StatusCompleted))
	s.logger.Info().Str("consultation_id", c.ID.String()).Str("total", c.Total.StringFixed(MoneyPlaces)).Msg("consultation finalized")
	s.publish(ctx, EventFinalized, c, nil)
	return c, nil
}

// Cancel reverses every line item, restoring its stock, drops extra charges
// and marks the consultation cancelled. It returns the number of line items
// reversed. Either all of it happens or none of it does.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (int, *Consultation, error) {
	restored := 0
	c, err := s.withLocked(ctx, "cancel", id, func(ctx context.Context, c *Consultation) error {
		if !CanTransition(c.Status, StatusCancelled) {
			return apperr.New(apperr.InvalidState, "consultation %s is %s and cannot be cancelled", c.ID, c.Status)
		}
		lines, err := s.lines.ListByConsultation(ctx, c.ID)
		if err != nil {
			return apperr.Fault(err, "load line items")
		}
		for _, li := range lines {
			if _, err := s.ledger.RemoveLineItem(ctx, li.ID); err != nil {
				return err
			}
		}
		extras, err := s.extras.ListByConsultation(ctx, c.ID)
		if err != nil {
			return apperr.Fault(err, "load extra charges")
		}
		for _, ec := range extras {
			if err := s.extras.Delete(ctx, ec.ID); err != nil {
				return apperr.Fault(err, "delete extra charge %s", ec.ID)
			}
		}
		if err := transition(c, StatusCancelled, s.now()); err != nil {
			return err
		}
		if err := s.update(ctx, c); err != nil {
			return err
		}
		if c.Total, err = s.costs.Recompute(ctx, c.ID); err != nil {
			return err
		}
		restored = len(lines)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	s.metrics.ObserveTransition(string(StatusCancelled))
	s.logger.Info().Str("consultation_id", c.ID.String()).Int("restored", restored).Msg("consultation cancelled")
	s.publish(ctx, EventCancelled, c, nil)
	return restored, c, nil
}

// SetFee sets or clears the flat consultation fee.
func (s *Service) SetFee(ctx context.Context, id uuid.UUID, fee *decimal.Decimal) (*Consultation, error) {
	fee, err := normalizeFee(fee)
	if err != nil {
		return nil, err
	}
	c, err := s.withLocked(ctx, "set_fee", id, func(ctx context.Context, c *Consultation) error {
		if err := requireActive(c); err != nil {
			return err
		}
		c.Fee = fee
		if err := s.update(ctx, c); err != nil {
			return err
		}
		total, err := s.costs.Recompute(ctx, c.ID)
		c.Total = total
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventFeeChanged, c, nil)
	return c, nil
}

func (s *Service) AddLineItem(ctx context.Context, consultationID uuid.UUID, in LineItemInput) (*LineItem, error) {
	var li *LineItem
	c, err := s.withLocked(ctx, "add_line_item", consultationID, func(ctx context.Context, c *Consultation) error {
		if err := requireActive(c); err != nil {
			return err
		}
		var err error
		if li, err = s.ledger.AddLineItem(ctx, c.ID, in); err != nil {
			return err
		}
		return s.refreshTotal(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventLineItemAdded, c, &li.ID)
	return li, nil
}

func (s *Service) RemoveLineItem(ctx context.Context, consultationID, lineItemID uuid.UUID) (*Consultation, error) {
	c, err := s.withLocked(ctx, "remove_line_item", consultationID, func(ctx context.Context, c *Consultation) error {
		if err := requireActive(c); err != nil {
			return err
		}
		li, err := s.lines.GetByID(ctx, lineItemID)
		if errors.Is(err, ErrLineItemNotFound) || (err == nil && li.ConsultationID != c.ID) {
			return apperr.New(apperr.NotFound, "line item %s not found on consultation %s", lineItemID, c.ID)
		}
		if err != nil {
			return apperr.Fault(err, "load line item %s", lineItemID)
		}
		if _, err := s.ledger.RemoveLineItem(ctx, li.ID); err != nil {
			return err
		}
		return s.refreshTotal(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventLineItemRemoved, c, &lineItemID)
	return c, nil
}

func (s *Service) AddExtraCharge(ctx context.Context, consultationID uuid.UUID, in ExtraChargeInput) (*ExtraCharge, error) {
	concept := strings.TrimSpace(in.Concept)
	if concept == "" {
		return nil, apperr.New(apperr.InvalidInput, "concept is required")
	}
	if in.Amount.IsNegative() {
		return nil, apperr.New(apperr.InvalidInput, "amount must not be negative")
	}
	ec := &ExtraCharge{
		ConsultationID: consultationID,
		Concept:        concept,
		Amount:         in.Amount.Round(MoneyPlaces),
		Note:           in.Note,
	}
	c, err := s.withLocked(ctx, "add_extra_charge", consultationID, func(ctx context.Context, c *Consultation) error {
		if err := requireActive(c); err != nil {
			return err
		}
		if err := s.extras.Create(ctx, ec); err != nil {
			return apperr.Fault(err, "insert extra charge")
		}
		total, err := s.costs.Recompute(ctx, c.ID)
		c.Total = total
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventExtraChargeAdded, c, nil)
	return ec, nil
}

func (s *Service) RemoveExtraCharge(ctx context.Context, consultationID, chargeID uuid.UUID) (*Consultation, error) {
	c, err := s.withLocked(ctx, "remove_extra_charge", consultationID, func(ctx context.Context, c *Consultation) error {
		if err := requireActive(c); err != nil {
			return err
		}
		ec, err := s.extras.GetByID(ctx, chargeID)
		if errors.Is(err, ErrExtraChargeNotFound) || (err == nil && ec.ConsultationID != c.ID) {
			return apperr.New(apperr.NotFound, "extra charge %s not found on consultation %s", chargeID, c.ID)
		}
		if err != nil {
			return apperr.Fault(err, "load extra charge %s", chargeID)
		}
		if err := s.extras.Delete(ctx, ec.ID); err != nil {
			return apperr.Fault(err, "delete extra charge %s", ec.ID)
		}
		total, err := s.costs.Recompute(ctx, c.ID)
		c.Total = total
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventExtraChargeRemoved, c, nil)
	return c, nil
}

// withLocked runs fn in a transaction holding the consultation row lock.
func (s *Service) withLocked(ctx context.Context, op string, id uuid.UUID, fn func(ctx context.Context, c *Consultation) error) (*Consultation, error) {
	var c *Consultation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.load(ctx, id, true); err != nil {
			return err
		}
		return fn(ctx, c)
	})
	s.observe(op, err)
	if err != nil {
		return nil, apperr.Fault(err, "%s", strings.ReplaceAll(op, "_", " "))
	}
	return c, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID, forUpdate bool) (*Consultation, error) {
	get := s.consultations.GetByID
	if forUpdate {
		get = s.consultations.GetForUpdate
	}
	c, err := get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "consultation %s not found", id)
	}
	if err != nil {
		return nil, apperr.Fault(err, "load consultation %s", id)
	}
	return c, nil
}

func (s *Service) update(ctx context.Context, c *Consultation) error {
	if err := s.consultations.Update(ctx, c); err != nil {
		return apperr.Fault(err, "update consultation %s", c.ID)
	}
	return nil
}

// refreshTotal copies the total the ledger just stored onto c.
func (s *Service) refreshTotal(ctx context.Context, c *Consultation) error {
	stored, err := s.consultations.GetByID(ctx, c.ID)
	if err != nil {
		return apperr.Fault(err, "reload consultation %s", c.ID)
	}
	c.Total = stored.Total
	return nil
}

func (s *Service) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	s.metrics.ObserveLedgerOp(op, result)
}

func (s *Service) publish(ctx context.Context, typ string, c *Consultation, lineItemID *uuid.UUID) {
	ev := Event{
		Type:           typ,
		ConsultationID: c.ID,
		LineItemID:     lineItemID,
		Total:          c.Total,
		Status:         c.Status,
		At:             s.now(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", typ).Str("consultation_id", c.ID.String()).Msg("event publication failed")
	}
}

func normalizeFee(fee *decimal.Decimal) (*decimal.Decimal, error) {
	if fee == nil {
		return nil, nil
	}
	if fee.IsNegative() {
		return nil, apperr.New(apperr.InvalidInput, "fee must not be negative")
	}
	rounded := fee.Round(MoneyPlaces)
	return &rounded, nil
}
