package consultation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("consultation not found")
	ErrLineItemNotFound    = errors.New("line item not found")
	ErrExtraChargeNotFound = errors.New("extra charge not found")
)

type ConsultationRepository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	// GetForUpdate locks the row until the enclosing transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Consultation, error)
	// Update writes lifecycle fields, reason, fee and notes. It never writes
	// Total.
	Update(ctx context.Context, c *Consultation) error
	SetTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Consultation, int, error)
}

// LineItemRepository stores line items together with their consumptions.
type LineItemRepository interface {
	Create(ctx context.Context, li *LineItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*LineItem, error)
	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*LineItem, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ExtraChargeRepository interface {
	Create(ctx context.Context, ec *ExtraCharge) error
	GetByID(ctx context.Context, id uuid.UUID) (*ExtraCharge, error)
	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*ExtraCharge, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
