package consultation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/domain/inventory"
)

// Status is the lifecycle state of a consultation.
type Status string

const (
	StatusWaiting        Status = "waiting"
	StatusInProgress     Status = "in-progress"
	StatusPendingBilling Status = "pending-billing"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Kind says what a line item consumed.
type Kind string

const (
	KindMedication      Kind = "medication"
	KindTriageMaterial  Kind = "triage-material"
	KindGeneralMaterial Kind = "general-material"
	KindProcedure       Kind = "procedure"
)

var kindCategories = map[Kind]inventory.Category{
	KindMedication:      inventory.CategoryMedication,
	KindTriageMaterial:  inventory.CategoryTriageMaterial,
	KindGeneralMaterial: inventory.CategoryGeneralMaterial,
}

func (k Kind) Valid() bool {
	_, simple := kindCategories[k]
	return simple || k == KindProcedure
}

// Consultation maps to the consultations table. Total is written only by
// CostAggregator.
type Consultation struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	PatientID   uuid.UUID        `db:"patient_id" json:"patient_id"`
	StaffID     uuid.UUID        `db:"staff_id" json:"staff_id"`
	Status      Status           `db:"status" json:"status"`
	Reason      string           `db:"reason" json:"reason"`
	Fee         *decimal.Decimal `db:"fee" json:"fee,omitempty"`
	Notes       *string          `db:"notes" json:"notes,omitempty"`
	Total       decimal.Decimal  `db:"total" json:"total"`
	StartedAt   *time.Time       `db:"started_at" json:"started_at,omitempty"`
	FinalizedAt *time.Time       `db:"finalized_at" json:"finalized_at,omitempty"`
	CancelledAt *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`

	LineItems    []*LineItem    `json:"line_items,omitempty"`
	ExtraCharges []*ExtraCharge `json:"extra_charges,omitempty"`
}

// LineItem is one consumed item or performed procedure. UnitCost and
// Consumptions are captured when the line is added and never change.
type LineItem struct {
	ID             uuid.UUID             `db:"id" json:"id"`
	ConsultationID uuid.UUID             `db:"consultation_id" json:"consultation_id"`
	Kind           Kind                  `db:"kind" json:"kind"`
	RefID          uuid.UUID             `db:"ref_id" json:"ref_id"`
	Description    string                `db:"description" json:"description"`
	Quantity       decimal.Decimal       `db:"quantity" json:"quantity"`
	UnitCost       decimal.Decimal       `db:"unit_cost" json:"unit_cost"`
	Subtotal       decimal.Decimal       `db:"subtotal" json:"subtotal"`
	Note           *string               `db:"note" json:"note,omitempty"`
	Consumptions   []catalog.Consumption `json:"consumptions"`
	CreatedAt      time.Time             `db:"created_at" json:"created_at"`
}

// ExtraCharge is an ad-hoc amount billed to a consultation.
type ExtraCharge struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	ConsultationID uuid.UUID       `db:"consultation_id" json:"consultation_id"`
	Concept        string          `db:"concept" json:"concept"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Note           *string         `db:"note" json:"note,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	PatientID uuid.UUID
	Status    Status
}
