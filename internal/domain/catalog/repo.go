package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("procedure not found")
	ErrDuplicateCode = errors.New("procedure code already exists")
)

// ProcedureRepository persists procedure definitions together with their
// components and fee schedule.
type ProcedureRepository interface {
	Create(ctx context.Context, p *Procedure) error
	GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error)
	// Update replaces description, active flag, components and fees.
	Update(ctx context.Context, p *Procedure) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Procedure, int, error)
}
