package consultation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/platform/db"
)

// The memory repositories rely on db.MemoryTransactor serializing whole
// transactions, so GetForUpdate needs no lock of its own. Every write
// registers its inverse with db.OnRollback.

type MemoryConsultationRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Consultation
}

func NewMemoryConsultationRepository() *MemoryConsultationRepository {
	return &MemoryConsultationRepository{items: make(map[uuid.UUID]Consultation)}
}

func (r *MemoryConsultationRepository) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.put(*c)
	id := c.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryConsultationRepository) put(c Consultation) {
	c.LineItems, c.ExtraCharges = nil, nil
	r.mu.Lock()
	r.items[c.ID] = c
	r.mu.Unlock()
}

func (r *MemoryConsultationRepository) GetByID(_ context.Context, id uuid.UUID) (*Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *MemoryConsultationRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryConsultationRepository) Update(ctx context.Context, c *Consultation) error {
	prev, err := r.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	next := *c
	next.Total = prev.Total
	next.UpdatedAt = time.Now().UTC()
	r.put(next)
	c.UpdatedAt = next.UpdatedAt
	db.OnRollback(ctx, func() { r.put(*prev) })
	return nil
}

func (r *MemoryConsultationRepository) SetTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	prev, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	next := *prev
	next.Total = total
	next.UpdatedAt = time.Now().UTC()
	r.put(next)
	db.OnRollback(ctx, func() { r.put(*prev) })
	return nil
}

func (r *MemoryConsultationRepository) List(_ context.Context, f ListFilter, limit, offset int) ([]*Consultation, int, error) {
	r.mu.RLock()
	var matched []*Consultation
	for _, c := range r.items {
		if f.PatientID != uuid.Nil && c.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		c := c
		matched = append(matched, &c)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

type memLine struct {
	seq  int64
	line LineItem
}

type MemoryLineItemRepository struct {
	mu    sync.RWMutex
	seq   int64
	items map[uuid.UUID]memLine
}

func NewMemoryLineItemRepository() *MemoryLineItemRepository {
	return &MemoryLineItemRepository{items: make(map[uuid.UUID]memLine)}
}

func cloneLine(li LineItem) *LineItem {
	li.Consumptions = append([]catalog.Consumption{}, li.Consumptions...)
	return &li
}

func (r *MemoryLineItemRepository) Create(ctx context.Context, li *LineItem) error {
	li.ID = uuid.New()
	li.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	r.seq++
	r.items[li.ID] = memLine{seq: r.seq, line: *cloneLine(*li)}
	r.mu.Unlock()

	id := li.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryLineItemRepository) GetByID(_ context.Context, id uuid.UUID) (*LineItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[id]
	if !ok {
		return nil, ErrLineItemNotFound
	}
	return cloneLine(m.line), nil
}

func (r *MemoryLineItemRepository) ListByConsultation(_ context.Context, consultationID uuid.UUID) ([]*LineItem, error) {
	r.mu.RLock()
	var matched []memLine
	for _, m := range r.items {
		if m.line.ConsultationID == consultationID {
			matched = append(matched, m)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]*LineItem, 0, len(matched))
	for _, m := range matched {
		out = append(out, cloneLine(m.line))
	}
	return out, nil
}

func (r *MemoryLineItemRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	m, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return ErrLineItemNotFound
	}
	delete(r.items, id)
	r.mu.Unlock()

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.items[id] = m
		r.mu.Unlock()
	})
	return nil
}

type memCharge struct {
	seq    int64
	charge ExtraCharge
}

type MemoryExtraChargeRepository struct {
	mu    sync.RWMutex
	seq   int64
	items map[uuid.UUID]memCharge
}

func NewMemoryExtraChargeRepository() *MemoryExtraChargeRepository {
	return &MemoryExtraChargeRepository{items: make(map[uuid.UUID]memCharge)}
}

func (r *MemoryExtraChargeRepository) Create(ctx context.Context, ec *ExtraCharge) error {
	ec.ID = uuid.New()
	ec.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	r.seq++
	r.items[ec.ID] = memCharge{seq: r.seq, charge: *ec}
	r.mu.Unlock()

	id := ec.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryExtraChargeRepository) GetByID(_ context.Context, id uuid.UUID) (*ExtraCharge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[id]
	if !ok {
		return nil, ErrExtraChargeNotFound
	}
	ec := m.charge
	return &ec, nil
}

func (r *MemoryExtraChargeRepository) ListByConsultation(_ context.Context, consultationID uuid.UUID) ([]*ExtraCharge, error) {
	r.mu.RLock()
	var matched []memCharge
	for _, m := range r.items {
		if m.charge.ConsultationID == consultationID {
			matched = append(matched, m)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]*ExtraCharge, 0, len(matched))
	for _, m := range matched {
		ec := m.charge
		out = append(out, &ec)
	}
	return out, nil
}

func (r *MemoryExtraChargeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	m, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return ErrExtraChargeNotFound
	}
	delete(r.items, id)
	r.mu.Unlock()

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.items[id] = m
		r.mu.Unlock()
	})
	return nil
}
