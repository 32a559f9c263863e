package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/db"
)

type MemoryProcedureRepository struct {
	mu    sync.RWMutex
	procs map[uuid.UUID]*Procedure
}

func NewMemoryProcedureRepository() *MemoryProcedureRepository {
	return &MemoryProcedureRepository{procs: make(map[uuid.UUID]*Procedure)}
}

func (r *MemoryProcedureRepository) Create(ctx context.Context, p *Procedure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.procs {
		if existing.Code == p.Code {
			return ErrDuplicateCode
		}
	}
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.procs[p.ID] = p.clone()

	id := p.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.procs, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryProcedureRepository) Update(ctx context.Context, p *Procedure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.procs[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.Code, p.CreatedAt = prev.Code, prev.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	r.procs[p.ID] = p.clone()

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.procs[prev.ID] = prev
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryProcedureRepository) GetByID(_ context.Context, id uuid.UUID) (*Procedure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

func (r *MemoryProcedureRepository) List(_ context.Context, activeOnly bool, limit, offset int) ([]*Procedure, int, error) {
	r.mu.RLock()
	var matched []*Procedure
	for _, p := range r.procs {
		if !activeOnly || p.Active {
			matched = append(matched, p.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Code < matched[j].Code })
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
