package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/db"
)

// MemoryItemRepository keeps items in a map. Writes made inside a
// db.MemoryTransactor transaction are undone if the transaction fails.
type MemoryItemRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Item
}

func NewMemoryItemRepository() *MemoryItemRepository {
	return &MemoryItemRepository{items: make(map[uuid.UUID]Item)}
}

func (r *MemoryItemRepository) Create(ctx context.Context, it *Item) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	now := time.Now().UTC()
	it.CreatedAt, it.UpdatedAt = now, now

	r.mu.Lock()
	r.items[it.ID] = *it
	r.mu.Unlock()

	id := it.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryItemRepository) GetByID(_ context.Context, id uuid.UUID) (*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (r *MemoryItemRepository) List(_ context.Context, category Category, limit, offset int) ([]*Item, int, error) {
	r.mu.RLock()
	var matched []*Item
	for _, it := range r.items {
		if category == "" || it.Category == category {
			it := it
			matched = append(matched, &it)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
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

func (r *MemoryItemRepository) Decrement(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*Item, error) {
	r.mu.Lock()
	it, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	if it.OnHand.LessThan(qty) {
		r.mu.Unlock()
		return &it, ErrInsufficientStock
	}
	it.OnHand = it.OnHand.Sub(qty)
	it.UpdatedAt = time.Now().UTC()
	r.items[id] = it
	r.mu.Unlock()

	db.OnRollback(ctx, func() { r.add(id, qty) })
	return &it, nil
}

func (r *MemoryItemRepository) Increment(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*Item, error) {
	it, ok := r.add(id, qty)
	if !ok {
		return nil, ErrNotFound
	}
	db.OnRollback(ctx, func() { r.add(id, qty.Neg()) })
	return it, nil
}

func (r *MemoryItemRepository) add(id uuid.UUID, qty decimal.Decimal) (*Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, false
	}
	it.OnHand = it.OnHand.Add(qty)
	it.UpdatedAt = time.Now().UTC()
	r.items[id] = it
	return &it, true
}
