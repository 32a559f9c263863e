package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// mapCache is an in-process Cache that counts repository round trips saved.
type mapCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Procedure
	hits       int
	failGet    bool
	failDelete bool
}

func newMapCache() *mapCache { return &mapCache{entries: make(map[uuid.UUID]*Procedure)} }

func (m *mapCache) Get(_ context.Context, id uuid.UUID) (*Procedure, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("cache unavailable")
	}
	p, ok := m.entries[id]
	if ok {
		m.hits++
		return p.clone(), true, nil
	}
	return nil, false, nil
}

func (m *mapCache) Set(_ context.Context, p *Procedure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p.ID] = p.clone()
	return nil
}

func (m *mapCache) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return errors.New("cache unavailable")
	}
	delete(m.entries, id)
	return nil
}

type fixture struct {
	catalog    *Catalog
	pool       *inventory.Pool
	cache      *mapCache
	gauze      *inventory.Item
	antiseptic *inventory.Item
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool := inventory.NewPool(inventory.NewMemoryItemRepository())
	ctx := context.Background()
	gauze := &inventory.Item{Category: inventory.CategoryGeneralMaterial, Name: "gauze", Unit: "pad", OnHand: dec("2"), UnitCost: dec("0.50")}
	antiseptic := &inventory.Item{Category: inventory.CategoryTriageMaterial, Name: "antiseptic", Unit: "ml", OnHand: dec("1"), UnitCost: dec("3")}
	require.NoError(t, pool.Create(ctx, gauze))
	require.NoError(t, pool.Create(ctx, antiseptic))

	cache := newMapCache()
	cat := NewCatalog(NewMemoryProcedureRepository(), pool, db.NewMemoryTransactor(), cache, zerolog.Nop())
	return &fixture{catalog: cat, pool: pool, cache: cache, gauze: gauze, antiseptic: antiseptic}
}

func (f *fixture) sutureKit(t *testing.T) *Procedure {
	t.Helper()
	p := &Procedure{
		Code:        "suture-kit",
		Description: "Simple suture",
		Active:      true,
		Components: []Component{
			{ItemID: f.gauze.ID, Quantity: dec("2")},
			{ItemID: f.antiseptic.ID, Quantity: dec("1")},
		},
		Fees: []Fee{
			{Party: "physician", Amount: dec("100")},
			{Party: "clinic", Amount: dec("50")},
		},
	}
	require.NoError(t, f.catalog.Create(context.Background(), p))
	return p
}

func TestExpand_MultipliesComponents(t *testing.T) {
	f := newFixture(t)
	p := f.sutureKit(t)

	got, err := f.catalog.Expand(context.Background(), p.ID, dec("3"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, f.gauze.ID, got[0].ItemID)
	assert.True(t, got[0].Quantity.Equal(dec("6")))
	assert.Equal(t, f.antiseptic.ID, got[1].ItemID)
	assert.True(t, got[1].Quantity.Equal(dec("3")))
}

func TestExpand_MergesRepeatedItems(t *testing.T) {
	id := uuid.New()
	other := uuid.New()
	p := &Procedure{Components: []Component{
		{ItemID: id, Quantity: dec("1")},
		{ItemID: other, Quantity: dec("2")},
		{ItemID: id, Quantity: dec("0.5")},
	}}
	got := p.Expand(dec("2"))
	require.Len(t, got, 2)
	assert.Equal(t, id, got[0].ItemID)
	assert.True(t, got[0].Quantity.Equal(dec("3")))
	assert.True(t, got[1].Quantity.Equal(dec("4")))
}

func TestUnitPrice_SumsFees(t *testing.T) {
	f := newFixture(t)
	p := f.sutureKit(t)

	price, err := f.catalog.UnitPrice(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("150")), "price = %s", price)
}

func TestLookup_UnknownAndInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.Expand(ctx, uuid.New(), dec("1"))
	assert.True(t, apperr.Is(err, apperr.UnknownProcedure))

	p := f.sutureKit(t)
	p.Active = false
	require.NoError(t, f.catalog.Update(ctx, p))

	_, err = f.catalog.UnitPrice(ctx, p.ID)
	assert.True(t, apperr.Is(err, apperr.UnknownProcedure))

	got, err := f.catalog.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestExpand_RejectsNonPositiveMultiplier(t *testing.T) {
	f := newFixture(t)
	p := f.sutureKit(t)
	_, err := f.catalog.Expand(context.Background(), p.ID, decimal.Zero)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestLookup_ReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.sutureKit(t)

	_, err := f.catalog.Lookup(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.cache.hits)

	_, err = f.catalog.Lookup(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
}

func TestUpdate_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.sutureKit(t)

	_, err := f.catalog.UnitPrice(ctx, p.ID)
	require.NoError(t, err)

	p.Fees = []Fee{{Party: "physician", Amount: dec("200")}}
	require.NoError(t, f.catalog.Update(ctx, p))

	price, err := f.catalog.UnitPrice(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("200")), "stale price %s", price)
}

// staleWriteRepo re-caches the stored definition while Update is in flight,
// the way a concurrent Lookup that read the old row would.
type staleWriteRepo struct {
	ProcedureRepository
	cache *mapCache
}

func (r *staleWriteRepo) Update(ctx context.Context, p *Procedure) error {
	old, err := r.ProcedureRepository.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := r.cache.Set(ctx, old); err != nil {
		return err
	}
	return r.ProcedureRepository.Update(ctx, p)
}

func TestUpdate_EvictsEntryCachedDuringWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := newMapCache()
	repo := &staleWriteRepo{ProcedureRepository: NewMemoryProcedureRepository(), cache: cache}
	cat := NewCatalog(repo, f.pool, db.NewMemoryTransactor(), cache, zerolog.Nop())

	p := &Procedure{Code: "dressing", Description: "Wound dressing", Active: true,
		Fees: []Fee{{Party: "clinic", Amount: dec("40")}}}
	require.NoError(t, cat.Create(ctx, p))

	p.Fees = []Fee{{Party: "clinic", Amount: dec("45")}}
	require.NoError(t, cat.Update(ctx, p))

	price, err := cat.UnitPrice(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("45")), "stale price %s", price)
}

func TestUpdate_CacheEvictionFailureDoesNotFailCommittedWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.sutureKit(t)
	f.cache.failDelete = true

	p.Fees = []Fee{{Party: "physician", Amount: dec("120")}}
	require.NoError(t, f.catalog.Update(ctx, p))

	got, err := f.catalog.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.UnitPrice().Equal(dec("120")), "stored price %s", got.UnitPrice())
}

func TestLookup_CacheFailureFallsBackToRepository(t *testing.T) {
	f := newFixture(t)
	p := f.sutureKit(t)
	f.cache.failGet = true

	price, err := f.catalog.UnitPrice(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("150")))
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.sutureKit(t)

	av, err := f.catalog.Availability(ctx, p.ID, dec("1"))
	require.NoError(t, err)
	assert.True(t, av.Performable)
	require.Len(t, av.Components, 2)

	av, err = f.catalog.Availability(ctx, p.ID, dec("2"))
	require.NoError(t, err)
	assert.False(t, av.Performable)
	assert.False(t, av.Components[0].Sufficient)
	assert.True(t, av.Components[0].Required.Equal(dec("4")))

	item, err := f.pool.Get(ctx, f.gauze.ID)
	require.NoError(t, err)
	assert.True(t, item.OnHand.Equal(dec("2")), "availability must not touch stock")
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.catalog.Create(ctx, &Procedure{Description: "x"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	err = f.catalog.Create(ctx, &Procedure{Code: "x"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	err = f.catalog.Create(ctx, &Procedure{Code: "x", Description: "x",
		Components: []Component{{ItemID: uuid.New(), Quantity: dec("1")}}})
	assert.True(t, apperr.Is(err, apperr.UnknownItem))

	err = f.catalog.Create(ctx, &Procedure{Code: "x", Description: "x",
		Components: []Component{{ItemID: f.gauze.ID, Quantity: dec("0")}}})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	err = f.catalog.Create(ctx, &Procedure{Code: "x", Description: "x",
		Fees: []Fee{{Party: "clinic", Amount: dec("-1")}}})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	err = f.catalog.Create(ctx, &Procedure{Code: "x", Description: "x",
		Components: []Component{{ItemID: f.gauze.ID, Quantity: dec("1.0005")}}})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestCreate_RoundsFeesToCents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := &Procedure{Code: "x", Description: "x", Active: true,
		Fees: []Fee{{Party: "clinic", Amount: dec("10.005")}}}
	require.NoError(t, f.catalog.Create(ctx, p))

	price, err := f.catalog.UnitPrice(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("10.01")), "price = %s", price)
}

func TestExpand_RejectsQuantitiesBeyondStoredScale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := &Procedure{Code: "swab", Description: "Swab", Active: true,
		Components: []Component{{ItemID: f.antiseptic.ID, Quantity: dec("0.005")}}}
	require.NoError(t, f.catalog.Create(ctx, p))

	got, err := f.catalog.Expand(ctx, p.ID, dec("2"))
	require.NoError(t, err)
	assert.True(t, got[0].Quantity.Equal(dec("0.01")))

	_, err = f.catalog.Expand(ctx, p.ID, dec("0.5"))
	assert.True(t, apperr.Is(err, apperr.InvalidInput), "0.005 × 0.5 needs four decimals")

	_, err = f.catalog.Availability(ctx, p.ID, dec("1.0005"))
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestCreate_DuplicateCode(t *testing.T) {
	f := newFixture(t)
	f.sutureKit(t)
	err := f.catalog.Create(context.Background(), &Procedure{Code: "suture-kit", Description: "again"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestList_ActiveOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.sutureKit(t)
	require.NoError(t, f.catalog.Create(ctx, &Procedure{Code: "dressing", Description: "Wound dressing", Active: true}))
	p.Active = false
	require.NoError(t, f.catalog.Update(ctx, p))

	items, total, err := f.catalog.List(ctx, true, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "dressing", items[0].Code)

	_, total, err = f.catalog.List(ctx, false, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
