package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/db"
)

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository { return &itemRepoPG{pool: pool} }

func (r *itemRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const itemCols = `id, category, name, unit, on_hand, unit_cost, created_at, updated_at`

func (r *itemRepoPG) scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Category, &it.Name, &it.Unit, &it.OnHand, &it.UnitCost, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &it, err
}

func (r *itemRepoPG) Create(ctx context.Context, it *Item) error {
	it.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO inventory_items (id, category, name, unit, on_hand, unit_cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		it.ID, it.Category, it.Name, it.Unit, it.OnHand, it.UnitCost,
	).Scan(&it.CreatedAt, &it.UpdatedAt)
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	return r.scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM inventory_items WHERE id = $1`, id))
}

func (r *itemRepoPG) List(ctx context.Context, category Category, limit, offset int) ([]*Item, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM inventory_items WHERE ($1 = '' OR category = $1)`, string(category),
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM inventory_items
		WHERE ($1 = '' OR category = $1) ORDER BY name LIMIT $2 OFFSET $3`,
		string(category), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := r.scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// Decrement relies on the row lock taken by UPDATE: a concurrent reservation
// on the same item waits, then re-evaluates the on_hand >= qty predicate
// against the committed value, so two reservations can never overdraw.
func (r *itemRepoPG) Decrement(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*Item, error) {
	it, err := r.scanItem(r.conn(ctx).QueryRow(ctx, `
		UPDATE inventory_items SET on_hand = on_hand - $2, updated_at = NOW()
		WHERE id = $1 AND on_hand >= $2
		RETURNING `+itemCols, id, qty))
	if !errors.Is(err, ErrNotFound) {
		return it, err
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, ErrInsufficientStock
}

func (r *itemRepoPG) Increment(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*Item, error) {
	return r.scanItem(r.conn(ctx).QueryRow(ctx, `
		UPDATE inventory_items SET on_hand = on_hand + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+itemCols, id, qty))
}
