package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

const uniqueViolation = "23505"

type procedureRepoPG struct{ pool *pgxpool.Pool }

func NewProcedureRepoPG(pool *pgxpool.Pool) ProcedureRepository {
	return &procedureRepoPG{pool: pool}
}

func (r *procedureRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const procCols = `id, code, description, active, created_at, updated_at`

func scanProcedure(row pgx.Row) (*Procedure, error) {
	var p Procedure
	err := row.Scan(&p.ID, &p.Code, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

// Create must run inside a transaction so the definition and its children are
// written together.
func (r *procedureRepoPG) Create(ctx context.Context, p *Procedure) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO procedure_definitions (id, code, description, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		p.ID, p.Code, p.Description, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateCode
		}
		return err
	}
	return r.insertChildren(ctx, p)
}

func (r *procedureRepoPG) Update(ctx context.Context, p *Procedure) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE procedure_definitions SET description = $2, active = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING code, created_at, updated_at`,
		p.ID, p.Description, p.Active,
	).Scan(&p.Code, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM procedure_components WHERE procedure_id = $1`, p.ID); err != nil {
		return fmt.Errorf("delete components: %w", err)
	}
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM procedure_fees WHERE procedure_id = $1`, p.ID); err != nil {
		return fmt.Errorf("delete fees: %w", err)
	}
	return r.insertChildren(ctx, p)
}

func (r *procedureRepoPG) insertChildren(ctx context.Context, p *Procedure) error {
	for i, c := range p.Components {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO procedure_components (procedure_id, position, item_id, quantity)
			VALUES ($1, $2, $3, $4)`, p.ID, i, c.ItemID, c.Quantity); err != nil {
			return fmt.Errorf("insert component %d: %w", i, err)
		}
	}
	for i, f := range p.Fees {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO procedure_fees (procedure_id, position, party, amount)
			VALUES ($1, $2, $3, $4)`, p.ID, i, f.Party, f.Amount); err != nil {
			return fmt.Errorf("insert fee %d: %w", i, err)
		}
	}
	return nil
}

func (r *procedureRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	p, err := scanProcedure(r.conn(ctx).QueryRow(ctx,
		`SELECT `+procCols+` FROM procedure_definitions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *procedureRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Procedure, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM procedure_definitions WHERE (NOT $1 OR active)`, activeOnly,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+procCols+` FROM procedure_definitions
		WHERE (NOT $1 OR active) ORDER BY code LIMIT $2 OFFSET $3`, activeOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var items []*Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, p := range items {
		if err := r.loadChildren(ctx, p); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *procedureRepoPG) loadChildren(ctx context.Context, p *Procedure) error {
	rows, err := r.conn(ctx).Query(ctx, `SELECT item_id, quantity FROM procedure_components
		WHERE procedure_id = $1 ORDER BY position`, p.ID)
	if err != nil {
		return fmt.Errorf("load components: %w", err)
	}
	p.Components = nil
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.ItemID, &c.Quantity); err != nil {
			rows.Close()
			return err
		}
		p.Components = append(p.Components, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.conn(ctx).Query(ctx, `SELECT party, amount FROM procedure_fees
		WHERE procedure_id = $1 ORDER BY position`, p.ID)
	if err != nil {
		return fmt.Errorf("load fees: %w", err)
	}
	defer rows.Close()
	p.Fees = nil
	for rows.Next() {
		var f Fee
		if err := rows.Scan(&f.Party, &f.Amount); err != nil {
			return err
		}
		p.Fees = append(p.Fees, f)
	}
	return rows.Err()
}
