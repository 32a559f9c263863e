package consultation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/platform/db"
)

// -- Consultation --

type consultationRepoPG struct{ pool *pgxpool.Pool }

func NewConsultationRepoPG(pool *pgxpool.Pool) ConsultationRepository {
	return &consultationRepoPG{pool: pool}
}

func (r *consultationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const consultationCols = `id, patient_id, staff_id, status, reason, fee, notes, total,
	started_at, finalized_at, cancelled_at, created_at, updated_at`

func (r *consultationRepoPG) scan(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.PatientID, &c.StaffID, &c.Status, &c.Reason, &c.Fee, &c.Notes, &c.Total,
		&c.StartedAt, &c.FinalizedAt, &c.CancelledAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultations (id, patient_id, staff_id, status, reason, fee, notes, total, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientID, c.StaffID, c.Status, c.Reason, c.Fee, c.Notes, c.Total, c.StartedAt,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *consultationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+consultationCols+` FROM consultations WHERE id = $1`, id))
}

func (r *consultationRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+consultationCols+` FROM consultations WHERE id = $1 FOR UPDATE`, id))
}

func (r *consultationRepoPG) Update(ctx context.Context, c *Consultation) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultations SET status = $2, reason = $3, fee = $4, notes = $5,
			started_at = $6, finalized_at = $7, cancelled_at = $8, updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.Status, c.Reason, c.Fee, c.Notes, c.StartedAt, c.FinalizedAt, c.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *consultationRepoPG) SetTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE consultations SET total = $2, updated_at = NOW() WHERE id = $1`, id, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *consultationRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Consultation, int, error) {
	const where = ` WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid OR patient_id = $1)
		AND ($2 = '' OR status = $2)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consultations`+where,
		f.PatientID, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+consultationCols+` FROM consultations`+where+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, f.PatientID, string(f.Status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Consultation
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// -- LineItem --

type lineItemRepoPG struct{ pool *pgxpool.Pool }

func NewLineItemRepoPG(pool *pgxpool.Pool) LineItemRepository {
	return &lineItemRepoPG{pool: pool}
}

func (r *lineItemRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const lineItemCols = `id, consultation_id, kind, ref_id, description, quantity, unit_cost, subtotal, note, created_at`

func (r *lineItemRepoPG) scan(row pgx.Row) (*LineItem, error) {
	var li LineItem
	err := row.Scan(&li.ID, &li.ConsultationID, &li.Kind, &li.RefID, &li.Description,
		&li.Quantity, &li.UnitCost, &li.Subtotal, &li.Note, &li.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLineItemNotFound
	}
	return &li, err
}

func (r *lineItemRepoPG) Create(ctx context.Context, li *LineItem) error {
	li.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO line_items (id, consultation_id, kind, ref_id, description, quantity, unit_cost, subtotal, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		li.ID, li.ConsultationID, li.Kind, li.RefID, li.Description, li.Quantity, li.UnitCost, li.Subtotal, li.Note,
	).Scan(&li.CreatedAt)
	if err != nil {
		return err
	}
	for i, c := range li.Consumptions {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO line_item_consumptions (line_item_id, position, item_id, quantity)
			VALUES ($1, $2, $3, $4)`, li.ID, i, c.ItemID, c.Quantity); err != nil {
			return fmt.Errorf("insert consumption %d: %w", i, err)
		}
	}
	return nil
}

func (r *lineItemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LineItem, error) {
	li, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+lineItemCols+` FROM line_items WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT item_id, quantity FROM line_item_consumptions
		WHERE line_item_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load consumptions: %w", err)
	}
	defer rows.Close()
	li.Consumptions = []catalog.Consumption{}
	for rows.Next() {
		var c catalog.Consumption
		if err := rows.Scan(&c.ItemID, &c.Quantity); err != nil {
			return nil, err
		}
		li.Consumptions = append(li.Consumptions, c)
	}
	return li, rows.Err()
}

func (r *lineItemRepoPG) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lineItemCols+` FROM line_items
		WHERE consultation_id = $1 ORDER BY created_at, id`, consultationID)
	if err != nil {
		return nil, err
	}
	var items []*LineItem
	byID := make(map[uuid.UUID]*LineItem)
	for rows.Next() {
		li, err := r.scan(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		li.Consumptions = []catalog.Consumption{}
		items = append(items, li)
		byID[li.ID] = li
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT c.line_item_id, c.item_id, c.quantity
		FROM line_item_consumptions c
		JOIN line_items l ON l.id = c.line_item_id
		WHERE l.consultation_id = $1
		ORDER BY c.line_item_id, c.position`, consultationID)
	if err != nil {
		return nil, fmt.Errorf("load consumptions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lineID uuid.UUID
		var c catalog.Consumption
		if err := rows.Scan(&lineID, &c.ItemID, &c.Quantity); err != nil {
			return nil, err
		}
		if li, ok := byID[lineID]; ok {
			li.Consumptions = append(li.Consumptions, c)
		}
	}
	return items, rows.Err()
}

// Delete removes the line; consumptions go with it through ON DELETE CASCADE.
func (r *lineItemRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM line_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineItemNotFound
	}
	return nil
}

// -- ExtraCharge --

type extraChargeRepoPG struct{ pool *pgxpool.Pool }

func NewExtraChargeRepoPG(pool *pgxpool.Pool) ExtraChargeRepository {
	return &extraChargeRepoPG{pool: pool}
}

func (r *extraChargeRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const extraChargeCols = `id, consultation_id, concept, amount, note, created_at`

func (r *extraChargeRepoPG) scan(row pgx.Row) (*ExtraCharge, error) {
	var ec ExtraCharge
	err := row.Scan(&ec.ID, &ec.ConsultationID, &ec.Concept, &ec.Amount, &ec.Note, &ec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExtraChargeNotFound
	}
	return &ec, err
}

func (r *extraChargeRepoPG) Create(ctx context.Context, ec *ExtraCharge) error {
	ec.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO extra_charges (id, consultation_id, concept, amount, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		ec.ID, ec.ConsultationID, ec.Concept, ec.Amount, ec.Note,
	).Scan(&ec.CreatedAt)
}

func (r *extraChargeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ExtraCharge, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+extraChargeCols+` FROM extra_charges WHERE id = $1`, id))
}

func (r *extraChargeRepoPG) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]*ExtraCharge, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+extraChargeCols+` FROM extra_charges
		WHERE consultation_id = $1 ORDER BY created_at, id`, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ExtraCharge
	for rows.Next() {
		ec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ec)
	}
	return items, rows.Err()
}

func (r *extraChargeRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM extra_charges WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExtraChargeNotFound
	}
	return nil
}
