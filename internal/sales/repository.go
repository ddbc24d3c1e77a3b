package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// Repository persists sale lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const lineColumns = `id, product_ref, serialized, quantity, unit_price, amount_paid, sold_at, customer_name, customer_phone, party_key, branch, batch_id, returned, return_ref, created_by, created_at`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	var returnRef, createdBy pgtype.Int8
	err := row.Scan(&l.ID, &l.ProductRef, &l.Serialized, &l.Quantity, &l.UnitPrice,
		&l.AmountPaid, &l.SoldAt, &l.CustomerName, &l.CustomerPhone, &l.PartyKey,
		&l.Branch, &l.BatchID, &l.Returned, &returnRef, &createdBy, &l.CreatedAt)
	if err != nil {
		return Line{}, err
	}
	l.ReturnID = returnRef.Int64
	l.CreatedBy = createdBy.Int64
	return l, nil
}

// Insert persists a new sale line.
func (r *Repository) Insert(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sale_lines (
			product_ref, serialized, quantity, unit_price, amount_paid,
			sold_at, customer_name, customer_phone, party_key, branch,
			batch_id, returned, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		l.ProductRef, l.Serialized, l.Quantity, l.UnitPrice, l.AmountPaid,
		l.SoldAt, l.CustomerName, l.CustomerPhone, l.PartyKey, l.Branch,
		l.BatchID, l.Returned, pgtype.Int8{Int64: l.CreatedBy, Valid: l.CreatedBy != 0},
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sales: insert line: %w", err)
	}
	return id, nil
}

// Get loads one sale line.
func (r *Repository) Get(ctx context.Context, id int64) (Line, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM sale_lines WHERE id = $1`, id)
	l, err := scanLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, fmt.Errorf("sales: line %d: %w", id, shared.ErrNotFound)
	}
	return l, err
}

// ListBatch returns all lines of one checkout batch in creation order.
func (r *Repository) ListBatch(ctx context.Context, batchID uuid.UUID) ([]Line, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+lineColumns+` FROM sale_lines WHERE batch_id = $1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("sales: list batch: %w", err)
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// UpdatePaid rewrites the paid amount on one line.
func (r *Repository) UpdatePaid(ctx context.Context, id int64, paid int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sale_lines SET amount_paid = $2 WHERE id = $1`, id, paid)
	if err != nil {
		return fmt.Errorf("sales: update paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sales: line %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// MarkReturned flags lines with a back-reference to the return record.
func (r *Repository) MarkReturned(ctx context.Context, ids []int64, returnID int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE sale_lines SET returned = TRUE, return_ref = $2 WHERE id = ANY($1)`,
		ids, returnID)
	if err != nil {
		return fmt.Errorf("sales: mark returned: %w", err)
	}
	return nil
}

// List returns sale lines for display, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Line, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	returned := pgtype.Bool{}
	if filter.Returned != nil {
		returned = pgtype.Bool{Bool: *filter.Returned, Valid: true}
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+lineColumns+` FROM sale_lines
		WHERE ($1 = '' OR branch = $1)
		  AND ($2 = '' OR product_ref ILIKE '%' || $2 || '%' OR customer_name ILIKE '%' || $2 || '%')
		  AND ($3::boolean IS NULL OR returned = $3)
		ORDER BY sold_at DESC, id DESC
		LIMIT $4`,
		filter.Branch, filter.Search, returned, limit)
	if err != nil {
		return nil, fmt.Errorf("sales: list: %w", err)
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
