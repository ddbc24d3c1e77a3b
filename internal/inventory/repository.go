package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// Repository persists purchase lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const lineColumns = `id, product_ref, serialized, quantity, unit_cost, amount_paid, imported_at, supplier_name, supplier_phone, party_key, branch, status, sale_ref, created_by, created_at`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	var saleRef, createdBy pgtype.Int8
	err := row.Scan(&l.ID, &l.ProductRef, &l.Serialized, &l.Quantity, &l.UnitCost,
		&l.AmountPaid, &l.ImportedAt, &l.SupplierName, &l.SupplierPhone, &l.PartyKey,
		&l.Branch, &l.Status, &saleRef, &createdBy, &l.CreatedAt)
	if err != nil {
		return Line{}, err
	}
	l.SaleRef = saleRef.Int64
	l.CreatedBy = createdBy.Int64
	return l, nil
}

// Insert persists a new purchase line.
func (r *Repository) Insert(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO purchase_lines (
			product_ref, serialized, quantity, unit_cost, amount_paid,
			imported_at, supplier_name, supplier_phone, party_key, branch,
			status, sale_ref, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		l.ProductRef, l.Serialized, l.Quantity, l.UnitCost, l.AmountPaid,
		l.ImportedAt, l.SupplierName, l.SupplierPhone, l.PartyKey, l.Branch,
		l.Status, pgtype.Int8{Int64: l.SaleRef, Valid: l.SaleRef != 0},
		pgtype.Int8{Int64: l.CreatedBy, Valid: l.CreatedBy != 0},
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inventory: insert line: %w", err)
	}
	return id, nil
}

// Get loads one purchase line.
func (r *Repository) Get(ctx context.Context, id int64) (Line, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM purchase_lines WHERE id = $1`, id)
	l, err := scanLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, fmt.Errorf("inventory: line %d: %w", id, shared.ErrNotFound)
	}
	return l, err
}

// FindAvailable returns the oldest sellable line for the product at branch.
func (r *Repository) FindAvailable(ctx context.Context, productRef, branch string) (Line, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+lineColumns+` FROM purchase_lines
		WHERE product_ref = $1 AND branch = $2 AND status = 'in_stock' AND quantity > 0
		ORDER BY imported_at ASC, id ASC LIMIT 1`, productRef, branch)
	l, err := scanLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, fmt.Errorf("inventory: %s not in stock at %s: %w", productRef, branch, shared.ErrNotFound)
	}
	return l, err
}

// FindSoldSerialized returns the sold serialized line for the product at branch.
func (r *Repository) FindSoldSerialized(ctx context.Context, productRef, branch string) (Line, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+lineColumns+` FROM purchase_lines
		WHERE product_ref = $1 AND branch = $2 AND serialized AND status = 'sold'
		ORDER BY id DESC LIMIT 1`, productRef, branch)
	l, err := scanLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, fmt.Errorf("inventory: no sold unit %s at %s: %w", productRef, branch, shared.ErrNotFound)
	}
	return l, err
}

// UpdateStatus flips a line's status and sale back-reference.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status, saleRef int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_lines SET status = $2, sale_ref = $3 WHERE id = $1`,
		id, status, pgtype.Int8{Int64: saleRef, Valid: saleRef != 0})
	if err != nil {
		return fmt.Errorf("inventory: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: line %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// AdjustQuantity applies a quantity delta to a fungible line.
func (r *Repository) AdjustQuantity(ctx context.Context, id int64, delta int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_lines SET quantity = quantity + $2 WHERE id = $1 AND quantity + $2 >= 0`,
		id, delta)
	if err != nil {
		return fmt.Errorf("inventory: adjust quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: quantity change on line %d rejected: %w", id, shared.ErrInvalidState)
	}
	return nil
}

// Delete hard-deletes a purchase line.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM purchase_lines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("inventory: delete line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: line %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// List returns purchase lines for display, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Line, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+lineColumns+` FROM purchase_lines
		WHERE ($1 = '' OR branch = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR product_ref ILIKE '%' || $3 || '%' OR supplier_name ILIKE '%' || $3 || '%')
		ORDER BY imported_at DESC, id DESC
		LIMIT $4`,
		filter.Branch, string(filter.Status), filter.Search, limit)
	if err != nil {
		return nil, fmt.Errorf("inventory: list: %w", err)
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

// UpdatePaid rewrites the amount paid toward the supplier for one line.
func (r *Repository) UpdatePaid(ctx context.Context, id int64, paid int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE purchase_lines SET amount_paid = $2 WHERE id = $1`, id, paid)
	if err != nil {
		return fmt.Errorf("inventory: update paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: line %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
