package returns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// Repository persists return records in PostgreSQL. A partial unique index
// on (kind, original_id) over non-cancelled rows enforces at most one
// active return per original line.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, kind, original_id, product_ref, quantity, refund_amount, allocation, reason, branch, status, created_by, created_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var allocation []byte
	err := row.Scan(&rec.ID, &rec.Kind, &rec.OriginalID, &rec.ProductRef, &rec.Quantity,
		&rec.RefundAmount, &allocation, &rec.Reason, &rec.Branch, &rec.Status,
		&rec.CreatedBy, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	if len(allocation) > 0 {
		if err := json.Unmarshal(allocation, &rec.Allocation); err != nil {
			return Record{}, fmt.Errorf("returns: decode allocation: %w", err)
		}
	}
	return rec, nil
}

// Insert persists a new return record. A second active return against the
// same original line violates the partial unique index and is reported as
// an InvalidState.
func (r *Repository) Insert(ctx context.Context, rec Record) (int64, error) {
	allocation, err := json.Marshal(rec.Allocation)
	if err != nil {
		return 0, fmt.Errorf("returns: encode allocation: %w", err)
	}
	var id int64
	err = r.pool.QueryRow(ctx, `
		INSERT INTO return_records (
			kind, original_id, product_ref, quantity, refund_amount,
			allocation, reason, branch, status, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		rec.Kind, rec.OriginalID, rec.ProductRef, rec.Quantity, rec.RefundAmount,
		allocation, rec.Reason, rec.Branch, rec.Status, rec.CreatedBy,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("returns: %s line %d already has an active return: %w",
				rec.Kind, rec.OriginalID, shared.ErrInvalidState)
		}
		return 0, fmt.Errorf("returns: insert record: %w", err)
	}
	return id, nil
}

// Get loads one return record.
func (r *Repository) Get(ctx context.Context, id int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM return_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("returns: record %d: %w", id, shared.ErrNotFound)
	}
	return rec, err
}

// Cancel flags a record cancelled.
func (r *Repository) Cancel(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE return_records SET status = $2 WHERE id = $1 AND status <> $2`,
		id, StatusCancelled)
	if err != nil {
		return fmt.Errorf("returns: cancel record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("returns: record %d not cancellable: %w", id, shared.ErrInvalidState)
	}
	return nil
}

// List returns return records for display, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM return_records
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR branch = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`,
		string(filter.Kind), filter.Branch, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("returns: list: %w", err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
