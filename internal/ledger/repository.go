package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the cashbook.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, direction, amount, money_source, branch, label, customer_name, customer_phone, supplier_name, related_id, kind, occurred_at, recorded_at, balance_before, balance_after, auto_generated, locked, created_by`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var relatedID, createdBy pgtype.Int8
	err := row.Scan(&e.ID, &e.Direction, &e.Amount, &e.Source, &e.Branch, &e.Label,
		&e.CustomerName, &e.CustomerPhone, &e.SupplierName, &relatedID, &e.Kind,
		&e.OccurredAt, &e.RecordedAt, &e.BalanceBefore, &e.BalanceAfter,
		&e.AutoGenerated, &e.Locked, &createdBy)
	if err != nil {
		return Entry{}, err
	}
	e.RelatedID = relatedID.Int64
	e.CreatedBy = createdBy.Int64
	return e, nil
}

func optionalID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}

// Insert persists a new entry and returns its id.
func (r *Repository) Insert(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO cash_entries (
			direction, amount, money_source, branch, label,
			customer_name, customer_phone, supplier_name, related_id, kind,
			occurred_at, recorded_at, balance_before, balance_after,
			auto_generated, locked, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id`,
		e.Direction, e.Amount, e.Source, e.Branch, e.Label,
		e.CustomerName, e.CustomerPhone, e.SupplierName, optionalID(e.RelatedID), e.Kind,
		e.OccurredAt, e.RecordedAt, e.BalanceBefore, e.BalanceAfter,
		e.AutoGenerated, e.Locked, optionalID(e.CreatedBy),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return id, nil
}

// Get loads one entry by id.
func (r *Repository) Get(ctx context.Context, id int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM cash_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("ledger: entry %d: %w", id, shared.ErrNotFound)
	}
	return e, err
}

// Update persists the mutable fields of an entry.
func (r *Repository) Update(ctx context.Context, e Entry) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cash_entries SET
			direction = $2, amount = $3, money_source = $4, branch = $5,
			label = $6, occurred_at = $7
		WHERE id = $1`,
		e.ID, e.Direction, e.Amount, e.Source, e.Branch, e.Label, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("ledger: update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: entry %d: %w", e.ID, shared.ErrNotFound)
	}
	return nil
}

// Delete removes an entry.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cash_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ledger: delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: entry %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// LatestByInsertion returns the most recently inserted entry for the pair.
func (r *Repository) LatestByInsertion(ctx context.Context, source MoneySource, branch string) (Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM cash_entries
		WHERE money_source = $1 AND branch = $2
		ORDER BY id DESC LIMIT 1`, source, branch)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNoEntries
	}
	return e, err
}

// ListPair returns every entry for the pair in business-date replay order.
func (r *Repository) ListPair(ctx context.Context, source MoneySource, branch string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM cash_entries
		WHERE money_source = $1 AND branch = $2
		ORDER BY occurred_at ASC, recorded_at ASC, id ASC`, source, branch)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pair: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateBalances rewrites the stored running balance of one entry.
func (r *Repository) UpdateBalances(ctx context.Context, id int64, before, after int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE cash_entries SET balance_before = $2, balance_after = $3 WHERE id = $1`,
		id, before, after)
	if err != nil {
		return fmt.Errorf("ledger: update balances: %w", err)
	}
	return nil
}

// List returns entries for display ordered by business date descending.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM cash_entries
		WHERE ($1 = '' OR money_source = $1)
		  AND ($2 = '' OR branch = $2)
		  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		  AND ($4::timestamptz IS NULL OR occurred_at <= $4)
		ORDER BY occurred_at DESC, recorded_at DESC
		LIMIT $5`,
		string(filter.Source), filter.Branch,
		pgtype.Timestamptz{Time: filter.From, Valid: !filter.From.IsZero()},
		pgtype.Timestamptz{Time: filter.To, Valid: !filter.To.IsZero()},
		limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListPairs returns every distinct (money source, branch) pair in the
// cashbook, used by the integrity scan job.
func (r *Repository) ListPairs(ctx context.Context) ([]Pair, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT money_source, branch FROM cash_entries`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pairs: %w", err)
	}
	defer rows.Close()
	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Source, &p.Branch); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
