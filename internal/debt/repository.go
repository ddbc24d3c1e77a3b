package debt

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-retail/atlas-pos/internal/platform/db"
)

// Repository reads debt records straight off the sale and purchase line
// tables. Customer debt comes from sale_lines (returned lines excluded:
// their refund already settled whatever was paid), supplier debt from
// purchase_lines.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const customerRecordQuery = `
	SELECT id, product_ref, quantity, unit_price, amount_paid, sold_at,
	       branch, customer_name, customer_phone, party_key
	FROM sale_lines
	WHERE NOT returned`

const supplierRecordQuery = `
	SELECT id, product_ref, quantity, unit_cost, amount_paid, imported_at,
	       branch, supplier_name, supplier_phone, party_key
	FROM purchase_lines
	WHERE TRUE`

func baseQuery(kind Kind) string {
	if kind == KindSupplier {
		return supplierRecordQuery
	}
	return customerRecordQuery
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.ProductRef, &rec.Quantity, &rec.UnitPrice,
		&rec.Paid, &rec.Date, &rec.Branch, &rec.Name, &rec.Phone, &rec.PartyKey)
	return rec, err
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
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

// ListRecords returns one identity's records ordered oldest-first, the order
// payments are allocated in.
func (r *Repository) ListRecords(ctx context.Context, kind Kind, partyKey string) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		baseQuery(kind)+` AND party_key = $1 ORDER BY 6 ASC, id ASC`, partyKey)
	if err != nil {
		return nil, fmt.Errorf("debt: list records: %w", err)
	}
	return collectRecords(rows)
}

// ListAllRecords returns records matching the filter, oldest-first so the
// grouping layer sees them in allocation order.
func (r *Repository) ListAllRecords(ctx context.Context, kind Kind, filter ListFilter) ([]Record, error) {
	nameColumn := "customer_name"
	if kind == KindSupplier {
		nameColumn = "supplier_name"
	}
	rows, err := r.pool.Query(ctx,
		baseQuery(kind)+`
		  AND ($1 = '' OR branch = $1)
		  AND ($2 = '' OR `+nameColumn+` ILIKE '%' || $2 || '%')
		ORDER BY 6 ASC, id ASC`,
		filter.Branch, filter.Search)
	if err != nil {
		return nil, fmt.Errorf("debt: list all records: %w", err)
	}
	return collectRecords(rows)
}

// UpdatePaid rewrites the paid amount on one underlying line.
func (r *Repository) UpdatePaid(ctx context.Context, kind Kind, recordID int64, paid int64) error {
	table := "sale_lines"
	if kind == KindSupplier {
		table = "purchase_lines"
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE `+table+` SET amount_paid = $2 WHERE id = $1`, recordID, paid)
	if err != nil {
		return fmt.Errorf("debt: update paid: %w", err)
	}
	return nil
}

// UpdateIdentity rewrites identity fields and the party key across an
// identity's lines, merging it into any identity already holding the new key.
// Paid rewrites and the rename land in one transaction so a half-renamed
// identity is never observable.
func (r *Repository) UpdateIdentity(ctx context.Context, kind Kind, up IdentityUpdate) error {
	table := "sale_lines"
	rename := `UPDATE sale_lines SET customer_name = $2, customer_phone = $3, party_key = $4 WHERE party_key = $1`
	if kind == KindSupplier {
		table = "purchase_lines"
		rename = `UPDATE purchase_lines SET supplier_name = $2, supplier_phone = $3, party_key = $4 WHERE party_key = $1`
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for id, paid := range up.PaidByID {
			if _, err := tx.Exec(ctx, `UPDATE `+table+` SET amount_paid = $2 WHERE id = $1`, id, paid); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, rename, up.OldKey, up.Name, up.Phone, up.NewKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("debt: update identity: %w", err)
	}
	return nil
}
