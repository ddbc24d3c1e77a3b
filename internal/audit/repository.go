package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the audit_logs table. Writes go through the shared
// fire-and-forget logger; this side only serves the timeline.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Timeline returns matching entries newest-first plus the total match count
// for paging.
func (r *Repository) Timeline(ctx context.Context, filter Filter) ([]Entry, int64, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	from := filter.From
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	to := filter.To
	if to.IsZero() {
		to = time.Now().Add(24 * time.Hour)
	}

	const where = `
		WHERE ($1 = 0 OR actor_id = $1)
		  AND ($2 = '' OR action ILIKE $2 || '%')
		  AND ($3 = '' OR entity = $3)
		  AND ($4 = '' OR branch = $4)
		  AND occurred_at BETWEEN $5 AND $6`

	var total int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs`+where,
		filter.ActorID, filter.Action, filter.Entity, filter.Branch, from, to).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: count timeline: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, action, entity, entity_id, branch, meta, occurred_at
		FROM audit_logs`+where+`
		ORDER BY occurred_at DESC, id DESC
		LIMIT $7 OFFSET $8`,
		filter.ActorID, filter.Action, filter.Entity, filter.Branch, from, to,
		limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: query timeline: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID,
			&e.Branch, &meta, &e.At); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, 0, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
