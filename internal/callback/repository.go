package callback

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the callback_requests table. The unique window per shop is
// what makes the server authoritative on conflicts.
const Schema = `
CREATE TABLE IF NOT EXISTS callback_requests (
	id           UUID PRIMARY KEY,
	buyer_id     TEXT NOT NULL,
	shop_id      TEXT NOT NULL,
	scheduled_at TIMESTAMPTZ NOT NULL,
	origin       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (shop_id, scheduled_at)
)`

const pgUniqueViolation = "23505"

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO callback_requests (id, buyer_id, shop_id, scheduled_at, origin, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := r.db.ExecContext(ctx, q, rec.ID, rec.BuyerID, rec.ShopID, rec.ScheduledAt, string(rec.Origin), rec.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return err
}

func (r *PostgresRepo) ListForShop(ctx context.Context, shopID string, from time.Time) ([]Record, error) {
	const q = `
SELECT id, buyer_id, shop_id, scheduled_at, origin, created_at
FROM callback_requests
WHERE shop_id = $1 AND scheduled_at >= $2
ORDER BY scheduled_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, shopID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.BuyerID, &rec.ShopID, &rec.ScheduledAt, &rec.Origin, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MemoryRepo enforces the same uniqueness as the Postgres table. Useful for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Insert(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.records {
		if x.ShopID == rec.ShopID && x.ScheduledAt.Equal(rec.ScheduledAt) {
			return ErrConflict
		}
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) ListForShop(_ context.Context, shopID string, from time.Time) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, x := range r.records {
		if x.ShopID == shopID && !x.ScheduledAt.Before(from) {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}
