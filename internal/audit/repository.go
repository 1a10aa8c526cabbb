package audit

import (
	"context"
	"database/sql"
	"sync"
)

// Schema creates the insert-only audit table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id            UUID PRIMARY KEY,
	type          TEXT NOT NULL,
	actor_user_id TEXT NOT NULL,
	actor_role    TEXT NOT NULL DEFAULT '',
	ip_address    TEXT NOT NULL DEFAULT '',
	call_id       TEXT NOT NULL DEFAULT '',
	shop_id       TEXT NOT NULL DEFAULT '',
	subject_id    TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
)`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, call_id, shop_id, subject_id, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.CallID, e.ShopID, e.SubjectID, e.Message, e.CreatedAt)
	return err
}

// MemoryRepo keeps events in memory. Not for production use.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
