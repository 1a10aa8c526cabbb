package invoice

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"marketcall/pkg/utils"
)

// Schema creates the invoice tables. Images live apart so listing invoices stays cheap.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS invoices (
	id         UUID PRIMARY KEY,
	call_id    TEXT NOT NULL DEFAULT '',
	seller_id  TEXT NOT NULL,
	buyer_id   TEXT NOT NULL,
	shop_id    TEXT NOT NULL,
	shop_name  TEXT NOT NULL DEFAULT '',
	item_name  TEXT NOT NULL,
	price      DOUBLE PRECISION NOT NULL CHECK (price >= 0),
	quantity   INTEGER NOT NULL CHECK (quantity >= 1),
	image_ref  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS invoice_images (
	invoice_id   UUID PRIMARY KEY REFERENCES invoices(id) ON DELETE CASCADE,
	content_type TEXT NOT NULL,
	data         BYTEA NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS invoices_expires_at_idx ON invoices (expires_at)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, it Item, img *Image) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO invoices (id, call_id, seller_id, buyer_id, shop_id, shop_name, item_name, price, quantity, image_ref, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
		if _, err := tx.ExecContext(ctx, q,
			it.InvoiceID, it.CallID, it.SellerID, it.BuyerID, it.ShopID, it.ShopName,
			it.ItemName, it.Price, it.Quantity, it.ImageRef, it.CreatedAt, it.ExpiresAt,
		); err != nil {
			return err
		}
		if img == nil {
			return nil
		}
		const qi = `INSERT INTO invoice_images (invoice_id, content_type, data) VALUES ($1, $2, $3)`
		_, err := tx.ExecContext(ctx, qi, it.InvoiceID, img.ContentType, img.Bytes)
		return err
	})
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Item, error) {
	const q = `
SELECT id, call_id, seller_id, buyer_id, shop_id, shop_name, item_name, price, quantity, image_ref, created_at, expires_at
FROM invoices
WHERE id = $1
`
	var it Item
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&it.InvoiceID,
		&it.CallID,
		&it.SellerID,
		&it.BuyerID,
		&it.ShopID,
		&it.ShopName,
		&it.ItemName,
		&it.Price,
		&it.Quantity,
		&it.ImageRef,
		&it.CreatedAt,
		&it.ExpiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return it, nil
}

func (r *PostgresRepo) Image(ctx context.Context, id string) (Image, error) {
	const q = `SELECT content_type, data FROM invoice_images WHERE invoice_id = $1`
	var img Image
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&img.ContentType, &img.Bytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Image{}, ErrNoImage
		}
		return Image{}, err
	}
	return img, nil
}

// PurgeExpired deletes invoices that expired before cutoff. Images cascade.
func (r *PostgresRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM invoices WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MemoryRepo is an in-memory repository for tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	items  map[string]Item
	images map[string]Image
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[string]Item), images: make(map[string]Image)}
}

func (r *MemoryRepo) Create(_ context.Context, it Item, img *Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[it.InvoiceID]; ok {
		return errors.New("invoice: duplicate id")
	}
	r.items[it.InvoiceID] = it
	if img != nil {
		r.images[it.InvoiceID] = *img
	}
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}

func (r *MemoryRepo) Image(_ context.Context, id string) (Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[id]
	if !ok {
		return Image{}, ErrNoImage
	}
	return img, nil
}

func (r *MemoryRepo) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, it := range r.items {
		if it.ExpiresAt.Before(cutoff) {
			delete(r.items, id)
			delete(r.images, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
