package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/antonminaichev/tstore/internal/storage"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ storage.Storage = (*PostgresStorage)(nil)

type PostgresStorage struct {
	db *sql.DB
}

// New wraps an already opened database handle.
func New(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := New(db)

	// проверяем, что БД жива
	if err := s.db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	// создаём таблицы
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS admins (
            id SERIAL PRIMARY KEY,
            email TEXT UNIQUE NOT NULL,
            password_hash TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS products (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            slug TEXT UNIQUE NOT NULL,
            price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
            current_spec_id TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS print_specs (
            id TEXT PRIMARY KEY,
            product_id TEXT NOT NULL REFERENCES products(id),
            version INT NOT NULL,
            front_file_url TEXT,
            back_file_url TEXT,
            dpi INT NOT NULL DEFAULT 300,
            colors TEXT[] NOT NULL DEFAULT '{}',
            price_cents BIGINT CHECK (price_cents >= 0),
            is_published BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE (product_id, version)
        )`,
		`CREATE TABLE IF NOT EXISTS print_variants (
            id TEXT PRIMARY KEY,
            spec_id TEXT NOT NULL REFERENCES print_specs(id) ON DELETE CASCADE,
            size TEXT NOT NULL,
            color TEXT NOT NULL,
            product_uid TEXT NOT NULL,
            UNIQUE (spec_id, size, color)
        )`,
		`CREATE TABLE IF NOT EXISTS orders (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            currency CHAR(3) NOT NULL,
            subtotal_cents BIGINT NOT NULL CHECK (subtotal_cents >= 0),
            shipping_cents BIGINT NOT NULL CHECK (shipping_cents >= 0),
            tax_cents BIGINT NOT NULL CHECK (tax_cents >= 0),
            total_cents BIGINT NOT NULL CHECK (total_cents = subtotal_cents + shipping_cents + tax_cents),
            email TEXT NOT NULL,
            shipping_name TEXT NOT NULL,
            shipping_line1 TEXT NOT NULL,
            shipping_line2 TEXT,
            shipping_city TEXT NOT NULL,
            shipping_state TEXT,
            shipping_post_code TEXT NOT NULL,
            shipping_country CHAR(2) NOT NULL,
            shipping_phone TEXT NOT NULL,
            payment_ref TEXT UNIQUE,
            partner_order_id TEXT UNIQUE,
            partner_status TEXT,
            fulfillment_status TEXT,
            tracking_url TEXT,
            tracking_number TEXT,
            carrier TEXT,
            created_at TIMESTAMPTZ NOT NULL,
            submitted_at TIMESTAMPTZ,
            shipped_at TIMESTAMPTZ,
            confirmation_sent_at TIMESTAMPTZ,
            last_fulfill_check_at TIMESTAMPTZ,
            last_fulfill_error TEXT
        )`,
		`CREATE INDEX IF NOT EXISTS orders_polling_idx ON orders (created_at DESC)
            WHERE partner_order_id IS NOT NULL AND shipped_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS order_items (
            id TEXT PRIMARY KEY,
            order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
            position INT NOT NULL,
            product_id TEXT NOT NULL,
            product_name TEXT NOT NULL,
            product_slug TEXT NOT NULL,
            size TEXT NOT NULL,
            color TEXT NOT NULL,
            qty INT NOT NULL CHECK (qty > 0),
            unit_price_cents BIGINT NOT NULL CHECK (unit_price_cents >= 0),
            line_total_cents BIGINT NOT NULL,
            spec_id TEXT NOT NULL REFERENCES print_specs(id),
            variant_product_uid TEXT NOT NULL
        )`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction and commits when fn returns nil.
func (s *PostgresStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// affected reports whether the statement changed at least one row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
