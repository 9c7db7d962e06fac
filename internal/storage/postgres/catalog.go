package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/catalog"
	"github.com/lib/pq"
)

const specColumns = `id, product_id, version, front_file_url, back_file_url, dpi, colors, price_cents,
    is_published, created_at`

func scanSpec(row rowScanner) (*catalog.PrintSpec, error) {
	var sp catalog.PrintSpec
	err := row.Scan(&sp.ID, &sp.ProductID, &sp.Version, &sp.FrontFileURL, &sp.BackFileURL, &sp.DPI,
		pq.Array(&sp.Colors), &sp.PriceCents, &sp.IsPublished, &sp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *PostgresStorage) UpsertProduct(ctx context.Context, p *catalog.Product) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO products (id, name, slug, price_cents)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE
        SET name = EXCLUDED.name, slug = EXCLUDED.slug, price_cents = EXCLUDED.price_cents`,
		p.ID, p.Name, p.Slug, p.PriceCents)
	return err
}

func (s *PostgresStorage) FindProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, price_cents, current_spec_id FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Slug, &p.PriceCents, &p.CurrentSpecID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStorage) FindSpec(ctx context.Context, id string) (*catalog.PrintSpec, error) {
	sp, err := scanSpec(s.db.QueryRowContext(ctx, `SELECT `+specColumns+` FROM print_specs WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	byID, err := s.variantsFor(ctx, []string{sp.ID})
	if err != nil {
		return nil, err
	}
	sp.Variants = byID[sp.ID]
	return sp, nil
}

// FindSpecs loads the given specs with their variants. Unknown ids are skipped.
func (s *PostgresStorage) FindSpecs(ctx context.Context, ids []string) ([]catalog.PrintSpec, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.listSpecs(ctx, `SELECT `+specColumns+` FROM print_specs WHERE id = ANY($1)`, pq.Array(ids))
}

func (s *PostgresStorage) ListSpecs(ctx context.Context, productID string) ([]catalog.PrintSpec, error) {
	return s.listSpecs(ctx,
		`SELECT `+specColumns+` FROM print_specs WHERE product_id = $1 ORDER BY version DESC`, productID)
}

func (s *PostgresStorage) listSpecs(ctx context.Context, q string, args ...any) ([]catalog.PrintSpec, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []catalog.PrintSpec
	for rows.Next() {
		sp, err := scanSpec(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *sp)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	byID, err := s.variantsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Variants = byID[out[i].ID]
	}
	return out, nil
}

func (s *PostgresStorage) variantsFor(ctx context.Context, specIDs []string) (map[string][]catalog.Variant, error) {
	out := make(map[string][]catalog.Variant, len(specIDs))
	if len(specIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, spec_id, size, color, product_uid
        FROM print_variants
        WHERE spec_id = ANY($1)
        ORDER BY size, color`, pq.Array(specIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v catalog.Variant
		if err := rows.Scan(&v.ID, &v.SpecID, &v.Size, &v.Color, &v.ProductUID); err != nil {
			return nil, err
		}
		out[v.SpecID] = append(out[v.SpecID], v)
	}
	return out, rows.Err()
}

// CreateSpec inserts a draft with the next version number for the product.
func (s *PostgresStorage) CreateSpec(ctx context.Context, sp *catalog.PrintSpec) error {
	const q = `
        INSERT INTO print_specs (id, product_id, version, colors, is_published, created_at)
        SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, FALSE, $4
        FROM print_specs WHERE product_id = $2
        RETURNING version`
	return s.db.QueryRowContext(ctx, q, sp.ID, sp.ProductID, pq.Array(sp.Colors), sp.CreatedAt).Scan(&sp.Version)
}

// UpdateSpec writes the editable fields of a draft spec.
func (s *PostgresStorage) UpdateSpec(ctx context.Context, sp *catalog.PrintSpec) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE print_specs
        SET front_file_url = $1, back_file_url = $2, dpi = $3, colors = $4, price_cents = $5
        WHERE id = $6 AND is_published = FALSE`,
		sp.FrontFileURL, sp.BackFileURL, sp.DPI, pq.Array(sp.Colors), sp.PriceCents, sp.ID)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

// ReplaceVariants swaps the whole variant set of a spec in one transaction.
func (s *PostgresStorage) ReplaceVariants(ctx context.Context, specID string, variants []catalog.Variant) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM print_variants WHERE spec_id = $1`, specID); err != nil {
			return fmt.Errorf("delete variants: %w", err)
		}
		for _, v := range variants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO print_variants (id, spec_id, size, color, product_uid) VALUES ($1, $2, $3, $4, $5)`,
				v.ID, specID, v.Size, v.Color, v.ProductUID,
			); err != nil {
				return fmt.Errorf("insert variant %s/%s: %w", v.Size, v.Color, err)
			}
		}
		return nil
	})
}

// PublishSpec locks the spec and makes it the product's current spec.
func (s *PostgresStorage) PublishSpec(ctx context.Context, specID, productID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE print_specs SET is_published = TRUE WHERE id = $1`, specID); err != nil {
			return fmt.Errorf("publish spec: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE products SET current_spec_id = $1 WHERE id = $2`, specID, productID)
		if err != nil {
			return fmt.Errorf("set current spec: %w", err)
		}
		ok, err := affected(res)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
		return nil
	})
}
