package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/order"
)

const orderColumns = `id, status, currency, subtotal_cents, shipping_cents, tax_cents, total_cents,
    email, shipping_name, shipping_line1, shipping_line2, shipping_city, shipping_state,
    shipping_post_code, shipping_country, shipping_phone, payment_ref, partner_order_id,
    partner_status, fulfillment_status, tracking_url, tracking_number, carrier, created_at,
    submitted_at, shipped_at, confirmation_sent_at, last_fulfill_check_at, last_fulfill_error`

const itemColumns = `id, order_id, product_id, product_name, product_slug, size, color, qty,
    unit_price_cents, line_total_cents, spec_id, variant_product_uid`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var o order.Order
	a := &o.Shipping
	err := row.Scan(
		&o.ID, &o.Status, &o.Currency, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
		&o.Email, &a.Name, &a.Line1, &a.Line2, &a.City, &a.State,
		&a.PostCode, &a.Country, &a.Phone, &o.PaymentRef, &o.PartnerOrderID,
		&o.PartnerStatus, &o.FulfillmentStatus, &o.TrackingURL, &o.TrackingNumber, &o.Carrier, &o.CreatedAt,
		&o.SubmittedAt, &o.ShippedAt, &o.ConfirmationSentAt, &o.LastFulfillCheckAt, &o.LastFulfillError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStorage) CreateOrder(ctx context.Context, o *order.Order) error {
	const qOrder = `
        INSERT INTO orders (id, status, currency, subtotal_cents, shipping_cents, tax_cents, total_cents,
            email, shipping_name, shipping_line1, shipping_line2, shipping_city, shipping_state,
            shipping_post_code, shipping_country, shipping_phone, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	const qItem = `
        INSERT INTO order_items (id, order_id, position, product_id, product_name, product_slug, size, color,
            qty, unit_price_cents, line_total_cents, spec_id, variant_product_uid)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		a := o.Shipping
		if _, err := tx.ExecContext(ctx, qOrder,
			o.ID, o.Status, o.Currency, o.SubtotalCents, o.ShippingCents, o.TaxCents, o.TotalCents,
			o.Email, a.Name, a.Line1, a.Line2, a.City, a.State, a.PostCode, a.Country, a.Phone, o.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i, it := range o.Items {
			if _, err := tx.ExecContext(ctx, qItem,
				it.ID, o.ID, i, it.ProductID, it.ProductName, it.ProductSlug, it.Size, it.Color,
				it.Qty, it.UnitPriceCents, it.LineTotalCents, it.SpecID, it.VariantProductUID,
			); err != nil {
				return fmt.Errorf("insert order item %d: %w", i, err)
			}
		}
		return nil
	})
}

// DeleteDraftOrder removes an order that never got past DRAFT. Items cascade.
func (s *PostgresStorage) DeleteDraftOrder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1 AND status = 'DRAFT'`, id)
	return err
}

func (s *PostgresStorage) SetPaymentRef(ctx context.Context, id, ref string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET payment_ref = $1 WHERE id = $2`, ref, id)
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

func (s *PostgresStorage) FindOrderByID(ctx context.Context, id string) (*order.Order, error) {
	return s.findOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (s *PostgresStorage) FindOrderByPaymentRef(ctx context.Context, ref string) (*order.Order, error) {
	return s.findOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_ref = $1`, ref)
}

func (s *PostgresStorage) FindOrderByPartnerID(ctx context.Context, partnerID string) (*order.Order, error) {
	return s.findOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE partner_order_id = $1`, partnerID)
}

func (s *PostgresStorage) findOrder(ctx context.Context, q string, arg any) (*order.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, arg))
	if err != nil {
		return nil, err
	}
	if o.Items, err = s.listItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresStorage) listItems(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Item
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductSlug, &it.Size, &it.Color,
			&it.Qty, &it.UnitPriceCents, &it.LineTotalCents, &it.SpecID, &it.VariantProductUID,
		); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) listOrders(ctx context.Context, q string, args ...any) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ListOrders pages newest first. cursor is the id of the last order of the previous page.
func (s *PostgresStorage) ListOrders(ctx context.Context, limit int, cursor string) ([]order.Order, error) {
	if cursor == "" {
		return s.listOrders(ctx, `
            SELECT `+orderColumns+` FROM orders
            ORDER BY created_at DESC, id DESC
            LIMIT $1`, limit)
	}
	return s.listOrders(ctx, `
        SELECT `+orderColumns+` FROM orders
        WHERE (created_at, id) < (SELECT created_at, id FROM orders WHERE id = $2)
        ORDER BY created_at DESC, id DESC
        LIMIT $1`, limit, cursor)
}

func (s *PostgresStorage) ListOrdersForPolling(ctx context.Context, since time.Time, limit int) ([]order.Order, error) {
	return s.listOrders(ctx, `
        SELECT `+orderColumns+` FROM orders
        WHERE partner_order_id IS NOT NULL
          AND shipped_at IS NULL
          AND status <> 'CANCELLED'
          AND created_at >= $1
        ORDER BY created_at DESC
        LIMIT $2`, since, limit)
}

// UpdateStatusIf moves the order to `to` only while it is still in `from`.
func (s *PostgresStorage) UpdateStatusIf(ctx context.Context, id string, from, to order.Status) (bool, error) {
	if !order.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ClaimConfirmation sets the confirmation marker if it is unset.
// Exactly one caller observes true.
func (s *PostgresStorage) ClaimConfirmation(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET confirmation_sent_at = $1 WHERE id = $2 AND confirmation_sent_at IS NULL`, at, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *PostgresStorage) ReleaseConfirmation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE orders SET confirmation_sent_at = NULL WHERE id = $1`, id)
	return err
}

func (s *PostgresStorage) MarkSubmitted(ctx context.Context, id, partnerID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE orders
        SET partner_order_id = $1,
            status = 'SUBMITTED',
            fulfillment_status = 'SUBMITTED',
            submitted_at = $2,
            last_fulfill_error = NULL
        WHERE id = $3 AND status = 'PAID' AND partner_order_id IS NULL`,
		partnerID, at, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *PostgresStorage) RecordFulfillError(ctx context.Context, id, msg string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE orders
        SET last_fulfill_error = $1,
            last_fulfill_check_at = $2
        WHERE id = $3`,
		msg, at, id)
	return err
}

func (s *PostgresStorage) ApplyPartnerUpdate(ctx context.Context, id string, u order.PartnerUpdate) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE orders
        SET partner_status = $1,
            fulfillment_status = $2,
            tracking_url = $3,
            tracking_number = $4,
            carrier = $5,
            last_fulfill_check_at = $6,
            last_fulfill_error = NULL
        WHERE id = $7`,
		nullIfEmpty(u.RawStatus), u.Status, u.Tracking.URL, u.Tracking.Number, u.Tracking.Carrier, u.CheckedAt, id)
	return err
}

// MarkShipped records the first shipment and lifts SUBMITTED to FULFILLED.
// It reports false when the order was already marked shipped.
func (s *PostgresStorage) MarkShipped(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE orders
        SET shipped_at = $1,
            status = CASE WHEN status = 'SUBMITTED' THEN 'FULFILLED' ELSE status END
        WHERE id = $2 AND shipped_at IS NULL`,
		at, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
