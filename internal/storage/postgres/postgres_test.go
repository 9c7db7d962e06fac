package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/admin"
	"github.com/antonminaichev/tstore/internal/types/catalog"
	"github.com/antonminaichev/tstore/internal/types/order"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

var orderCols = []string{
	"id", "status", "currency", "subtotal_cents", "shipping_cents", "tax_cents", "total_cents",
	"email", "shipping_name", "shipping_line1", "shipping_line2", "shipping_city", "shipping_state",
	"shipping_post_code", "shipping_country", "shipping_phone", "payment_ref", "partner_order_id",
	"partner_status", "fulfillment_status", "tracking_url", "tracking_number", "carrier", "created_at",
	"submitted_at", "shipped_at", "confirmation_sent_at", "last_fulfill_check_at", "last_fulfill_error",
}

var itemCols = []string{
	"id", "order_id", "product_id", "product_name", "product_slug", "size", "color", "qty",
	"unit_price_cents", "line_total_cents", "spec_id", "variant_product_uid",
}

func orderRow(id string, status order.Status, created time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(orderCols).AddRow(
		id, string(status), "GBP", 5000, 0, 0, 5000,
		"jo@example.com", "Jo Bloggs", "1 High St", nil, "London", nil,
		"N1 1AA", "GB", "+44 20 7946 0000", "pi_1", nil,
		nil, nil, nil, nil, nil, created,
		nil, nil, nil, nil, nil,
	)
}

func sampleOrder() *order.Order {
	return &order.Order{
		ID:            "ord-1",
		Status:        order.StatusDraft,
		Currency:      "GBP",
		SubtotalCents: 7500,
		TotalCents:    7500,
		Email:         "jo@example.com",
		Shipping: order.Address{
			Name: "Jo Bloggs", Line1: "1 High St", City: "London",
			PostCode: "N1 1AA", Country: "GB", Phone: "+44 20 7946 0000",
		},
		CreatedAt: time.Now().UTC(),
		Items: []order.Item{
			{ID: "it-1", ProductID: "p1", ProductName: "Tee", ProductSlug: "tee", Size: "M", Color: "Black",
				Qty: 2, UnitPriceCents: 2500, LineTotalCents: 5000, SpecID: "s1", VariantProductUID: "uid_123"},
			{ID: "it-2", ProductID: "p2", ProductName: "Hoodie", ProductSlug: "hoodie", Size: "L", Color: "Grey",
				Qty: 1, UnitPriceCents: 2500, LineTotalCents: 2500, SpecID: "s9", VariantProductUID: "uid_9"},
		},
	}
}

func TestCreateOrderInsertsOrderAndItemsInOneTx(t *testing.T) {
	s, mock := newMock(t)
	o := sampleOrder()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WithArgs("ord-1", "DRAFT", "GBP", 7500, 0, 0, 7500, "jo@example.com", "Jo Bloggs", "1 High St",
			nil, "London", nil, "N1 1AA", "GB", "+44 20 7946 0000", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs("it-1", "ord-1", 0, "p1", "Tee", "tee", "M", "Black", 2, 2500, 5000, "s1", "uid_123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs("it-2", "ord-1", 1, "p2", "Hoodie", "hoodie", "L", "Grey", 1, 2500, 2500, "s9", "uid_9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.CreateOrder(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderRollsBackOnItemFailure(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	err := s.CreateOrder(context.Background(), sampleOrder())
	assert.ErrorContains(t, err, "insert order item 0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusIf(t *testing.T) {
	s, mock := newMock(t)
	q := regexp.QuoteMeta(`UPDATE orders SET status = $1 WHERE id = $2 AND status = $3`)

	mock.ExpectExec(q).WithArgs("PAID", "ord-1", "DRAFT").WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.UpdateStatusIf(context.Background(), "ord-1", order.StatusDraft, order.StatusPaid)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(q).WithArgs("PAID", "ord-1", "DRAFT").WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = s.UpdateStatusIf(context.Background(), "ord-1", order.StatusDraft, order.StatusPaid)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusIfRejectsBackwardMove(t *testing.T) {
	s, mock := newMock(t)

	_, err := s.UpdateStatusIf(context.Background(), "ord-1", order.StatusSubmitted, order.StatusPaid)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimConfirmationOnlyOnce(t *testing.T) {
	s, mock := newMock(t)
	q := "UPDATE orders SET confirmation_sent_at"

	mock.ExpectExec(q).WithArgs(sqlmock.AnyArg(), "ord-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(sqlmock.AnyArg(), "ord-1").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := s.ClaimConfirmation(context.Background(), "ord-1", time.Now())
	require.NoError(t, err)
	second, err := s.ClaimConfirmation(context.Background(), "ord-1", time.Now())
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSubmittedRequiresPaidWithoutPartnerID(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $3 AND status = 'PAID' AND partner_order_id IS NULL`)).
		WithArgs("gel-1", sqlmock.AnyArg(), "ord-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.MarkSubmitted(context.Background(), "ord-1", "gel-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkShippedReportsAlreadyShipped(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $2 AND shipped_at IS NULL`)).
		WithArgs(sqlmock.AnyArg(), "ord-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.MarkShipped(context.Background(), "ord-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPartnerUpdateClearsError(t *testing.T) {
	s, mock := newMock(t)
	url := "https://track.example/1"

	mock.ExpectExec("last_fulfill_error = NULL").
		WithArgs("in_production", "IN_PRODUCTION", url, nil, nil, sqlmock.AnyArg(), "ord-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ApplyPartnerUpdate(context.Background(), "ord-1", order.PartnerUpdate{
		RawStatus: "in_production",
		Status:    order.FulfillmentInProduction,
		Tracking:  order.Tracking{URL: &url},
		CheckedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrderByPaymentRefNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("FROM orders WHERE payment_ref").WithArgs("pi_x").WillReturnError(sql.ErrNoRows)

	_, err := s.FindOrderByPaymentRef(context.Background(), "pi_x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrderByPaymentRefLoadsItems(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM orders WHERE payment_ref").WithArgs("pi_1").
		WillReturnRows(orderRow("ord-1", order.StatusPaid, created))
	mock.ExpectQuery("FROM order_items WHERE order_id").WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow("it-1", "ord-1", "p1", "Tee", "tee", "M", "Black", 2, 2500, 5000, "s1", "uid_123"))

	o, err := s.FindOrderByPaymentRef(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Nil(t, o.Shipping.Line2)
	assert.Nil(t, o.PartnerOrderID)
	require.NotNil(t, o.PaymentRef)
	assert.Equal(t, "pi_1", *o.PaymentRef)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "uid_123", o.Items[0].VariantProductUID)
	assert.Equal(t, int64(2500), o.Items[0].UnitPriceCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersForPolling(t *testing.T) {
	s, mock := newMock(t)
	since := time.Now().Add(-7 * 24 * time.Hour)

	mock.ExpectQuery("partner_order_id IS NOT NULL").WithArgs(since, 50).
		WillReturnRows(orderRow("ord-1", order.StatusSubmitted, time.Now()))

	orders, err := s.ListOrdersForPolling(context.Background(), since, 50)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ord-1", orders[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceVariantsIsAtomic(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM print_variants").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO print_variants").WithArgs("v1", "s1", "M", "Black", "uid_123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO print_variants").WithArgs("v2", "s1", "M", "Black", "uid_dup").
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := s.ReplaceVariants(context.Background(), "s1", []catalog.Variant{
		{ID: "v1", Size: "M", Color: "Black", ProductUID: "uid_123"},
		{ID: "v2", Size: "M", Color: "Black", ProductUID: "uid_dup"},
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSpecsLoadsVariants(t *testing.T) {
	s, mock := newMock(t)
	specCols := []string{"id", "product_id", "version", "front_file_url", "back_file_url", "dpi", "colors",
		"price_cents", "is_published", "created_at"}

	mock.ExpectQuery("FROM print_specs WHERE id = ANY").WithArgs(pq.Array([]string{"s1", "s2"})).
		WillReturnRows(sqlmock.NewRows(specCols).
			AddRow("s1", "p1", 1, "https://cdn/front.png", nil, 300, "{black,white}", nil, true, time.Now()).
			AddRow("s2", "p1", 2, nil, "https://cdn/back.png", 300, "{}", 3000, true, time.Now()))
	mock.ExpectQuery("FROM print_variants").WithArgs(pq.Array([]string{"s1", "s2"})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "spec_id", "size", "color", "product_uid"}).
			AddRow("v1", "s1", "M", "Black", "uid_123").
			AddRow("v2", "s2", "M", "Black", "uid_456"))

	specs, err := s.FindSpecs(context.Background(), []string{"s1", "s2"})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, []string{"black", "white"}, specs[0].Colors)
	assert.Equal(t, "uid_123", specs[0].Variants[0].ProductUID)
	require.NotNil(t, specs[1].PriceCents)
	assert.Equal(t, int64(3000), *specs[1].PriceCents)
	assert.Equal(t, "uid_456", specs[1].Variants[0].ProductUID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishSpecSetsCurrentSpec(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE print_specs SET is_published").WithArgs("s2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products SET current_spec_id").WithArgs("s2", "p1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.PublishSpec(context.Background(), "s2", "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersPagesAfterCursor(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC")).WithArgs(21).
		WillReturnRows(orderRow("ord-2", order.StatusPaid, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("(created_at, id) < (SELECT created_at, id FROM orders WHERE id = $2)")).
		WithArgs(21, "ord-2").
		WillReturnRows(sqlmock.NewRows(orderCols))

	first, err := s.ListOrders(context.Background(), 21, "")
	require.NoError(t, err)
	require.Len(t, first, 1)

	rest, err := s.ListOrders(context.Background(), 21, first[0].ID)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmins(t *testing.T) {
	s, mock := newMock(t)
	created := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO admins").WithArgs("ops@example.com", "hash", created).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery("FROM admins WHERE email").WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	a := &admin.Admin{Email: "ops@example.com", PasswordHash: "hash", CreatedAt: created}
	require.NoError(t, s.CreateAdmin(context.Background(), a))
	assert.Equal(t, int64(7), a.ID)

	_, err := s.FindAdminByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
