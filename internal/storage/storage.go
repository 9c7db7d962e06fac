package storage

import (
	"context"
	"errors"
	"time"

	"github.com/antonminaichev/tstore/internal/types/admin"
	"github.com/antonminaichev/tstore/internal/types/catalog"
	"github.com/antonminaichev/tstore/internal/types/order"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// AdminRepository хранит учётные записи администраторов.
type AdminRepository interface {
	CreateAdmin(ctx context.Context, a *admin.Admin) error
	FindAdminByEmail(ctx context.Context, email string) (*admin.Admin, error)
}

// CatalogRepository отвечает за товары, спецификации печати и варианты.
type CatalogRepository interface {
	UpsertProduct(ctx context.Context, p *catalog.Product) error
	FindProduct(ctx context.Context, id string) (*catalog.Product, error)
	FindSpec(ctx context.Context, id string) (*catalog.PrintSpec, error)
	FindSpecs(ctx context.Context, ids []string) ([]catalog.PrintSpec, error)
	ListSpecs(ctx context.Context, productID string) ([]catalog.PrintSpec, error)
	CreateSpec(ctx context.Context, s *catalog.PrintSpec) error
	UpdateSpec(ctx context.Context, s *catalog.PrintSpec) error
	ReplaceVariants(ctx context.Context, specID string, variants []catalog.Variant) error
	PublishSpec(ctx context.Context, specID, productID string) error
}

// OrderRepository отвечает за заказы и их позиции.
// Every status change is conditional on the current persisted state.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	DeleteDraftOrder(ctx context.Context, id string) error
	SetPaymentRef(ctx context.Context, id, ref string) error
	FindOrderByID(ctx context.Context, id string) (*order.Order, error)
	FindOrderByPaymentRef(ctx context.Context, ref string) (*order.Order, error)
	FindOrderByPartnerID(ctx context.Context, partnerID string) (*order.Order, error)
	ListOrders(ctx context.Context, limit int, cursor string) ([]order.Order, error)
	UpdateStatusIf(ctx context.Context, id string, from, to order.Status) (bool, error)
	ClaimConfirmation(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseConfirmation(ctx context.Context, id string) error
	MarkSubmitted(ctx context.Context, id, partnerID string, at time.Time) (bool, error)
	RecordFulfillError(ctx context.Context, id, msg string, at time.Time) error
	ApplyPartnerUpdate(ctx context.Context, id string, u order.PartnerUpdate) error
	MarkShipped(ctx context.Context, id string, at time.Time) (bool, error)
	ListOrdersForPolling(ctx context.Context, since time.Time, limit int) ([]order.Order, error)
}

// Storage объединяет все репозитории.
type Storage interface {
	AdminRepository
	CatalogRepository
	OrderRepository

	// Для управления соединением
	Ping(ctx context.Context) error
	Close() error
}
