package order

import (
	"context"

	"github.com/antonminaichev/tstore/internal/types/order"
)

type OrderRepository interface {
	ListOrders(ctx context.Context, limit int, cursor string) ([]order.Order, error)
	FindOrderByID(ctx context.Context, id string) (*order.Order, error)
}
