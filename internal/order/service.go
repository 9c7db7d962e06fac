package order

import (
	"context"
	"errors"

	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/order"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

var ErrOrderNotFound = errors.New("order not found")

// Page is one slice of the admin order list. NextCursor is empty on the last page.
type Page struct {
	Orders     []order.Order `json:"orders"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type Service struct {
	repo OrderRepository
}

func NewService(r OrderRepository) *Service {
	return &Service{repo: r}
}

// List returns orders newest first. limit is clamped to [1, MaxPageSize].
func (s *Service) List(ctx context.Context, limit int, cursor string) (*Page, error) {
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	// один лишний, чтобы понять, есть ли следующая страница
	orders, err := s.repo.ListOrders(ctx, limit+1, cursor)
	if err != nil {
		return nil, err
	}
	p := &Page{Orders: orders}
	if len(orders) > limit {
		p.Orders = orders[:limit]
		p.NextCursor = orders[limit-1].ID
	}
	if p.Orders == nil {
		p.Orders = []order.Order{}
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.repo.FindOrderByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}
