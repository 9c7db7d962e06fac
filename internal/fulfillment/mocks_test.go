package fulfillment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/catalog"
	"github.com/antonminaichev/tstore/internal/types/order"
)

func strPtr(s string) *string { return &s }

// memRepo keeps orders in memory and applies the same conditions as the SQL layer.
type memRepo struct {
	mu           sync.Mutex
	orders       map[string]*order.Order
	specs        map[string]catalog.PrintSpec
	findSpecsErr error
	pollErr      error
	specQueries  [][]string
}

func newMemRepo(orders ...*order.Order) *memRepo {
	r := &memRepo{orders: map[string]*order.Order{}, specs: map[string]catalog.PrintSpec{}}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *memRepo) get(id string) order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.orders[id]
}

func (r *memRepo) FindOrderByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) FindOrderByPaymentRef(_ context.Context, ref string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.PaymentRef != nil && *o.PaymentRef == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *memRepo) FindOrderByPartnerID(_ context.Context, partnerID string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.PartnerOrderID != nil && *o.PartnerOrderID == partnerID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *memRepo) FindSpecs(_ context.Context, ids []string) ([]catalog.PrintSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specQueries = append(r.specQueries, ids)
	if r.findSpecsErr != nil {
		return nil, r.findSpecsErr
	}
	var out []catalog.PrintSpec
	for _, id := range ids {
		if sp, ok := r.specs[id]; ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (r *memRepo) MarkSubmitted(_ context.Context, id, partnerID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.orders[id]
	if o == nil || o.Status != order.StatusPaid || o.PartnerOrderID != nil {
		return false, nil
	}
	fs := order.FulfillmentSubmitted
	o.Status = order.StatusSubmitted
	o.PartnerOrderID = &partnerID
	o.FulfillmentStatus = &fs
	o.SubmittedAt = &at
	o.LastFulfillError = nil
	return true, nil
}

func (r *memRepo) RecordFulfillError(_ context.Context, id, msg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.orders[id]
	o.LastFulfillError = &msg
	o.LastFulfillCheckAt = &at
	return nil
}

func (r *memRepo) ApplyPartnerUpdate(_ context.Context, id string, u order.PartnerUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.orders[id]
	st := u.Status
	o.PartnerStatus = strOrNil(u.RawStatus)
	o.FulfillmentStatus = &st
	o.TrackingURL, o.TrackingNumber, o.Carrier = u.Tracking.URL, u.Tracking.Number, u.Tracking.Carrier
	o.LastFulfillCheckAt = &u.CheckedAt
	o.LastFulfillError = nil
	return nil
}

func (r *memRepo) MarkShipped(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.orders[id]
	if o.ShippedAt != nil {
		return false, nil
	}
	o.ShippedAt = &at
	if o.Status == order.StatusSubmitted {
		o.Status = order.StatusFulfilled
	}
	return true, nil
}

func (r *memRepo) ListOrdersForPolling(_ context.Context, since time.Time, limit int) ([]order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pollErr != nil {
		return nil, r.pollErr
	}
	var out []order.Order
	for _, o := range r.orders {
		if o.PartnerOrderID != nil && o.ShippedAt == nil && o.Status != order.StatusCancelled && !o.CreatedAt.Before(since) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakePartner struct {
	mu        sync.Mutex
	keys      []string
	lastReq   *OrderRequest
	submitErr error
	partnerID string
	orders    map[string]*PartnerOrder
	getErr    map[string]error
	gets      []string
}

func newFakePartner() *fakePartner {
	return &fakePartner{partnerID: "gel-100", orders: map[string]*PartnerOrder{}, getErr: map[string]error{}}
}

func (p *fakePartner) SubmitOrder(_ context.Context, req *OrderRequest, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.lastReq = req
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return p.partnerID, nil
}

func (p *fakePartner) GetOrder(_ context.Context, id string) (*PartnerOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets = append(p.gets, id)
	if err, ok := p.getErr[id]; ok {
		return nil, err
	}
	po, ok := p.orders[id]
	if !ok {
		return nil, ErrPartnerOrderNotFound
	}
	return po, nil
}

func (p *fakePartner) submitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []string
	shipped   []string
	err       error
}

func (n *recordingNotifier) OrderConfirmed(_ context.Context, o *order.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, o.ID)
	return n.err
}

func (n *recordingNotifier) OrderShipped(_ context.Context, o *order.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shipped = append(n.shipped, o.ID)
	return n.err
}

func paidOrder(id, ref string) *order.Order {
	return &order.Order{
		ID:         id,
		Status:     order.StatusPaid,
		Currency:   "gbp",
		TotalCents: 5000,
		Email:      "jo@example.com",
		PaymentRef: strPtr(ref),
		Shipping: order.Address{
			Name:     "Jo Bloggs",
			Line1:    "1 High St",
			City:     "London",
			PostCode: "N1 1AA",
			Country:  "gb",
			Phone:    "+44 (0)20 7946-0018 ext.5",
		},
		Items: []order.Item{
			{ID: "it-1", SpecID: "spec-1", VariantProductUID: "apparel_tee_m_black", Qty: 2},
		},
		CreatedAt: time.Now(),
	}
}

func submittedOrder(id, partnerID string) *order.Order {
	o := paidOrder(id, "pi_"+id)
	fs := order.FulfillmentSubmitted
	o.Status = order.StatusSubmitted
	o.PartnerOrderID = strPtr(partnerID)
	o.FulfillmentStatus = &fs
	return o
}
