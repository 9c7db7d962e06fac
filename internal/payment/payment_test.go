package payment

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/antonminaichev/tstore/internal/cache"
	"github.com/antonminaichev/tstore/internal/fulfillment"
	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/order"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func signedHeader(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(sign(payload, secret, ts))
}

func eventBody(id, typ, ref string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"id":%q,"amount":5000,"currency":"gbp"}}}`, id, typ, ref))
}

// -------- mocks --------

type memRepo struct {
	mu            sync.Mutex
	orders        map[string]*order.Order
	paidMoves     int
	releases      int
	findErr       error
	updateStatusN int
}

func newMemRepo(orders ...*order.Order) *memRepo {
	r := &memRepo{orders: map[string]*order.Order{}}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *memRepo) FindOrderByPaymentRef(_ context.Context, ref string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, o := range r.orders {
		if o.PaymentRef != nil && *o.PaymentRef == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *memRepo) UpdateStatusIf(_ context.Context, id string, from, to order.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateStatusN++
	o := r.orders[id]
	if o.Status != from || !order.CanTransition(from, to) {
		return false, nil
	}
	o.Status = to
	r.paidMoves++
	return true, nil
}

func (r *memRepo) ClaimConfirmation(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.orders[id]
	if o.ConfirmationSentAt != nil {
		return false, nil
	}
	o.ConfirmationSentAt = &at
	return true, nil
}

func (r *memRepo) ReleaseConfirmation(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases++
	r.orders[id].ConfirmationSentAt = nil
	return nil
}

type mockSubmitter struct {
	mu    sync.Mutex
	refs  []string
	err   error
	calls int
}

func (m *mockSubmitter) SubmitForPaymentRef(_ context.Context, ref string) (fulfillment.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.refs = append(m.refs, ref)
	if m.err != nil {
		return fulfillment.SubmitResult{}, m.err
	}
	return fulfillment.SubmitResult{Submitted: m.calls == 1}, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []string
	err       error
}

func (n *recordingNotifier) OrderConfirmed(_ context.Context, o *order.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, o.ID)
	return n.err
}

func (n *recordingNotifier) OrderShipped(context.Context, *order.Order) error { return nil }

func draftOrder(id, ref string) *order.Order {
	return &order.Order{ID: id, Status: order.StatusDraft, PaymentRef: &ref, Email: "jo@example.com", Currency: "gbp"}
}

func newRedisLocker(t *testing.T) *cache.RedisLocker {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return cache.NewRedisLocker(rdb, 24*time.Hour)
}

// -------- signature --------

func TestVerifyWebhook(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := eventBody("evt_1", EventPaymentSucceeded, "pi_1")

	ev, err := VerifyWebhook(body, signedHeader(body, testSecret, now), testSecret, 5*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, "pi_1", ev.Data.Object.ID)

	tests := []struct {
		name   string
		body   []byte
		header string
	}{
		{"tampered body", []byte(`{"id":"evt_2"}`), signedHeader(body, testSecret, now)},
		{"wrong secret", body, signedHeader(body, "whsec_other", now)},
		{"too old", body, signedHeader(body, testSecret, now.Add(-6*time.Minute))},
		{"from the future", body, signedHeader(body, testSecret, now.Add(6*time.Minute))},
		{"missing v1", body, "t=" + strconv.FormatInt(now.Unix(), 10)},
		{"empty", body, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyWebhook(tt.body, tt.header, testSecret, 5*time.Minute, now)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestVerifyWebhook_AnyOfSeveralSignatures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := eventBody("evt_1", EventPaymentSucceeded, "pi_1")
	header := signedHeader(body, "whsec_rolled", now) + ",v1=" + hex.EncodeToString(sign(body, testSecret, strconv.FormatInt(now.Unix(), 10)))

	_, err := VerifyWebhook(body, header, testSecret, 5*time.Minute, now)
	assert.NoError(t, err)
}

// -------- client --------

func TestCreatePaymentIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "checkout-ord-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "5000", r.PostForm.Get("amount"))
		assert.Equal(t, "gbp", r.PostForm.Get("currency"))
		assert.Equal(t, "jo@example.com", r.PostForm.Get("receipt_email"))
		assert.Equal(t, "ord-1", r.PostForm.Get("metadata[orderId]"))
		assert.Equal(t, "true", r.PostForm.Get("automatic_payment_methods[enabled]"))
		w.Write([]byte(`{"id":"pi_1","client_secret":"pi_1_secret"}`))
	}))
	defer srv.Close()

	c := &HTTPClient{Client: srv.Client(), BaseURL: srv.URL, SecretKey: "sk_test"}
	in, err := c.CreatePaymentIntent(context.Background(), IntentRequest{
		AmountCents: 5000, Currency: "GBP", Email: "jo@example.com", Metadata: map[string]string{"orderId": "ord-1"},
	}, "checkout-ord-1")

	require.NoError(t, err)
	assert.Equal(t, &Intent{ID: "pi_1", ClientSecret: "pi_1_secret"}, in)
}

func TestCreatePaymentIntent_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Amount must be at least 30 pence"}}`))
	}))
	defer srv.Close()

	c := &HTTPClient{Client: srv.Client(), BaseURL: srv.URL}
	_, err := c.CreatePaymentIntent(context.Background(), IntentRequest{AmountCents: 1}, "")
	assert.ErrorContains(t, err, "Amount must be at least 30 pence")
}

// -------- bridge --------

func succeeded(id, ref string) *Event {
	ev := &Event{ID: id, Type: EventPaymentSucceeded}
	ev.Data.Object.ID = ref
	return ev
}

func TestHandleEvent_RedeliveriesPayOnce(t *testing.T) {
	repo := newMemRepo(draftOrder("ord-1", "pi_1"))
	n := &recordingNotifier{}
	sub := &mockSubmitter{}
	b := NewBridge(repo, newRedisLocker(t), n, sub)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_1")))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, repo.paidMoves)
	assert.Equal(t, []string{"ord-1"}, n.confirmed)
	assert.Equal(t, 1, sub.calls)
	assert.Equal(t, order.StatusPaid, repo.orders["ord-1"].Status)
}

func TestHandleEvent_DistinctEventsSameIntent(t *testing.T) {
	repo := newMemRepo(draftOrder("ord-1", "pi_1"))
	n := &recordingNotifier{}
	sub := &mockSubmitter{}
	b := NewBridge(repo, cache.LocalLocker{}, n, sub)

	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_1")))
	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_2", "pi_1")))

	assert.Equal(t, 1, repo.paidMoves)
	assert.Equal(t, []string{"ord-1"}, n.confirmed)
	assert.Equal(t, []string{"pi_1", "pi_1"}, sub.refs)
}

func TestHandleEvent_UnknownRefIsNoop(t *testing.T) {
	repo := newMemRepo(draftOrder("ord-1", "pi_1"))
	sub := &mockSubmitter{}
	b := NewBridge(repo, cache.LocalLocker{}, &recordingNotifier{}, sub)

	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_other")))

	assert.Zero(t, repo.updateStatusN)
	assert.Zero(t, sub.calls)
	assert.Equal(t, order.StatusDraft, repo.orders["ord-1"].Status)
}

func TestHandleEvent_OtherTypesIgnored(t *testing.T) {
	repo := newMemRepo(draftOrder("ord-1", "pi_1"))
	b := NewBridge(repo, cache.LocalLocker{}, &recordingNotifier{}, &mockSubmitter{})

	ev := succeeded("evt_1", "pi_1")
	ev.Type = "payment_intent.payment_failed"
	require.NoError(t, b.HandleEvent(context.Background(), ev))

	assert.Equal(t, order.StatusDraft, repo.orders["ord-1"].Status)
}

func TestHandleEvent_ConfirmationFailureReleasesClaim(t *testing.T) {
	repo := newMemRepo(draftOrder("ord-1", "pi_1"))
	n := &recordingNotifier{err: errors.New("mail api down")}
	b := NewBridge(repo, cache.LocalLocker{}, n, &mockSubmitter{})

	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_1")))
	assert.Equal(t, 1, repo.releases)
	assert.Nil(t, repo.orders["ord-1"].ConfirmationSentAt)

	n.err = nil
	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_2", "pi_1")))
	assert.Len(t, n.confirmed, 2)
	assert.NotNil(t, repo.orders["ord-1"].ConfirmationSentAt)
}

func TestHandleEvent_SubmitFailureKeepsEventAcked(t *testing.T) {
	repo := newMemRepo(draftOrder("ord-1", "pi_1"))
	b := NewBridge(repo, cache.LocalLocker{}, &recordingNotifier{}, &mockSubmitter{err: errors.New("partner down")})

	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_1")))
	assert.Equal(t, order.StatusPaid, repo.orders["ord-1"].Status)
}

func TestHandleEvent_RedeliveryRetriesFailedSteps(t *testing.T) {
	repo := newMemRepo(draftOrder("ord-1", "pi_1"))
	n := &recordingNotifier{err: errors.New("mail api down")}
	sub := &mockSubmitter{err: errors.New("partner down")}
	b := NewBridge(repo, newRedisLocker(t), n, sub)

	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_1")))
	assert.Equal(t, order.StatusPaid, repo.orders["ord-1"].Status)
	assert.Nil(t, repo.orders["ord-1"].ConfirmationSentAt)

	n.err, sub.err = nil, nil
	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_1")))

	assert.Equal(t, 2, sub.calls)
	assert.Equal(t, []string{"ord-1", "ord-1"}, n.confirmed)
	assert.NotNil(t, repo.orders["ord-1"].ConfirmationSentAt)
	assert.Equal(t, 1, repo.paidMoves)

	// everything went through, so the next redelivery is a duplicate
	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_1")))
	assert.Equal(t, 2, sub.calls)
}

func TestHandleEvent_StoreErrorReleasesLock(t *testing.T) {
	repo := newMemRepo(draftOrder("ord-1", "pi_1"))
	repo.findErr = errors.New("db down")
	sub := &mockSubmitter{}
	b := NewBridge(repo, newRedisLocker(t), &recordingNotifier{}, sub)

	assert.Error(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_1")))

	repo.findErr = nil
	require.NoError(t, b.HandleEvent(context.Background(), succeeded("evt_1", "pi_1")))
	assert.Equal(t, 1, repo.paidMoves)
	assert.Equal(t, 1, sub.calls)
}

// -------- handler --------

func TestWebhookHandler(t *testing.T) {
	repo := newMemRepo(draftOrder("ord-1", "pi_1"))
	b := NewBridge(repo, cache.LocalLocker{}, &recordingNotifier{}, &mockSubmitter{})
	h := NewHandler(b, testSecret, 0)
	body := eventBody("evt_1", EventPaymentSucceeded, "pi_1")

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", signedHeader(body, "whsec_wrong", time.Now()))
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, order.StatusDraft, repo.orders["ord-1"].Status)

	req = httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", signedHeader(body, testSecret, time.Now()))
	rec = httptest.NewRecorder()
	h.Webhook(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp["received"])
	assert.Equal(t, order.StatusPaid, repo.orders["ord-1"].Status)

	repo.findErr = errors.New("db down")
	body = eventBody("evt_2", EventPaymentSucceeded, "pi_1")
	req = httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", signedHeader(body, testSecret, time.Now()))
	rec = httptest.NewRecorder()
	h.Webhook(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "handler_failed")
}
