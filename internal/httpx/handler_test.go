package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront/internal/auth"
	"github.com/jcmexdev/storefront/internal/checkout"
	"github.com/jcmexdev/storefront/internal/checkout/domain"
	"github.com/jcmexdev/storefront/internal/payments"
	"github.com/jcmexdev/storefront/internal/store"
	"github.com/jcmexdev/storefront/internal/store/snapshot"
)

const webhookSecret = "whsec_test"

type fakeProvider struct{ sessions int }

func (p *fakeProvider) Name() string { return "stripe" }

func (p *fakeProvider) CreateSession(ctx context.Context, order *domain.Order, successURL, cancelURL string) (*payments.Session, error) {
	p.sessions++
	return &payments.Session{
		ID:  fmt.Sprintf("cs_test_%d", p.sessions),
		URL: "https://pay.example.com/" + order.ID,
	}, nil
}

func newTestServer(t *testing.T, provider payments.Provider, secret string) (*httptest.Server, store.Backend) {
	t.Helper()
	dir := t.TempDir()

	backend, err := snapshot.Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	require.NoError(t, backend.SeedInventory(context.Background(), map[string]int{
		"p1-s1": 5, "p1-s2": 10, "p1-s3": 0, "p2-s1": 3, "p2-s2": 2, "p3-s1": 7,
	}))

	users, err := auth.Open(filepath.Join(dir, "users.json"))
	require.NoError(t, err)

	service := checkout.NewService(backend, provider, nil)
	handler := NewHandler(service, users, secret)
	srv := httptest.NewServer(NewRouter(handler, ""))
	t.Cleanup(srv.Close)
	return srv, backend
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func TestCheckoutSessionLocalFlow(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	res := postJSON(t, srv.URL+"/api/v1/checkout/session", CheckoutRequest{
		Items: []LineItemDTO{{SKU: "p1-s1", Quantity: 2, Price: 19.99, Title: "Shirt"}},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	out := decode[CheckoutResponse](t, res)
	assert.Contains(t, out.URL, "/checkout/confirmation?order="+out.OrderID)

	// The reservation became a permanent decrement.
	invRes, err := http.Get(srv.URL + "/api/v1/inventory")
	require.NoError(t, err)
	inv := decode[InventoryResponse](t, invRes)
	assert.Equal(t, 3, inv.Inventory["p1-s1"])
	assert.Empty(t, inv.Reserved)

	listRes, err := http.Get(srv.URL + "/api/v1/orders")
	require.NoError(t, err)
	orders := decode[[]OrderResponse](t, listRes)
	require.Len(t, orders, 1)
	assert.Equal(t, "paid", orders[0].Status)
	assert.InDelta(t, 39.98, orders[0].Total, 0.0001)
}

func TestCheckoutSessionInsufficientStock(t *testing.T) {
	srv, backend := newTestServer(t, nil, "")

	res := postJSON(t, srv.URL+"/api/v1/checkout/session", CheckoutRequest{
		Items: []LineItemDTO{{SKU: "p2-s2", Quantity: 3, Price: 5}},
	})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	out := decode[ErrorResponse](t, res)
	assert.Equal(t, "insufficient_stock", out.Error)

	reserved, err := backend.ReservedQuantities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reserved)

	orders, err := backend.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.StatusFailed, orders[0].Status)
}

func TestCheckoutSessionValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	res := postJSON(t, srv.URL+"/api/v1/checkout/session", CheckoutRequest{})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	raw, err := http.Post(srv.URL+"/api/v1/checkout/session", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestProviderCheckoutAndWebhook(t *testing.T) {
	provider := &fakeProvider{}
	srv, backend := newTestServer(t, provider, webhookSecret)

	res := postJSON(t, srv.URL+"/api/v1/checkout/session", CheckoutRequest{
		Items: []LineItemDTO{{SKU: "p1-s2", Quantity: 4, Price: 9.50}},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	out := decode[CheckoutResponse](t, res)
	assert.Equal(t, "https://pay.example.com/"+out.OrderID, out.URL)

	got, err := backend.GetOrder(context.Background(), out.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	// Provider confirms the session out of band.
	event := fmt.Sprintf(`{
		"type": %q,
		"data": {"object": {"id": "cs_test_1", "metadata": {"orderId": %q}}}
	}`, payments.EventCheckoutCompleted, out.OrderID)
	payload := []byte(event)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/webhooks/payment", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", payments.Sign(payload, webhookSecret, time.Now()))
	whRes, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, whRes.StatusCode)
	assert.True(t, decode[WebhookResponse](t, whRes).Received)

	got, err = backend.GetOrder(context.Background(), out.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, got.Status)

	snap, err := backend.InventorySnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, snap["p1-s2"])
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{}, webhookSecret)

	payload := []byte(`{"type":"checkout.session.completed"}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/webhooks/payment", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "t=123,v1=bogus")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestWebhookWithoutSecretIsAcknowledgedOnly(t *testing.T) {
	srv, backend := newTestServer(t, nil, "")

	order, err := domain.NewOrder("order-x", []domain.LineItem{{SKU: "p1-s1", Quantity: 1, UnitPrice: 100}}, time.Now())
	require.NoError(t, err)
	require.NoError(t, backend.CreateOrder(context.Background(), order))

	payload := fmt.Sprintf(`{"type":%q,"data":{"object":{"metadata":{"orderId":"order-x"}}}}`, payments.EventCheckoutCompleted)
	res, err := http.Post(srv.URL+"/api/v1/webhooks/payment", "application/json", bytes.NewReader([]byte(payload)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)

	got, err := backend.GetOrder(context.Background(), "order-x")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, got.Status, "unverified deliveries must not drive state")
}

func TestReleaseEndpoint(t *testing.T) {
	srv, backend := newTestServer(t, &fakeProvider{}, webhookSecret)

	res := postJSON(t, srv.URL+"/api/v1/checkout/session", CheckoutRequest{
		Items: []LineItemDTO{{SKU: "p2-s1", Quantity: 2, Price: 4.25}},
	})
	out := decode[CheckoutResponse](t, res)

	relRes := postJSON(t, srv.URL+"/api/v1/reservations/release", ReleaseRequest{OrderID: out.OrderID})
	require.Equal(t, http.StatusOK, relRes.StatusCode)
	assert.True(t, decode[ReleaseResponse](t, relRes).Released)

	// Releasing again stays 200.
	relRes = postJSON(t, srv.URL+"/api/v1/reservations/release", ReleaseRequest{OrderID: out.OrderID})
	require.Equal(t, http.StatusOK, relRes.StatusCode)

	missing := postJSON(t, srv.URL+"/api/v1/reservations/release", ReleaseRequest{})
	require.Equal(t, http.StatusBadRequest, missing.StatusCode)

	got, err := backend.GetOrder(context.Background(), out.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, got.Status)
}

func TestCreateOrderEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	res := postJSON(t, srv.URL+"/api/v1/orders", CreateOrderRequest{
		ID:    "order-1",
		Items: []LineItemDTO{{SKU: "p1-s1", Quantity: 1, Price: 12.00, Title: "Mug"}},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	out := decode[OrderResponse](t, res)
	assert.Equal(t, "order-1", out.ID)
	assert.Equal(t, "created", out.Status)
	assert.InDelta(t, 12.00, out.Total, 0.0001)

	dup := postJSON(t, srv.URL+"/api/v1/orders", CreateOrderRequest{
		ID:    "order-1",
		Items: []LineItemDTO{{SKU: "p1-s1", Quantity: 1, Price: 12.00}},
	})
	require.Equal(t, http.StatusConflict, dup.StatusCode)
	assert.Equal(t, "duplicate_order", decode[ErrorResponse](t, dup).Error)

	got, err := http.Get(srv.URL + "/api/v1/orders/order-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "order-1", decode[OrderResponse](t, got).ID)

	missing, err := http.Get(srv.URL + "/api/v1/orders/nope")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, "order_not_found", decode[ErrorResponse](t, missing).Error)
}

func TestSignupAndLoginEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	res := postJSON(t, srv.URL+"/api/v1/signup", SignupRequest{Name: "Ada", Email: "ada@example.com", Password: "hunter2"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.NotEmpty(t, decode[TokenResponse](t, res).Token)

	dup := postJSON(t, srv.URL+"/api/v1/signup", SignupRequest{Email: "ada@example.com", Password: "x"})
	require.Equal(t, http.StatusConflict, dup.StatusCode)

	missing := postJSON(t, srv.URL+"/api/v1/signup", SignupRequest{Email: "ada@example.com"})
	require.Equal(t, http.StatusBadRequest, missing.StatusCode)

	login := postJSON(t, srv.URL+"/api/v1/login", LoginRequest{Email: "ada@example.com", Password: "hunter2"})
	require.Equal(t, http.StatusOK, login.StatusCode)
	assert.NotEmpty(t, decode[TokenResponse](t, login).Token)

	bad := postJSON(t, srv.URL+"/api/v1/login", LoginRequest{Email: "ada@example.com", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, bad.StatusCode)
}
