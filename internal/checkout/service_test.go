package checkout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront/internal/checkout/domain"
	"github.com/jcmexdev/storefront/internal/payments"
	"github.com/jcmexdev/storefront/internal/store"
	"github.com/jcmexdev/storefront/internal/store/snapshot"
)

func newTestService(t *testing.T, provider payments.Provider) (*Service, store.Backend) {
	t.Helper()
	backend := newTestBackend(t)
	require.NoError(t, backend.SeedInventory(context.Background(), map[string]int{
		"p1-s1": 5, "p1-s2": 10, "p1-s3": 0, "p2-s1": 3, "p2-s2": 2, "p3-s1": 7,
	}))

	svc := NewService(backend, provider, nil)
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("order-%d", seq)
	}
	return svc, backend
}

type fakeProvider struct {
	sessions int
	fail     bool
}

func (p *fakeProvider) Name() string { return "stripe" }

func (p *fakeProvider) CreateSession(ctx context.Context, order *domain.Order, successURL, cancelURL string) (*payments.Session, error) {
	if p.fail {
		return nil, errors.New("provider unreachable")
	}
	p.sessions++
	return &payments.Session{
		ID:  fmt.Sprintf("cs_test_%d", p.sessions),
		URL: "https://pay.example.com/" + order.ID,
	}, nil
}

func items(sku string, qty int, price float64) []domain.LineItem {
	return []domain.LineItem{{SKU: sku, Quantity: qty, UnitPrice: domain.CentsFromFloat(price), Title: sku}}
}

func TestCheckoutSessionLocalConfirmation(t *testing.T) {
	ctx := context.Background()
	svc, backend := newTestService(t, nil)

	res, err := svc.CheckoutSession(ctx, items("p1-s1", 2, 19.99), "/", "/cart")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, res.Order.Status)
	assert.Empty(t, res.RedirectURL)
	require.NotNil(t, res.Order.Payment)
	assert.Equal(t, LocalProviderName, res.Order.Payment.Provider)

	snap, err := backend.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap["p1-s1"], "local confirmation must decrement stock")

	reserved, err := backend.ReservedQuantities(ctx)
	require.NoError(t, err)
	assert.Empty(t, reserved)
}

func TestCheckoutSessionDeclined(t *testing.T) {
	ctx := context.Background()
	svc, backend := newTestService(t, nil)

	_, err := svc.CheckoutSession(ctx, items("p2-s2", 3, 5.00), "/", "/cart")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	orders, err := backend.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.StatusFailed, orders[0].Status)

	reserved, err := backend.ReservedQuantities(ctx)
	require.NoError(t, err)
	assert.Empty(t, reserved, "a declined checkout must leave no holds")

	snap, err := backend.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap["p2-s2"])
}

func TestCheckoutSessionZeroStockSKU(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.CheckoutSession(context.Background(), items("p1-s3", 1, 2.50), "/", "/cart")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestCheckoutSessionWithProviderThenWebhook(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	svc, backend := newTestService(t, provider)

	res, err := svc.CheckoutSession(ctx, items("p1-s2", 4, 9.50), "/", "/cart")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Order.Status)
	assert.Equal(t, "https://pay.example.com/"+res.Order.ID, res.RedirectURL)
	require.NotNil(t, res.Order.Payment)
	assert.Equal(t, "cs_test_1", res.Order.Payment.SessionID)

	// Stock is held, not deducted, while the customer pays.
	snap, err := backend.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, snap["p1-s2"])

	payment := &domain.Payment{Provider: "stripe", SessionID: "cs_test_1", ReceivedAt: time.Now().UTC().Format(time.RFC3339)}
	require.NoError(t, svc.ConfirmPayment(ctx, res.Order.ID, payment))

	snap, err = backend.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, snap["p1-s2"])

	got, err := backend.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, got.Status)

	// A duplicate webhook delivery must not decrement again.
	require.NoError(t, svc.ConfirmPayment(ctx, res.Order.ID, payment))
	snap, err = backend.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, snap["p1-s2"])
}

func TestCheckoutSessionProviderFailureReleasesHolds(t *testing.T) {
	ctx := context.Background()
	svc, backend := newTestService(t, &fakeProvider{fail: true})

	_, err := svc.CheckoutSession(ctx, items("p3-s1", 2, 3.00), "/", "/cart")
	require.Error(t, err)

	reserved, err := backend.ReservedQuantities(ctx)
	require.NoError(t, err)
	assert.Empty(t, reserved, "holds must be given back when no session exists")

	orders, err := backend.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.StatusReleased, orders[0].Status)
}

func TestReleaseOrder(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	svc, backend := newTestService(t, provider)

	res, err := svc.CheckoutSession(ctx, items("p2-s1", 1, 4.25), "/", "/cart")
	require.NoError(t, err)

	require.NoError(t, svc.ReleaseOrder(ctx, res.Order.ID))
	require.NoError(t, svc.ReleaseOrder(ctx, res.Order.ID), "second release must be a no-op")
	require.NoError(t, svc.ReleaseOrder(ctx, "never-existed"))

	got, err := backend.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, got.Status)

	snap, err := backend.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap["p2-s1"], "release must not touch inventory")
}

func TestCreateOrderDuplicate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	_, err := svc.CreateOrder(ctx, "dup", items("p1-s1", 1, 1.00))
	require.NoError(t, err)
	_, err = svc.CreateOrder(ctx, "dup", items("p1-s1", 1, 1.00))
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)
}

type mapCache struct {
	data map[string]string
	gets int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string]string)} }

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.data[key] = fmt.Sprint(value)
	return nil
}

func (c *mapCache) Get(ctx context.Context, key string) (string, error) {
	c.gets++
	return c.data[key], nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func (c *mapCache) GenerateKey(operation, key string) string {
	return "storefront:" + operation + ":" + key
}

func TestInventorySnapshotCache(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)
	require.NoError(t, backend.SeedInventory(ctx, map[string]int{"p1-s1": 5}))

	c := newMapCache()
	svc := NewService(backend, nil, c)

	snap, err := svc.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, snap["p1-s1"])
	assert.Contains(t, c.data, "storefront:inventory:snapshot")

	// Second read is served from the cache.
	snap, err = svc.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, snap["p1-s1"])

	// A finalize invalidates the cached snapshot.
	order, err := svc.CreateOrder(ctx, "order-cache", items("p1-s1", 2, 1.00))
	require.NoError(t, err)
	require.NoError(t, backend.Reserve(ctx, order.ID, []domain.ReservationRequest{{SKU: "p1-s1", Quantity: 2}}))
	require.NoError(t, svc.ConfirmPayment(ctx, order.ID, &domain.Payment{Provider: LocalProviderName}))
	assert.NotContains(t, c.data, "storefront:inventory:snapshot")

	snap, err = svc.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap["p1-s1"])
}

func TestCheckoutTotalComputation(t *testing.T) {
	svc, backend := newTestService(t, nil)

	res, err := svc.CheckoutSession(context.Background(), []domain.LineItem{
		{SKU: "p1-s1", Quantity: 2, UnitPrice: domain.CentsFromFloat(19.99), Title: "Shirt"},
		{SKU: "p2-s1", Quantity: 1, UnitPrice: domain.CentsFromFloat(0.01), Title: "Sticker"},
	}, "/", "/cart")
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(3999), res.Order.Total)

	orders, err := backend.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.Cents(3999), orders[0].Total)
}

// newTestBackend returns the snapshot backend; the sqlite backend is covered
// by the shared conformance suite, and the service is backend-agnostic.
func newTestBackend(t *testing.T) store.Backend {
	t.Helper()
	backend, err := snapshot.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return backend
}
