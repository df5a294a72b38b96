// Package storetest holds the conformance suite every store.Backend
// implementation must pass. Both backends are exercised with the same
// properties, so selecting one over the other at startup cannot change
// observable behavior.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront/internal/checkout/domain"
	"github.com/jcmexdev/storefront/internal/store"
)

// Factory returns a fresh, empty backend for one subtest. Cleanup is the
// caller's job (t.TempDir and t.Cleanup cover it).
type Factory func(t *testing.T) store.Backend

// Run executes the full conformance suite against the backend produced by
// the factory.
func Run(t *testing.T, newBackend Factory) {
	t.Run("ReservationIsNotADeduction", func(t *testing.T) { testReservationIsNotADeduction(t, newBackend(t)) })
	t.Run("ScarceSKUSingleWinner", func(t *testing.T) { testScarceSKUSingleWinner(t, newBackend(t)) })
	t.Run("AllOrNothingDecline", func(t *testing.T) { testAllOrNothingDecline(t, newBackend(t)) })
	t.Run("ReleaseIsIdempotent", func(t *testing.T) { testReleaseIsIdempotent(t, newBackend(t)) })
	t.Run("ConcurrentReserveSingleWinner", func(t *testing.T) { testConcurrentReserveSingleWinner(t, newBackend(t)) })
	t.Run("DuplicateOrderRejected", func(t *testing.T) { testDuplicateOrderRejected(t, newBackend(t)) })
	t.Run("FinalizeIsIdempotent", func(t *testing.T) { testFinalizeIsIdempotent(t, newBackend(t)) })
	t.Run("FinalizeUnknownOrder", func(t *testing.T) { testFinalizeUnknownOrder(t, newBackend(t)) })
	t.Run("OrderTotalRoundTrip", func(t *testing.T) { testOrderTotalRoundTrip(t, newBackend(t)) })
	t.Run("ListOrdersInsertionOrder", func(t *testing.T) { testListOrdersInsertionOrder(t, newBackend(t)) })
	t.Run("UpdateStatusPersists", func(t *testing.T) { testUpdateStatusPersists(t, newBackend(t)) })
	t.Run("ReservationSumInvariant", func(t *testing.T) { testReservationSumInvariant(t, newBackend(t)) })
	t.Run("SeedIsIdempotent", func(t *testing.T) { testSeedIsIdempotent(t, newBackend(t)) })
}

func seed(t *testing.T, b store.Backend, stock map[string]int) {
	t.Helper()
	require.NoError(t, b.SeedInventory(context.Background(), stock))
}

func newOrder(t *testing.T, id string, items ...domain.LineItem) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(id, items, time.Now())
	require.NoError(t, err)
	return order
}

// Seeded {A:5}: reserving 2 leaves the snapshot at 5, finalizing drops it to
// 3 and removes the hold.
func testReservationIsNotADeduction(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b, map[string]int{"A": 5})

	order := newOrder(t, "order1", domain.LineItem{SKU: "A", Quantity: 2, UnitPrice: 1000})
	require.NoError(t, b.CreateOrder(ctx, order))
	require.NoError(t, b.Reserve(ctx, "order1", []domain.ReservationRequest{{SKU: "A", Quantity: 2}}))

	snap, err := b.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, snap["A"], "a reservation must not change the snapshot")

	require.NoError(t, b.Finalize(ctx, "order1", &domain.Payment{Provider: "local"}))

	snap, err = b.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap["A"])

	reserved, err := b.ReservedQuantities(ctx)
	require.NoError(t, err)
	assert.Zero(t, reserved["A"], "finalize must remove the reservation")

	got, err := b.GetOrder(ctx, "order1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, got.Status)
	require.NotNil(t, got.Payment)
	assert.Equal(t, "local", got.Payment.Provider)
}

// Seeded {B:1}: the first hold wins, the second is declined.
func testScarceSKUSingleWinner(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b, map[string]int{"B": 1})

	require.NoError(t, b.Reserve(ctx, "orderX", []domain.ReservationRequest{{SKU: "B", Quantity: 1}}))

	err := b.Reserve(ctx, "orderY", []domain.ReservationRequest{{SKU: "B", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
}

// A multi-item request with one short SKU writes nothing at all.
func testAllOrNothingDecline(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b, map[string]int{"A": 5, "C": 1})

	err := b.Reserve(ctx, "order1", []domain.ReservationRequest{
		{SKU: "A", Quantity: 2},
		{SKU: "C", Quantity: 2},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	reserved, err := b.ReservedQuantities(ctx)
	require.NoError(t, err)
	assert.Empty(t, reserved, "a declined request must leave zero reservation rows")

	// The full stock is still claimable, which it would not be if the decline
	// had left a partial hold behind.
	require.NoError(t, b.Reserve(ctx, "order2", []domain.ReservationRequest{
		{SKU: "A", Quantity: 5},
		{SKU: "C", Quantity: 1},
	}))
}

// A request listing more of one SKU than exists, split across lines, must be
// declined as a whole.
func testReservationSumInvariant(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b, map[string]int{"A": 3})

	err := b.Reserve(ctx, "order1", []domain.ReservationRequest{
		{SKU: "A", Quantity: 2},
		{SKU: "A", Quantity: 2},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	require.NoError(t, b.Reserve(ctx, "order2", []domain.ReservationRequest{
		{SKU: "A", Quantity: 2},
		{SKU: "A", Quantity: 1},
	}))

	assertInvariant(t, b)
	require.NoError(t, b.Release(ctx, "order2"))
	assertInvariant(t, b)
}

// sum(reservations on sku) <= inventory[sku], observed across backends.
func assertInvariant(t *testing.T, b store.Backend) {
	t.Helper()
	ctx := context.Background()
	snap, err := b.InventorySnapshot(ctx)
	require.NoError(t, err)
	reserved, err := b.ReservedQuantities(ctx)
	require.NoError(t, err)
	for sku, qty := range reserved {
		assert.LessOrEqual(t, qty, snap[sku], "sku %s over-reserved", sku)
	}
}

func testReleaseIsIdempotent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b, map[string]int{"A": 2})

	require.NoError(t, b.Reserve(ctx, "order1", []domain.ReservationRequest{{SKU: "A", Quantity: 2}}))
	require.NoError(t, b.Release(ctx, "order1"))
	require.NoError(t, b.Release(ctx, "order1"), "second release must be a no-op")
	require.NoError(t, b.Release(ctx, "never-reserved"))

	snap, err := b.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap["A"], "release must not touch inventory")

	// The hold is gone, so the stock is claimable again.
	require.NoError(t, b.Reserve(ctx, "order2", []domain.ReservationRequest{{SKU: "A", Quantity: 2}}))
}

// Two goroutines each want more than half the remaining stock: exactly one
// may win.
func testConcurrentReserveSingleWinner(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b, map[string]int{"S": 10})

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := []string{"orderA", "orderB"}[i]
			results[i] = b.Reserve(ctx, orderID, []domain.ReservationRequest{{SKU: "S", Quantity: 6}})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, winners, "exactly one of the racing reservations may succeed")
	assertInvariant(t, b)
}

func testDuplicateOrderRejected(t *testing.T, b store.Backend) {
	ctx := context.Background()
	order := newOrder(t, "order1", domain.LineItem{SKU: "A", Quantity: 1, UnitPrice: 500})

	require.NoError(t, b.CreateOrder(ctx, order))
	err := b.CreateOrder(ctx, order)
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)
}

func testFinalizeIsIdempotent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b, map[string]int{"A": 5})

	order := newOrder(t, "order1", domain.LineItem{SKU: "A", Quantity: 2, UnitPrice: 1000})
	require.NoError(t, b.CreateOrder(ctx, order))
	require.NoError(t, b.Reserve(ctx, "order1", []domain.ReservationRequest{{SKU: "A", Quantity: 2}}))

	payment := &domain.Payment{Provider: "stripe", SessionID: "cs_test_1"}
	require.NoError(t, b.Finalize(ctx, "order1", payment))
	require.NoError(t, b.Finalize(ctx, "order1", payment), "duplicate finalize must be a no-op")

	snap, err := b.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap["A"], "inventory must be decremented exactly once")
}

func testFinalizeUnknownOrder(t *testing.T, b store.Backend) {
	err := b.Finalize(context.Background(), "ghost", nil)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

// An order whose items total T lists back with total T, integer-cent
// rounding preserved through decimal conversion.
func testOrderTotalRoundTrip(t *testing.T, b store.Backend) {
	ctx := context.Background()

	order := newOrder(t, "order1",
		domain.LineItem{SKU: "p1-s1", Quantity: 3, UnitPrice: domain.CentsFromFloat(19.99), Title: "Shirt"},
		domain.LineItem{SKU: "p2-s1", Quantity: 1, UnitPrice: domain.CentsFromFloat(0.01), Title: "Sticker"},
	)
	require.Equal(t, domain.Cents(5998), order.Total)
	require.NoError(t, b.CreateOrder(ctx, order))

	orders, err := b.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.Cents(5998), orders[0].Total)
	assert.InDelta(t, 59.98, orders[0].Total.Float64(), 0.0001)
	require.Len(t, orders[0].Items, 2)
	assert.Equal(t, "Shirt", orders[0].Items[0].Title)
	assert.Equal(t, domain.Cents(1999), orders[0].Items[0].UnitPrice)
}

func testListOrdersInsertionOrder(t *testing.T, b store.Backend) {
	ctx := context.Background()
	ids := []string{"c-order", "a-order", "b-order"}
	for _, id := range ids {
		require.NoError(t, b.CreateOrder(ctx, newOrder(t, id, domain.LineItem{SKU: "A", Quantity: 1, UnitPrice: 100})))
	}

	orders, err := b.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, orders[i].ID)
	}
}

func testUpdateStatusPersists(t *testing.T, b store.Backend) {
	ctx := context.Background()
	order := newOrder(t, "order1", domain.LineItem{SKU: "A", Quantity: 1, UnitPrice: 100})
	require.NoError(t, b.CreateOrder(ctx, order))

	require.NoError(t, b.UpdateOrderStatus(ctx, "order1", domain.StatusReserved, nil))
	got, err := b.GetOrder(ctx, "order1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReserved, got.Status)
	assert.Nil(t, got.Payment)

	payment := &domain.Payment{Provider: "stripe", SessionID: "cs_test_2"}
	require.NoError(t, b.UpdateOrderStatus(ctx, "order1", domain.StatusPending, payment))
	got, err = b.GetOrder(ctx, "order1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	require.NotNil(t, got.Payment)
	assert.Equal(t, "cs_test_2", got.Payment.SessionID)

	err = b.UpdateOrderStatus(ctx, "ghost", domain.StatusPaid, nil)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = b.GetOrder(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func testSeedIsIdempotent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b, map[string]int{"A": 5})
	seed(t, b, map[string]int{"A": 99, "B": 2})

	snap, err := b.InventorySnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, snap["A"], "seeding must not overwrite existing stock")
	assert.Equal(t, 2, snap["B"])
}
