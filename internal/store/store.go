// Package store defines the persistence port for the checkout core.
//
// Two interchangeable backends implement it: a transactional SQLite backend
// (store/sqlite) and a file-backed snapshot backend (store/snapshot). Both
// must expose the exact same atomicity guarantees to callers; which one a
// deployment uses is a startup configuration choice with no observable
// behavior difference. The shared conformance suite in store/storetest pins
// that equivalence down.
package store

import (
	"context"

	"github.com/jcmexdev/storefront/internal/checkout/domain"
)

// InventoryStore is the source of truth for per-SKU stock.
type InventoryStore interface {
	// InventorySnapshot returns sku -> quantity. It is a display view only:
	// it ignores reservations and must never be used as the gate for a
	// reservation decision.
	InventorySnapshot(ctx context.Context) (map[string]int, error)

	// SeedInventory inserts the given quantities for SKUs that do not exist
	// yet. Existing SKUs are left alone, so seeding is safe on every start.
	SeedInventory(ctx context.Context, stock map[string]int) error
}

// ReservationLedger holds pending stock reservations against inventory.
// The invariant it protects: for every SKU, the sum of reserved quantities
// never exceeds the recorded inventory quantity.
type ReservationLedger interface {
	// Reserve atomically checks availability for every requested item and,
	// only if all of them fit, writes one reservation row per item.
	// Availability is inventory minus already-reserved quantity. If any item
	// falls short the whole request is declined with
	// domain.ErrInsufficientStock and nothing is written.
	//
	// The check-and-write sequence is indivisible with respect to every
	// other Reserve, Release, and Finalize touching the same SKUs: under
	// concurrent requests racing for scarce stock, exactly one may win.
	Reserve(ctx context.Context, orderID string, items []domain.ReservationRequest) error

	// Release deletes all reservation rows for the order. It is idempotent
	// and never errors when there is nothing to release. Inventory
	// quantities are not touched: a reservation is a hold, not a deduction.
	Release(ctx context.Context, orderID string) error

	// ReservedQuantities returns sku -> total reserved quantity across all
	// orders. Used by the inventory debug endpoint and by the conformance
	// suite to observe the reservation-sum invariant.
	ReservedQuantities(ctx context.Context) (map[string]int, error)
}

// OrderLifecycle persists orders and their status transitions. It never
// touches inventory or reservations; sequencing those is the caller's job.
type OrderLifecycle interface {
	// CreateOrder persists the order skeleton. Returns
	// domain.ErrDuplicateOrder if the id is already taken.
	CreateOrder(ctx context.Context, order *domain.Order) error

	// GetOrder returns the stored order or domain.ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// UpdateOrderStatus persists a status change plus optional payment
	// metadata. A nil payment leaves the stored metadata alone.
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.Status, payment *domain.Payment) error

	// ListOrders returns all orders in insertion order.
	ListOrders(ctx context.Context) ([]domain.Order, error)
}

// PaymentConfirmer converts an order's reservations into permanent inventory
// decrements. It is the only writer allowed to mutate inventory and delete
// reservations in one step.
type PaymentConfirmer interface {
	// Finalize runs as one atomic unit: read the order's reservations,
	// decrement inventory by each reserved quantity, delete the rows, and
	// mark the order paid with the given metadata.
	//
	// A decrement that would go negative aborts the whole unit with
	// domain.ErrInvariantViolation — it means a reservation was admitted
	// that the availability check should have declined.
	//
	// Finalize is guarded by the order's terminal state: finalizing an
	// already-paid order is a no-op returning nil, so duplicate payment
	// confirmation events are safe.
	Finalize(ctx context.Context, orderID string, payment *domain.Payment) error
}

// Backend is the full persistence contract the checkout core runs on.
type Backend interface {
	InventoryStore
	ReservationLedger
	OrderLifecycle
	PaymentConfirmer

	// Close releases the backend's resources. Call it with defer in main().
	Close() error
}
