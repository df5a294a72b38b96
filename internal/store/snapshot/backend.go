// Package snapshot provides the file-backed implementation of store.Backend.
//
// The whole state lives in memory as an explicitly owned value guarded by one
// mutex. Every operation takes the lock for its entire check-and-write
// sequence, so there is no point where another goroutine can interleave
// between reading availability and writing a reservation. After each
// successful mutation the state is written to a JSON file via a temp-file
// rename, while the lock is still held.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jcmexdev/storefront/internal/checkout/domain"
)

// state is the full persisted representation.
type state struct {
	Inventory    map[string]int      `json:"inventory"`
	Orders       []orderRecord       `json:"orders"`
	Reservations []reservationRecord `json:"reservations"`
}

type orderRecord struct {
	ID        string           `json:"id"`
	Items     []itemRecord     `json:"items"`
	Total     int64            `json:"total"`
	Status    string           `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	Payment   *domain.Payment  `json:"payment,omitempty"`
}

type itemRecord struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
	Price    int64  `json:"price"`
	Title    string `json:"title,omitempty"`
}

type reservationRecord struct {
	OrderID  string `json:"order_id"`
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
}

// Backend is the snapshot implementation of store.Backend.
type Backend struct {
	mu    sync.Mutex
	path  string
	state state
}

// Open loads the snapshot file at the given path, or starts empty when the
// file does not exist yet.
func Open(path string) (*Backend, error) {
	b := &Backend{
		path: path,
		state: state{
			Inventory: make(map[string]int),
		},
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %q: %w", path, err)
	}
	if err := json.Unmarshal(raw, &b.state); err != nil {
		return nil, fmt.Errorf("snapshot: decode %q: %w", path, err)
	}
	if b.state.Inventory == nil {
		b.state.Inventory = make(map[string]int)
	}
	return b, nil
}

// Close is a no-op: every mutation is already on disk.
func (b *Backend) Close() error { return nil }

// persist writes the state file. Callers must hold b.mu: the write is part of
// the same critical section as the mutation it records.
func (b *Backend) persist() error {
	raw, err := json.MarshalIndent(&b.state, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode state: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("snapshot: rename %q: %w", tmp, err)
	}
	return nil
}

// InventorySnapshot returns a copy of sku -> quantity. Reservations are not
// subtracted: this is the display view, not the reservation gate.
func (b *Backend) InventorySnapshot(ctx context.Context) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make(map[string]int, len(b.state.Inventory))
	for sku, qty := range b.state.Inventory {
		snapshot[sku] = qty
	}
	return snapshot, nil
}

// SeedInventory inserts quantities for SKUs that do not exist yet.
func (b *Backend) SeedInventory(ctx context.Context, stock map[string]int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := false
	for sku, qty := range stock {
		if _, ok := b.state.Inventory[sku]; ok {
			continue
		}
		b.state.Inventory[sku] = qty
		changed = true
	}
	if !changed {
		return nil
	}
	return b.persist()
}

// Reserve checks availability for every item and writes the reservation rows
// only when all of them fit, all under one lock acquisition. Availability is
// inventory minus already-reserved quantity, including quantities claimed
// earlier in this same request.
func (b *Backend) Reserve(ctx context.Context, orderID string, items []domain.ReservationRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	reserved := make(map[string]int)
	for _, r := range b.state.Reservations {
		reserved[r.SKU] += r.Quantity
	}

	for _, item := range items {
		if b.state.Inventory[item.SKU]-reserved[item.SKU] < item.Quantity {
			return domain.ErrInsufficientStock
		}
		reserved[item.SKU] += item.Quantity
	}

	for _, item := range items {
		b.state.Reservations = append(b.state.Reservations, reservationRecord{
			OrderID:  orderID,
			SKU:      item.SKU,
			Quantity: item.Quantity,
		})
	}
	return b.persist()
}

// ReservedQuantities returns sku -> total reserved quantity.
func (b *Backend) ReservedQuantities(ctx context.Context) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reserved := make(map[string]int)
	for _, r := range b.state.Reservations {
		reserved[r.SKU] += r.Quantity
	}
	return reserved, nil
}

// Release drops the order's reservations. Releasing an order with no
// reservations is a no-op.
func (b *Backend) Release(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.state.Reservations[:0]
	removed := false
	for _, r := range b.state.Reservations {
		if r.OrderID == orderID {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return nil
	}
	b.state.Reservations = kept
	return b.persist()
}

// CreateOrder appends the order record.
func (b *Backend) CreateOrder(ctx context.Context, order *domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, o := range b.state.Orders {
		if o.ID == order.ID {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateOrder, order.ID)
		}
	}
	b.state.Orders = append(b.state.Orders, toRecord(order))
	return b.persist()
}

// GetOrder returns the stored order or domain.ErrOrderNotFound.
func (b *Backend) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.state.Orders {
		if b.state.Orders[i].ID == orderID {
			order := fromRecord(&b.state.Orders[i])
			return &order, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
}

// UpdateOrderStatus persists a transition; a nil payment keeps the stored
// metadata as-is.
func (b *Backend) UpdateOrderStatus(ctx context.Context, orderID string, status domain.Status, payment *domain.Payment) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.state.Orders {
		if b.state.Orders[i].ID != orderID {
			continue
		}
		b.state.Orders[i].Status = string(status)
		if payment != nil {
			b.state.Orders[i].Payment = payment
		}
		return b.persist()
	}
	return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
}

// ListOrders returns every order in insertion order.
func (b *Backend) ListOrders(ctx context.Context) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	orders := make([]domain.Order, 0, len(b.state.Orders))
	for i := range b.state.Orders {
		orders = append(orders, fromRecord(&b.state.Orders[i]))
	}
	return orders, nil
}

// Finalize decrements inventory per reservation, drops the rows, and marks
// the order paid — all inside one lock acquisition with a single persist at
// the end, so the file never records a partially applied confirmation.
func (b *Backend) Finalize(ctx context.Context, orderID string, payment *domain.Payment) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var order *orderRecord
	for i := range b.state.Orders {
		if b.state.Orders[i].ID == orderID {
			order = &b.state.Orders[i]
			break
		}
	}
	if order == nil {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	// Terminal-state guard: a duplicate confirmation event must not decrement
	// inventory again.
	if domain.Status(order.Status) == domain.StatusPaid {
		return nil
	}

	// Validate every decrement before applying any, so an invariant breach
	// leaves the state untouched.
	pending := make(map[string]int)
	for _, r := range b.state.Reservations {
		if r.OrderID == orderID {
			pending[r.SKU] += r.Quantity
		}
	}
	for sku, qty := range pending {
		if b.state.Inventory[sku] < qty {
			return fmt.Errorf("%w: sku %s would go negative", domain.ErrInvariantViolation, sku)
		}
	}

	for sku, qty := range pending {
		b.state.Inventory[sku] -= qty
	}
	kept := b.state.Reservations[:0]
	for _, r := range b.state.Reservations {
		if r.OrderID != orderID {
			kept = append(kept, r)
		}
	}
	b.state.Reservations = kept

	order.Status = string(domain.StatusPaid)
	if payment != nil {
		order.Payment = payment
	}
	return b.persist()
}

func toRecord(order *domain.Order) orderRecord {
	rec := orderRecord{
		ID:        order.ID,
		Total:     int64(order.Total),
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt,
		Payment:   order.Payment,
	}
	for _, it := range order.Items {
		rec.Items = append(rec.Items, itemRecord{
			SKU:      it.SKU,
			Quantity: it.Quantity,
			Price:    int64(it.UnitPrice),
			Title:    it.Title,
		})
	}
	return rec
}

func fromRecord(rec *orderRecord) domain.Order {
	order := domain.Order{
		ID:        rec.ID,
		Total:     domain.Cents(rec.Total),
		Status:    domain.Status(rec.Status),
		CreatedAt: rec.CreatedAt,
		Payment:   rec.Payment,
	}
	for _, it := range rec.Items {
		order.Items = append(order.Items, domain.LineItem{
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: domain.Cents(it.Price),
			Title:     it.Title,
		})
	}
	return order
}

// DefaultPath returns a snapshot path inside dir, creating dir if needed.
func DefaultPath(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create dir %q: %w", dir, err)
	}
	return filepath.Join(dir, "storefront.json"), nil
}
