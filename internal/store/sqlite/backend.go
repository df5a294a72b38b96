// Package sqlite provides the transactional implementation of store.Backend.
//
// All correctness-critical sequences (check-and-reserve, finalize) run inside
// a single database transaction on a single writer connection, so concurrent
// checkout requests racing for the same SKU are serialized by the engine.
// WAL mode is enabled on Open so readers never block the writer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jcmexdev/storefront/internal/checkout/domain"

	// Register the pure-Go SQLite driver. modernc.org/sqlite needs no CGO,
	// which keeps Docker builds on Alpine trivial.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup.
const schema = `
CREATE TABLE IF NOT EXISTS inventory (
    sku  TEXT PRIMARY KEY,
    qty  INTEGER NOT NULL DEFAULT 0 CHECK (qty >= 0)
);

CREATE TABLE IF NOT EXISTS orders (
    id          TEXT PRIMARY KEY,
    total       INTEGER NOT NULL DEFAULT 0,
    status      TEXT    NOT NULL,
    created_at  TEXT    NOT NULL,
    payment     TEXT
);

CREATE TABLE IF NOT EXISTS order_items (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id  TEXT    NOT NULL,
    sku       TEXT    NOT NULL,
    qty       INTEGER NOT NULL,
    price     INTEGER NOT NULL,
    title     TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS reservations (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id  TEXT    NOT NULL,
    sku       TEXT    NOT NULL,
    qty       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id  ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_reservations_order_id ON reservations(order_id);
CREATE INDEX IF NOT EXISTS idx_reservations_sku      ON reservations(sku);
`

// Backend is the SQLite implementation of store.Backend.
type Backend struct {
	db *sql.DB
}

// Open opens (or creates) the database at the given path and applies the
// schema. busy_timeout waits for locks instead of failing immediately.
//
//	backend, err := sqlite.Open("./data/storefront.db")
func Open(path string) (*Backend, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// Use "sqlite", not "sqlite3", for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// A single writer connection is what serializes concurrent reserve and
	// finalize transactions; the reservation guarantee depends on it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Backend{db: db}, nil
}

// Close releases the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

// InventorySnapshot returns sku -> quantity for display. Reservations are
// intentionally not subtracted here.
func (b *Backend) InventorySnapshot(ctx context.Context) (map[string]int, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT sku, qty FROM inventory`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: snapshot inventory: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]int)
	for rows.Next() {
		var sku string
		var qty int
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, fmt.Errorf("sqlite: scan inventory row: %w", err)
		}
		snapshot[sku] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate inventory: %w", err)
	}
	return snapshot, nil
}

// SeedInventory inserts quantities for SKUs that do not exist yet.
func (b *Backend) SeedInventory(ctx context.Context, stock map[string]int) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin seed: %w", err)
	}
	defer tx.Rollback()

	for sku, qty := range stock {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO inventory (sku, qty) VALUES (?, ?) ON CONFLICT(sku) DO NOTHING`,
			sku, qty,
		); err != nil {
			return fmt.Errorf("sqlite: seed %q: %w", sku, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit seed: %w", err)
	}
	return nil
}

// Reserve implements the all-or-nothing check-and-reserve inside one
// transaction. Availability is inventory minus already-reserved quantity;
// quantities reserved earlier in the same request also count, so a request
// listing the same SKU twice cannot double-claim the remainder.
func (b *Backend) Reserve(ctx context.Context, orderID string, items []domain.ReservationRequest) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin reserve: %w", err)
	}
	defer tx.Rollback()

	claimed := make(map[string]int, len(items))
	for _, item := range items {
		var available int
		err := tx.QueryRowContext(ctx, `SELECT qty FROM inventory WHERE sku = ?`, item.SKU).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			available = 0
		} else if err != nil {
			return fmt.Errorf("sqlite: read stock for %q: %w", item.SKU, err)
		}

		var reserved int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(qty), 0) FROM reservations WHERE sku = ?`, item.SKU,
		).Scan(&reserved); err != nil {
			return fmt.Errorf("sqlite: sum reservations for %q: %w", item.SKU, err)
		}

		if available-reserved-claimed[item.SKU] < item.Quantity {
			return domain.ErrInsufficientStock
		}
		claimed[item.SKU] += item.Quantity
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reservations (order_id, sku, qty) VALUES (?, ?, ?)`,
			orderID, item.SKU, item.Quantity,
		); err != nil {
			return fmt.Errorf("sqlite: insert reservation for %q: %w", item.SKU, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit reserve: %w", err)
	}
	return nil
}

// ReservedQuantities returns sku -> total reserved quantity.
func (b *Backend) ReservedQuantities(ctx context.Context) (map[string]int, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT sku, SUM(qty) FROM reservations GROUP BY sku`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sum reservations: %w", err)
	}
	defer rows.Close()

	reserved := make(map[string]int)
	for rows.Next() {
		var sku string
		var qty int
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, fmt.Errorf("sqlite: scan reservation sum: %w", err)
		}
		reserved[sku] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate reservation sums: %w", err)
	}
	return reserved, nil
}

// Release deletes the order's reservation rows. Deleting zero rows is fine.
func (b *Backend) Release(ctx context.Context, orderID string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM reservations WHERE order_id = ?`, orderID); err != nil {
		return fmt.Errorf("sqlite: release reservations for %q: %w", orderID, err)
	}
	return nil
}

// CreateOrder persists the order skeleton and its line items.
func (b *Backend) CreateOrder(ctx context.Context, order *domain.Order) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin create order: %w", err)
	}
	defer tx.Rollback()

	// The single writer connection makes check-then-insert race-free, and a
	// plain existence check keeps the duplicate case driver-agnostic.
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, order.ID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOrder, order.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: check order %q: %w", order.ID, err)
	}

	payment, err := marshalPayment(order.Payment)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, total, status, created_at, payment) VALUES (?, ?, ?, ?, ?)`,
		order.ID, int64(order.Total), string(order.Status), formatTime(order.CreatedAt), payment,
	); err != nil {
		return fmt.Errorf("sqlite: insert order %q: %w", order.ID, err)
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, sku, qty, price, title) VALUES (?, ?, ?, ?, ?)`,
			order.ID, item.SKU, item.Quantity, int64(item.UnitPrice), item.Title,
		); err != nil {
			return fmt.Errorf("sqlite: insert item %q for order %q: %w", item.SKU, order.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit create order: %w", err)
	}
	return nil
}

// GetOrder returns a single order with its line items.
func (b *Backend) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, total, status, created_at, payment FROM orders WHERE id = ?`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	items, err := b.orderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

// UpdateOrderStatus persists a transition; a nil payment keeps the stored
// metadata as-is.
func (b *Backend) UpdateOrderStatus(ctx context.Context, orderID string, status domain.Status, payment *domain.Payment) error {
	var res sql.Result
	var err error
	if payment != nil {
		raw, merr := marshalPayment(payment)
		if merr != nil {
			return merr
		}
		res, err = b.db.ExecContext(ctx,
			`UPDATE orders SET status = ?, payment = ? WHERE id = ?`, string(status), raw, orderID)
	} else {
		res, err = b.db.ExecContext(ctx,
			`UPDATE orders SET status = ? WHERE id = ?`, string(status), orderID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: update order %q: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return nil
}

// ListOrders returns every order in insertion order.
func (b *Backend) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, total, status, created_at, payment FROM orders ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate orders: %w", err)
	}

	for i := range orders {
		items, err := b.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// Finalize converts the order's reservations into permanent decrements as one
// transaction: decrement inventory, delete the rows, mark the order paid.
func (b *Backend) Finalize(ctx context.Context, orderID string, payment *domain.Payment) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin finalize: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, orderID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: read order %q: %w", orderID, err)
	}
	// Terminal-state guard: a duplicate confirmation event must not decrement
	// inventory again.
	if domain.Status(status) == domain.StatusPaid {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT sku, qty FROM reservations WHERE order_id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("sqlite: read reservations for %q: %w", orderID, err)
	}
	var holds []domain.Reservation
	for rows.Next() {
		r := domain.Reservation{OrderID: orderID}
		if err := rows.Scan(&r.SKU, &r.Quantity); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: scan reservation: %w", err)
		}
		holds = append(holds, r)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("sqlite: iterate reservations: %w", err)
	}

	for _, r := range holds {
		res, err := tx.ExecContext(ctx,
			`UPDATE inventory SET qty = qty - ? WHERE sku = ? AND qty >= ?`,
			r.Quantity, r.SKU, r.Quantity,
		)
		if err != nil {
			return fmt.Errorf("sqlite: decrement %q: %w", r.SKU, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: sku %s would go negative", domain.ErrInvariantViolation, r.SKU)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE order_id = ?`, orderID); err != nil {
		return fmt.Errorf("sqlite: delete reservations for %q: %w", orderID, err)
	}

	raw, err := marshalPayment(payment)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, payment = ? WHERE id = ?`,
		string(domain.StatusPaid), raw, orderID,
	); err != nil {
		return fmt.Errorf("sqlite: mark order %q paid: %w", orderID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit finalize: %w", err)
	}
	return nil
}

func (b *Backend) orderItems(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT sku, qty, price, title FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read items for %q: %w", orderID, err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var it domain.LineItem
		var price int64
		if err := rows.Scan(&it.SKU, &it.Quantity, &price, &it.Title); err != nil {
			return nil, fmt.Errorf("sqlite: scan item: %w", err)
		}
		it.UnitPrice = domain.Cents(price)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var total int64
	var status, createdAt string
	var payment sql.NullString
	if err := row.Scan(&o.ID, &total, &status, &createdAt, &payment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scan order: %w", err)
	}
	o.Total = domain.Cents(total)
	o.Status = domain.Status(status)

	ts, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	o.CreatedAt = ts

	if payment.Valid && payment.String != "" {
		var p domain.Payment
		if err := json.Unmarshal([]byte(payment.String), &p); err != nil {
			return nil, fmt.Errorf("sqlite: decode payment for order %q: %w", o.ID, err)
		}
		o.Payment = &p
	}
	return &o, nil
}

func marshalPayment(p *domain.Payment) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("sqlite: encode payment: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// SQLite has no native datetime type; timestamps are stored as RFC3339 TEXT.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999999Z")
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
