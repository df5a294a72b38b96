package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an order.
type Status string

const (
	// StatusCreated is the initial state: the order skeleton is persisted but
	// no stock is held for it yet.
	StatusCreated Status = "created"
	// StatusReserved means every line item has a reservation row behind it.
	StatusReserved Status = "reserved"
	// StatusPending means an external payment session exists and the order is
	// waiting for the provider's confirmation event.
	StatusPending Status = "pending"
	// StatusPaid is terminal: reservations were converted into permanent
	// inventory decrements.
	StatusPaid Status = "paid"
	// StatusReleased is terminal: the holds were given back without payment.
	StatusReleased Status = "released"
	// StatusFailed is terminal: the reservation was declined.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusReleased || s == StatusFailed
}

func (s Status) String() string { return string(s) }

// transitions is the order state machine. An order is never deleted, only
// moved along these edges.
var transitions = map[Status][]Status{
	StatusCreated:  {StatusReserved, StatusFailed},
	StatusReserved: {StatusPending, StatusPaid, StatusReleased},
	StatusPending:  {StatusPaid, StatusReleased},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LineItem is a single purchasable row of an order.
type LineItem struct {
	SKU       string
	Quantity  int
	UnitPrice Cents
	Title     string
}

// Subtotal returns quantity times unit price.
func (i LineItem) Subtotal() Cents {
	return Cents(int64(i.Quantity)) * i.UnitPrice
}

// Payment is the provider metadata attached to an order once a payment
// session exists or the order is paid. Stored serialized alongside the order.
type Payment struct {
	Provider   string `json:"provider"`
	SessionID  string `json:"session_id,omitempty"`
	ReceivedAt string `json:"received_at,omitempty"`
}

// Order is the aggregate root for a single checkout attempt.
type Order struct {
	ID        string
	Items     []LineItem
	Total     Cents
	Status    Status
	CreatedAt time.Time
	Payment   *Payment
}

// NewOrder builds an order in the created state with its total computed from
// the line items.
func NewOrder(id string, items []LineItem, now time.Time) (*Order, error) {
	if id == "" {
		return nil, fmt.Errorf("order id must not be empty")
	}
	for _, it := range items {
		if it.SKU == "" {
			return nil, fmt.Errorf("line item without sku")
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("line item %s: quantity must be positive", it.SKU)
		}
	}
	o := &Order{
		ID:        id,
		Items:     items,
		Status:    StatusCreated,
		CreatedAt: now.UTC(),
	}
	for _, it := range items {
		o.Total += it.Subtotal()
	}
	return o, nil
}

// Transition moves the order to the given status, enforcing the state
// machine. The payment metadata, when non-nil, replaces the stored one.
func (o *Order) Transition(to Status, payment *Payment) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	if payment != nil {
		o.Payment = payment
	}
	return nil
}
