package domain

import "errors"

// Sentinel errors returned by the store backends and the checkout service.
// Expected business outcomes (a declined reservation, a duplicate order id)
// are returned as typed errors so callers can branch with errors.Is; they are
// never panics.
var (
	// ErrInsufficientStock means a reserve request was declined because at
	// least one SKU did not have enough unreserved stock. The whole request
	// is declined; no partial reservation is left behind.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicateOrder means an order with the same id already exists.
	ErrDuplicateOrder = errors.New("duplicate order id")

	// ErrOrderNotFound means the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvariantViolation means finalizing an order would have driven an
	// inventory quantity below zero. This is never a user error: it means a
	// reservation was admitted that the check should have declined. Callers
	// must log it as critical, not absorb it.
	ErrInvariantViolation = errors.New("inventory invariant violated")

	// ErrBackendUnavailable means the underlying store could not be reached.
	// Surfaced to clients as a transient server error.
	ErrBackendUnavailable = errors.New("store backend unavailable")

	// ErrInvalidTransition means a requested status change is not allowed by
	// the order state machine.
	ErrInvalidTransition = errors.New("invalid order status transition")
)
