// Package checkout is the application service of the storefront core. It
// sequences the order lifecycle against the store backend: create the order
// skeleton, reserve stock, then either finalize locally or hand off to an
// external payment provider and finalize when its confirmation arrives.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/storefront/internal/checkout/domain"
	"github.com/jcmexdev/storefront/internal/payments"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
	"github.com/jcmexdev/storefront/internal/store"
)

const (
	// LocalProviderName marks orders confirmed without an external provider.
	LocalProviderName = "local"

	inventoryCacheTTL = 5 * time.Second
)

// Service drives the checkout flow. provider and cache may be nil: a nil
// provider confirms orders locally, a nil cache skips snapshot caching.
type Service struct {
	backend  store.Backend
	provider payments.Provider
	cache    cache.Cache
	tracer   trace.Tracer

	// Injectable for tests.
	now   func() time.Time
	newID func() string
}

// NewService wires the checkout service.
func NewService(backend store.Backend, provider payments.Provider, c cache.Cache) *Service {
	return &Service{
		backend:  backend,
		provider: provider,
		cache:    c,
		tracer:   otel.Tracer("checkout"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Result is the outcome of a checkout session: the order in its final state
// for this request, plus the URL the customer should be sent to (the
// provider's hosted page, or "" for a locally confirmed order).
type Result struct {
	Order       *domain.Order
	RedirectURL string
}

// CheckoutSession runs one checkout attempt end to end.
//
// Exactly one reservation attempt is made; a decline marks the order failed
// and surfaces domain.ErrInsufficientStock. With no provider configured the
// order is finalized immediately (reservations become decrements, status
// paid). With a provider, a hosted session is created and the order waits in
// pending for the webhook.
func (s *Service) CheckoutSession(ctx context.Context, items []domain.LineItem, successURL, cancelURL string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.session")
	defer span.End()

	order, err := domain.NewOrder(s.newID(), items, s.now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	if err := s.backend.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order %s: %w", order.ID, err)
	}

	holds := domain.ReservationsFromItems(items)
	if err := s.backend.Reserve(ctx, order.ID, holds); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.markFailed(ctx, order)
			return nil, err
		}
		return nil, fmt.Errorf("reserve for order %s: %w", order.ID, err)
	}

	if len(holds) > 0 {
		if err := s.transition(ctx, order, domain.StatusReserved, nil); err != nil {
			return nil, err
		}
	}
	slog.InfoContext(ctx, "stock reserved", "order_id", order.ID, "items", len(holds))

	if s.provider != nil {
		return s.startProviderSession(ctx, order, successURL, cancelURL)
	}

	// No external provider: confirm and decrement right away.
	payment := &domain.Payment{
		Provider:   LocalProviderName,
		ReceivedAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.finalize(ctx, order.ID, payment); err != nil {
		return nil, err
	}
	order.Status = domain.StatusPaid
	order.Payment = payment

	slog.InfoContext(ctx, "order confirmed locally", "order_id", order.ID, "total_cents", int64(order.Total))
	return &Result{Order: order}, nil
}

func (s *Service) startProviderSession(ctx context.Context, order *domain.Order, successURL, cancelURL string) (*Result, error) {
	session, err := s.provider.CreateSession(ctx, order, successURL, cancelURL)
	if err != nil {
		// The session never existed, so the holds cannot be paid for.
		// Give them back instead of stranding the order in reserved.
		slog.ErrorContext(ctx, "provider session failed, releasing holds",
			"order_id", order.ID, "provider", s.provider.Name(), "error", err)
		if relErr := s.ReleaseOrder(ctx, order.ID); relErr != nil {
			slog.ErrorContext(ctx, "release after provider failure also failed",
				"order_id", order.ID, "error", relErr)
		}
		return nil, fmt.Errorf("create %s session for order %s: %w", s.provider.Name(), order.ID, err)
	}

	payment := &domain.Payment{Provider: s.provider.Name(), SessionID: session.ID}
	if err := s.transition(ctx, order, domain.StatusPending, payment); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "payment session created",
		"order_id", order.ID, "provider", s.provider.Name(), "session_id", session.ID)
	return &Result{Order: order, RedirectURL: session.URL}, nil
}

// CreateOrder persists a caller-supplied order without touching stock. Used
// by the plain order-creation endpoint.
func (s *Service) CreateOrder(ctx context.Context, id string, items []domain.LineItem) (*domain.Order, error) {
	if id == "" {
		id = s.newID()
	}
	order, err := domain.NewOrder(id, items, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.backend.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ConfirmPayment finalizes an order after an out-of-band confirmation (the
// payment webhook). Duplicate confirmations are no-ops via the backend's
// terminal-state guard.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, payment *domain.Payment) error {
	ctx, span := s.tracer.Start(ctx, "checkout.confirm_payment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	if err := s.finalize(ctx, orderID, payment); err != nil {
		return err
	}
	slog.InfoContext(ctx, "order marked paid", "order_id", orderID, "provider", providerName(payment))
	return nil
}

// finalize funnels every inventory decrement through one place so an
// invariant breach is always logged as critical before it propagates.
func (s *Service) finalize(ctx context.Context, orderID string, payment *domain.Payment) error {
	err := s.backend.Finalize(ctx, orderID, payment)
	if errors.Is(err, domain.ErrInvariantViolation) {
		slog.ErrorContext(ctx, "CRITICAL: finalize would drive inventory negative; reservation check was bypassed upstream",
			"order_id", orderID, "error", err)
		return err
	}
	if err != nil {
		return fmt.Errorf("finalize order %s: %w", orderID, err)
	}
	s.invalidateSnapshot(ctx)
	return nil
}

// ReleaseOrder idempotently gives back the order's holds and, when the order
// exists in a releasable state, marks it released. Releasing an unknown
// order or one with no holds is a no-op.
func (s *Service) ReleaseOrder(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "checkout.release")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	if err := s.backend.Release(ctx, orderID); err != nil {
		return fmt.Errorf("release order %s: %w", orderID, err)
	}

	order, err := s.backend.GetOrder(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s after release: %w", orderID, err)
	}
	if domain.CanTransition(order.Status, domain.StatusReleased) {
		if err := s.backend.UpdateOrderStatus(ctx, orderID, domain.StatusReleased, nil); err != nil {
			return fmt.Errorf("mark order %s released: %w", orderID, err)
		}
	}
	slog.InfoContext(ctx, "reservations released", "order_id", orderID)
	return nil
}

// ListOrders returns all orders in creation order.
func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.backend.ListOrders(ctx)
}

// GetOrder returns one order.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.backend.GetOrder(ctx, orderID)
}

// InventorySnapshot returns the display view of stock, read through the
// cache when one is configured. Cache failures degrade to a direct read.
func (s *Service) InventorySnapshot(ctx context.Context) (map[string]int, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, s.snapshotKey()); err == nil && raw != "" {
			var snapshot map[string]int
			if err := json.Unmarshal([]byte(raw), &snapshot); err == nil {
				return snapshot, nil
			}
		}
	}

	snapshot, err := s.backend.InventorySnapshot(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(snapshot); err == nil {
			if err := s.cache.Set(ctx, s.snapshotKey(), string(raw), inventoryCacheTTL); err != nil {
				slog.WarnContext(ctx, "snapshot cache write failed", "error", err)
			}
		}
	}
	return snapshot, nil
}

// ReservedQuantities exposes the ledger totals for the inventory debug view.
func (s *Service) ReservedQuantities(ctx context.Context) (map[string]int, error) {
	return s.backend.ReservedQuantities(ctx)
}

func (s *Service) markFailed(ctx context.Context, order *domain.Order) {
	if err := s.transition(ctx, order, domain.StatusFailed, nil); err != nil {
		slog.ErrorContext(ctx, "could not mark order failed", "order_id", order.ID, "error", err)
	}
	slog.InfoContext(ctx, "reservation declined", "order_id", order.ID)
}

// transition applies a state-machine move to the in-memory order and
// persists it.
func (s *Service) transition(ctx context.Context, order *domain.Order, to domain.Status, payment *domain.Payment) error {
	if err := order.Transition(to, payment); err != nil {
		return err
	}
	if err := s.backend.UpdateOrderStatus(ctx, order.ID, to, payment); err != nil {
		return fmt.Errorf("persist %s for order %s: %w", to, order.ID, err)
	}
	return nil
}

func (s *Service) invalidateSnapshot(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.snapshotKey()); err != nil {
		slog.WarnContext(ctx, "snapshot cache invalidation failed", "error", err)
	}
}

func (s *Service) snapshotKey() string {
	return s.cache.GenerateKey("inventory", "snapshot")
}

func providerName(p *domain.Payment) string {
	if p == nil {
		return ""
	}
	return p.Provider
}
