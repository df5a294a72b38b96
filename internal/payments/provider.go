// Package payments defines the payment-provider boundary of the checkout
// core. The core never speaks a provider protocol itself: it asks a Provider
// for a hosted checkout session and later receives an out-of-band
// confirmation through the webhook types in this package.
package payments

import (
	"context"

	"github.com/jcmexdev/storefront/internal/checkout/domain"
)

// Session is a hosted checkout session created by an external provider. The
// customer is redirected to URL; the provider reports the outcome later via
// webhook, carrying the order id in the session metadata.
type Session struct {
	ID  string
	URL string
}

// Provider creates hosted checkout sessions. A nil Provider in the checkout
// service means no external provider is configured and orders are confirmed
// locally at checkout time.
type Provider interface {
	// Name identifies the provider in payment metadata (e.g. "stripe").
	Name() string

	// CreateSession starts a hosted checkout for the order. The order id
	// must travel in the session metadata so the webhook can reconcile it.
	CreateSession(ctx context.Context, order *domain.Order, successURL, cancelURL string) (*Session, error)
}
