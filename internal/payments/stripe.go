package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jcmexdev/storefront/internal/checkout/domain"
)

const stripeAPIBase = "https://api.stripe.com/v1"

// StripeProvider creates hosted Checkout Sessions against the Stripe API.
// It talks the form-encoded REST surface directly; only the session-create
// call is needed so a full SDK would be dead weight.
type StripeProvider struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// NewStripeProvider builds a provider authenticated with the given secret
// key (sk_test_... / sk_live_...).
func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{
		secretKey: secretKey,
		baseURL:   stripeAPIBase,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreateSession(ctx context.Context, order *domain.Order, successURL, cancelURL string) (*Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("metadata[orderId]", order.ID)

	for i, item := range order.Items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		name := item.Title
		if name == "" {
			name = item.SKU
		}
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
		form.Set(prefix+"[price_data][currency]", "usd")
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(int64(item.UnitPrice), 10))
		form.Set(prefix+"[price_data][product_data][name]", name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("payments: build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: create checkout session: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("payments: read session response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payments: provider returned %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("payments: decode session response: %w", err)
	}
	return &Session{ID: session.ID, URL: session.URL}, nil
}
