package httpx

import (
	"github.com/jcmexdev/storefront/internal/checkout/domain"
)

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type CheckoutRequest struct {
	Items      []LineItemDTO `json:"items"`
	SuccessURL string        `json:"successUrl"`
	CancelURL  string        `json:"cancelUrl"`
}

type LineItemDTO struct {
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Title    string  `json:"title"`
}

type CheckoutResponse struct {
	URL     string `json:"url"`
	OrderID string `json:"orderId"`
}

type CreateOrderRequest struct {
	ID    string        `json:"id"`
	Items []LineItemDTO `json:"items"`
}

type OrderResponse struct {
	ID        string          `json:"id"`
	Items     []LineItemDTO   `json:"items"`
	Total     float64         `json:"total"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
	Payment   *domain.Payment `json:"payment,omitempty"`
}

type InventoryResponse struct {
	Inventory map[string]int `json:"inventory"`
	Reserved  map[string]int `json:"reserved"`
}

type ReleaseRequest struct {
	OrderID string `json:"orderId"`
}

type ReleaseResponse struct {
	Released bool `json:"released"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func toDomainItems(items []LineItemDTO) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		qty := it.Quantity
		if qty == 0 {
			qty = 1
		}
		out = append(out, domain.LineItem{
			SKU:       it.SKU,
			Quantity:  qty,
			UnitPrice: domain.CentsFromFloat(it.Price),
			Title:     it.Title,
		})
	}
	return out
}

func mapOrderToResponse(order *domain.Order) OrderResponse {
	res := OrderResponse{
		ID:        order.ID,
		Total:     order.Total.Float64(),
		Status:    order.Status.String(),
		CreatedAt: order.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		Payment:   order.Payment,
	}
	for _, it := range order.Items {
		res.Items = append(res.Items, LineItemDTO{
			SKU:      it.SKU,
			Quantity: it.Quantity,
			Price:    it.UnitPrice.Float64(),
			Title:    it.Title,
		})
	}
	return res
}
