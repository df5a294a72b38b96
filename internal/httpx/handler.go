package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/storefront/internal/auth"
	"github.com/jcmexdev/storefront/internal/checkout"
	"github.com/jcmexdev/storefront/internal/checkout/domain"
	"github.com/jcmexdev/storefront/internal/payments"
)

// Handler is the HTTP edge of the storefront. It owns no business state: it
// decodes requests, calls the checkout service or auth store, and maps the
// domain error taxonomy onto status codes.
type Handler struct {
	service *checkout.Service
	users   *auth.Store

	// webhookSecret enables signature verification on the payment webhook.
	// Empty means deliveries are logged and acknowledged but not acted on.
	webhookSecret string

	now func() time.Time
}

// NewHandler wires the HTTP handlers.
func NewHandler(service *checkout.Service, users *auth.Store, webhookSecret string) *Handler {
	return &Handler{
		service:       service,
		users:         users,
		webhookSecret: webhookSecret,
		now:           time.Now,
	}
}

// Signup registers an account and returns a demo bearer token.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_email_or_password", "")
		return
	}

	token, err := h.users.Signup(req.Name, req.Email, req.Password)
	if errors.Is(err, auth.ErrUserExists) {
		writeError(w, http.StatusConflict, "user_exists", "")
		return
	}
	if err != nil {
		h.serverError(w, r, "signup failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{Token: token})
}

// Login validates credentials and returns a token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_email_or_password", "")
		return
	}

	token, err := h.users.Login(req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "")
		return
	}
	if err != nil {
		h.serverError(w, r, "login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

// CheckoutSession runs one checkout attempt: order creation, reservation,
// then the local or provider-hosted payment path.
func (h *Handler) CheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "missing_items", "")
		return
	}

	result, err := h.service.CheckoutSession(r.Context(), toDomainItems(req.Items), req.SuccessURL, req.CancelURL)
	if errors.Is(err, domain.ErrInsufficientStock) {
		writeError(w, http.StatusConflict, "insufficient_stock", "")
		return
	}
	if err != nil {
		h.serverError(w, r, "checkout failed", err)
		return
	}

	url := result.RedirectURL
	if url == "" {
		// Locally confirmed order: send the customer straight to the
		// confirmation page.
		url = confirmationURL(r, result.Order.ID)
	}
	writeJSON(w, http.StatusOK, CheckoutResponse{URL: url, OrderID: result.Order.ID})
}

// CreateOrder persists an order without reserving stock.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "missing_items", "")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req.ID, toDomainItems(req.Items))
	if errors.Is(err, domain.ErrDuplicateOrder) {
		writeError(w, http.StatusConflict, "duplicate_order", "")
		return
	}
	if err != nil {
		h.serverError(w, r, "order creation failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapOrderToResponse(order))
}

// GetOrder returns a single order by id.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, err := h.service.GetOrder(r.Context(), orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "order_not_found", "")
		return
	}
	if err != nil {
		h.serverError(w, r, "order lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

// ListOrders returns every order with decimal totals.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		h.serverError(w, r, "listing orders failed", err)
		return
	}

	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, mapOrderToResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// Inventory returns the stock snapshot plus current reservation totals.
func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.InventorySnapshot(r.Context())
	if err != nil {
		h.serverError(w, r, "inventory snapshot failed", err)
		return
	}
	reserved, err := h.service.ReservedQuantities(r.Context())
	if err != nil {
		h.serverError(w, r, "reservation totals failed", err)
		return
	}
	writeJSON(w, http.StatusOK, InventoryResponse{Inventory: snapshot, Reserved: reserved})
}

// ReleaseReservations idempotently gives back an order's holds.
func (h *Handler) ReleaseReservations(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "missing_orderId", "")
		return
	}

	if err := h.service.ReleaseOrder(r.Context(), req.OrderID); err != nil {
		h.serverError(w, r, "release failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseResponse{Released: true})
}

// PaymentWebhook receives out-of-band payment confirmations. The body is
// read raw because the signature covers the exact bytes on the wire.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable_body", err.Error())
		return
	}

	if h.webhookSecret == "" {
		// No verification configured: acknowledge and log, act on nothing.
		slog.InfoContext(r.Context(), "webhook received without verification configured", "bytes", len(payload))
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if err := payments.VerifySignature(payload, signature, h.webhookSecret, h.now()); err != nil {
		slog.WarnContext(r.Context(), "webhook signature rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid_signature", err.Error())
		return
	}

	event, err := payments.ParseEvent(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}
	slog.InfoContext(r.Context(), "webhook event received", "type", event.Type)

	if event.Type == payments.EventCheckoutCompleted {
		orderID := event.OrderID()
		if orderID == "" {
			slog.WarnContext(r.Context(), "completed session without order id", "session_id", event.Data.Object.ID)
		} else {
			payment := &domain.Payment{
				Provider:   "stripe",
				SessionID:  event.Data.Object.ID,
				ReceivedAt: h.now().UTC().Format(time.RFC3339),
			}
			if err := h.service.ConfirmPayment(r.Context(), orderID, payment); err != nil {
				// Acknowledged regardless: the provider retries on non-2xx
				// and a confirmed charge must not bounce forever. The error
				// is already logged with full context by the service.
				slog.ErrorContext(r.Context(), "webhook confirmation failed", "order_id", orderID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.ErrorContext(r.Context(), msg, "error", err)
	status := http.StatusInternalServerError
	code := "internal_error"
	if errors.Is(err, domain.ErrBackendUnavailable) {
		status = http.StatusServiceUnavailable
		code = "backend_unavailable"
	}
	writeError(w, status, code, "")
}

func confirmationURL(r *http.Request, orderID string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/checkout/confirmation?order=" + orderID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
