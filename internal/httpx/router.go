package httpx

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/storefront/internal/httpx/middlewares"
)

// NewRouter assembles the storefront's routes. docsDir, when it exists,
// is served under /docs with the OpenAPI document exposed at /openapi.yaml.
func NewRouter(handler *Handler, docsDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.Observe)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/signup", handler.Signup)
		r.Post("/login", handler.Login)
		r.Post("/checkout/session", handler.CheckoutSession)
		r.Post("/orders", handler.CreateOrder)
		r.Get("/orders", handler.ListOrders)
		r.Get("/orders/{orderID}", handler.GetOrder)
		r.Get("/inventory", handler.Inventory)
		r.Post("/reservations/release", handler.ReleaseReservations)
		r.Post("/webhooks/payment", handler.PaymentWebhook)
	})

	mountDocs(r, docsDir)
	return r
}

func mountDocs(r chi.Router, docsDir string) {
	if docsDir == "" {
		return
	}
	if info, err := os.Stat(docsDir); err != nil || !info.IsDir() {
		return
	}

	fileServer := http.StripPrefix("/docs", http.FileServer(http.Dir(docsDir)))
	r.Get("/docs/*", fileServer.ServeHTTP)

	openapi := filepath.Join(docsDir, "openapi.yaml")
	if _, err := os.Stat(openapi); err == nil {
		r.Get("/openapi.yaml", func(w http.ResponseWriter, req *http.Request) {
			http.ServeFile(w, req, openapi)
		})
	}
}
