package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jcmexdev/storefront/internal/auth"
	"github.com/jcmexdev/storefront/internal/checkout"
	"github.com/jcmexdev/storefront/internal/httpx"
	"github.com/jcmexdev/storefront/internal/payments"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
	"github.com/jcmexdev/storefront/internal/pkg/telemetry"
	"github.com/jcmexdev/storefront/internal/store"
	"github.com/jcmexdev/storefront/internal/store/snapshot"
	"github.com/jcmexdev/storefront/internal/store/sqlite"
)

// defaultSeed is the demo catalogue loaded on first boot; SeedInventory
// only inserts SKUs that are not already present.
var defaultSeed = map[string]int{
	"p1-s1": 5,
	"p1-s2": 10,
	"p1-s3": 0,
	"p2-s1": 3,
	"p2-s2": 2,
	"p3-s1": 7,
}

func main() {
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "storefront"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	dataDir := getEnv("DATA_DIR", "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "dir", dataDir, "error", err)
		os.Exit(1)
	}

	backend, err := openBackend(getEnv("STORE_BACKEND", "sqlite"), dataDir)
	if err != nil {
		slog.Error("failed to open store backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	if err := backend.SeedInventory(ctx, defaultSeed); err != nil {
		slog.Error("failed to seed inventory", "error", err)
		os.Exit(1)
	}

	users, err := auth.Open(filepath.Join(dataDir, "users.json"))
	if err != nil {
		slog.Error("failed to open user store", "error", err)
		os.Exit(1)
	}

	var provider payments.Provider
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		provider = payments.NewStripeProvider(key)
		slog.Info("payment provider enabled", "provider", provider.Name())
	} else {
		slog.Info("no payment provider configured, orders confirm locally")
	}

	var snapshotCache cache.Cache
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		snapshotCache = cache.NewRedisCache(redisAddr, "storefront")
	}

	service := checkout.NewService(backend, provider, snapshotCache)
	handler := httpx.NewHandler(service, users, os.Getenv("STRIPE_WEBHOOK_SECRET"))
	router := httpx.NewRouter(handler, getEnv("DOCS_DIR", "docs"))

	addr := ":" + getEnv("PORT", "8080")
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("storefront running", "addr", addr, "backend", getEnv("STORE_BACKEND", "sqlite"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
}

func openBackend(kind, dataDir string) (store.Backend, error) {
	switch kind {
	case "snapshot":
		path, err := snapshot.DefaultPath(dataDir)
		if err != nil {
			return nil, err
		}
		return snapshot.Open(path)
	default:
		return sqlite.Open(filepath.Join(dataDir, "storefront.db"))
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
