// Package middlewares holds the HTTP middleware shared by the storefront
// routes.
package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"log/slog"
)

// Observe wraps every request in an OpenTelemetry span and emits one
// structured access log line on completion. The chi request id is attached
// to both, so a log line, a trace, and a response header all correlate.
func Observe(next http.Handler) http.Handler {
	tracer := otel.Tracer("httpx")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		requestID := middleware.GetReqID(ctx)
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
			attribute.String("request.id", requestID),
		)
		w.Header().Set("X-Request-Id", requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		slog.InfoContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", fmt.Sprintf("%.1fms", float64(time.Since(start).Microseconds())/1000),
			"request_id", requestID,
		)
	})
}
