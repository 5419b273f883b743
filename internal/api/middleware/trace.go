package middleware

import (
	"context"
	"net/http"

	"github.com/ayo6706/branch-transactions/internal/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// TraceMiddleware tags each request with an X-Trace-ID and opens a server span
// continuing any incoming W3C trace context.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := observability.StartSpan(ctx, r.Method+" "+r.URL.Path,
			attribute.String("branch.trace_id", traceID))
		defer span.End()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(rw, r.WithContext(contextWithTraceID(ctx, traceID)))

		span.SetName(r.Method + " " + routePattern(r))
		span.SetAttributes(attribute.Int(observability.AttrHTTPStatus, rw.status))
	})
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
