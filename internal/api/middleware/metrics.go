package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/branch-transactions/internal/observability"
	"github.com/go-chi/chi/v5"
)

const unmatchedRoute = "unmatched"

// MetricsMiddleware records request durations by chi route pattern, so wizard
// and voucher ids never become label values. Idempotent replays are labelled
// apart from first executions.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		replayed := rw.Header().Get("X-Idempotent-Replay") != ""
		observability.ObserveHTTP(r.Method, metricsRoute(r), rw.status, replayed, time.Since(start))
	})
}

func metricsRoute(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

// routePattern is the log and span name form; unmatched requests keep their path.
func routePattern(r *http.Request) string {
	if route := metricsRoute(r); route != unmatchedRoute {
		return route
	}
	return r.URL.Path
}
