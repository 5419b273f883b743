package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/branch-transactions/internal/api/problem"
	"github.com/go-chi/httprate"
)

func limitExceeded(detail string) httprate.Option {
	return httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests), detail)
	})
}

// PublicRateLimiter limits unauthenticated routes per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		limitExceeded(fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps)),
	)
}

// AuthRateLimiter limits authenticated routes per user, falling back to the IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(userKey),
		limitExceeded(fmt.Sprintf("Rate limit of %d req/s exceeded for this user", rps)),
	)
}

// OTPRateLimiter caps OTP sends per user and route per minute. It sits on top
// of the per-session resend cooldown so parallel wizards cannot flood the
// SMS gateway.
func OTPRateLimiter(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(userKey, httprate.KeyByEndpoint),
		limitExceeded(fmt.Sprintf("No more than %d OTP requests per minute", perMinute)),
	)
}

func userKey(r *http.Request) (string, error) {
	if userID := UserIDFromContext(r.Context()); userID != "" {
		return userID, nil
	}
	return httprate.KeyByIP(r)
}
