package api

import (
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/madaxer/devopsAgent/pkg/limiter"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// RequestID echoes the caller's X-Request-ID or assigns a fresh one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces policy per client IP using store. A store failure
// rejects the request with 503.
func RateLimit(store limiter.Store, policy limiter.Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	retryAfter := 1
	if policy.RPS > 0 && policy.RPS < 1 {
		retryAfter = int(math.Ceil(1 / policy.RPS))
	}

	return func(next http.Handler) http.Handler {
		if !policy.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := limiter.Check(r.Context(), store, "ip:"+clientIP(r), policy)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, limiter.ErrRateLimited):
				WriteTooManyRequests(w, r, retryAfter)
			default:
				logger.ErrorContext(r.Context(), "rate limiter unavailable", "error", err)
				WriteError(w, r, http.StatusServiceUnavailable, CodeLimiterDegraded,
					"Rate limiter unavailable. Try again later.")
			}
		})
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
