package middleware

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/ratelimit"
)

// KeyFunc picks the subject a request is counted against.
type KeyFunc func(r *http.Request) string

// ByUser counts per authenticated user and falls back to the client IP.
func ByUser(r *http.Request) string {
	if u, ok := FromCtx(r.Context()); ok {
		return "user:" + u.UserID
	}
	return "ip:" + clientIP(r)
}

// ByURLParam counts per route parameter, e.g. the transaction id.
func ByURLParam(name string) KeyFunc {
	return func(r *http.Request) string { return name + ":" + chi.URLParam(r, name) }
}

// Global counts every request against one shared key.
func Global(*http.Request) string { return ratelimit.GlobalKey }

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func RateLimit(l *ratelimit.Limiter, cat ratelimit.Category, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), cat, key(r))
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			if !d.Allowed {
				httpx.WriteAppError(w, apperr.RateLimited(d.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
