package middleware

import (
	"log/slog"
	"net/http"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/logger"
	"github.com/coursepay/payments/internal/metrics"
)

// RequestAuthenticity proves a browser request originated from our own page.
// Gateway notifications use signatures instead and never pass through here.
type RequestAuthenticity interface {
	Verify(r *http.Request) error
}

func RequireAuthentic(a RequestAuthenticity, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.Verify(r); err != nil {
				metrics.CsrfFailures.Inc()
				logger.Security(log, "csrf validation failed", "method", r.Method, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()))
				httpx.WriteAppError(w, apperr.Csrf())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
