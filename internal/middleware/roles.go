package middleware

import (
	"net/http"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/apperr"
)

// RequireRole wraps a handler and allows only the given role.
func RequireRole(need string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := FromCtx(r.Context())
			if !ok {
				httpx.WriteAppError(w, apperr.Unauthenticated("authentication required"))
				return
			}
			if u.Role != need {
				httpx.WriteAppError(w, apperr.Forbidden(need+" role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
