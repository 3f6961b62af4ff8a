// internal/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/auth"
)

type userKey struct{}

type UserCtx struct {
	UserID string
	Role   string
}

func (u UserCtx) IsAdmin() bool { return u.Role == auth.RoleAdmin }

func WithUser(ctx context.Context, u UserCtx) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func FromCtx(ctx context.Context) (UserCtx, bool) {
	u, ok := ctx.Value(userKey{}).(UserCtx)
	return u, ok && u.UserID != ""
}

type AuthMiddleware struct {
	TM     *auth.TokenManager
	AppEnv string
}

func NewAuthMiddleware(tm *auth.TokenManager, appEnv string) *AuthMiddleware {
	return &AuthMiddleware{TM: tm, AppEnv: appEnv}
}

// DEV: Bearer dev-<id> | PROD/DEV: Bearer <JWT>
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			httpx.WriteAppError(w, apperr.Unauthenticated("missing bearer token"))
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])

		if m.AppEnv == "dev" && strings.HasPrefix(token, "dev-") {
			uid := strings.TrimPrefix(token, "dev-")
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), UserCtx{UserID: uid, Role: auth.RoleUser})))
			return
		}

		claims, err := m.TM.Parse(token)
		if err != nil {
			httpx.WriteAppError(w, apperr.Unauthenticated("invalid access token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), UserCtx{UserID: claims.UserID, Role: claims.Role})))
	})
}

// Session identifies the caller for CSRF binding: the user id when
// authenticated, otherwise empty.
func Session(r *http.Request) string {
	u, _ := FromCtx(r.Context())
	return u.UserID
}
