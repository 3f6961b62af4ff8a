package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coursepay/payments/internal/auth"
	"github.com/coursepay/payments/internal/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

func TestAuth(t *testing.T) {
	tm := auth.NewTokenManager("secret", "coursepay", time.Minute)
	good, _, _ := tm.Generate("u1", auth.RoleUser)

	tests := []struct {
		name   string
		env    string
		header string
		want   int
	}{
		{"missing", "prod", "", http.StatusUnauthorized},
		{"not bearer", "prod", "Basic abc", http.StatusUnauthorized},
		{"garbage", "prod", "Bearer nope", http.StatusUnauthorized},
		{"valid", "prod", "Bearer " + good, http.StatusNoContent},
		{"dev token in prod", "prod", "Bearer dev-u1", http.StatusUnauthorized},
		{"dev token in dev", "dev", "Bearer dev-u1", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthMiddleware(tm, tt.env).Auth(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d; want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(auth.RoleAdmin)(okHandler)
	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"anonymous", context.Background(), http.StatusUnauthorized},
		{"user", WithUser(context.Background(), UserCtx{UserID: "u1", Role: auth.RoleUser}), http.StatusForbidden},
		{"admin", WithUser(context.Background(), UserCtx{UserID: "a1", Role: auth.RoleAdmin}), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tt.ctx))
			if rec.Code != tt.want {
				t.Fatalf("status = %d; want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRateLimitWritesRetryAfter(t *testing.T) {
	l := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.WithRules(map[ratelimit.Category]ratelimit.Rule{
		ratelimit.StatusCheck: {Window: time.Minute, Quota: 2},
	}))
	h := RateLimit(l, ratelimit.StatusCheck, ByUser)(okHandler)
	ctx := WithUser(context.Background(), UserCtx{UserID: "u1", Role: auth.RoleUser})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("status=%d retry-after=%q", rec.Code, rec.Header().Get("Retry-After"))
	}

	// another user has its own window
	other := WithUser(context.Background(), UserCtx{UserID: "u2", Role: auth.RoleUser})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(other))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("u2 status = %d", rec.Code)
	}
}

type denyAll struct{}

func (denyAll) Verify(*http.Request) error { return errors.New("mismatch") }

func TestRequireAuthentic(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireAuthentic(denyAll{}, quiet())(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); !contains(body, "CSRF_VALIDATION_FAILED") || contains(body, "mismatch") {
		t.Fatalf("body = %s", body)
	}
}

func TestRecover(t *testing.T) {
	rec := httptest.NewRecorder()
	Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = RequestIDFrom(r.Context()) }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func contains(s, sub string) bool { return strings.Contains(s, sub) }
