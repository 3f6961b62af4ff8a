package api

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/coursepay/payments/internal/api/handlers"
	"github.com/coursepay/payments/internal/auth"
	"github.com/coursepay/payments/internal/config"
	"github.com/coursepay/payments/internal/csrf"
	"github.com/coursepay/payments/internal/metrics"
	"github.com/coursepay/payments/internal/middleware"
	"github.com/coursepay/payments/internal/ratelimit"
	"github.com/coursepay/payments/internal/services"
)

type RouterDeps struct {
	Cfg            config.Config
	Log            *slog.Logger
	Tokens         *auth.TokenManager
	Limiter        *ratelimit.Limiter
	CSRF           *csrf.Guard
	Payments       *services.PaymentService
	Refunds        *services.RefundService
	Webhooks       *services.WebhookService
	Reconciliation *services.ReconciliationService
	Config         *services.ConfigService
	Monitoring     *services.MonitoringService
}

// corsOptions sends credentials only to an explicit origin list, never
// alongside the "*" wildcard.
func corsOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", csrf.HeaderName},
		AllowCredentials: !slices.Contains(origins, "*"),
	}
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics)
	r.Use(cors.Handler(corsOptions(d.Cfg.CORSOrigins)))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	authn := middleware.NewAuthMiddleware(d.Tokens, d.Cfg.Env)
	csrfOnly := middleware.RequireAuthentic(d.CSRF, d.Log)
	limit := func(cat ratelimit.Category, key middleware.KeyFunc) func(http.Handler) http.Handler {
		return middleware.RateLimit(d.Limiter, cat, key)
	}

	pay := handlers.NewPaymentHandler(d.Payments, d.CSRF)
	hooks := handlers.NewWebhookHandler(d.Webhooks)
	admin := handlers.NewAdminHandler(d.Refunds, d.Config)
	recon := handlers.NewReconciliationHandler(d.Reconciliation)
	mon := handlers.NewMonitoringHandler(d.Monitoring)

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- gateway -> biz (imza ile doğrulanır, CSRF yok) ----------
		r.Get("/payment/callback", hooks.Callback)
		r.Post("/payment/webhook", hooks.Webhook)

		// ---------- payment ----------
		r.Group(func(r chi.Router) {
			r.Use(authn.Auth)

			r.Get("/payment/csrf-token", pay.CSRFToken)
			r.With(limit(ratelimit.PaymentInitiate, middleware.ByUser), csrfOnly).
				Post("/payment/initiate", pay.Initiate)
			r.With(limit(ratelimit.StatusCheck, middleware.ByUser)).
				Get("/payment/status/{transactionId}", pay.Status)
			r.With(limit(ratelimit.PaymentRetry, middleware.ByURLParam("transactionId"))).
				Post("/payment/retry/{transactionId}", pay.Retry)
			r.With(limit(ratelimit.History, middleware.ByUser)).
				Get("/payment/history", pay.History)
		})

		// ---------- admin ----------
		r.Route("/admin", func(r chi.Router) {
			r.Use(authn.Auth, middleware.RequireRole(auth.RoleAdmin))

			r.With(limit(ratelimit.Refund, middleware.ByUser), csrfOnly).
				Post("/payment/refund", admin.Refund)
			r.With(limit(ratelimit.Config, middleware.ByUser)).
				Get("/payment/config", admin.GetConfig)
			r.With(limit(ratelimit.Config, middleware.ByUser), csrfOnly).
				Put("/payment/config", admin.PutConfig)

			r.With(limit(ratelimit.ReconciliationRun, middleware.Global)).
				Post("/reconciliation/run", recon.Run)
			r.Get("/reconciliation", recon.List)
			r.Post("/reconciliation/resolve", recon.Resolve)
			r.Get("/reconciliation/{id}", recon.Get)
			r.Get("/reconciliation/{id}/export", recon.Export)

			r.Group(func(r chi.Router) {
				r.Use(limit(ratelimit.Monitoring, middleware.ByUser))
				r.Get("/monitoring/health", mon.Health)
				r.Get("/monitoring/metrics", mon.Metrics)
				r.Get("/monitoring/alerts", mon.Alerts)
			})
		})
	})

	return r
}
