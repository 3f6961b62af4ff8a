// Package app assembles the ledger from configuration. Both the HTTP server
// and the operator CLI start from here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coursepay/payments/internal/auth"
	"github.com/coursepay/payments/internal/catalog"
	"github.com/coursepay/payments/internal/config"
	"github.com/coursepay/payments/internal/csrf"
	"github.com/coursepay/payments/internal/db"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/lock"
	"github.com/coursepay/payments/internal/middleware"
	"github.com/coursepay/payments/internal/notify"
	"github.com/coursepay/payments/internal/ratelimit"
	repo "github.com/coursepay/payments/internal/repository"
	"github.com/coursepay/payments/internal/repository/embedded"
	"github.com/coursepay/payments/internal/repository/postgres"
	"github.com/coursepay/payments/internal/services"
	"github.com/coursepay/payments/internal/worker"
)

const (
	lockTTL         = 30 * time.Second
	limiterDeadline = 150 * time.Millisecond
	// gateway calls made under a transaction lock finish before it expires
	refundBudget    = lockTTL - 10*time.Second
)

type App struct {
	Cfg   config.Config
	Log   *slog.Logger
	Repos repo.Repositories
	Pool  *worker.Pool

	Tokens    *auth.TokenManager
	TwoFactor *auth.TwoFactor
	Limiter   *ratelimit.Limiter
	CSRF      *csrf.Guard

	Payments       *services.PaymentService
	Refunds        *services.RefundService
	Webhooks       *services.WebhookService
	Reconciliation *services.ReconciliationService
	Config         *services.ConfigService
	Monitoring     *services.MonitoringService

	closers []func()
}

// OpenStore picks the ledger store by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repo.Repositories, func(), error) {
	switch cfg.StoreDriver {
	case "bolt":
		s, err := embedded.Open(cfg.BoltPath)
		if err != nil {
			return repo.Repositories{}, nil, fmt.Errorf("open bolt: %w", err)
		}
		return s.Repositories(), func() { _ = s.Close() }, nil
	case "postgres", "":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return repo.Repositories{}, nil, fmt.Errorf("db connect: %w", err)
		}
		if cfg.Migrate {
			applied, err := db.RunMigrations(ctx, pool)
			if err != nil {
				pool.Close()
				return repo.Repositories{}, nil, fmt.Errorf("migrations: %w", err)
			}
			log.Info("migrations applied", "count", len(applied))
		}
		return postgres.NewRepositories(pool), pool.Close, nil
	default:
		return repo.Repositories{}, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	repos, closeStore, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	a.Repos = repos

	a.Pool = worker.NewPool(cfg.Workers, log)
	a.closers = append(a.closers, a.Pool.Stop)

	// counters + locks: redis varsa paylaşımlı, yoksa process içi
	var (
		locks     lock.Locker     = lock.NewMemory()
		counters  ratelimit.Store = ratelimit.NewMemoryStore()
		cachePing                 = func(context.Context) error { return nil }
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		locks = lock.NewRedis(rdb, lockTTL)
		counters = ratelimit.NewFallbackStore(ratelimit.NewRedisStore(rdb), ratelimit.NewMemoryStore(), limiterDeadline, log)
		cachePing = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	a.Limiter = ratelimit.New(counters)
	a.CSRF = csrf.New(cfg.SecureCookies, middleware.Session)
	a.Tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	a.TwoFactor = auth.NewTwoFactor(repos.TwoFactor, cfg.JWTIssuer)

	var notifier notify.Notifier = notify.Log{L: log}
	if cfg.SQSQueueURL != "" {
		n, err := notify.NewSQSFromEnv(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			return nil, err
		}
		notifier = n
	}
	dispatch := notify.NewDispatcher(notifier, a.Pool, log)

	g := cfg.Gateway
	a.Config, err = services.NewConfigService(ctx, repos.GatewayConfigs, repos.AuditLogs,
		services.DefaultGatewayConfig(g.MerchantID, g.APIKey, g.APISecret, g.Environment), log)
	if err != nil {
		return nil, err
	}
	gw := gateway.NewHTTPClient(g.BaseURL, g.Timeout, g.RPS, a.Config.Credentials)

	a.Payments = services.NewPaymentService(services.PaymentDeps{
		Transactions: repos.Transactions,
		AuditLogs:    repos.AuditLogs,
		Catalog:      catalog.New(repos.Courses),
		Gateway:      gw,
		Config:       a.Config,
		Locks:        locks,
		Notify:       dispatch,
		Log:          log,
		Currency:     cfg.Currency,
		MaxAttempts:  cfg.MaxPaymentAttempts,
	})
	a.Refunds = services.NewRefundService(services.RefundDeps{
		Transactions: repos.Transactions,
		AuditLogs:    repos.AuditLogs,
		Gateway:      gw,
		Locks:        locks,
		TwoFactor:    a.TwoFactor,
		Require2FA:   cfg.RefundRequire2FA,
		Notify:       dispatch,
		Log:          log,
		Budget:       refundBudget,
	})
	a.Webhooks = services.NewWebhookService(a.Payments, repos.WebhookEvents,
		gateway.NewVerifier(a.Config.Credentials, cfg.WebhookTolerance), log)
	a.Reconciliation = services.NewReconciliationService(services.ReconciliationDeps{
		Reports:       repos.Reports,
		Transactions:  repos.Transactions,
		WebhookEvents: repos.WebhookEvents,
		AuditLogs:     repos.AuditLogs,
		Gateway:       gw,
		Pool:          a.Pool,
		Log:           log,
	})
	a.Monitoring = services.NewMonitoringService(repos.Transactions, []services.Probe{
		{Name: "db", Check: repos.Health.Ping},
		{Name: "gateway", Check: gw.Ping},
		{Name: "cache", Check: cachePing},
	}, dispatch, log)

	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
