package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coursepay/payments/internal/api"
	"github.com/coursepay/payments/internal/app"
	"github.com/coursepay/payments/internal/config"
	"github.com/coursepay/payments/internal/logger"
	"github.com/coursepay/payments/internal/metrics"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	r := api.NewRouter(api.RouterDeps{
		Cfg:            cfg,
		Log:            log,
		Tokens:         a.Tokens,
		Limiter:        a.Limiter,
		CSRF:           a.CSRF,
		Payments:       a.Payments,
		Refunds:        a.Refunds,
		Webhooks:       a.Webhooks,
		Reconciliation: a.Reconciliation,
		Config:         a.Config,
		Monitoring:     a.Monitoring,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("env check",
		"APP_ENV", cfg.Env,
		"STORE_DRIVER", cfg.StoreDriver,
		"redis", cfg.RedisURL != "",
		"sqs", cfg.SQSQueueURL != "",
	)

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
