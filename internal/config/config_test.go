package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("MAX_PAYMENT_ATTEMPTS", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg := Load()
	if cfg.Env != "dev" {
		t.Errorf("Env = %q; want dev", cfg.Env)
	}
	if cfg.StoreDriver != "postgres" {
		t.Errorf("StoreDriver = %q; want postgres", cfg.StoreDriver)
	}
	if cfg.MaxPaymentAttempts != 5 {
		t.Errorf("MaxPaymentAttempts = %d; want 5", cfg.MaxPaymentAttempts)
	}
	if cfg.Gateway.Timeout != 15*time.Second {
		t.Errorf("Gateway.Timeout = %v; want 15s", cfg.Gateway.Timeout)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] == "*" {
		t.Errorf("CORSOrigins = %v; want one explicit origin", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("REFUND_REQUIRE_2FA", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WORKERS", "not-a-number")

	cfg := Load()
	if cfg.HTTPPort != "9090" {
		t.Errorf("HTTPPort = %q", cfg.HTTPPort)
	}
	if cfg.Gateway.Timeout != 3*time.Second {
		t.Errorf("Gateway.Timeout = %v", cfg.Gateway.Timeout)
	}
	if cfg.RefundRequire2FA {
		t.Error("RefundRequire2FA should be false")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d; want fallback 4", cfg.Workers)
	}
}
