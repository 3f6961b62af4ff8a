package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

// ConfigUpdate carries the fields an admin wants to change. Nil keeps the stored value.
type ConfigUpdate struct {
	MerchantID            *string
	APIKey                *string
	APISecret             *string
	EnabledPaymentMethods []string
	MinTransactionAmount  *decimal.Decimal
	MaxTransactionAmount  *decimal.Decimal
	SessionTimeoutMinutes *int
	Environment           *models.GatewayEnvironment
	IsActive              *bool
}

// ConfigService serves the merchant gateway settings. Readers always see
// a complete snapshot; writers replace it in one pointer swap.
type ConfigService struct {
	store repo.GatewayConfigs
	audit repo.AuditLogs
	log   *slog.Logger

	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[models.GatewayConfig]
}

// NewConfigService loads the stored settings, saving seed when none exist yet.
func NewConfigService(ctx context.Context, store repo.GatewayConfigs, audit repo.AuditLogs, seed models.GatewayConfig, log *slog.Logger) (*ConfigService, error) {
	s := &ConfigService{store: store, audit: audit, log: log}
	c, err := store.Get(ctx)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		seed.UpdatedAt = time.Now().UTC()
		if seed.LastModifiedBy == "" {
			seed.LastModifiedBy = "system"
		}
		if err := store.Save(ctx, seed); err != nil {
			return nil, fmt.Errorf("seed gateway config: %w", err)
		}
		log.Info("gateway config seeded", "merchant_id", seed.MerchantID, "environment", seed.Environment)
		c = seed
	case err != nil:
		return nil, fmt.Errorf("load gateway config: %w", err)
	}
	s.cur.Store(&c)
	return s, nil
}

// DefaultGatewayConfig is the first-start configuration.
func DefaultGatewayConfig(merchantID, apiKey, apiSecret, env string) models.GatewayConfig {
	e := models.GatewayEnvironment(env)
	if e != models.EnvProduction {
		e = models.EnvSandbox
	}
	return models.GatewayConfig{
		MerchantID:            merchantID,
		APIKey:                apiKey,
		APISecret:             apiSecret,
		EnabledPaymentMethods: append([]string(nil), models.PaymentMethodWhitelist...),
		MinTransactionAmount:  decimal.NewFromInt(1),
		MaxTransactionAmount:  decimal.NewFromInt(500000),
		SessionTimeoutMinutes: 15,
		Environment:           e,
		IsActive:              true,
	}
}

func (s *ConfigService) Current() models.GatewayConfig { return *s.cur.Load() }

// Masked is the admin read-back view.
func (s *ConfigService) Masked() models.GatewayConfig { return s.Current().Masked() }

// Credentials satisfies gateway.CredentialSource.
func (s *ConfigService) Credentials() gateway.Credentials {
	c := s.cur.Load()
	return gateway.Credentials{MerchantID: c.MerchantID, APIKey: c.APIKey, APISecret: c.APISecret}
}

func (s *ConfigService) Update(ctx context.Context, u ConfigUpdate, adminID string) (models.GatewayConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.Current()
	next.EnabledPaymentMethods = append([]string(nil), next.EnabledPaymentMethods...)
	var changed []string
	set := func(name string) { changed = append(changed, name) }

	if u.MerchantID != nil {
		next.MerchantID = *u.MerchantID
		set("merchantId")
	}
	if u.APIKey != nil {
		next.APIKey = *u.APIKey
		set("apiKey")
	}
	if u.APISecret != nil {
		next.APISecret = *u.APISecret
		set("apiSecret")
	}
	if u.EnabledPaymentMethods != nil {
		next.EnabledPaymentMethods = append([]string(nil), u.EnabledPaymentMethods...)
		set("enabledPaymentMethods")
	}
	if u.MinTransactionAmount != nil {
		next.MinTransactionAmount = *u.MinTransactionAmount
		set("minTransactionAmount")
	}
	if u.MaxTransactionAmount != nil {
		next.MaxTransactionAmount = *u.MaxTransactionAmount
		set("maxTransactionAmount")
	}
	if u.SessionTimeoutMinutes != nil {
		next.SessionTimeoutMinutes = *u.SessionTimeoutMinutes
		set("sessionTimeoutMinutes")
	}
	if u.Environment != nil {
		next.Environment = *u.Environment
		set("environment")
	}
	if u.IsActive != nil {
		next.IsActive = *u.IsActive
		set("isActive")
	}
	if len(changed) == 0 {
		return next.Masked(), nil
	}
	if err := checkConfig(next); err != nil {
		return models.GatewayConfig{}, err
	}

	next.UpdatedAt = time.Now().UTC()
	next.LastModifiedBy = adminID
	if err := s.store.Save(ctx, next); err != nil {
		return models.GatewayConfig{}, fmt.Errorf("save gateway config: %w", err)
	}
	s.cur.Store(&next)

	// field names only, never values
	writeAudit(ctx, s.audit, s.log, "gateway_config", next.MerchantID, "config_updated", adminID, map[string]any{"fields": changed})
	s.log.Info("gateway config updated", "admin_id", adminID, "fields", changed)
	return next.Masked(), nil
}

// checkConfig enforces the cross-field rules on the merged result.
func checkConfig(c models.GatewayConfig) error {
	var fields []apperr.FieldError
	if !c.MinTransactionAmount.LessThan(c.MaxTransactionAmount) {
		fields = append(fields, apperr.FieldError{Field: "minTransactionAmount", Message: "must be less than maxTransactionAmount"})
	}
	if c.SessionTimeoutMinutes < 5 || c.SessionTimeoutMinutes > 60 {
		fields = append(fields, apperr.FieldError{Field: "sessionTimeoutMinutes", Message: "must be between 5 and 60"})
	}
	if len(c.EnabledPaymentMethods) == 0 {
		fields = append(fields, apperr.FieldError{Field: "enabledPaymentMethods", Message: "at least one method required"})
	}
	for _, m := range c.EnabledPaymentMethods {
		if !models.KnownPaymentMethod(m) {
			fields = append(fields, apperr.FieldError{Field: "enabledPaymentMethods", Message: "unsupported method " + m})
		}
	}
	if c.Environment != models.EnvSandbox && c.Environment != models.EnvProduction {
		fields = append(fields, apperr.FieldError{Field: "environment", Message: "must be sandbox or production"})
	}
	if len(fields) > 0 {
		return apperr.Validation(fields...)
	}
	return nil
}
