package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

type gatewayConfigRepo struct{ pool *pgxpool.Pool }

func (r *gatewayConfigRepo) Get(ctx context.Context) (models.GatewayConfig, error) {
	var c models.GatewayConfig
	err := r.pool.QueryRow(ctx, `
SELECT merchant_id, api_key, api_secret, enabled_payment_methods, min_transaction_amount, max_transaction_amount,
       session_timeout_minutes, environment, is_active, updated_at, last_modified_by
  FROM gateway_config WHERE id=1`).Scan(
		&c.MerchantID, &c.APIKey, &c.APISecret, &c.EnabledPaymentMethods, &c.MinTransactionAmount, &c.MaxTransactionAmount,
		&c.SessionTimeoutMinutes, &c.Environment, &c.IsActive, &c.UpdatedAt, &c.LastModifiedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, repo.ErrNotFound
	}
	return c, err
}

func (r *gatewayConfigRepo) Save(ctx context.Context, c models.GatewayConfig) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO gateway_config(id, merchant_id, api_key, api_secret, enabled_payment_methods, min_transaction_amount,
  max_transaction_amount, session_timeout_minutes, environment, is_active, updated_at, last_modified_by)
VALUES(1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  merchant_id=EXCLUDED.merchant_id, api_key=EXCLUDED.api_key, api_secret=EXCLUDED.api_secret,
  enabled_payment_methods=EXCLUDED.enabled_payment_methods, min_transaction_amount=EXCLUDED.min_transaction_amount,
  max_transaction_amount=EXCLUDED.max_transaction_amount, session_timeout_minutes=EXCLUDED.session_timeout_minutes,
  environment=EXCLUDED.environment, is_active=EXCLUDED.is_active, updated_at=EXCLUDED.updated_at,
  last_modified_by=EXCLUDED.last_modified_by`,
		c.MerchantID, c.APIKey, c.APISecret, c.EnabledPaymentMethods, c.MinTransactionAmount, c.MaxTransactionAmount,
		c.SessionTimeoutMinutes, c.Environment, c.IsActive, c.UpdatedAt, c.LastModifiedBy)
	return err
}
