package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/coursepay/payments/internal/repository"
)

func NewRepositories(pool *pgxpool.Pool) repo.Repositories {
	return repo.Repositories{
		Transactions:   &transactionsRepo{pool},
		Reports:        &reportsRepo{pool},
		GatewayConfigs: &gatewayConfigRepo{pool},
		WebhookEvents:  &webhookEventsRepo{pool},
		AuditLogs:      &auditLogsRepo{pool},
		Courses:        &coursesRepo{pool},
		TwoFactor:      &twoFactorRepo{pool},
		Health:         pool,
	}
}
