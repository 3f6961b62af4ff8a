package repository

import (
	"context"
	"errors"
	"time"

	"github.com/coursepay/payments/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate")
	ErrAlreadyResolved = errors.New("discrepancy already resolved")
)

type Transactions interface {
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	GetByReference(ctx context.Context, ref string) (models.Transaction, error)
	// ListByUser returns one page, newest first, and the total count for the filter.
	ListByUser(ctx context.Context, userID string, status *models.TransactionStatus, limit, offset int) ([]models.Transaction, int, error)
	ListCreatedBetween(ctx context.Context, start, end time.Time) ([]models.Transaction, error)
	// Update persists tx only if the stored version still equals tx.Version,
	// returning the row with the bumped version. ErrVersionConflict otherwise.
	Update(ctx context.Context, tx models.Transaction) (models.Transaction, error)
}

type Reports interface {
	Create(ctx context.Context, r models.ReconciliationReport) error
	Get(ctx context.Context, id string) (models.ReconciliationReport, error)
	// Save replaces run status, summary and discrepancies of an existing report.
	Save(ctx context.Context, r models.ReconciliationReport) error
	List(ctx context.Context, limit int) ([]models.ReconciliationReport, error)
	// Resolve annotates one discrepancy. ErrAlreadyResolved if it was resolved before.
	Resolve(ctx context.Context, reportID, transactionID, notes, by string, at time.Time) (models.Discrepancy, error)
}

type GatewayConfigs interface {
	Get(ctx context.Context) (models.GatewayConfig, error)
	Save(ctx context.Context, c models.GatewayConfig) error
}

type WebhookEvents interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	// Record returns ErrDuplicate when the event id is already journaled.
	Record(ctx context.Context, e models.WebhookEvent) error
	// Flagged lists events whose amount or status disagreed with the ledger.
	Flagged(ctx context.Context, start, end time.Time) ([]models.WebhookEvent, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error)
}

type Courses interface {
	Get(ctx context.Context, id string) (models.Course, error)
	Discount(ctx context.Context, code string) (models.Discount, error)
}

type TwoFactor interface {
	Get(ctx context.Context, adminID string) (models.TwoFactorSecret, error)
	Save(ctx context.Context, s models.TwoFactorSecret) error
}

// Pinger reports store reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Repositories struct {
	Transactions   Transactions
	Reports        Reports
	GatewayConfigs GatewayConfigs
	WebhookEvents  WebhookEvents
	AuditLogs      AuditLogs
	Courses        Courses
	TwoFactor      TwoFactor
	Health         Pinger
}
