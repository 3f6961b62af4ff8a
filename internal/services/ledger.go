package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/lock"
	"github.com/coursepay/payments/internal/metrics"
	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

// Transition sources, used as the metric label and in audit details.
const (
	SourceInitiate = "initiate"
	SourceRetry    = "retry"
	SourceStatus   = "status"
	SourceWebhook  = "webhook"
	SourceCallback = "callback"
	SourceRefund   = "refund"
)

// ledger owns every write to a transaction. All state changes go through
// transition while the per-transaction lock is held.
type ledger struct {
	txns  repo.Transactions
	audit repo.AuditLogs
	locks lock.Locker
	log   *slog.Logger
}

func lockKey(id string) string { return "txn:" + id }

// withLock loads the transaction under its lock and hands it to fn.
func (l *ledger) withLock(ctx context.Context, id string, fn func(tx models.Transaction) (models.Transaction, error)) (models.Transaction, error) {
	release, err := l.locks.Acquire(ctx, lockKey(id))
	if err != nil {
		return models.Transaction{}, apperr.Conflict(apperr.CodeConflict, "transaction is busy, try again")
	}
	defer release()

	tx, err := l.txns.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Transaction{}, apperr.NotFound("transaction")
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	return fn(tx)
}

// transition moves tx to the next status. A repeated status is a no-op,
// except partial_refund which may follow itself.
func (l *ledger) transition(ctx context.Context, tx models.Transaction, to models.TransactionStatus, source, actor string, mutate func(*models.Transaction)) (models.Transaction, error) {
	if tx.Status == to && to != models.TxnPartialRefund {
		return tx, nil
	}
	if !models.CanTransition(tx.Status, to) {
		return tx, apperr.Conflict(apperr.CodeIllegalTransition,
			fmt.Sprintf("cannot move transaction from %s to %s", tx.Status, to))
	}
	from := tx.Status
	next := tx
	next.Status = to
	if mutate != nil {
		mutate(&next)
	}
	if next.RefundedAmount.GreaterThan(next.Amount) || next.RefundedAmount.IsNegative() {
		return tx, apperr.AmountInvariant("refunded amount must stay between 0 and the transaction amount")
	}

	out, err := l.txns.Update(ctx, next)
	if errors.Is(err, repo.ErrVersionConflict) {
		return tx, apperr.Conflict(apperr.CodeConflict, "transaction was modified concurrently")
	}
	if err != nil {
		return tx, fmt.Errorf("update transaction: %w", err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(from), string(to), source).Inc()
	details := map[string]any{"from": from, "to": to, "source": source}
	if out.FailureReason != nil {
		details["failure_reason"] = *out.FailureReason
	}
	l.record(ctx, out.ID, "status_change", actor, details)
	l.log.Info("transaction transition", "transaction_id", out.ID, "from", from, "to", to, "source", source)
	return out, nil
}

// save persists a change that keeps the status. Caller holds the lock.
func (l *ledger) save(ctx context.Context, tx models.Transaction, mutate func(*models.Transaction)) (models.Transaction, error) {
	next := tx
	mutate(&next)
	out, err := l.txns.Update(ctx, next)
	if errors.Is(err, repo.ErrVersionConflict) {
		return tx, apperr.Conflict(apperr.CodeConflict, "transaction was modified concurrently")
	}
	if err != nil {
		return tx, fmt.Errorf("update transaction: %w", err)
	}
	return out, nil
}

// record writes an audit entry. Audit failures never fail the caller.
func (l *ledger) record(ctx context.Context, id, action, actor string, details map[string]any) {
	writeAudit(ctx, l.audit, l.log, "transaction", id, action, actor, details)
}

func writeAudit(ctx context.Context, logs repo.AuditLogs, log *slog.Logger, entityType, id, action, actor string, details map[string]any) {
	entityID := id
	if err := logs.Create(ctx, models.AuditLog{
		EntityType: entityType,
		EntityID:   &entityID,
		Action:     action,
		Actor:      actor,
		Details:    details,
	}); err != nil {
		log.Warn("audit write failed", "entity_type", entityType, "entity_id", id, "action", action, "err", err)
	}
}

func strPtr(s string) *string { return &s }
