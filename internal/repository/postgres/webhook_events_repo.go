package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

type webhookEventsRepo struct{ pool *pgxpool.Pool }

func (r *webhookEventsRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM webhook_events WHERE event_id=$1)`, eventID).Scan(&ok)
	return ok, err
}

func (r *webhookEventsRepo) Record(ctx context.Context, e models.WebhookEvent) error {
	tag, err := r.pool.Exec(ctx, `
INSERT INTO webhook_events(event_id, transaction_id, gateway_reference, status, claimed_amount, amount_mismatch,
  status_conflict, outcome, source, received_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.TransactionID, e.GatewayReference, e.Status, e.ClaimedAmount, e.AmountMismatch,
		e.StatusConflict, e.Outcome, e.Source, e.ReceivedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrDuplicate
	}
	return nil
}

func (r *webhookEventsRepo) Flagged(ctx context.Context, start, end time.Time) ([]models.WebhookEvent, error) {
	rows, err := r.pool.Query(ctx, `
SELECT event_id, transaction_id, gateway_reference, status, claimed_amount, amount_mismatch, status_conflict,
       outcome, source, received_at
  FROM webhook_events
 WHERE (amount_mismatch OR status_conflict) AND received_at BETWEEN $1 AND $2
 ORDER BY received_at`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.WebhookEvent{}
	for rows.Next() {
		var e models.WebhookEvent
		if err := rows.Scan(&e.EventID, &e.TransactionID, &e.GatewayReference, &e.Status, &e.ClaimedAmount,
			&e.AmountMismatch, &e.StatusConflict, &e.Outcome, &e.Source, &e.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
