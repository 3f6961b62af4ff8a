package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const serializationFailure = "40001"

const txnColumns = `id, course_id, user_id, amount, currency, payment_method, status, gateway_reference,
  discount_code, attempts, failure_reason, refunded_amount, refund_attempts, pending_refund, checkout_url,
  version, created_at, updated_at`

func scanTxn(row pgx.Row) (models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(&tx.ID, &tx.CourseID, &tx.UserID, &tx.Amount, &tx.Currency, &tx.PaymentMethod, &tx.Status,
		&tx.GatewayReference, &tx.DiscountCode, &tx.Attempts, &tx.FailureReason, &tx.RefundedAmount,
		&tx.RefundAttempts, &tx.PendingRefund, &tx.CheckoutURL, &tx.Version, &tx.CreatedAt, &tx.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tx, repo.ErrNotFound
	}
	return tx, err
}

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	const q = `
INSERT INTO transactions (
  id, course_id, user_id, amount, currency, payment_method, status, gateway_reference,
  discount_code, attempts, refunded_amount, checkout_url, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1,$13,$13)
ON CONFLICT (id) DO NOTHING
RETURNING ` + txnColumns
	now := time.Now().UTC()
	if !tx.CreatedAt.IsZero() {
		now = tx.CreatedAt
	}
	out, err := scanTxn(r.pool.QueryRow(ctx, q,
		tx.ID, tx.CourseID, tx.UserID, tx.Amount, tx.Currency, tx.PaymentMethod, tx.Status, tx.GatewayReference,
		tx.DiscountCode, tx.Attempts, tx.RefundedAmount, tx.CheckoutURL, now,
	))
	if errors.Is(err, repo.ErrNotFound) {
		// ON CONFLICT swallowed the insert
		return models.Transaction{}, repo.ErrDuplicate
	}
	return out, err
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return scanTxn(r.pool.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id=$1`, id))
}

func (r *transactionsRepo) GetByReference(ctx context.Context, ref string) (models.Transaction, error) {
	if ref == "" {
		return models.Transaction{}, repo.ErrNotFound
	}
	return scanTxn(r.pool.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions WHERE gateway_reference=$1`, ref))
}

func (r *transactionsRepo) ListByUser(ctx context.Context, userID string, status *models.TransactionStatus, limit, offset int) ([]models.Transaction, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM transactions WHERE user_id=$1 AND ($2::text IS NULL OR status=$2)`,
		userID, status,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+txnColumns+`
		   FROM transactions
		  WHERE user_id=$1 AND ($2::text IS NULL OR status=$2)
		  ORDER BY created_at DESC, id DESC
		  LIMIT $3 OFFSET $4`,
		userID, status, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectTxns(rows)
	return out, total, err
}

func (r *transactionsRepo) ListCreatedBetween(ctx context.Context, start, end time.Time) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	return collectTxns(rows)
}

func collectTxns(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	out := []models.Transaction{}
	for rows.Next() {
		tx, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Update is a compare-and-swap on version inside a serializable transaction.
func (r *transactionsRepo) Update(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	var out models.Transaction
	err := r.WithTx(ctx, func(t pgx.Tx) error {
		var err error
		out, err = scanTxn(t.QueryRow(ctx, `
UPDATE transactions
   SET status=$3, gateway_reference=$4, attempts=$5, failure_reason=$6, refunded_amount=$7,
       checkout_url=$8, refund_attempts=$9, pending_refund=$10, version=version+1, updated_at=$11
 WHERE id=$1 AND version=$2
RETURNING `+txnColumns,
			tx.ID, tx.Version, tx.Status, tx.GatewayReference, tx.Attempts, tx.FailureReason, tx.RefundedAmount,
			tx.CheckoutURL, tx.RefundAttempts, tx.PendingRefund, time.Now().UTC(),
		))
		if errors.Is(err, repo.ErrNotFound) {
			var exists bool
			if e := t.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id=$1)`, tx.ID).Scan(&exists); e != nil {
				return e
			}
			if exists {
				return repo.ErrVersionConflict
			}
		}
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		// a concurrent writer committed first; same outcome as a stale version
		return models.Transaction{}, repo.ErrVersionConflict
	}
	return out, err
}

// pgx ile tek transaction çalıştır
func (r *transactionsRepo) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
