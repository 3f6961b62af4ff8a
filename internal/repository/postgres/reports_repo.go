package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

type reportsRepo struct{ pool *pgxpool.Pool }

const reportColumns = `id, period_start, period_end, run_status, failure_reason, requested_by,
  total_transactions, matched_transactions, unmatched_transactions, total_amount, settled_amount, pending_amount,
  generated_at, created_at`

func scanReport(row pgx.Row) (models.ReconciliationReport, error) {
	var r models.ReconciliationReport
	s := &r.Summary
	err := row.Scan(&r.ID, &r.PeriodStart, &r.PeriodEnd, &r.RunStatus, &r.FailureReason, &r.RequestedBy,
		&s.TotalTransactions, &s.MatchedTransactions, &s.UnmatchedTransactions, &s.TotalAmount, &s.SettledAmount,
		&s.PendingAmount, &r.GeneratedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, repo.ErrNotFound
	}
	return r, err
}

func (r *reportsRepo) Create(ctx context.Context, rep models.ReconciliationReport) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reconciliation_reports(id, period_start, period_end, run_status, requested_by, created_at)
		 VALUES($1,$2,$3,$4,$5,$6)`,
		rep.ID, rep.PeriodStart, rep.PeriodEnd, rep.RunStatus, rep.RequestedBy, rep.CreatedAt)
	return err
}

func (r *reportsRepo) Get(ctx context.Context, id string) (models.ReconciliationReport, error) {
	rep, err := scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reconciliation_reports WHERE id=$1`, id))
	if err != nil {
		return rep, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT report_id, transaction_id, type, system_amount, gateway_amount, resolved, notes, resolved_at, resolved_by
		   FROM reconciliation_discrepancies WHERE report_id=$1 ORDER BY transaction_id`, id)
	if err != nil {
		return rep, err
	}
	defer rows.Close()
	rep.Discrepancies = []models.Discrepancy{}
	for rows.Next() {
		var d models.Discrepancy
		if err := rows.Scan(&d.ReportID, &d.TransactionID, &d.Type, &d.SystemAmount, &d.GatewayAmount,
			&d.Resolved, &d.Notes, &d.ResolvedAt, &d.ResolvedBy); err != nil {
			return rep, err
		}
		rep.Discrepancies = append(rep.Discrepancies, d)
	}
	return rep, rows.Err()
}

func (r *reportsRepo) Save(ctx context.Context, rep models.ReconciliationReport) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		s := rep.Summary
		tag, err := tx.Exec(ctx, `
UPDATE reconciliation_reports
   SET run_status=$2, failure_reason=$3, total_transactions=$4, matched_transactions=$5, unmatched_transactions=$6,
       total_amount=$7, settled_amount=$8, pending_amount=$9, generated_at=$10
 WHERE id=$1`,
			rep.ID, rep.RunStatus, rep.FailureReason, s.TotalTransactions, s.MatchedTransactions, s.UnmatchedTransactions,
			s.TotalAmount, s.SettledAmount, s.PendingAmount, rep.GeneratedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repo.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM reconciliation_discrepancies WHERE report_id=$1 AND NOT resolved`, rep.ID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, d := range rep.Discrepancies {
			batch.Queue(`
INSERT INTO reconciliation_discrepancies(report_id, transaction_id, type, system_amount, gateway_amount)
VALUES($1,$2,$3,$4,$5) ON CONFLICT (report_id, transaction_id) DO NOTHING`,
				rep.ID, d.TransactionID, d.Type, d.SystemAmount, d.GatewayAmount)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *reportsRepo) List(ctx context.Context, limit int) ([]models.ReconciliationReport, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reportColumns+` FROM reconciliation_reports ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.ReconciliationReport{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r *reportsRepo) Resolve(ctx context.Context, reportID, transactionID, notes, by string, at time.Time) (models.Discrepancy, error) {
	var d models.Discrepancy
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT report_id, transaction_id, type, system_amount, gateway_amount, resolved, notes, resolved_at, resolved_by
			   FROM reconciliation_discrepancies WHERE report_id=$1 AND transaction_id=$2 FOR UPDATE`,
			reportID, transactionID,
		).Scan(&d.ReportID, &d.TransactionID, &d.Type, &d.SystemAmount, &d.GatewayAmount, &d.Resolved, &d.Notes, &d.ResolvedAt, &d.ResolvedBy)
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.ErrNotFound
		}
		if err != nil {
			return err
		}
		if d.Resolved {
			return repo.ErrAlreadyResolved
		}
		_, err = tx.Exec(ctx,
			`UPDATE reconciliation_discrepancies SET resolved=true, notes=$3, resolved_at=$4, resolved_by=$5
			  WHERE report_id=$1 AND transaction_id=$2`,
			reportID, transactionID, notes, at, by)
		if err != nil {
			return err
		}
		d.Resolved, d.Notes, d.ResolvedAt, d.ResolvedBy = true, &notes, &at, &by
		return nil
	})
	return d, err
}
