package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/metrics"
	"github.com/coursepay/payments/internal/models"
	"github.com/coursepay/payments/internal/report"
	repo "github.com/coursepay/payments/internal/repository"
	"github.com/coursepay/payments/internal/worker"
)

const runTimeout = 5 * time.Minute

type ReconciliationDeps struct {
	Reports       repo.Reports
	Transactions  repo.Transactions
	WebhookEvents repo.WebhookEvents
	AuditLogs     repo.AuditLogs
	Gateway       gateway.Client
	Pool          *worker.Pool
	Log           *slog.Logger
}

type ReconciliationService struct {
	reports repo.Reports
	txns    repo.Transactions
	events  repo.WebhookEvents
	audit   repo.AuditLogs
	gw      gateway.Client
	pool    *worker.Pool
	log     *slog.Logger
	now     func() time.Time
}

func NewReconciliationService(d ReconciliationDeps) *ReconciliationService {
	return &ReconciliationService{
		reports: d.Reports,
		txns:    d.Transactions,
		events:  d.WebhookEvents,
		audit:   d.AuditLogs,
		gw:      d.Gateway,
		pool:    d.Pool,
		log:     d.Log,
		now:     time.Now,
	}
}

func (s *ReconciliationService) create(ctx context.Context, start, end time.Time, by string) (models.ReconciliationReport, error) {
	rep := models.ReconciliationReport{
		ID:            uuid.NewString(),
		PeriodStart:   start.UTC(),
		PeriodEnd:     end.UTC(),
		RunStatus:     models.RunRunning,
		RequestedBy:   by,
		Discrepancies: []models.Discrepancy{},
		CreatedAt:     s.now().UTC(),
	}
	if err := s.reports.Create(ctx, rep); err != nil {
		return rep, fmt.Errorf("create report: %w", err)
	}
	writeAudit(ctx, s.audit, s.log, "reconciliation_report", rep.ID, "run_requested", by,
		map[string]any{"period_start": rep.PeriodStart, "period_end": rep.PeriodEnd})
	return rep, nil
}

// Run records a running report and reconciles in the background.
// Poll Get with the returned id.
func (s *ReconciliationService) Run(ctx context.Context, start, end time.Time, by string) (models.ReconciliationReport, error) {
	rep, err := s.create(ctx, start, end, by)
	if err != nil {
		return rep, err
	}
	err = s.pool.Submit(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		s.execute(ctx, rep)
	})
	if err != nil {
		s.finish(context.WithoutCancel(ctx), rep, fmt.Errorf("schedule run: %w", err))
		return rep, apperr.ReconciliationFailed(err)
	}
	return rep, nil
}

// RunSync reconciles inline and returns the final report.
func (s *ReconciliationService) RunSync(ctx context.Context, start, end time.Time, by string) (models.ReconciliationReport, error) {
	rep, err := s.create(ctx, start, end, by)
	if err != nil {
		return rep, err
	}
	return s.execute(ctx, rep), nil
}

func (s *ReconciliationService) execute(ctx context.Context, rep models.ReconciliationReport) models.ReconciliationReport {
	local, err := s.txns.ListCreatedBetween(ctx, rep.PeriodStart, rep.PeriodEnd)
	if err != nil {
		return s.finish(ctx, rep, fmt.Errorf("load ledger: %w", err))
	}
	settlements, err := s.gw.Settlements(ctx, rep.PeriodStart, rep.PeriodEnd)
	if err != nil {
		return s.finish(ctx, rep, fmt.Errorf("fetch settlements: %w", err))
	}
	flagged, err := s.events.Flagged(ctx, rep.PeriodStart, rep.PeriodEnd)
	if err != nil {
		return s.finish(ctx, rep, fmt.Errorf("load flagged notifications: %w", err))
	}

	rep.Summary, rep.Discrepancies = Reconcile(rep.ID, local, settlements, flagged)
	for _, d := range rep.Discrepancies {
		metrics.Discrepancies.WithLabelValues(string(d.Type)).Inc()
	}
	return s.finish(ctx, rep, nil)
}

// finish persists the terminal state. A failed run never carries a summary.
func (s *ReconciliationService) finish(ctx context.Context, rep models.ReconciliationReport, runErr error) models.ReconciliationReport {
	now := s.now().UTC()
	rep.GeneratedAt = &now
	if runErr != nil {
		rep.RunStatus = models.RunFailed
		rep.FailureReason = strPtr(runErr.Error())
		rep.Summary = models.ReportSummary{}
		rep.Discrepancies = []models.Discrepancy{}
		s.log.Error("reconciliation run failed", "report_id", rep.ID, "err", runErr)
	} else {
		rep.RunStatus = models.RunCompleted
		s.log.Info("reconciliation run completed", "report_id", rep.ID,
			"total", rep.Summary.TotalTransactions, "unmatched", rep.Summary.UnmatchedTransactions)
	}
	metrics.ReconciliationRuns.WithLabelValues(string(rep.RunStatus)).Inc()
	if err := s.reports.Save(ctx, rep); err != nil {
		s.log.Error("save reconciliation report", "report_id", rep.ID, "err", err)
	}
	return rep
}

func (s *ReconciliationService) Get(ctx context.Context, id string) (models.ReconciliationReport, error) {
	rep, err := s.reports.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return rep, apperr.NotFound("report")
	}
	return rep, err
}

func (s *ReconciliationService) List(ctx context.Context, limit int) ([]models.ReconciliationReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.reports.List(ctx, limit)
}

// Resolve annotates a discrepancy. It never touches the ledger.
func (s *ReconciliationService) Resolve(ctx context.Context, reportID, txID, notes, by string) (models.Discrepancy, error) {
	if strings.TrimSpace(notes) == "" {
		return models.Discrepancy{}, apperr.Validation(apperr.FieldError{Field: "notes", Message: "required"})
	}
	d, err := s.reports.Resolve(ctx, reportID, txID, notes, by, s.now().UTC())
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return d, apperr.NotFound("discrepancy")
	case errors.Is(err, repo.ErrAlreadyResolved):
		return d, apperr.Conflict(apperr.CodeAlreadyResolved, "discrepancy already resolved")
	case err != nil:
		return d, fmt.Errorf("resolve discrepancy: %w", err)
	}
	writeAudit(ctx, s.audit, s.log, "reconciliation_report", reportID, "discrepancy_resolved", by,
		map[string]any{"transaction_id": txID})
	return d, nil
}

// Export writes a completed report.
func (s *ReconciliationService) Export(ctx context.Context, id string, f report.Format, w io.Writer) error {
	rep, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rep.RunStatus != models.RunCompleted {
		return apperr.Conflict(apperr.CodeReportNotReady, "report is "+string(rep.RunStatus))
	}
	return report.Write(w, f, rep)
}
