package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/models"
	"github.com/coursepay/payments/internal/report"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestReconcile(t *testing.T) {
	local := []models.Transaction{
		{ID: "TXN_MATCHED001", Amount: dec("100"), Status: models.TxnSuccess, GatewayReference: "GW-1"},
		{ID: "TXN_MISMATCH01", Amount: dec("200"), Status: models.TxnSuccess},
		{ID: "TXN_LOCALONLY1", Amount: dec("300"), Status: models.TxnPartialRefund},
		{ID: "TXN_FAILED0001", Amount: dec("50"), Status: models.TxnFailed},
		{ID: "TXN_BYREF00001", Amount: dec("75"), Status: models.TxnRefunded, GatewayReference: "GW-REF"},
		{ID: "TXN_FLAGGED001", Amount: dec("40"), Status: models.TxnSuccess},
	}
	settlements := []models.SettlementRecord{
		{TransactionID: "TXN_MATCHED001", Amount: dec("100")},
		{TransactionID: "TXN_MISMATCH01", Amount: dec("199.50")},
		{TransactionID: "TXN_GWONLY0001", Amount: dec("500")},
		{GatewayReference: "GW-REF", Amount: dec("75")},
		{TransactionID: "TXN_FLAGGED001", Amount: dec("40")},
	}
	claimed := dec("4")
	flagged := []models.WebhookEvent{{TransactionID: "TXN_FLAGGED001", ClaimedAmount: &claimed, AmountMismatch: true}}

	sum, out := Reconcile("rep-1", local, settlements, flagged)

	want := map[string]models.DiscrepancyType{
		"TXN_MISMATCH01": models.DiscrepancyAmountMismatch,
		"TXN_LOCALONLY1": models.DiscrepancyMissingInGateway,
		"TXN_GWONLY0001": models.DiscrepancyMissingInSystem,
		"TXN_FLAGGED001": models.DiscrepancyAmountMismatch,
	}
	if len(out) != len(want) {
		t.Fatalf("discrepancies = %+v", out)
	}
	for i, dis := range out {
		if want[dis.TransactionID] != dis.Type {
			t.Errorf("%s: type %s; want %s", dis.TransactionID, dis.Type, want[dis.TransactionID])
		}
		if i > 0 && out[i-1].TransactionID > dis.TransactionID {
			t.Error("discrepancies not sorted")
		}
		if dis.ReportID != "rep-1" {
			t.Errorf("report id = %s", dis.ReportID)
		}
	}
	for _, dis := range out {
		if dis.TransactionID == "TXN_MISMATCH01" && (!dis.SystemAmount.Equal(dec("200")) || !dis.GatewayAmount.Equal(dec("199.50"))) {
			t.Errorf("mismatch amounts = %s / %s", dis.SystemAmount, dis.GatewayAmount)
		}
	}

	if sum.TotalTransactions != 6 || sum.MatchedTransactions != 2 {
		t.Errorf("total=%d matched=%d; want 6 and 2", sum.TotalTransactions, sum.MatchedTransactions)
	}
	if sum.TotalTransactions != sum.MatchedTransactions+sum.UnmatchedTransactions {
		t.Error("total != matched + unmatched")
	}
	if !sum.SettledAmount.Add(sum.PendingAmount).Equal(sum.TotalAmount) {
		t.Error("settled + pending != total")
	}
	if !sum.SettledAmount.Equal(dec("175")) || !sum.TotalAmount.Equal(dec("1215")) {
		t.Errorf("settled=%s total=%s", sum.SettledAmount, sum.TotalAmount)
	}
}

func TestReconcileStatusMismatch(t *testing.T) {
	local := []models.Transaction{
		{ID: "TXN_FAILEDPAID1", Amount: dec("100"), Status: models.TxnFailed},
		{ID: "TXN_FAILEDSEEN1", Amount: dec("60"), Status: models.TxnFailed},
		{ID: "TXN_FAILEDQUIET", Amount: dec("20"), Status: models.TxnFailed},
		{ID: "TXN_RETRIEDOK01", Amount: dec("30"), Status: models.TxnSuccess},
	}
	settlements := []models.SettlementRecord{
		{TransactionID: "TXN_FAILEDPAID1", Amount: dec("100")},
		{TransactionID: "TXN_RETRIEDOK01", Amount: dec("30")},
	}
	seen := dec("60")
	flagged := []models.WebhookEvent{
		{TransactionID: "TXN_FAILEDSEEN1", ClaimedAmount: &seen, StatusConflict: true},
		// settled since, nothing left to report
		{TransactionID: "TXN_RETRIEDOK01", StatusConflict: true},
	}

	sum, out := Reconcile("rep-1", local, settlements, flagged)
	if len(out) != 2 {
		t.Fatalf("discrepancies = %+v", out)
	}
	for _, d := range out {
		if d.Type != models.DiscrepancyStatusMismatch {
			t.Errorf("%s: type = %s", d.TransactionID, d.Type)
		}
	}
	if out[1].TransactionID != "TXN_FAILEDSEEN1" || out[1].GatewayAmount == nil || !out[1].GatewayAmount.Equal(seen) {
		t.Errorf("reported success = %+v", out[1])
	}
	if sum.TotalTransactions != 3 || sum.MatchedTransactions != 1 || !sum.SettledAmount.Equal(dec("30")) {
		t.Errorf("summary = %+v", sum)
	}
}

func TestReconcileEmpty(t *testing.T) {
	sum, out := Reconcile("rep-1", nil, nil, nil)
	if sum.TotalTransactions != 0 || len(out) != 0 || out == nil {
		t.Fatalf("sum=%+v out=%v", sum, out)
	}
}

func waitReport(t *testing.T, h *harness, id string) models.ReconciliationReport {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rep, err := h.recon.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if rep.RunStatus != models.RunRunning {
			return rep
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("report still running")
	return models.ReconciliationReport{}
}

func TestRunReconciliationAsync(t *testing.T) {
	h := newHarness(t)
	tx := h.settle(t)
	h.gw.SettlementsFunc = func(context.Context, time.Time, time.Time) ([]models.SettlementRecord, error) {
		return []models.SettlementRecord{{TransactionID: tx.ID, Amount: tx.Amount}}, nil
	}

	start := time.Now().Add(-time.Hour)
	rep, err := h.recon.Run(context.Background(), start, time.Now().Add(time.Hour), "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.RunStatus != models.RunRunning {
		t.Fatalf("initial status = %s", rep.RunStatus)
	}
	got := waitReport(t, h, rep.ID)
	if got.RunStatus != models.RunCompleted || got.Summary.MatchedTransactions != 1 || len(got.Discrepancies) != 0 {
		t.Fatalf("report = %+v", got)
	}

	var buf bytes.Buffer
	if err := h.recon.Export(context.Background(), rep.ID, report.FormatCSV, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("empty export")
	}
}

func TestRunFailsWhenGatewayUnreachable(t *testing.T) {
	h := newHarness(t)
	h.settle(t)
	h.gw.SettlementsFunc = func(context.Context, time.Time, time.Time) ([]models.SettlementRecord, error) {
		return nil, gateway.ErrUnavailable
	}
	rep, err := h.recon.RunSync(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.RunStatus != models.RunFailed || rep.FailureReason == nil {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Summary.TotalTransactions != 0 || len(rep.Discrepancies) != 0 {
		t.Fatal("failed run must not carry a report body")
	}
	err = h.recon.Export(context.Background(), rep.ID, report.FormatCSV, &bytes.Buffer{})
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeReportNotReady {
		t.Fatalf("export of failed run err = %v", err)
	}
}

func TestResolveDiscrepancy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := h.settle(t)
	// the gateway knows nothing about the settled charge
	rep, err := h.recon.RunSync(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "admin-1")
	if err != nil || len(rep.Discrepancies) != 1 {
		t.Fatalf("rep = %+v, %v", rep, err)
	}

	if _, err := h.recon.Resolve(ctx, rep.ID, tx.ID, "   ", "admin-1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty notes err = %v", err)
	}
	got, _ := h.recon.Get(ctx, rep.ID)
	if got.Discrepancies[0].Resolved {
		t.Fatal("empty notes resolved the discrepancy")
	}

	dis, err := h.recon.Resolve(ctx, rep.ID, tx.ID, "settled manually with the gateway", "admin-1")
	if err != nil || !dis.Resolved {
		t.Fatalf("resolve = %+v, %v", dis, err)
	}
	_, err = h.recon.Resolve(ctx, rep.ID, tx.ID, "second note", "admin-2")
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeAlreadyResolved {
		t.Fatalf("second resolve err = %v", err)
	}
	if _, err := h.recon.Resolve(ctx, rep.ID, "TXN_UNKNOWN0000", "note", "admin-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown discrepancy err = %v", err)
	}
	if got := h.load(t, tx.ID); got.Status != models.TxnSuccess {
		t.Fatal("resolve touched the ledger")
	}
}
