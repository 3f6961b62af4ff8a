package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/models"
)

func TestPrintSummary(t *testing.T) {
	reason := "gateway unavailable: settlements"
	rep := models.ReconciliationReport{
		ID:          "rep-1",
		PeriodStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC),
		RunStatus:   models.RunCompleted,
		Summary: models.ReportSummary{
			TotalTransactions:     3,
			MatchedTransactions:   2,
			UnmatchedTransactions: 1,
			TotalAmount:           decimal.NewFromInt(3000),
			SettledAmount:         decimal.NewFromInt(2000),
		},
		Discrepancies: []models.Discrepancy{{TransactionID: "TXN_ABCDEFGHIJ", Type: models.DiscrepancyMissingInGateway}},
	}

	var buf bytes.Buffer
	printSummary(&buf, rep)
	for _, want := range []string{"rep-1 (completed)", "matched 2, unmatched 1", "total 3000.00", "missing_in_gateway", "TXN_ABCDEFGHIJ"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, buf.String())
		}
	}
	if strings.Contains(buf.String(), "failure") {
		t.Error("completed run printed a failure line")
	}

	rep.RunStatus, rep.FailureReason = models.RunFailed, &reason
	buf.Reset()
	printSummary(&buf, rep)
	if !strings.Contains(buf.String(), reason) {
		t.Errorf("failed run must print its reason:\n%s", buf.String())
	}
}
