// Package report renders reconciliation reports for download.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/coursepay/payments/internal/models"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatCSV, "":
		return FormatCSV, true
	case FormatXLSX:
		return FormatXLSX, true
	}
	return "", false
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

func (f Format) Filename(reportID string) string {
	return "reconciliation-" + reportID + "." + string(f)
}

// Columns is the fixed export layout. Changing the order breaks downstream importers.
var Columns = []string{
	"report_id", "transaction_id", "type", "system_amount", "gateway_amount",
	"resolved", "notes", "resolved_at", "resolved_by",
}

func rows(r models.ReconciliationReport) [][]string {
	out := make([][]string, 0, len(r.Discrepancies))
	for _, d := range r.Discrepancies {
		out = append(out, []string{
			r.ID,
			d.TransactionID,
			string(d.Type),
			amount(d.SystemAmount),
			amount(d.GatewayAmount),
			strconv.FormatBool(d.Resolved),
			deref(d.Notes),
			stamp(d.ResolvedAt),
			deref(d.ResolvedBy),
		})
	}
	return out
}

func summaryRows(r models.ReconciliationReport) [][]string {
	s := r.Summary
	return [][]string{
		{"report_id", r.ID},
		{"period_start", r.PeriodStart.UTC().Format(time.RFC3339)},
		{"period_end", r.PeriodEnd.UTC().Format(time.RFC3339)},
		{"run_status", string(r.RunStatus)},
		{"total_transactions", strconv.Itoa(s.TotalTransactions)},
		{"matched_transactions", strconv.Itoa(s.MatchedTransactions)},
		{"unmatched_transactions", strconv.Itoa(s.UnmatchedTransactions)},
		{"total_amount", s.TotalAmount.StringFixed(2)},
		{"settled_amount", s.SettledAmount.StringFixed(2)},
		{"pending_amount", s.PendingAmount.StringFixed(2)},
	}
}

// Write renders r in the given format.
func Write(w io.Writer, f Format, r models.ReconciliationReport) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, r)
	case FormatXLSX:
		return WriteXLSX(w, r)
	}
	return fmt.Errorf("unknown export format %q", f)
}

// WriteCSV writes the summary as key/value rows, then one header row and one
// row per discrepancy.
func WriteCSV(w io.Writer, r models.ReconciliationReport) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(summaryRows(r)); err != nil {
		return err
	}
	if err := cw.Write(Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(rows(r)); err != nil {
		return err
	}
	return cw.Error()
}

const (
	sheetDiscrepancies = "Discrepancies"
	sheetSummary       = "Summary"
)

// WriteXLSX writes a workbook with a summary sheet and a discrepancies sheet.
func WriteXLSX(w io.Writer, r models.ReconciliationReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return err
	}
	for i, row := range summaryRows(r) {
		if err := setRow(f, sheetSummary, i+1, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(sheetDiscrepancies); err != nil {
		return err
	}
	if err := setRow(f, sheetDiscrepancies, 1, Columns); err != nil {
		return err
	}
	for i, row := range rows(r) {
		if err := setRow(f, sheetDiscrepancies, i+2, row); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, sheet string, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return f.SetSheetRow(sheet, cell, &vals)
}

func amount(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
