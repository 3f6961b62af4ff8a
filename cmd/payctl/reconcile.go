package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coursepay/payments/internal/api/validate"
	"github.com/coursepay/payments/internal/models"
	"github.com/coursepay/payments/internal/report"
)

func reconcileCmd() *cobra.Command {
	var start, end, by string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a reconciliation synchronously and print its summary",
		Long: `Compare ledger transactions with the gateway settlement report for a period.

Dates are RFC 3339 timestamps or YYYY-MM-DD; a date-only --end covers the whole day.

Examples:
  payctl reconcile --start 2024-03-01 --end 2024-03-31
  payctl reconcile --start 2024-03-01 --end 2024-03-01 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, errs := validate.ReconciliationRun(validate.Payload{"startDate": start, "endDate": end})
			if err := errs.Err(); err != nil {
				return fmt.Errorf("invalid period: %w", err)
			}
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Reconciliation.RunSync(cmd.Context(), rng.Start, rng.End, by)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printSummary(cmd.OutOrStdout(), rep)
			if rep.RunStatus == models.RunFailed {
				return fmt.Errorf("reconciliation %s failed", rep.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "period start (required)")
	cmd.Flags().StringVar(&end, "end", "", "period end (required)")
	cmd.Flags().StringVar(&by, "by", "payctl", "operator recorded as the requester")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the full report as JSON")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func printSummary(w io.Writer, rep models.ReconciliationReport) {
	s := rep.Summary
	fmt.Fprintf(w, "report        %s (%s)\n", rep.ID, rep.RunStatus)
	if rep.FailureReason != nil {
		fmt.Fprintf(w, "failure       %s\n", *rep.FailureReason)
	}
	fmt.Fprintf(w, "period        %s .. %s\n", rep.PeriodStart.Format("2006-01-02 15:04"), rep.PeriodEnd.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "transactions  %d (matched %d, unmatched %d)\n", s.TotalTransactions, s.MatchedTransactions, s.UnmatchedTransactions)
	fmt.Fprintf(w, "amounts       total %s  settled %s  pending %s\n", s.TotalAmount.StringFixed(2), s.SettledAmount.StringFixed(2), s.PendingAmount.StringFixed(2))
	for _, d := range rep.Discrepancies {
		fmt.Fprintf(w, "  %-20s %s\n", d.Type, d.TransactionID)
	}
}

func exportCmd() *cobra.Command {
	var reportID, format, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a completed reconciliation report as CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := report.ParseFormat(format)
			if !ok {
				return fmt.Errorf("unknown format %q (csv, xlsx)", format)
			}
			if out == "" {
				out = f.Filename(reportID)
			}
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			file, err := os.Create(filepath.Clean(out))
			if err != nil {
				return err
			}
			if err := a.Reconciliation.Export(cmd.Context(), reportID, f, file); err != nil {
				file.Close()
				_ = os.Remove(out)
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reportID, "report", "r", "", "report id (required)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default reconciliation-<id>.<format>)")
	_ = cmd.MarkFlagRequired("report")
	return cmd
}
