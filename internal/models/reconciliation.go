package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type DiscrepancyType string

const (
	DiscrepancyAmountMismatch   DiscrepancyType = "amount_mismatch"
	DiscrepancyMissingInSystem  DiscrepancyType = "missing_in_system"
	DiscrepancyMissingInGateway DiscrepancyType = "missing_in_gateway"
	DiscrepancyStatusMismatch   DiscrepancyType = "status_mismatch"
)

type ReportSummary struct {
	TotalTransactions     int             `json:"totalTransactions"`
	MatchedTransactions   int             `json:"matchedTransactions"`
	UnmatchedTransactions int             `json:"unmatchedTransactions"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	SettledAmount         decimal.Decimal `json:"settledAmount"`
	PendingAmount         decimal.Decimal `json:"pendingAmount"`
}

type Discrepancy struct {
	ReportID      string           `json:"reportId"`
	TransactionID string           `json:"transactionId"`
	Type          DiscrepancyType  `json:"type"`
	SystemAmount  *decimal.Decimal `json:"systemAmount,omitempty"`
	GatewayAmount *decimal.Decimal `json:"gatewayAmount,omitempty"`
	Resolved      bool             `json:"resolved"`
	Notes         *string          `json:"notes,omitempty"`
	ResolvedAt    *time.Time       `json:"resolvedAt,omitempty"`
	ResolvedBy    *string          `json:"resolvedBy,omitempty"`
}

type ReconciliationReport struct {
	ID            string        `json:"reportId"`
	PeriodStart   time.Time     `json:"periodStart"`
	PeriodEnd     time.Time     `json:"periodEnd"`
	Summary       ReportSummary `json:"summary"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	RunStatus     RunStatus     `json:"runStatus"`
	FailureReason *string       `json:"failureReason,omitempty"`
	RequestedBy   string        `json:"requestedBy"`
	GeneratedAt   *time.Time    `json:"generatedAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// SettlementRecord is one row of the gateway's settlement report.
type SettlementRecord struct {
	TransactionID    string          `json:"transactionId"`
	GatewayReference string          `json:"gatewayReference"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	SettledAt        time.Time       `json:"settledAt"`
}
