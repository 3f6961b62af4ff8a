package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookNoop      WebhookOutcome = "noop"
	WebhookIgnored   WebhookOutcome = "ignored" // illegal transition from current state
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookStale     WebhookOutcome = "stale" // failure of an earlier charge attempt
)

// WebhookEvent is the journal entry of one verified gateway notification.
type WebhookEvent struct {
	EventID          string           `json:"eventId"`
	TransactionID    string           `json:"transactionId"`
	GatewayReference string           `json:"gatewayReference"`
	Status           string           `json:"status"`
	ClaimedAmount    *decimal.Decimal `json:"claimedAmount,omitempty"`
	AmountMismatch   bool             `json:"amountMismatch"`
	StatusConflict   bool             `json:"statusConflict"` // gateway success on a failed ledger row
	Outcome          WebhookOutcome   `json:"outcome"`
	Source           string           `json:"source"` // webhook | callback
	ReceivedAt       time.Time        `json:"receivedAt"`
}
