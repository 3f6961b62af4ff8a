// Package gateway talks to the external payment gateway.
//
// Errors from Client are classified so callers can tell whether money may
// have moved:
//   - ErrUnavailable: the request never reached the gateway.
//   - ErrTimeout: the request may have been processed; outcome unknown.
//   - ErrDeclined: the gateway answered and refused.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/models"
)

var (
	ErrUnavailable = errors.New("gateway: unavailable")
	ErrTimeout     = errors.New("gateway: outcome unknown")
	ErrDeclined    = errors.New("gateway: declined")
)

// Status values reported by the gateway for a charge.
const (
	StatusSuccess       = "success"
	StatusFailed        = "failed"
	StatusPending       = "pending"
	StatusRefunded      = "refunded"
	StatusPartialRefund = "partial_refund"
)

type ChargeRequest struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	CourseID      string          `json:"courseId"`
	UserID        string          `json:"userId"`
	Attempt       int             `json:"attempt"`
}

type ChargeResult struct {
	Reference     string `json:"gatewayReference"`
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkoutUrl"`
	FailureReason string `json:"failureReason"`
}

type StatusResult struct {
	Reference     string          `json:"gatewayReference"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	FailureReason string          `json:"failureReason"`
}

// RefundRequest carries an idempotency key. The gateway answers a repeated
// key with the original outcome instead of refunding again.
type RefundRequest struct {
	TransactionID  string          `json:"transactionId"`
	Reference      string          `json:"gatewayReference"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type RefundResult struct {
	RefundID string `json:"refundId"`
	Status   string `json:"status"`
}

// Refund outcomes reported by RefundStatus.
const (
	RefundSucceeded = "succeeded"
	RefundPending   = "pending"
	RefundFailed    = "failed"
	RefundUnknown   = "unknown" // no refund was recorded under the key
)

type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Status(ctx context.Context, transactionID, reference string) (StatusResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	RefundStatus(ctx context.Context, idempotencyKey string) (RefundResult, error)
	Settlements(ctx context.Context, start, end time.Time) ([]models.SettlementRecord, error)
	Ping(ctx context.Context) error
}

// Credentials are read per call so a config swap takes effect immediately.
type Credentials struct {
	MerchantID string
	APIKey     string
	APISecret  string
}

type CredentialSource func() Credentials
