package models

import (
	"crypto/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxnPending       TransactionStatus = "pending"
	TxnProcessing    TransactionStatus = "processing"
	TxnSuccess       TransactionStatus = "success"
	TxnFailed        TransactionStatus = "failed"
	TxnPartialRefund TransactionStatus = "partial_refund"
	TxnRefunded      TransactionStatus = "refunded"
)

// transitions is the directed lifecycle graph. Anything not listed is illegal.
var transitions = map[TransactionStatus][]TransactionStatus{
	TxnPending:       {TxnProcessing},
	TxnProcessing:    {TxnSuccess, TxnFailed},
	TxnFailed:        {TxnProcessing},
	TxnSuccess:       {TxnRefunded, TxnPartialRefund},
	TxnPartialRefund: {TxnPartialRefund, TxnRefunded},
	TxnRefunded:      nil,
}

func (s TransactionStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
// partial_refund -> partial_refund is an edge (a further partial refund);
// every other self-transition is not and is treated as an idempotent no-op by callers.
func CanTransition(from, to TransactionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Settled reports whether money moved to the merchant for this status.
func (s TransactionStatus) Settled() bool {
	return s == TxnSuccess || s == TxnPartialRefund || s == TxnRefunded
}

// Terminal statuses never move again through the gateway charge path.
func (s TransactionStatus) Terminal() bool {
	return s == TxnRefunded
}

var transactionIDPattern = regexp.MustCompile(`^TXN_[A-Z0-9_]{10,30}$`)

func ValidTransactionID(id string) bool { return transactionIDPattern.MatchString(id) }

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewTransactionID returns TXN_ followed by a millisecond timestamp and random suffix.
func NewTransactionID(now time.Time) string {
	var b strings.Builder
	b.WriteString("TXN_")
	b.WriteString(strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)))
	b.WriteByte('_')
	buf := make([]byte, 10)
	_, _ = rand.Read(buf)
	for _, c := range buf {
		b.WriteByte(idAlphabet[int(c)%len(idAlphabet)])
	}
	return b.String()
}

type Transaction struct {
	ID               string            `json:"transactionId"`
	CourseID         string            `json:"courseId"`
	UserID           string            `json:"userId"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	PaymentMethod    string            `json:"paymentMethod"`
	Status           TransactionStatus `json:"status"`
	GatewayReference string            `json:"gatewayReference,omitempty"`
	DiscountCode     *string           `json:"discountCode,omitempty"`
	Attempts         int               `json:"attempts"`
	FailureReason    *string           `json:"failureReason,omitempty"`
	RefundedAmount   decimal.Decimal   `json:"refundedAmount"`
	RefundAttempts   int               `json:"refundAttempts"`
	PendingRefund    *PendingRefund    `json:"pendingRefund,omitempty"`
	CheckoutURL      string            `json:"checkoutUrl,omitempty"`
	Version          int64             `json:"-"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// PendingRefund is a refund sent to the gateway whose outcome is not known.
// It is written before the gateway call and cleared once the outcome is.
type PendingRefund struct {
	Key         string          `json:"key"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	RequestedBy string          `json:"requestedBy"`
	RequestedAt time.Time       `json:"requestedAt"`
}

// RefundKey is the idempotency key of the n-th refund request on a transaction.
func RefundKey(transactionID string, n int) string {
	return transactionID + "-RF" + strconv.Itoa(n)
}

// RemainingRefundable is amount minus what has already been refunded.
func (t Transaction) RemainingRefundable() decimal.Decimal {
	return t.Amount.Sub(t.RefundedAmount)
}

// RefundStatusFor returns the status the transaction lands in once
// refundedAmount reaches newRefunded.
func (t Transaction) RefundStatusFor(newRefunded decimal.Decimal) TransactionStatus {
	if newRefunded.GreaterThanOrEqual(t.Amount) {
		return TxnRefunded
	}
	return TxnPartialRefund
}
