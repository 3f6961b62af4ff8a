// Package apperr defines the error taxonomy shared by the payment services
// and the HTTP boundary. Every user-visible failure carries a stable
// machine-readable Code next to the human Message.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindRateLimited
	KindCsrf
	KindGatewayUnavailable
	KindReconciliationFailed
	KindConflict
	KindAmountInvariant
	KindSignature
)

// Stable codes. Clients match on these, never on messages.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeCsrf               = "CSRF_VALIDATION_FAILED"
	CodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	CodeReconciliation     = "RECONCILIATION_RUN_FAILED"
	CodeConflict           = "CONCURRENCY_CONFLICT"
	CodeIllegalTransition  = "ILLEGAL_STATE_TRANSITION"
	CodeRetryExhausted     = "RETRY_LIMIT_REACHED"
	CodeAmountInvariant    = "AMOUNT_INVARIANT_VIOLATION"
	CodeAlreadyResolved    = "DISCREPANCY_ALREADY_RESOLVED"
	CodeReportNotReady     = "REPORT_NOT_READY"
	CodeRefundDeclined     = "REFUND_DECLINED"
	CodeRefundPending      = "REFUND_PENDING"
	CodeSignature          = "INVALID_SIGNATURE"
	CodeInternal           = "INTERNAL_ERROR"
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Fields     []FieldError
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Code so callers can write errors.Is(err, apperr.ErrCsrf).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrCsrf               = &Error{Kind: KindCsrf}
	ErrGatewayUnavailable = &Error{Kind: KindGatewayUnavailable}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrAmountInvariant    = &Error{Kind: KindAmountInvariant}
	ErrSignature          = &Error{Kind: KindSignature}
)

func Validation(fields ...FieldError) *Error {
	msg := "invalid request"
	if len(fields) == 1 {
		msg = fields[0].Field + ": " + fields[0].Message
	}
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: msg, Fields: fields}
}

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: CodeUnauthenticated, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: msg}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: what + " not found"}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Code: CodeRateLimited, Message: "too many requests", RetryAfter: retryAfter}
}

// Csrf never says which half of the token pair mismatched.
func Csrf() *Error {
	return &Error{Kind: KindCsrf, Code: CodeCsrf, Message: "csrf validation failed"}
}

func GatewayUnavailable(err error) *Error {
	return &Error{Kind: KindGatewayUnavailable, Code: CodeGatewayUnavailable, Message: "payment gateway unavailable", Err: err}
}

func ReconciliationFailed(err error) *Error {
	return &Error{Kind: KindReconciliationFailed, Code: CodeReconciliation, Message: "reconciliation run failed", Err: err}
}

func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func AmountInvariant(msg string) *Error {
	return &Error{Kind: KindAmountInvariant, Code: CodeAmountInvariant, Message: msg}
}

func Signature(msg string) *Error {
	return &Error{Kind: KindSignature, Code: CodeSignature, Message: msg}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}

// From returns err as *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
