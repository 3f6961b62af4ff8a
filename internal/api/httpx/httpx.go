package httpx

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/coursepay/payments/internal/apperr"
)

type APIError struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string, details interface{}) {
	WriteJSON(w, status, APIError{
		Error:   msg,
		Code:    code,
		Details: details,
	})
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:           http.StatusBadRequest,
	apperr.KindUnauthenticated:      http.StatusUnauthorized,
	apperr.KindForbidden:            http.StatusForbidden,
	apperr.KindNotFound:             http.StatusNotFound,
	apperr.KindRateLimited:          http.StatusTooManyRequests,
	apperr.KindCsrf:                 http.StatusForbidden,
	apperr.KindGatewayUnavailable:   http.StatusServiceUnavailable,
	apperr.KindReconciliationFailed: http.StatusBadGateway,
	apperr.KindConflict:             http.StatusConflict,
	apperr.KindAmountInvariant:      http.StatusUnprocessableEntity,
	apperr.KindSignature:            http.StatusUnauthorized,
	apperr.KindInternal:             http.StatusInternalServerError,
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if s, ok := statusByKind[apperr.From(err).Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteAppError renders any error in the {error, code, details} envelope.
// Unknown errors become a 500 without leaking their text.
func WriteAppError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	status := StatusFor(ae)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}

	var details interface{}
	switch {
	case len(ae.Fields) > 0:
		details = ae.Fields
	case ae.Kind == apperr.KindRateLimited:
		secs := int(math.Ceil(ae.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		details = map[string]int{"retryAfter": secs}
	}
	WriteError(w, status, ae.Code, ae.Message, details)
}
