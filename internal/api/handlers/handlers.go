// Package handlers adapts HTTP requests to the payment services.
package handlers

import (
	"io"
	"net/http"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/api/validate"
	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/middleware"
)

const maxBody = 1 << 20

// payload reads a JSON body. Oversized or malformed bodies come back as
// validation errors, never as a 500.
func payload(r *http.Request) (validate.Payload, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, apperr.Validation(apperr.FieldError{Field: "body", Message: "unreadable"})
	}
	if len(body) > maxBody {
		return nil, apperr.Validation(apperr.FieldError{Field: "body", Message: "too large"})
	}
	p, errs := validate.DecodePayload(body)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// caller is set by the auth middleware; a missing user means the route
// was mounted without it.
func caller(r *http.Request) (middleware.UserCtx, error) {
	u, ok := middleware.FromCtx(r.Context())
	if !ok {
		return u, apperr.Unauthenticated("authentication required")
	}
	return u, nil
}

func fail(w http.ResponseWriter, err error) { httpx.WriteAppError(w, err) }
