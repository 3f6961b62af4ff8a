package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/apperr"
)

type Errs []apperr.FieldError

func (e Errs) Error() string { // error interface
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Message)
	}
	return b.String()
}

func (e *Errs) add(field, msg string) {
	*e = append(*e, apperr.FieldError{Field: field, Message: msg})
}

// Err converts to the boundary error, nil when there is nothing to report.
func (e Errs) Err() error {
	if len(e) == 0 {
		return nil
	}
	return apperr.Validation(e...)
}

// Payload is a decoded JSON object. Decode with UseNumber so amounts keep precision.
type Payload map[string]any

// DecodePayload never fails on malformed bodies; it returns an error list instead.
func DecodePayload(body []byte) (Payload, Errs) {
	var errs Errs
	if len(strings.TrimSpace(string(body))) == 0 {
		return Payload{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		errs.add("body", "must be a JSON object")
		return Payload{}, errs
	}
	if _, err := dec.Token(); err != io.EOF {
		errs.add("body", "must hold a single JSON object")
		return Payload{}, errs
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

func (p Payload) has(field string) bool {
	v, ok := p[field]
	return ok && v != nil
}

// str returns the field as a string; ok=false when present but not a string.
func (p Payload) str(field string) (string, bool) {
	v, present := p[field]
	if !present || v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

func (p Payload) number(field string) (decimal.Decimal, bool) {
	switch v := p[field].(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	default:
		return decimal.Zero, false
	}
}

func (p Payload) integer(field string) (int, bool) {
	switch v := p[field].(type) {
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return n, err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func (p Payload) boolean(field string) (bool, bool) {
	switch v := p[field].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	default:
		return false, false
	}
}

func (p Payload) stringList(field string) ([]string, bool) {
	raw, ok := p[field].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		s, ok := r.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// Helpers

func required(errs *Errs, field, value string) bool {
	if strings.TrimSpace(value) == "" {
		errs.add(field, "required")
		return false
	}
	return true
}

func lengthBetween(errs *Errs, field, value string, min, max int) bool {
	n := len([]rune(value))
	if n < min || n > max {
		errs.add(field, fmt.Sprintf("length must be between %d and %d", min, max))
		return false
	}
	return true
}
