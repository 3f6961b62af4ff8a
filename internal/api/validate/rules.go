package validate

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/models"
)

var (
	courseIDPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	discountCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{4,20}$`)
	twoFactorPattern    = regexp.MustCompile(`^[0-9]{6}$`)

	minRefund = decimal.RequireFromString("0.01")
	maxRefund = decimal.NewFromInt(500000)

	strict = bluemonday.StrictPolicy()
)

func TransactionID(id string) (string, Errs) {
	var errs Errs
	if !models.ValidTransactionID(id) {
		errs.add("transactionId", "must match TXN_ followed by 10-30 characters of A-Z, 0-9 or _")
	}
	return id, errs
}

// DiscountCode upper-cases a valid code.
func DiscountCode(code string) (string, Errs) {
	var errs Errs
	code = strings.TrimSpace(code)
	if !discountCodePattern.MatchString(code) {
		errs.add("discountCode", "must be 4-20 alphanumeric characters")
		return "", errs
	}
	return strings.ToUpper(code), nil
}

func TwoFactorCode(code string) (string, Errs) {
	var errs Errs
	if !twoFactorPattern.MatchString(code) {
		errs.add("twoFactorCode", "must be exactly 6 digits")
	}
	return code, errs
}

// SanitizeText strips markup and control characters and collapses whitespace.
// The result is plain text, so the entities the policy escapes are decoded.
func SanitizeText(s string) string {
	// decoding can reveal encoded markup, strip again until nothing changes
	for i := 0; i < 8; i++ {
		next := html.UnescapeString(strict.Sanitize(s))
		if next == s {
			break
		}
		s = next
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

type InitiateInput struct {
	CourseID      string
	DiscountCode  *string
	PaymentMethod string
}

// Initiate validates POST /payment/initiate. "mode" is the payment method.
func Initiate(p Payload) (InitiateInput, Errs) {
	var in InitiateInput
	var errs Errs

	courseID, ok := p.str("courseId")
	if !ok {
		errs.add("courseId", "must be a string")
	} else if required(&errs, "courseId", courseID) && !courseIDPattern.MatchString(courseID) {
		errs.add("courseId", "invalid format")
	}
	in.CourseID = courseID

	if p.has("discountCode") {
		raw, ok := p.str("discountCode")
		if !ok {
			errs.add("discountCode", "must be a string")
		} else if raw != "" {
			code, cerrs := DiscountCode(raw)
			errs = append(errs, cerrs...)
			if len(cerrs) == 0 {
				in.DiscountCode = &code
			}
		}
	}

	mode, ok := p.str("mode")
	if !ok {
		errs.add("mode", "must be a string")
	} else if required(&errs, "mode", mode) {
		mode = strings.ToLower(strings.TrimSpace(mode))
		if !models.KnownPaymentMethod(mode) {
			errs.add("mode", "unsupported payment method")
		}
	}
	in.PaymentMethod = mode
	return in, errs
}

type HistoryQuery struct {
	Page   int
	Limit  int
	Status *models.TransactionStatus
}

func (q HistoryQuery) Offset() int { return (q.Page - 1) * q.Limit }

func History(v url.Values) (HistoryQuery, Errs) {
	q := HistoryQuery{Page: 1, Limit: 10}
	var errs Errs
	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			errs.add("page", "must be an integer >= 1")
		} else {
			q.Page = n
		}
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			errs.add("limit", "must be an integer between 1 and 100")
		} else {
			q.Limit = n
		}
	}
	if s := v.Get("status"); s != "" {
		st := models.TransactionStatus(s)
		if !st.Valid() {
			errs.add("status", "unknown status")
		} else {
			q.Status = &st
		}
	}
	return q, errs
}

type RefundInput struct {
	TransactionID string
	Amount        decimal.Decimal
	Reason        string
	TwoFactorCode *string
}

func Refund(p Payload) (RefundInput, Errs) {
	var in RefundInput
	var errs Errs

	id, ok := p.str("transactionId")
	if !ok {
		errs.add("transactionId", "must be a string")
	} else {
		_, ierrs := TransactionID(id)
		errs = append(errs, ierrs...)
	}
	in.TransactionID = id

	amount, ok := p.number("amount")
	switch {
	case !p.has("amount"):
		errs.add("amount", "required")
	case !ok:
		errs.add("amount", "must be numeric")
	case amount.LessThan(minRefund) || amount.GreaterThan(maxRefund):
		errs.add("amount", "must be between 0.01 and 500000")
	case amount.Exponent() < -2 && !amount.Equal(amount.Round(2)):
		errs.add("amount", "at most 2 decimal places")
	default:
		in.Amount = amount
	}

	reason, ok := p.str("reason")
	if !ok {
		errs.add("reason", "must be a string")
	} else {
		reason = SanitizeText(reason)
		if required(&errs, "reason", reason) {
			lengthBetween(&errs, "reason", reason, 10, 500)
		}
	}
	in.Reason = reason

	if p.has("twoFactorCode") {
		code, ok := p.str("twoFactorCode")
		if !ok {
			errs.add("twoFactorCode", "must be a string")
		} else {
			_, cerrs := TwoFactorCode(code)
			errs = append(errs, cerrs...)
			if len(cerrs) == 0 {
				in.TwoFactorCode = &code
			}
		}
	}
	return in, errs
}

// ConfigInput is a gateway-config update. Nil fields keep their stored value.
type ConfigInput struct {
	MerchantID            *string
	APIKey                *string
	APISecret             *string
	EnabledPaymentMethods []string
	MinTransactionAmount  *decimal.Decimal
	MaxTransactionAmount  *decimal.Decimal
	SessionTimeoutMinutes *int
	Environment           *models.GatewayEnvironment
	IsActive              *bool
}

func GatewayConfig(p Payload) (ConfigInput, Errs) {
	var in ConfigInput
	var errs Errs

	for _, f := range []struct {
		name string
		dst  **string
	}{{"merchantId", &in.MerchantID}, {"apiKey", &in.APIKey}, {"apiSecret", &in.APISecret}} {
		if !p.has(f.name) {
			continue
		}
		s, ok := p.str(f.name)
		if !ok || strings.TrimSpace(s) == "" {
			errs.add(f.name, "must be a non-empty string")
			continue
		}
		s = strings.TrimSpace(s)
		*f.dst = &s
	}

	if p.has("enabledPaymentMethods") {
		methods, ok := p.stringList("enabledPaymentMethods")
		if !ok || len(methods) == 0 {
			errs.add("enabledPaymentMethods", "must be a non-empty list of strings")
		} else {
			seen := map[string]bool{}
			for _, m := range methods {
				m = strings.ToLower(strings.TrimSpace(m))
				if !models.KnownPaymentMethod(m) {
					errs.add("enabledPaymentMethods", "unsupported payment method: "+m)
					continue
				}
				if !seen[m] {
					seen[m] = true
					in.EnabledPaymentMethods = append(in.EnabledPaymentMethods, m)
				}
			}
		}
	}

	for _, f := range []struct {
		name string
		dst  **decimal.Decimal
	}{{"minTransactionAmount", &in.MinTransactionAmount}, {"maxTransactionAmount", &in.MaxTransactionAmount}} {
		if !p.has(f.name) {
			continue
		}
		d, ok := p.number(f.name)
		if !ok || !d.IsPositive() {
			errs.add(f.name, "must be a positive number")
			continue
		}
		*f.dst = &d
	}
	if in.MinTransactionAmount != nil && in.MaxTransactionAmount != nil &&
		!in.MinTransactionAmount.LessThan(*in.MaxTransactionAmount) {
		errs.add("minTransactionAmount", "must be less than maxTransactionAmount")
	}

	if p.has("sessionTimeoutMinutes") {
		n, ok := p.integer("sessionTimeoutMinutes")
		if !ok || n < 5 || n > 60 {
			errs.add("sessionTimeoutMinutes", "must be an integer between 5 and 60")
		} else {
			in.SessionTimeoutMinutes = &n
		}
	}

	if p.has("environment") {
		s, _ := p.str("environment")
		env := models.GatewayEnvironment(s)
		if env != models.EnvSandbox && env != models.EnvProduction {
			errs.add("environment", "must be sandbox or production")
		} else {
			in.Environment = &env
		}
	}

	if p.has("isActive") {
		b, ok := p.boolean("isActive")
		if !ok {
			errs.add("isActive", "must be a boolean")
		} else {
			in.IsActive = &b
		}
	}
	return in, errs
}

type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates (UTC midnight).
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// ReconciliationRun validates startDate <= endDate. A date-only endDate
// covers the whole day.
func ReconciliationRun(p Payload) (DateRange, Errs) {
	var r DateRange
	var errs Errs

	startRaw, _ := p.str("startDate")
	endRaw, _ := p.str("endDate")
	start, okStart := ParseDate(startRaw)
	if !okStart {
		errs.add("startDate", "must be an ISO-8601 date")
	}
	end, okEnd := ParseDate(endRaw)
	if !okEnd {
		errs.add("endDate", "must be an ISO-8601 date")
	}
	if okEnd && len(strings.TrimSpace(endRaw)) == len("2006-01-02") {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	if okStart && okEnd && end.Before(start) {
		errs.add("endDate", "must not be before startDate")
	}
	r.Start, r.End = start, end
	return r, errs
}

type ResolveInput struct {
	ReportID      string
	TransactionID string
	Notes         string
}

func Resolve(p Payload) (ResolveInput, Errs) {
	var in ResolveInput
	var errs Errs

	reportID, _ := p.str("reportId")
	if required(&errs, "reportId", reportID) {
		lengthBetween(&errs, "reportId", reportID, 1, 64)
	}
	txnID, _ := p.str("transactionId")
	if required(&errs, "transactionId", txnID) {
		lengthBetween(&errs, "transactionId", txnID, 1, 100)
	}
	notes, ok := p.str("notes")
	if !ok {
		errs.add("notes", "must be a string")
	} else {
		notes = SanitizeText(notes)
		if required(&errs, "notes", notes) {
			lengthBetween(&errs, "notes", notes, 1, 1000)
		}
	}
	in.ReportID, in.TransactionID, in.Notes = reportID, txnID, notes
	return in, errs
}

type TimeRange string

const (
	Range24h TimeRange = "24h"
	Range7d  TimeRange = "7d"
	Range30d TimeRange = "30d"
)

func (r TimeRange) Duration() time.Duration {
	switch r {
	case Range7d:
		return 7 * 24 * time.Hour
	case Range30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func MonitoringRange(v url.Values) (TimeRange, Errs) {
	var errs Errs
	s := v.Get("timeRange")
	if s == "" {
		return Range24h, nil
	}
	r := TimeRange(s)
	if r != Range24h && r != Range7d && r != Range30d {
		errs.add("timeRange", "must be one of 24h, 7d, 30d")
		return Range24h, errs
	}
	return r, nil
}
