package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coursepay/payments/internal/metrics"
	"github.com/coursepay/payments/internal/models"
)

type HTTPClient struct {
	baseURL string
	creds   CredentialSource
	client  *http.Client
	pace    *rate.Limiter
	now     func() time.Time
}

// NewHTTPClient paces outbound calls at rps (burst of the same size) and
// bounds each call with timeout.
func NewHTTPClient(baseURL string, timeout time.Duration, rps float64, creds CredentialSource) *HTTPClient {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  &http.Client{Timeout: timeout},
		pace:    lim,
		now:     time.Now,
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *HTTPClient) do(ctx context.Context, op, method, endpoint string, payload, out any) error {
	return c.send(ctx, op, method, endpoint, "", payload, out)
}

func (c *HTTPClient) send(ctx context.Context, op, method, endpoint, idempotencyKey string, payload, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrUnavailable):
			outcome = "unavailable"
		case errors.Is(err, ErrTimeout):
			outcome = "timeout"
		case errors.Is(err, ErrDeclined):
			outcome = "declined"
		}
		metrics.GatewayCalls.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	if err := c.pace.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: pacing: %v", ErrUnavailable, op, err)
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %s: failed to create request: %v", ErrUnavailable, op, err)
	}

	cr := c.creds()
	ts := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Merchant-Id", cr.MerchantID)
	req.Header.Set("X-Api-Key", cr.APIKey)
	req.Header.Set(TimestampHeader, ts)
	req.Header.Set(SignatureHeader, Sign(cr.APISecret, ts, body))
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", ErrTimeout, op, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s: status %d", ErrTimeout, op, resp.StatusCode)
	case resp.StatusCode >= 400:
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		msg := ae.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: %s: %s", ErrDeclined, op, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrTimeout, op, err)
	}
	return nil
}

// classify maps transport errors. Dial failures never reached the gateway;
// anything else may have.
func classify(op string, err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
}

func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	var res ChargeResult
	err := c.do(ctx, "charge", http.MethodPost, "/v1/charges", req, &res)
	return res, err
}

func (c *HTTPClient) Status(ctx context.Context, transactionID, reference string) (StatusResult, error) {
	var res StatusResult
	q := url.Values{"transactionId": {transactionID}}
	if reference != "" {
		q.Set("gatewayReference", reference)
	}
	err := c.do(ctx, "status", http.MethodGet, "/v1/charges/status?"+q.Encode(), nil, &res)
	return res, err
}

func (c *HTTPClient) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	var res RefundResult
	err := c.send(ctx, "refund", http.MethodPost, "/v1/refunds", req.IdempotencyKey, req, &res)
	return res, err
}

// RefundStatus looks a refund up by its idempotency key. A key the gateway
// rejects as unknown is reported as RefundUnknown, not as an error.
func (c *HTTPClient) RefundStatus(ctx context.Context, idempotencyKey string) (RefundResult, error) {
	var res RefundResult
	err := c.do(ctx, "refund_status", http.MethodGet, "/v1/refunds/"+url.PathEscape(idempotencyKey), nil, &res)
	if errors.Is(err, ErrDeclined) {
		return RefundResult{Status: RefundUnknown}, nil
	}
	return res, err
}

func (c *HTTPClient) Settlements(ctx context.Context, start, end time.Time) ([]models.SettlementRecord, error) {
	var res struct {
		Settlements []models.SettlementRecord `json:"settlements"`
	}
	q := url.Values{
		"from": {start.UTC().Format(time.RFC3339)},
		"to":   {end.UTC().Format(time.RFC3339)},
	}
	if err := c.do(ctx, "settlements", http.MethodGet, "/v1/settlements?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return res.Settlements, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/v1/ping", nil, nil)
}
