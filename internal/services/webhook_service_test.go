package services

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/models"
)

func successBody(id, event string, amount string) string {
	return `{"eventId":"` + event + `","transactionId":"` + id + `","status":"success","amount":"` + amount + `"}`
}

func TestWebhookReplayIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := h.initiate(t)

	req := signed(successBody(tx.ID, "ev-1", "1000"))
	first, err := h.webhooks.IngestWebhook(ctx, req)
	if err != nil || first.Outcome != models.WebhookApplied {
		t.Fatalf("first delivery = %+v, %v", first, err)
	}
	after := h.load(t, tx.ID)
	logs, _ := h.repos.AuditLogs.ListByEntity(ctx, "transaction", tx.ID)

	tests := []struct {
		name string
		req  SignedRequest
		want models.WebhookOutcome
	}{
		{"same event id", req, models.WebhookDuplicate},
		{"new id, same state", signed(successBody(tx.ID, "ev-2", "1000")), models.WebhookNoop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.webhooks.IngestWebhook(ctx, tt.req)
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s; want %s", res.Outcome, tt.want)
			}
		})
	}

	again := h.load(t, tx.ID)
	if again.Version != after.Version || again.Status != models.TxnSuccess {
		t.Fatalf("replay changed the transaction: %+v", again)
	}
	logsAfter, _ := h.repos.AuditLogs.ListByEntity(ctx, "transaction", tx.ID)
	if len(logsAfter) != len(logs) {
		t.Fatalf("replay wrote audit entries: %d -> %d", len(logs), len(logsAfter))
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	tx := h.initiate(t)
	body := successBody(tx.ID, "ev-forged", "1000")
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	staleTS := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)

	tests := []struct {
		name string
		req  SignedRequest
	}{
		{"unsigned", SignedRequest{Timestamp: ts, Body: []byte(body)}},
		{"wrong key", SignedRequest{Signature: gateway.Sign("attacker", ts, []byte(body)), Timestamp: ts, Body: []byte(body)}},
		{"stale", SignedRequest{Signature: gateway.Sign(testSecret, staleTS, []byte(body)), Timestamp: staleTS, Body: []byte(body)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.webhooks.IngestWebhook(context.Background(), tt.req)
			if !errors.Is(err, apperr.ErrSignature) {
				t.Fatalf("err = %v; want signature error", err)
			}
		})
	}
	if got := h.load(t, tx.ID); got.Status != models.TxnProcessing {
		t.Fatalf("rejected webhook changed status to %s", got.Status)
	}
	if seen, _ := h.repos.WebhookEvents.Exists(context.Background(), "ev-forged"); seen {
		t.Fatal("rejected webhook was journaled")
	}
}

func TestWebhookAmountMismatchIsFlaggedNotWritten(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := h.initiate(t)

	if _, err := h.webhooks.IngestWebhook(ctx, signed(successBody(tx.ID, "ev-mm", "1.00"))); err != nil {
		t.Fatal(err)
	}
	got := h.load(t, tx.ID)
	if !got.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("stored amount overwritten: %s", got.Amount)
	}
	now := time.Now().UTC()
	flagged, _ := h.repos.WebhookEvents.Flagged(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if len(flagged) != 1 || flagged[0].TransactionID != tx.ID {
		t.Fatalf("flagged = %+v", flagged)
	}
}

func TestWebhookIllegalTransitionIgnored(t *testing.T) {
	h := newHarness(t)
	tx := h.settle(t)
	body := `{"eventId":"ev-late-fail","transactionId":"` + tx.ID + `","status":"failed"}`
	res, err := h.webhooks.IngestWebhook(context.Background(), signed(body))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != models.WebhookIgnored {
		t.Fatalf("outcome = %s; want ignored", res.Outcome)
	}
	if got := h.load(t, tx.ID); got.Status != models.TxnSuccess {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestWebhookResolvesByReference(t *testing.T) {
	h := newHarness(t)
	tx := h.initiate(t)
	body := `{"eventId":"ev-ref","gatewayReference":"` + tx.GatewayReference + `","status":"failed","failureReason":"insufficient_funds"}`
	res, err := h.webhooks.IngestWebhook(context.Background(), signed(body))
	if err != nil || res.TransactionID != tx.ID {
		t.Fatalf("res = %+v, %v", res, err)
	}
	got := h.load(t, tx.ID)
	if got.Status != models.TxnFailed || got.FailureReason == nil || *got.FailureReason != "insufficient_funds" {
		t.Fatalf("transaction = %+v", got)
	}
}

func TestCallbackSignedOverQuery(t *testing.T) {
	h := newHarness(t)
	tx := h.initiate(t)
	q := url.Values{
		"transactionId":        {tx.ID},
		"status":               {"success"},
		"amount":               {"1000.00"},
		gateway.TimestampParam: {strconv.FormatInt(time.Now().Unix(), 10)},
	}
	q.Set(gateway.SignatureParam, gateway.Sign(testSecret, q.Get(gateway.TimestampParam), gateway.CanonicalQuery(q)))

	res, err := h.webhooks.IngestCallback(context.Background(), q)
	if err != nil || res.Outcome != models.WebhookApplied {
		t.Fatalf("callback = %+v, %v", res, err)
	}
	// the redirect can be reloaded by the browser
	res, err = h.webhooks.IngestCallback(context.Background(), q)
	if err != nil || res.Outcome != models.WebhookDuplicate {
		t.Fatalf("reload = %+v, %v", res, err)
	}

	q.Set("status", "failed")
	if _, err := h.webhooks.IngestCallback(context.Background(), q); !errors.Is(err, apperr.ErrSignature) {
		t.Fatalf("tampered callback err = %v", err)
	}
}

// retried leaves a transaction whose first charge was declined and whose
// second attempt is in flight.
func (h *harness) retried(t *testing.T) models.Transaction {
	t.Helper()
	h.gw.ChargeFunc = func(_ context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
		if req.Attempt == 1 {
			return gateway.ChargeResult{Reference: "GW-" + req.TransactionID, Status: gateway.StatusFailed, FailureReason: "insufficient_funds"}, nil
		}
		return gateway.ChargeResult{Reference: "GW-" + req.TransactionID, Status: gateway.StatusPending}, nil
	}
	tx := h.initiate(t)
	if tx.Status != models.TxnFailed {
		t.Fatalf("first attempt = %s", tx.Status)
	}
	tx, err := h.payments.Retry(context.Background(), "u1", tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status != models.TxnProcessing || tx.Attempts != 2 {
		t.Fatalf("after retry = %s attempts=%d", tx.Status, tx.Attempts)
	}
	return tx
}

func TestFailureOfEarlierAttemptIsStale(t *testing.T) {
	tests := []struct {
		name    string
		body    func(id string) string
		gateway string // charge status the gateway reports when asked
		want    models.WebhookOutcome
		status  models.TransactionStatus
	}{
		{
			name:   "names the earlier attempt",
			body:   func(id string) string { return `{"eventId":"ev-old","transactionId":"` + id + `","status":"failed","attempt":1}` },
			want:   models.WebhookStale,
			status: models.TxnProcessing,
		},
		{
			name:    "no attempt, gateway still pending",
			body:    func(id string) string { return `{"eventId":"ev-old","transactionId":"` + id + `","status":"failed"}` },
			gateway: gateway.StatusPending,
			want:    models.WebhookStale,
			status:  models.TxnProcessing,
		},
		{
			name:    "no attempt, gateway confirms the failure",
			body:    func(id string) string { return `{"eventId":"ev-new","transactionId":"` + id + `","status":"failed"}` },
			gateway: gateway.StatusFailed,
			want:    models.WebhookApplied,
			status:  models.TxnFailed,
		},
		{
			name:   "names the current attempt",
			body:   func(id string) string { return `{"eventId":"ev-new","transactionId":"` + id + `","status":"failed","attempt":2}` },
			want:   models.WebhookApplied,
			status: models.TxnFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tx := h.retried(t)
			queried := false
			h.gw.StatusFunc = func(_ context.Context, _, ref string) (gateway.StatusResult, error) {
				queried = true
				if tt.gateway == "" {
					t.Error("gateway queried for a notice that names its attempt")
				}
				return gateway.StatusResult{Reference: ref, Status: tt.gateway}, nil
			}

			res, err := h.webhooks.IngestWebhook(context.Background(), signed(tt.body(tx.ID)))
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s; want %s", res.Outcome, tt.want)
			}
			if got := h.load(t, tx.ID); got.Status != tt.status {
				t.Fatalf("status = %s; want %s", got.Status, tt.status)
			}
			if tt.gateway != "" && !queried {
				t.Error("gateway was not asked about an unnamed attempt")
			}
		})
	}
}

func TestRetriedChargeSettlesAfterStaleFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := h.retried(t)

	stale := `{"eventId":"ev-old","transactionId":"` + tx.ID + `","status":"failed"}`
	if res, err := h.webhooks.IngestWebhook(ctx, signed(stale)); err != nil || res.Outcome != models.WebhookStale {
		t.Fatalf("stale failure = %+v, %v", res, err)
	}
	res, err := h.webhooks.IngestWebhook(ctx, signed(successBody(tx.ID, "ev-paid", "1000")))
	if err != nil || res.Outcome != models.WebhookApplied {
		t.Fatalf("success = %+v, %v", res, err)
	}
	if got := h.load(t, tx.ID); got.Status != models.TxnSuccess {
		t.Fatalf("status = %s; want success", got.Status)
	}
}

func TestFailureCheckUnavailableIsRedelivered(t *testing.T) {
	h := newHarness(t)
	tx := h.retried(t)
	var deadline time.Time
	h.gw.StatusFunc = func(ctx context.Context, _, _ string) (gateway.StatusResult, error) {
		deadline, _ = ctx.Deadline()
		return gateway.StatusResult{}, gateway.ErrTimeout
	}
	body := `{"eventId":"ev-unsure","transactionId":"` + tx.ID + `","status":"failed"}`
	if _, err := h.webhooks.IngestWebhook(context.Background(), signed(body)); !errors.Is(err, apperr.ErrGatewayUnavailable) {
		t.Fatalf("err = %v; want gateway unavailable", err)
	}
	if seen, _ := h.repos.WebhookEvents.Exists(context.Background(), "ev-unsure"); seen {
		t.Fatal("unconfirmed notice was journaled")
	}
	if got := h.load(t, tx.ID); got.Status != models.TxnProcessing {
		t.Fatalf("status = %s", got.Status)
	}
	if deadline.IsZero() || time.Until(deadline) > failureCheckTimeout {
		t.Fatalf("status query deadline = %v; want within %v", deadline, failureCheckTimeout)
	}
}

func TestSuccessOnFailedTransactionIsReconciled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.ChargeFunc = func(_ context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
		return gateway.ChargeResult{Reference: "GW-" + req.TransactionID, Status: gateway.StatusFailed}, nil
	}
	tx := h.initiate(t)

	res, err := h.webhooks.IngestWebhook(ctx, signed(successBody(tx.ID, "ev-late-paid", "1000")))
	if err != nil || res.Outcome != models.WebhookIgnored {
		t.Fatalf("late success = %+v, %v", res, err)
	}
	if got := h.load(t, tx.ID); got.Status != models.TxnFailed {
		t.Fatalf("status = %s", got.Status)
	}

	rep, err := h.recon.RunSync(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Discrepancies) != 1 || rep.Discrepancies[0].Type != models.DiscrepancyStatusMismatch {
		t.Fatalf("discrepancies = %+v", rep.Discrepancies)
	}
	if rep.Summary.UnmatchedTransactions != 1 {
		t.Fatalf("summary = %+v", rep.Summary)
	}
}
