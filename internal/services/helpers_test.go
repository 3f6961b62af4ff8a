package services

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/catalog"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/gateway/gatewaytest"
	"github.com/coursepay/payments/internal/lock"
	"github.com/coursepay/payments/internal/models"
	"github.com/coursepay/payments/internal/notify"
	repo "github.com/coursepay/payments/internal/repository"
	"github.com/coursepay/payments/internal/repository/embedded"
	"github.com/coursepay/payments/internal/worker"
)

const testSecret = "whsec_test"

type harness struct {
	repos    repo.Repositories
	gw       *gatewaytest.Fake
	cfg      *ConfigService
	payments *PaymentService
	refunds  *RefundService
	webhooks *WebhookService
	recon    *ReconciliationService
	pool     *worker.Pool
	twoFA    *stubTwoFactor
}

type stubTwoFactor struct{ err error }

func (s *stubTwoFactor) Verify(context.Context, string, string) error { return s.err }

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := embedded.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.PutCourse(models.Course{ID: "go-101", Title: "Go 101", Price: decimal.NewFromInt(1000), Currency: "INR", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutDiscount(models.Discount{Code: "SAVE20", Percent: decimal.NewFromInt(20), Active: true}); err != nil {
		t.Fatal(err)
	}

	log := quietLog()
	repos := store.Repositories()
	pool := worker.NewPool(2, log)
	t.Cleanup(pool.Stop)

	cfg, err := NewConfigService(context.Background(), repos.GatewayConfigs, repos.AuditLogs,
		DefaultGatewayConfig("M1", "key_1", testSecret, "sandbox"), log)
	if err != nil {
		t.Fatal(err)
	}
	fake := &gatewaytest.Fake{}
	locks := lock.NewMemory()
	dispatch := notify.NewDispatcher(notify.Log{L: log}, pool, log)
	twoFA := &stubTwoFactor{}

	payments := NewPaymentService(PaymentDeps{
		Transactions: repos.Transactions,
		AuditLogs:    repos.AuditLogs,
		Catalog:      catalog.New(repos.Courses),
		Gateway:      fake,
		Config:       cfg,
		Locks:        locks,
		Notify:       dispatch,
		Log:          log,
		Currency:     "INR",
		MaxAttempts:  5,
	})
	return &harness{
		repos:    repos,
		gw:       fake,
		cfg:      cfg,
		payments: payments,
		refunds: NewRefundService(RefundDeps{
			Transactions: repos.Transactions,
			AuditLogs:    repos.AuditLogs,
			Gateway:      fake,
			Locks:        locks,
			TwoFactor:    twoFA,
			Notify:       dispatch,
			Log:          log,
		}),
		webhooks: NewWebhookService(payments, repos.WebhookEvents, gateway.NewVerifier(cfg.Credentials, 5*time.Minute), log),
		recon: NewReconciliationService(ReconciliationDeps{
			Reports:       repos.Reports,
			Transactions:  repos.Transactions,
			WebhookEvents: repos.WebhookEvents,
			AuditLogs:     repos.AuditLogs,
			Gateway:       fake,
			Pool:          pool,
			Log:           log,
		}),
		pool:  pool,
		twoFA: twoFA,
	}
}

func (h *harness) initiate(t *testing.T) models.Transaction {
	t.Helper()
	res, err := h.payments.Initiate(context.Background(), InitiateRequest{UserID: "u1", CourseID: "go-101", PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return res.Transaction
}

func (h *harness) load(t *testing.T, id string) models.Transaction {
	t.Helper()
	tx, err := h.repos.Transactions.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

// signed builds a webhook request signed with the merchant secret.
func signed(body string) SignedRequest {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return SignedRequest{Signature: gateway.Sign(testSecret, ts, []byte(body)), Timestamp: ts, Body: []byte(body)}
}

// settle drives a fresh transaction to success through a webhook.
func (h *harness) settle(t *testing.T) models.Transaction {
	t.Helper()
	tx := h.initiate(t)
	body := `{"eventId":"ev-settle-` + tx.ID + `","transactionId":"` + tx.ID + `","gatewayReference":"` + tx.GatewayReference + `","status":"success","amount":"1000.00"}`
	if _, err := h.webhooks.IngestWebhook(context.Background(), signed(body)); err != nil {
		t.Fatalf("settle webhook: %v", err)
	}
	tx = h.load(t, tx.ID)
	if tx.Status != models.TxnSuccess {
		t.Fatalf("status after webhook = %s", tx.Status)
	}
	return tx
}
