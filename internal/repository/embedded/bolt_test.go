package embedded_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
	"github.com/coursepay/payments/internal/repository/embedded"
)

func newTestStore(t *testing.T) (*embedded.Store, repo.Repositories) {
	t.Helper()
	dir := t.TempDir()
	s, err := embedded.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, s.Repositories()
}

func sampleTxn(id, user string, created time.Time) models.Transaction {
	return models.Transaction{
		ID:            id,
		CourseID:      "course-1",
		UserID:        user,
		Amount:        decimal.NewFromInt(1000),
		Currency:      "INR",
		PaymentMethod: "card",
		Status:        models.TxnPending,
		CreatedAt:     created,
	}
}

func TestTransactionCreateDuplicate(t *testing.T) {
	_, r := newTestStore(t)
	ctx := context.Background()

	tx, err := r.Transactions.Create(ctx, sampleTxn("TXN_AAAAAAAAAA", "u1", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if tx.Version != 1 {
		t.Fatalf("version = %d; want 1", tx.Version)
	}
	if _, err := r.Transactions.Create(ctx, sampleTxn("TXN_AAAAAAAAAA", "u1", time.Now())); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("err = %v; want ErrDuplicate", err)
	}
}

func TestTransactionUpdateVersionCheck(t *testing.T) {
	_, r := newTestStore(t)
	ctx := context.Background()
	tx, _ := r.Transactions.Create(ctx, sampleTxn("TXN_BBBBBBBBBB", "u1", time.Now()))

	first := tx
	first.Status = models.TxnProcessing
	first.GatewayReference = "GW-1"
	updated, err := r.Transactions.Update(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d; want 2", updated.Version)
	}

	// a writer holding the old version loses
	stale := tx
	stale.Status = models.TxnFailed
	if _, err := r.Transactions.Update(ctx, stale); !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("err = %v; want ErrVersionConflict", err)
	}

	// amount is immutable through Update
	tamper := updated
	tamper.Amount = decimal.NewFromInt(1)
	got, err := r.Transactions.Update(ctx, tamper)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("amount changed to %s", got.Amount)
	}

	byRef, err := r.Transactions.GetByReference(ctx, "GW-1")
	if err != nil || byRef.ID != tx.ID {
		t.Fatalf("GetByReference = %+v, %v", byRef, err)
	}
}

func TestListByUserPagination(t *testing.T) {
	_, r := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{"TXN_P000000001", "TXN_P000000002", "TXN_P000000003"}
	for i, id := range ids {
		if _, err := r.Transactions.Create(ctx, sampleTxn(id, "u1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = r.Transactions.Create(ctx, sampleTxn("TXN_OTHERUSER1", "u2", base))

	page, total, err := r.Transactions.ListByUser(ctx, "u1", nil, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(page) != 2 || page[0].ID != "TXN_P000000003" {
		t.Fatalf("page1 = %v total=%d", page, total)
	}
	page, _, _ = r.Transactions.ListByUser(ctx, "u1", nil, 2, 2)
	if len(page) != 1 || page[0].ID != "TXN_P000000001" {
		t.Fatalf("page2 = %v", page)
	}
	success := models.TxnSuccess
	page, total, _ = r.Transactions.ListByUser(ctx, "u1", &success, 10, 0)
	if total != 0 || len(page) != 0 {
		t.Fatalf("status filter = %v total=%d", page, total)
	}
}

func TestReportResolveOnce(t *testing.T) {
	_, r := newTestStore(t)
	ctx := context.Background()
	rep := models.ReconciliationReport{ID: "rep-1", RunStatus: models.RunRunning, CreatedAt: time.Now()}
	if err := r.Reports.Create(ctx, rep); err != nil {
		t.Fatal(err)
	}
	amt := decimal.NewFromInt(10)
	rep.RunStatus = models.RunCompleted
	rep.Discrepancies = []models.Discrepancy{{ReportID: "rep-1", TransactionID: "TXN_CCCCCCCCCC", Type: models.DiscrepancyMissingInGateway, SystemAmount: &amt}}
	if err := r.Reports.Save(ctx, rep); err != nil {
		t.Fatal(err)
	}

	d, err := r.Reports.Resolve(ctx, "rep-1", "TXN_CCCCCCCCCC", "refunded offline", "admin-1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !d.Resolved || d.Notes == nil || *d.Notes != "refunded offline" {
		t.Fatalf("resolved = %+v", d)
	}
	if _, err := r.Reports.Resolve(ctx, "rep-1", "TXN_CCCCCCCCCC", "again", "admin-2", time.Now()); !errors.Is(err, repo.ErrAlreadyResolved) {
		t.Fatalf("err = %v; want ErrAlreadyResolved", err)
	}
	if _, err := r.Reports.Resolve(ctx, "rep-1", "TXN_MISSING000", "x", "a", time.Now()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v; want ErrNotFound", err)
	}

	// a later save keeps the resolution
	if err := r.Reports.Save(ctx, rep); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Reports.Get(ctx, "rep-1")
	if !got.Discrepancies[0].Resolved {
		t.Fatal("resolution lost on save")
	}
}

func TestWebhookEventJournal(t *testing.T) {
	_, r := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	claimed := decimal.NewFromInt(999)
	e := models.WebhookEvent{EventID: "ev-1", TransactionID: "TXN_DDDDDDDDDD", Status: "success", ClaimedAmount: &claimed, AmountMismatch: true, Outcome: models.WebhookApplied, ReceivedAt: now}
	if err := r.WebhookEvents.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := r.WebhookEvents.Record(ctx, e); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("err = %v; want ErrDuplicate", err)
	}
	ok, _ := r.WebhookEvents.Exists(ctx, "ev-1")
	if !ok {
		t.Fatal("event not journaled")
	}
	flagged, err := r.WebhookEvents.Flagged(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil || len(flagged) != 1 {
		t.Fatalf("mismatched = %v, %v", flagged, err)
	}
}

func TestAuditLogsByEntity(t *testing.T) {
	_, r := newTestStore(t)
	ctx := context.Background()
	id := "TXN_EEEEEEEEEE"
	other := "TXN_EEEEEEEEEF"
	for _, a := range []string{"created", "status_change"} {
		if err := r.AuditLogs.Create(ctx, models.AuditLog{EntityType: "transaction", EntityID: &id, Action: a}); err != nil {
			t.Fatal(err)
		}
	}
	_ = r.AuditLogs.Create(ctx, models.AuditLog{EntityType: "transaction", EntityID: &other, Action: "created"})

	logs, err := r.AuditLogs.ListByEntity(ctx, "transaction", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestCatalogAndConfig(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	if err := s.PutCourse(models.Course{ID: "go-101", Price: decimal.NewFromInt(4999), Currency: "INR", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDiscount(models.Discount{Code: "save20", Percent: decimal.NewFromInt(20), Active: true}); err != nil {
		t.Fatal(err)
	}
	if c, err := r.Courses.Get(ctx, "go-101"); err != nil || !c.Active {
		t.Fatalf("course = %+v, %v", c, err)
	}
	if _, err := r.Courses.Discount(ctx, "SAVE20"); err != nil {
		t.Fatalf("discount lookup is case-insensitive: %v", err)
	}
	if _, err := r.GatewayConfigs.Get(ctx); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v; want ErrNotFound", err)
	}
	cfg := models.GatewayConfig{MerchantID: "M1", APISecret: "sec", MinTransactionAmount: decimal.NewFromInt(1), MaxTransactionAmount: decimal.NewFromInt(10)}
	if err := r.GatewayConfigs.Save(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	got, _ := r.GatewayConfigs.Get(ctx)
	if got.APISecret != "sec" {
		t.Fatal("secret must be stored unmasked")
	}
	if err := r.Health.Ping(ctx); err != nil {
		t.Fatal(err)
	}
}
