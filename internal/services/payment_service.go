package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/catalog"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/lock"
	"github.com/coursepay/payments/internal/models"
	"github.com/coursepay/payments/internal/notify"
	repo "github.com/coursepay/payments/internal/repository"
)

const (
	reasonGatewayUnavailable = "gateway_unavailable"
	reasonDeclined           = "declined"
)

type PaymentDeps struct {
	Transactions repo.Transactions
	AuditLogs    repo.AuditLogs
	Catalog      *catalog.Service
	Gateway      gateway.Client
	Config       *ConfigService
	Locks        lock.Locker
	Notify       *notify.Dispatcher
	Log          *slog.Logger
	Currency     string
	MaxAttempts  int
}

// PaymentService drives a transaction from initiation to a charge outcome.
type PaymentService struct {
	ledger
	catalog     *catalog.Service
	gw          gateway.Client
	cfg         *ConfigService
	notify      *notify.Dispatcher
	currency    string
	maxAttempts int
	now         func() time.Time
}

func NewPaymentService(d PaymentDeps) *PaymentService {
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 5
	}
	return &PaymentService{
		ledger:      ledger{txns: d.Transactions, audit: d.AuditLogs, locks: d.Locks, log: d.Log},
		catalog:     d.Catalog,
		gw:          d.Gateway,
		cfg:         d.Config,
		notify:      d.Notify,
		currency:    d.Currency,
		maxAttempts: d.MaxAttempts,
		now:         time.Now,
	}
}

type InitiateRequest struct {
	UserID        string
	CourseID      string
	DiscountCode  *string
	PaymentMethod string
}

type InitiateResult struct {
	Transaction models.Transaction `json:"transaction"`
	CheckoutURL string             `json:"checkoutUrl,omitempty"`
	ExpiresAt   time.Time          `json:"expiresAt"`
}

// Initiate creates the pending transaction and submits the first charge.
// Gateway failures are reported through the returned transaction status.
func (s *PaymentService) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	cfg := s.cfg.Current()
	if !cfg.IsActive {
		return InitiateResult{}, apperr.GatewayUnavailable(errors.New("payments are disabled by configuration"))
	}
	if !cfg.MethodEnabled(req.PaymentMethod) {
		return InitiateResult{}, apperr.Validation(apperr.FieldError{Field: "mode", Message: "payment method not enabled"})
	}
	quote, err := s.catalog.Quote(ctx, req.CourseID, req.DiscountCode)
	if err != nil {
		return InitiateResult{}, err
	}
	if !cfg.AmountAllowed(quote.Amount) {
		return InitiateResult{}, apperr.Validation(apperr.FieldError{Field: "amount", Message: "outside the allowed transaction range"})
	}
	currency := quote.Course.Currency
	if currency == "" {
		currency = s.currency
	}

	now := s.now().UTC()
	tx, err := s.txns.Create(ctx, models.Transaction{
		ID:            models.NewTransactionID(now),
		CourseID:      req.CourseID,
		UserID:        req.UserID,
		Amount:        quote.Amount,
		Currency:      currency,
		PaymentMethod: req.PaymentMethod,
		Status:        models.TxnPending,
		DiscountCode:  quote.DiscountCode,
		CreatedAt:     now,
	})
	if err != nil {
		return InitiateResult{}, fmt.Errorf("create transaction: %w", err)
	}
	s.record(ctx, tx.ID, "created", req.UserID, map[string]any{"amount": tx.Amount.StringFixed(2), "course_id": tx.CourseID})

	tx, err = s.submit(ctx, tx.ID, req.UserID, SourceInitiate, func(models.Transaction) error { return nil })
	if err != nil {
		return InitiateResult{}, err
	}
	return InitiateResult{
		Transaction: tx,
		CheckoutURL: tx.CheckoutURL,
		ExpiresAt:   tx.CreatedAt.Add(time.Duration(cfg.SessionTimeoutMinutes) * time.Minute),
	}, nil
}

// Retry resubmits a failed transaction.
func (s *PaymentService) Retry(ctx context.Context, userID, id string) (models.Transaction, error) {
	return s.submit(ctx, id, userID, SourceRetry, func(tx models.Transaction) error {
		if tx.UserID != userID {
			return apperr.NotFound("transaction")
		}
		if tx.Status != models.TxnFailed {
			return apperr.Conflict(apperr.CodeIllegalTransition, "only failed transactions can be retried")
		}
		if tx.Attempts >= s.maxAttempts {
			return apperr.Conflict(apperr.CodeRetryExhausted, fmt.Sprintf("transaction reached %d attempts", s.maxAttempts))
		}
		return nil
	})
}

// submit marks the transaction processing under the lock, calls the gateway
// without holding it and applies the answer if nothing else decided first.
func (s *PaymentService) submit(ctx context.Context, id, actor, source string, check func(models.Transaction) error) (models.Transaction, error) {
	var attempt int
	tx, err := s.withLock(ctx, id, func(tx models.Transaction) (models.Transaction, error) {
		if err := check(tx); err != nil {
			return tx, err
		}
		out, err := s.transition(ctx, tx, models.TxnProcessing, source, actor, func(t *models.Transaction) {
			t.Attempts++
			t.FailureReason = nil
		})
		attempt = out.Attempts
		return out, err
	})
	if err != nil {
		return tx, err
	}

	res, callErr := s.gw.Charge(ctx, gateway.ChargeRequest{
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		PaymentMethod: tx.PaymentMethod,
		CourseID:      tx.CourseID,
		UserID:        tx.UserID,
		Attempt:       attempt,
	})
	// the request context may already be gone; the outcome still has to land
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return s.applyCharge(applyCtx, tx.ID, attempt, source, res, callErr)
}

func (s *PaymentService) applyCharge(ctx context.Context, id string, attempt int, source string, res gateway.ChargeResult, callErr error) (models.Transaction, error) {
	return s.withLock(ctx, id, func(tx models.Transaction) (models.Transaction, error) {
		if tx.Status != models.TxnProcessing || tx.Attempts != attempt {
			// a webhook or status poll already settled this attempt
			return tx, nil
		}
		switch {
		case errors.Is(callErr, gateway.ErrUnavailable):
			s.log.Warn("gateway unreachable, charge not submitted", "transaction_id", id, "err", callErr)
			return s.fail(ctx, tx, source, reasonGatewayUnavailable)
		case errors.Is(callErr, gateway.ErrDeclined):
			return s.fail(ctx, tx, source, reasonDeclined)
		case callErr != nil:
			// outcome unknown, stays processing until a webhook or status poll resolves it
			s.log.Warn("gateway charge outcome unknown", "transaction_id", id, "err", callErr)
			return tx, nil
		}
		return s.applyGatewayStatus(ctx, tx, source, res.Status, res.Reference, res.CheckoutURL, res.FailureReason)
	})
}

// applyGatewayStatus maps the gateway's view of a charge onto a processing
// transaction. Caller holds the lock.
func (s *PaymentService) applyGatewayStatus(ctx context.Context, tx models.Transaction, source, status, ref, checkout, reason string) (models.Transaction, error) {
	switch status {
	case gateway.StatusSuccess:
		out, err := s.transition(ctx, tx, models.TxnSuccess, source, "gateway", func(t *models.Transaction) {
			fillReference(t, ref, checkout)
		})
		if err == nil {
			s.receipt(out)
		}
		return out, err
	case gateway.StatusFailed:
		if reason == "" {
			reason = reasonDeclined
		}
		return s.transition(ctx, tx, models.TxnFailed, source, "gateway", func(t *models.Transaction) {
			fillReference(t, ref, checkout)
			t.FailureReason = strPtr(reason)
		})
	}
	// still pending at the gateway: keep processing, remember where to look
	if (ref != "" && tx.GatewayReference == "") || (checkout != "" && tx.CheckoutURL == "") {
		return s.save(ctx, tx, func(t *models.Transaction) { fillReference(t, ref, checkout) })
	}
	return tx, nil
}

func (s *PaymentService) fail(ctx context.Context, tx models.Transaction, source, reason string) (models.Transaction, error) {
	return s.transition(ctx, tx, models.TxnFailed, source, "gateway", func(t *models.Transaction) {
		t.FailureReason = strPtr(reason)
	})
}

func fillReference(t *models.Transaction, ref, checkout string) {
	if ref != "" && t.GatewayReference == "" {
		t.GatewayReference = ref
	}
	if checkout != "" && t.CheckoutURL == "" {
		t.CheckoutURL = checkout
	}
}

func (s *PaymentService) receipt(tx models.Transaction) {
	s.notify.Send(notify.Message{
		Kind:          notify.KindReceipt,
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		Data:          map[string]any{"amount": tx.Amount.StringFixed(2), "currency": tx.Currency, "courseId": tx.CourseID},
	})
}

// Status returns the transaction. A processing transaction is re-queried at
// the gateway first so callers are not left guessing after a timeout.
func (s *PaymentService) Status(ctx context.Context, userID string, admin bool, id string) (models.Transaction, error) {
	tx, err := s.txns.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !admin && tx.UserID != userID) {
		return models.Transaction{}, apperr.NotFound("transaction")
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	if tx.Status != models.TxnProcessing {
		return tx, nil
	}

	res, err := s.gw.Status(ctx, tx.ID, tx.GatewayReference)
	if err != nil {
		s.log.Warn("status re-query failed", "transaction_id", tx.ID, "err", err)
		return tx, nil
	}
	attempt := tx.Attempts
	return s.withLock(ctx, id, func(cur models.Transaction) (models.Transaction, error) {
		if cur.Status != models.TxnProcessing || cur.Attempts != attempt {
			return cur, nil
		}
		return s.applyGatewayStatus(ctx, cur, SourceStatus, res.Status, res.Reference, "", res.FailureReason)
	})
}

type HistoryPage struct {
	Items      []models.Transaction `json:"items"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	Total      int                  `json:"total"`
	TotalPages int                  `json:"totalPages"`
}

func (s *PaymentService) History(ctx context.Context, userID string, page, limit int, status *models.TransactionStatus) (HistoryPage, error) {
	items, total, err := s.txns.ListByUser(ctx, userID, status, limit, (page-1)*limit)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("list transactions: %w", err)
	}
	return HistoryPage{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}
