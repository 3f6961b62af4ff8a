package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/auth"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/lock"
	"github.com/coursepay/payments/internal/logger"
	"github.com/coursepay/payments/internal/models"
	"github.com/coursepay/payments/internal/notify"
	repo "github.com/coursepay/payments/internal/repository"
)

// TwoFactorVerifier checks an admin's one-time code.
type TwoFactorVerifier interface {
	Verify(ctx context.Context, adminID, code string) error
}

// defaultRefundBudget bounds the work done while a refund holds the
// transaction lock. It must stay below the lock TTL.
const defaultRefundBudget = 20 * time.Second

type RefundDeps struct {
	Transactions repo.Transactions
	AuditLogs    repo.AuditLogs
	Gateway      gateway.Client
	Locks        lock.Locker
	TwoFactor    TwoFactorVerifier
	Require2FA   bool
	Notify       *notify.Dispatcher
	Log          *slog.Logger
	Budget       time.Duration
}

type RefundService struct {
	ledger
	gw         gateway.Client
	twoFactor  TwoFactorVerifier
	require2FA bool
	notify     *notify.Dispatcher
	budget     time.Duration
	now        func() time.Time
}

func NewRefundService(d RefundDeps) *RefundService {
	if d.Budget <= 0 {
		d.Budget = defaultRefundBudget
	}
	return &RefundService{
		ledger:     ledger{txns: d.Transactions, audit: d.AuditLogs, locks: d.Locks, log: d.Log},
		gw:         d.Gateway,
		twoFactor:  d.TwoFactor,
		require2FA: d.Require2FA,
		notify:     d.Notify,
		budget:     d.Budget,
		now:        time.Now,
	}
}

type RefundRequest struct {
	AdminID       string
	TransactionID string
	Amount        decimal.Decimal
	Reason        string
	TwoFactorCode *string
}

type RefundResult struct {
	Transaction models.Transaction `json:"transaction"`
	RefundID    string             `json:"refundId"`
	Amount      decimal.Decimal    `json:"refundedNow"`
}

// Refund returns money on a settled transaction. The lock is held across the
// gateway call so two refunds can never both pass the remaining-amount check.
//
// The refund is marked pending before the gateway is called. A marker left
// behind by an unknown outcome is settled with the gateway before anything
// else happens; a request for the same amount is then treated as a repeat of
// the pending one.
func (s *RefundService) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := s.checkTwoFactor(ctx, req); err != nil {
		return RefundResult{}, err
	}

	var res RefundResult
	tx, err := s.withLock(ctx, req.TransactionID, func(tx models.Transaction) (models.Transaction, error) {
		// must finish before the lock expires, and must finish even if the caller left
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.budget)
		defer cancel()

		if tx.PendingRefund != nil {
			out, prev, err := s.settlePending(ctx, tx)
			if err != nil {
				return out, err
			}
			tx = out
			if prev != nil && prev.Amount.Equal(req.Amount) {
				res = *prev
				return tx, nil
			}
		}

		if tx.Status != models.TxnSuccess && tx.Status != models.TxnPartialRefund {
			return tx, apperr.Conflict(apperr.CodeIllegalTransition, fmt.Sprintf("cannot refund a %s transaction", tx.Status))
		}
		if tx.RefundedAmount.Add(req.Amount).GreaterThan(tx.Amount) {
			return tx, apperr.AmountInvariant(fmt.Sprintf("refund exceeds remaining refundable amount %s", tx.RemainingRefundable().StringFixed(2)))
		}

		marked, err := s.save(ctx, tx, func(t *models.Transaction) {
			t.RefundAttempts++
			t.PendingRefund = &models.PendingRefund{
				Key:         models.RefundKey(t.ID, t.RefundAttempts),
				Amount:      req.Amount,
				Reason:      req.Reason,
				RequestedBy: req.AdminID,
				RequestedAt: s.now().UTC(),
			}
		})
		if err != nil {
			return tx, err
		}
		out, refundID, err := s.send(ctx, marked)
		res = RefundResult{RefundID: refundID, Amount: req.Amount}
		return out, err
	})
	if err != nil {
		return RefundResult{}, err
	}
	res.Transaction = tx
	return res, nil
}

// send submits the pending refund under its idempotency key. The marker is
// cleared when the gateway gave a definite answer and kept when it may have
// refunded without saying so.
func (s *RefundService) send(ctx context.Context, tx models.Transaction) (models.Transaction, string, error) {
	p := tx.PendingRefund
	res, err := s.gw.Refund(ctx, gateway.RefundRequest{
		TransactionID:  tx.ID,
		Reference:      tx.GatewayReference,
		Amount:         p.Amount,
		Reason:         p.Reason,
		IdempotencyKey: p.Key,
	})
	switch {
	case errors.Is(err, gateway.ErrDeclined):
		out, cerr := s.clearPending(ctx, tx)
		if cerr != nil {
			return out, "", cerr
		}
		return out, "", apperr.Conflict(apperr.CodeRefundDeclined, "refund declined by the gateway")
	case errors.Is(err, gateway.ErrUnavailable):
		s.log.Warn("refund not sent", "transaction_id", tx.ID, "refund_key", p.Key, "err", err)
		out, cerr := s.clearPending(ctx, tx)
		if cerr != nil {
			return out, "", cerr
		}
		return out, "", apperr.GatewayUnavailable(err)
	case err != nil:
		s.log.Warn("refund outcome unknown, kept pending", "transaction_id", tx.ID, "refund_key", p.Key, "err", err)
		return tx, "", apperr.GatewayUnavailable(err)
	}
	out, err := s.apply(ctx, tx, res.RefundID)
	return out, res.RefundID, err
}

// settlePending asks the gateway what became of a refund an earlier request
// left pending. The refund is returned when it went through.
func (s *RefundService) settlePending(ctx context.Context, tx models.Transaction) (models.Transaction, *RefundResult, error) {
	p := *tx.PendingRefund
	st, err := s.gw.RefundStatus(ctx, p.Key)
	if err != nil {
		s.log.Warn("pending refund not confirmed", "transaction_id", tx.ID, "refund_key", p.Key, "err", err)
		return tx, nil, apperr.Conflict(apperr.CodeRefundPending, "an earlier refund is not confirmed by the gateway yet")
	}

	var out models.Transaction
	refundID := st.RefundID
	switch st.Status {
	case gateway.RefundSucceeded:
		out, err = s.apply(ctx, tx, st.RefundID)
	case gateway.RefundUnknown:
		// never recorded there; the same key cannot refund twice
		out, refundID, err = s.send(ctx, tx)
	case gateway.RefundFailed:
		out, err = s.clearPending(ctx, tx)
		return out, nil, err
	default:
		return tx, nil, apperr.Conflict(apperr.CodeRefundPending, "an earlier refund is still processing at the gateway")
	}
	if err != nil {
		return out, nil, err
	}
	return out, &RefundResult{RefundID: refundID, Amount: p.Amount}, nil
}

// apply books the pending refund on the ledger once the gateway confirmed it.
func (s *RefundService) apply(ctx context.Context, tx models.Transaction, refundID string) (models.Transaction, error) {
	p := *tx.PendingRefund
	newRefunded := tx.RefundedAmount.Add(p.Amount)
	out, err := s.transition(ctx, tx, tx.RefundStatusFor(newRefunded), SourceRefund, p.RequestedBy, func(t *models.Transaction) {
		t.RefundedAmount = newRefunded
		t.PendingRefund = nil
	})
	if err != nil {
		// money moved at the gateway; the marker stays so the next request books it
		s.log.Error("refund applied at gateway but not recorded", "transaction_id", tx.ID, "refund_id", refundID, "err", err)
		return out, err
	}
	s.record(ctx, tx.ID, "refund", p.RequestedBy, map[string]any{
		"refund_id":  refundID,
		"refund_key": p.Key,
		"amount":     p.Amount.StringFixed(2),
		"reason":     p.Reason,
	})
	s.notify.Send(notify.Message{
		Kind:          notify.KindRefund,
		UserID:        out.UserID,
		TransactionID: out.ID,
		Data:          map[string]any{"amount": p.Amount.StringFixed(2), "currency": out.Currency, "refundId": refundID},
	})
	return out, nil
}

func (s *RefundService) clearPending(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	return s.save(ctx, tx, func(t *models.Transaction) { t.PendingRefund = nil })
}

func (s *RefundService) checkTwoFactor(ctx context.Context, req RefundRequest) error {
	if !s.require2FA {
		return nil
	}
	if req.TwoFactorCode == nil {
		return apperr.Validation(apperr.FieldError{Field: "twoFactorCode", Message: "required"})
	}
	err := s.twoFactor.Verify(ctx, req.AdminID, *req.TwoFactorCode)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrNotEnrolled):
		return apperr.Forbidden("two-factor enrollment required for refunds")
	case errors.Is(err, auth.ErrBadCode):
		logger.Security(s.log, "refund rejected: bad two-factor code", "admin_id", req.AdminID)
		return apperr.Forbidden("invalid two-factor code")
	}
	return fmt.Errorf("verify two-factor: %w", err)
}
