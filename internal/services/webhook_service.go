package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/logger"
	"github.com/coursepay/payments/internal/metrics"
	"github.com/coursepay/payments/internal/models"
	repo "github.com/coursepay/payments/internal/repository"
)

// Notification is the gateway's report about one charge.
type Notification struct {
	EventID          string           `json:"eventId"`
	TransactionID    string           `json:"transactionId"`
	GatewayReference string           `json:"gatewayReference"`
	Status           string           `json:"status"`
	Amount           *decimal.Decimal `json:"amount"`
	FailureReason    string           `json:"failureReason"`
	Attempt          int              `json:"attempt,omitempty"` // charge attempt the notice is about, when the gateway says
}

// SignedRequest is what the transport layer extracted, untrusted until verified.
type SignedRequest struct {
	Signature string
	Timestamp string
	EventID   string // header value, preferred over the body field
	Body      []byte
}

type IngestResult struct {
	Outcome       models.WebhookOutcome `json:"outcome"`
	TransactionID string                `json:"transactionId,omitempty"`
}

type WebhookService struct {
	payments *PaymentService
	events   repo.WebhookEvents
	verifier *gateway.Verifier
	log      *slog.Logger
	now      func() time.Time
}

func NewWebhookService(payments *PaymentService, events repo.WebhookEvents, verifier *gateway.Verifier, log *slog.Logger) *WebhookService {
	return &WebhookService{payments: payments, events: events, verifier: verifier, log: log, now: time.Now}
}

// IngestWebhook handles the signed JSON notification (POST).
func (s *WebhookService) IngestWebhook(ctx context.Context, req SignedRequest) (IngestResult, error) {
	if err := s.verify(SourceWebhook, req.Signature, req.Timestamp, req.Body); err != nil {
		return IngestResult{}, err
	}
	var n Notification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return IngestResult{}, apperr.Validation(apperr.FieldError{Field: "body", Message: "must be a JSON notification"})
	}
	if req.EventID != "" {
		n.EventID = req.EventID
	}
	return s.ingest(ctx, SourceWebhook, n)
}

// IngestCallback handles the browser redirect (GET) signed over its query.
func (s *WebhookService) IngestCallback(ctx context.Context, q url.Values) (IngestResult, error) {
	sig := q.Get(gateway.SignatureParam)
	if err := s.verify(SourceCallback, sig, q.Get(gateway.TimestampParam), gateway.CanonicalQuery(q)); err != nil {
		return IngestResult{}, err
	}
	n := Notification{
		EventID:          q.Get("eventId"),
		TransactionID:    q.Get("transactionId"),
		GatewayReference: q.Get("gatewayReference"),
		Status:           q.Get("status"),
		FailureReason:    q.Get("failureReason"),
	}
	if n.EventID == "" {
		// redirects carry no event id; the signature is unique per signed timestamp
		n.EventID = "cb-" + sig
	}
	if raw := q.Get("attempt"); raw != "" {
		attempt, err := strconv.Atoi(raw)
		if err != nil || attempt < 1 {
			return IngestResult{}, apperr.Validation(apperr.FieldError{Field: "attempt", Message: "must be a positive integer"})
		}
		n.Attempt = attempt
	}
	if raw := q.Get("amount"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return IngestResult{}, apperr.Validation(apperr.FieldError{Field: "amount", Message: "must be numeric"})
		}
		n.Amount = &d
	}
	return s.ingest(ctx, SourceCallback, n)
}

func (s *WebhookService) verify(source, sig, ts string, payload []byte) error {
	err := s.verifier.Verify(sig, ts, payload)
	if err == nil {
		return nil
	}
	metrics.WebhookEvents.WithLabelValues(source, "rejected").Inc()
	logger.Security(s.log, "gateway notification rejected", "source", source, "reason", err.Error())
	if errors.Is(err, gateway.ErrStale) {
		return apperr.Signature("notification timestamp outside the accepted window")
	}
	return apperr.Signature("invalid signature")
}

// failureCheckTimeout bounds the status query made while the transaction is locked.
const failureCheckTimeout = 5 * time.Second

var notificationStatus = map[string]models.TransactionStatus{
	gateway.StatusSuccess:       models.TxnSuccess,
	gateway.StatusFailed:        models.TxnFailed,
	gateway.StatusRefunded:      models.TxnRefunded,
	gateway.StatusPartialRefund: models.TxnPartialRefund,
	gateway.StatusPending:       models.TxnProcessing,
}

func (s *WebhookService) ingest(ctx context.Context, source string, n Notification) (IngestResult, error) {
	n.EventID = strings.TrimSpace(n.EventID)
	if n.EventID == "" {
		return IngestResult{}, apperr.Validation(apperr.FieldError{Field: "eventId", Message: "required"})
	}
	target, ok := notificationStatus[n.Status]
	if !ok {
		return IngestResult{}, apperr.Validation(apperr.FieldError{Field: "status", Message: "unknown status"})
	}

	seen, err := s.events.Exists(ctx, n.EventID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("check event journal: %w", err)
	}
	if seen {
		return s.done(source, IngestResult{Outcome: models.WebhookDuplicate, TransactionID: n.TransactionID}), nil
	}

	txID, err := s.resolve(ctx, n)
	if err != nil {
		return IngestResult{}, err
	}
	event := models.WebhookEvent{
		EventID:          n.EventID,
		TransactionID:    txID,
		GatewayReference: n.GatewayReference,
		Status:           n.Status,
		ClaimedAmount:    n.Amount,
		Source:           source,
		ReceivedAt:       s.now().UTC(),
	}
	if txID == "" {
		s.log.Warn("notification for unknown transaction", "event_id", n.EventID, "transaction_id", n.TransactionID, "gateway_reference", n.GatewayReference)
		event.TransactionID = n.TransactionID
		event.Outcome = models.WebhookIgnored
		return s.journal(ctx, source, event)
	}

	p := s.payments
	_, err = p.withLock(ctx, txID, func(tx models.Transaction) (models.Transaction, error) {
		// the claimed amount is evidence, never a write
		if n.Amount != nil && !n.Amount.Equal(tx.Amount) && target != models.TxnPartialRefund {
			event.AmountMismatch = true
			s.log.Warn("notification amount differs from ledger", "transaction_id", tx.ID, "claimed", n.Amount.StringFixed(2), "stored", tx.Amount.StringFixed(2))
		}
		apply := func(tx models.Transaction) (models.Transaction, error) {
			out, err := p.applyGatewayStatus(ctx, tx, source, n.Status, n.GatewayReference, "", n.FailureReason)
			if err == nil {
				event.Outcome = models.WebhookApplied
			}
			return out, err
		}

		switch {
		case tx.Status == target:
			event.Outcome = models.WebhookNoop
			return tx, nil
		case target == models.TxnFailed && tx.Status == models.TxnProcessing && tx.Attempts > 1:
			stale, err := s.staleFailure(ctx, tx, n)
			if err != nil {
				return tx, err
			}
			if stale {
				event.Outcome = models.WebhookStale
				s.log.Info("failure notice for an earlier attempt", "event_id", n.EventID, "transaction_id", tx.ID, "attempts", tx.Attempts)
				return tx, nil
			}
			return apply(tx)
		case target == models.TxnSuccess && tx.Status == models.TxnFailed:
			// the gateway holds money the ledger gave up on; reconciliation reports it
			event.StatusConflict = true
			event.Outcome = models.WebhookIgnored
			s.log.Warn("gateway success on a failed transaction", "event_id", n.EventID, "transaction_id", tx.ID)
			return tx, nil
		case target == models.TxnSuccess || target == models.TxnFailed:
			if !models.CanTransition(tx.Status, target) {
				event.Outcome = models.WebhookIgnored
				return tx, nil
			}
			return apply(tx)
		default:
			// refunds are initiated here and already recorded; a pending report adds nothing
			event.Outcome = models.WebhookIgnored
			return tx, nil
		}
	})
	if err != nil {
		return IngestResult{}, err
	}
	if event.Outcome == models.WebhookIgnored {
		s.log.Info("notification ignored", "event_id", n.EventID, "transaction_id", txID, "status", n.Status)
	}
	return s.journal(ctx, source, event)
}

// staleFailure reports whether a failure notice belongs to an earlier charge
// attempt than the one in flight. A notice that does not name its attempt is
// checked against the gateway's view of the charge.
func (s *WebhookService) staleFailure(ctx context.Context, tx models.Transaction, n Notification) (bool, error) {
	if n.Attempt > 0 {
		return n.Attempt < tx.Attempts, nil
	}
	ctx, cancel := context.WithTimeout(ctx, failureCheckTimeout)
	defer cancel()
	res, err := s.payments.gw.Status(ctx, tx.ID, tx.GatewayReference)
	if err != nil {
		// not journaled, so the gateway delivers it again
		return false, apperr.GatewayUnavailable(fmt.Errorf("confirm failure notice: %w", err))
	}
	return res.Status != gateway.StatusFailed, nil
}

func (s *WebhookService) resolve(ctx context.Context, n Notification) (string, error) {
	if n.GatewayReference != "" {
		tx, err := s.payments.txns.GetByReference(ctx, n.GatewayReference)
		if err == nil {
			return tx.ID, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("lookup by reference: %w", err)
		}
	}
	if models.ValidTransactionID(n.TransactionID) {
		tx, err := s.payments.txns.GetByID(ctx, n.TransactionID)
		if err == nil {
			return tx.ID, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("lookup by id: %w", err)
		}
	}
	return "", nil
}

func (s *WebhookService) journal(ctx context.Context, source string, e models.WebhookEvent) (IngestResult, error) {
	err := s.events.Record(ctx, e)
	if errors.Is(err, repo.ErrDuplicate) {
		// a concurrent delivery of the same event got there first
		e.Outcome = models.WebhookDuplicate
	} else if err != nil {
		return IngestResult{}, fmt.Errorf("journal event: %w", err)
	}
	return s.done(source, IngestResult{Outcome: e.Outcome, TransactionID: e.TransactionID}), nil
}

func (s *WebhookService) done(source string, r IngestResult) IngestResult {
	metrics.WebhookEvents.WithLabelValues(source, string(r.Outcome)).Inc()
	return r
}
