// Package notify dispatches payment receipts, refund notices and
// monitoring alerts. Delivery is fire-and-forget.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coursepay/payments/internal/worker"
)

type Kind string

const (
	KindReceipt Kind = "payment.receipt"
	KindRefund  Kind = "payment.refund"
	KindAlert   Kind = "monitoring.alert"
)

type Message struct {
	Kind          Kind           `json:"kind"`
	UserID        string         `json:"userId,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Log writes messages to the logger. Used when no queue is configured.
type Log struct{ L *slog.Logger }

func (n Log) Notify(_ context.Context, m Message) error {
	data, _ := json.Marshal(m.Data)
	n.L.Info("notification", "kind", m.Kind, "user_id", m.UserID, "transaction_id", m.TransactionID, "data", string(data))
	return nil
}

// Dispatcher hands messages to the worker pool so callers never wait on delivery.
type Dispatcher struct {
	n    Notifier
	pool *worker.Pool
	log  *slog.Logger
}

func NewDispatcher(n Notifier, pool *worker.Pool, log *slog.Logger) *Dispatcher {
	return &Dispatcher{n: n, pool: pool, log: log}
}

func (d *Dispatcher) Send(m Message) {
	if d == nil {
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := d.pool.Submit(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := d.n.Notify(ctx, m); err != nil {
			d.log.Warn("notification failed", "kind", m.Kind, "transaction_id", m.TransactionID, "err", err)
		}
	})
	if err != nil {
		d.log.Warn("notification dropped", "kind", m.Kind, "err", err)
	}
}
