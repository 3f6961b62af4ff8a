// Package gatewaytest provides an in-memory gateway.Client for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/models"
)

// Fake answers from function fields when set and from canned defaults otherwise.
// Default charge outcome is pending with reference "GW-<transactionId>".
// Default refunds are idempotent by key, like the real gateway.
type Fake struct {
	ChargeFunc       func(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error)
	StatusFunc       func(ctx context.Context, transactionID, reference string) (gateway.StatusResult, error)
	RefundFunc       func(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error)
	RefundStatusFunc func(ctx context.Context, idempotencyKey string) (gateway.RefundResult, error)
	SettlementsFunc  func(ctx context.Context, start, end time.Time) ([]models.SettlementRecord, error)
	PingFunc         func(ctx context.Context) error

	mu        sync.Mutex
	charges   []gateway.ChargeRequest
	refunds   []gateway.RefundRequest
	processed map[string]gateway.RefundResult
}

func (f *Fake) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	f.mu.Lock()
	f.charges = append(f.charges, req)
	f.mu.Unlock()
	if f.ChargeFunc != nil {
		return f.ChargeFunc(ctx, req)
	}
	return gateway.ChargeResult{
		Reference:   "GW-" + req.TransactionID,
		Status:      gateway.StatusPending,
		CheckoutURL: fmt.Sprintf("https://sandbox.gateway.test/checkout/%s", req.TransactionID),
	}, nil
}

func (f *Fake) Status(ctx context.Context, transactionID, reference string) (gateway.StatusResult, error) {
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx, transactionID, reference)
	}
	return gateway.StatusResult{Reference: reference, Status: gateway.StatusPending}, nil
}

func (f *Fake) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	f.mu.Lock()
	f.refunds = append(f.refunds, req)
	f.mu.Unlock()
	if f.RefundFunc != nil {
		return f.RefundFunc(ctx, req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.processed[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return res, nil
	}
	res := gateway.RefundResult{RefundID: fmt.Sprintf("RF-%s-%d", req.TransactionID, len(f.processed)+1), Status: gateway.RefundSucceeded}
	if f.processed == nil {
		f.processed = map[string]gateway.RefundResult{}
	}
	f.processed[req.IdempotencyKey] = res
	return res, nil
}

func (f *Fake) RefundStatus(ctx context.Context, idempotencyKey string) (gateway.RefundResult, error) {
	if f.RefundStatusFunc != nil {
		return f.RefundStatusFunc(ctx, idempotencyKey)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.processed[idempotencyKey]; ok {
		return res, nil
	}
	return gateway.RefundResult{Status: gateway.RefundUnknown}, nil
}

func (f *Fake) Settlements(ctx context.Context, start, end time.Time) ([]models.SettlementRecord, error) {
	if f.SettlementsFunc != nil {
		return f.SettlementsFunc(ctx, start, end)
	}
	return nil, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	if f.PingFunc != nil {
		return f.PingFunc(ctx)
	}
	return nil
}

func (f *Fake) Charges() []gateway.ChargeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.ChargeRequest(nil), f.charges...)
}

func (f *Fake) Refunds() []gateway.RefundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.RefundRequest(nil), f.refunds...)
}
