// Package ratelimit implements fixed-window quotas per (category, subject).
//
// A window starts at now.Truncate(window). The counter for a window is
// compare-and-increment: a request that finds the counter at its quota is
// rejected without touching it, so rejected calls never consume quota.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/coursepay/payments/internal/metrics"
)

type Category string

const (
	PaymentInitiate   Category = "payment-initiate"
	PaymentRetry      Category = "payment-retry"
	Refund            Category = "refund"
	ReconciliationRun Category = "reconciliation-run"
	StatusCheck       Category = "status-check"
	History           Category = "history"
	Config            Category = "config"
	Monitoring        Category = "monitoring"
)

// GlobalKey is the subject for limits shared by every caller.
const GlobalKey = "global"

type Rule struct {
	Window time.Duration
	Quota  int
}

// DefaultRules is the production quota table.
var DefaultRules = map[Category]Rule{
	PaymentInitiate:   {Window: time.Minute, Quota: 5},
	PaymentRetry:      {Window: time.Hour, Quota: 3},
	Refund:            {Window: time.Hour, Quota: 10},
	ReconciliationRun: {Window: 24 * time.Hour, Quota: 10},
	StatusCheck:       {Window: time.Minute, Quota: 10},
	History:           {Window: time.Minute, Quota: 10},
	Config:            {Window: time.Minute, Quota: 20},
	Monitoring:        {Window: time.Minute, Quota: 20},
}

// Store holds window counters.
type Store interface {
	// Take increments key if it is below quota and reports whether it did.
	// ttl bounds how long the counter may live.
	Take(ctx context.Context, key string, quota int, ttl time.Duration) (bool, error)
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds up so clients never retry inside the same window.
func (d Decision) RetryAfterSeconds() int {
	s := int(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		s++
	}
	return s
}

type Limiter struct {
	store Store
	rules map[Category]Rule
	now   func() time.Time
}

type Option func(*Limiter)

func WithRules(rules map[Category]Rule) Option {
	return func(l *Limiter) { l.rules = rules }
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, rules: DefaultRules, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow consumes one unit of quota for subject in category.
func (l *Limiter) Allow(ctx context.Context, cat Category, subject string) (Decision, error) {
	rule, ok := l.rules[cat]
	if !ok {
		return Decision{}, fmt.Errorf("ratelimit: unknown category %q", cat)
	}
	now := l.now()
	start := now.Truncate(rule.Window)
	end := start.Add(rule.Window)
	key := fmt.Sprintf("rl:%s:%s:%d", cat, subject, start.Unix())

	allowed, err := l.store.Take(ctx, key, rule.Quota, end.Sub(now))
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: take %s: %w", cat, err)
	}
	if !allowed {
		metrics.RateLimitRejected.WithLabelValues(string(cat)).Inc()
		return Decision{Allowed: false, RetryAfter: end.Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}
