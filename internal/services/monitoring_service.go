package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/coursepay/payments/internal/models"
	"github.com/coursepay/payments/internal/notify"
	repo "github.com/coursepay/payments/internal/repository"
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

func (h HealthStatus) rank() int {
	switch h {
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	}
	return 0
}

const (
	probeTimeout   = 2 * time.Second
	slowProbe      = time.Second
	minSuccessRate = 90.0
	maxAvgSeconds  = 5.0
)

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type ComponentHealth struct {
	Status         HealthStatus `json:"status"`
	ResponseTimeMs int64        `json:"responseTimeMs"`
	Error          string       `json:"error,omitempty"`
}

type HealthReport struct {
	Overall    HealthStatus               `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
	Alerts     []Alert                    `json:"alerts"`
	CheckedAt  time.Time                  `json:"checkedAt"`
}

type PaymentMetrics struct {
	Window                    string          `json:"timeRange"`
	TotalAttempts             int             `json:"totalAttempts"`
	SuccessfulPayments        int             `json:"successfulPayments"`
	SuccessRate               float64         `json:"successRate"`
	AverageProcessingTime     float64         `json:"averageProcessingTime"` // seconds
	TotalAmount               decimal.Decimal `json:"totalAmount"`
	FailedPayments            int             `json:"failedPayments"`
	PaymentMethodDistribution map[string]int  `json:"paymentMethodDistribution"`
	FailureReasons            map[string]int  `json:"failureReasons"`
	Alerts                    []Alert         `json:"alerts"`
}

type Alert struct {
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}

func (a Alert) key() string { return a.Type + "/" + a.Component }

type MonitoringService struct {
	txns   repo.Transactions
	probes []Probe
	notify *notify.Dispatcher
	log    *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	active map[string]map[string]bool // scope -> alert keys firing on the last check
}

func NewMonitoringService(txns repo.Transactions, probes []Probe, n *notify.Dispatcher, log *slog.Logger) *MonitoringService {
	return &MonitoringService{txns: txns, probes: probes, notify: n, log: log, now: time.Now, active: map[string]map[string]bool{}}
}

// Health runs every probe concurrently. Overall is the worst component.
func (s *MonitoringService) Health(ctx context.Context) HealthReport {
	results := make([]ComponentHealth, len(s.probes))
	var g errgroup.Group
	for i, p := range s.probes {
		g.Go(func() error {
			results[i] = s.probe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	rep := HealthReport{Overall: Healthy, Components: make(map[string]ComponentHealth, len(s.probes)), CheckedAt: s.now().UTC()}
	for i, p := range s.probes {
		rep.Components[p.Name] = results[i]
		if results[i].Status.rank() > rep.Overall.rank() {
			rep.Overall = results[i].Status
		}
	}
	rep.Alerts = HealthAlerts(rep)
	s.raise("health", rep.Alerts)
	return rep
}

func (s *MonitoringService) probe(ctx context.Context, p Probe) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	start := time.Now()
	err := p.Check(ctx)
	took := time.Since(start)

	h := ComponentHealth{Status: Healthy, ResponseTimeMs: took.Milliseconds()}
	switch {
	case err != nil:
		h.Status = Unhealthy
		h.Error = err.Error()
		s.log.Warn("health probe failed", "component", p.Name, "err", err)
	case took > slowProbe:
		h.Status = Degraded
	}
	return h
}

// Metrics summarizes transactions created within window. Alerts are derived
// from the same numbers, followed by the alerts of a fresh health check.
func (s *MonitoringService) Metrics(ctx context.Context, label string, window time.Duration) (PaymentMetrics, error) {
	end := s.now().UTC()
	txns, err := s.txns.ListCreatedBetween(ctx, end.Add(-window), end)
	if err != nil {
		return PaymentMetrics{}, fmt.Errorf("load transactions: %w", err)
	}
	m := Summarize(txns)
	m.Window = label
	m.Alerts = MetricAlerts(m)
	s.raise("metrics:"+label, m.Alerts)
	m.Alerts = append(m.Alerts, s.Health(ctx).Alerts...)
	return m, nil
}

// Summarize computes payment KPIs. Every charge attempt counts, so a
// transaction that succeeded on its third try contributes three attempts.
func Summarize(txns []models.Transaction) PaymentMetrics {
	m := PaymentMetrics{
		TotalAmount:               decimal.Zero,
		PaymentMethodDistribution: map[string]int{},
		FailureReasons:            map[string]int{},
		Alerts:                    []Alert{},
	}
	var total time.Duration
	var timed int
	for _, tx := range txns {
		m.TotalAttempts += tx.Attempts
		m.PaymentMethodDistribution[tx.PaymentMethod]++
		switch {
		case tx.Status.Settled():
			m.SuccessfulPayments++
			m.TotalAmount = m.TotalAmount.Add(tx.Amount)
		case tx.Status == models.TxnFailed:
			m.FailedPayments++
			reason := "unknown"
			if tx.FailureReason != nil {
				reason = *tx.FailureReason
			}
			m.FailureReasons[reason]++
		}
		if tx.Status == models.TxnSuccess || tx.Status == models.TxnFailed {
			total += tx.UpdatedAt.Sub(tx.CreatedAt)
			timed++
		}
	}
	if m.TotalAttempts > 0 {
		m.SuccessRate = round2(float64(m.SuccessfulPayments) / float64(m.TotalAttempts) * 100)
	}
	if timed > 0 {
		m.AverageProcessingTime = round2(total.Seconds() / float64(timed))
	}
	return m
}

func round2(f float64) float64 {
	v, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return v
}

// MetricAlerts never fires on an empty window.
func MetricAlerts(m PaymentMetrics) []Alert {
	out := []Alert{}
	if m.TotalAttempts == 0 {
		return out
	}
	if m.SuccessRate < minSuccessRate {
		out = append(out, Alert{Type: "low_success_rate", Severity: "critical",
			Message: fmt.Sprintf("success rate %.2f%% is below %.0f%%", m.SuccessRate, minSuccessRate)})
	}
	if m.AverageProcessingTime > maxAvgSeconds {
		out = append(out, Alert{Type: "slow_processing", Severity: "warning",
			Message: fmt.Sprintf("average processing time %.2fs exceeds %.0fs", m.AverageProcessingTime, maxAvgSeconds)})
	}
	return out
}

// HealthAlerts has one alert per component that is not healthy.
func HealthAlerts(h HealthReport) []Alert {
	out := []Alert{}
	names := make([]string, 0, len(h.Components))
	for n := range h.Components {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c := h.Components[n]
		if c.Status == Healthy {
			continue
		}
		sev := "warning"
		if c.Status == Unhealthy {
			sev = "critical"
		}
		out = append(out, Alert{Type: "component_" + string(c.Status), Severity: sev, Component: n, Message: n + " is " + string(c.Status)})
	}
	return out
}

// Alerts checks health as well as the metrics window.
func (s *MonitoringService) Alerts(ctx context.Context, label string, window time.Duration) ([]Alert, error) {
	m, err := s.Metrics(ctx, label, window)
	if err != nil {
		return nil, err
	}
	return m.Alerts, nil
}

// raise notifies only the alerts of scope that were not firing on the
// previous check. An alert that clears and fires again is sent again.
func (s *MonitoringService) raise(scope string, alerts []Alert) {
	next := make(map[string]bool, len(alerts))
	var fresh []Alert
	s.mu.Lock()
	prev := s.active[scope]
	for _, a := range alerts {
		next[a.key()] = true
		if !prev[a.key()] {
			fresh = append(fresh, a)
		}
	}
	s.active[scope] = next
	s.mu.Unlock()

	for _, a := range fresh {
		s.log.Warn("alert raised", "type", a.Type, "severity", a.Severity, "component", a.Component, "scope", scope)
		s.notify.Send(notify.Message{Kind: notify.KindAlert, Data: map[string]any{"type": a.Type, "severity": a.Severity, "component": a.Component, "message": a.Message}})
	}
}
