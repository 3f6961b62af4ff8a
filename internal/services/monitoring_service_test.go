package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursepay/payments/internal/models"
	"github.com/coursepay/payments/internal/notify"
	"github.com/coursepay/payments/internal/worker"
)

func TestSummarize(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	reason := "declined"
	txns := []models.Transaction{
		{Status: models.TxnSuccess, Attempts: 1, Amount: decimal.NewFromInt(100), PaymentMethod: "card", CreatedAt: base, UpdatedAt: base.Add(2 * time.Second)},
		{Status: models.TxnRefunded, Attempts: 1, Amount: decimal.NewFromInt(50), PaymentMethod: "upi", CreatedAt: base, UpdatedAt: base.Add(time.Hour)},
		{Status: models.TxnFailed, Attempts: 2, Amount: decimal.NewFromInt(70), PaymentMethod: "card", FailureReason: &reason, CreatedAt: base, UpdatedAt: base.Add(4 * time.Second)},
	}
	m := Summarize(txns)
	if m.TotalAttempts != 4 || m.SuccessfulPayments != 2 || m.SuccessRate != 50 {
		t.Errorf("attempts=%d success=%d rate=%v", m.TotalAttempts, m.SuccessfulPayments, m.SuccessRate)
	}
	if m.AverageProcessingTime != 3 {
		t.Errorf("avg = %v; want 3", m.AverageProcessingTime)
	}
	if !m.TotalAmount.Equal(decimal.NewFromInt(150)) || m.FailedPayments != 1 {
		t.Errorf("amount=%s failed=%d", m.TotalAmount, m.FailedPayments)
	}
	if m.PaymentMethodDistribution["card"] != 2 || m.FailureReasons["declined"] != 1 {
		t.Errorf("distribution=%v reasons=%v", m.PaymentMethodDistribution, m.FailureReasons)
	}
}

func TestMetricAlerts(t *testing.T) {
	tests := []struct {
		name string
		m    PaymentMetrics
		want []string
	}{
		{"empty window", PaymentMetrics{}, nil},
		{"healthy", PaymentMetrics{TotalAttempts: 10, SuccessRate: 95, AverageProcessingTime: 1}, nil},
		{"low success", PaymentMetrics{TotalAttempts: 10, SuccessRate: 89.99}, []string{"low_success_rate"}},
		{"slow", PaymentMetrics{TotalAttempts: 10, SuccessRate: 100, AverageProcessingTime: 5.01}, []string{"slow_processing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MetricAlerts(tt.m)
			if len(got) != len(tt.want) {
				t.Fatalf("alerts = %+v; want %v", got, tt.want)
			}
			for i := range got {
				if got[i].Type != tt.want[i] {
					t.Errorf("alert %d = %s; want %s", i, got[i].Type, tt.want[i])
				}
			}
		})
	}
}

func TestHealthIsWorstComponent(t *testing.T) {
	ok := func(context.Context) error { return nil }
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(1100 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		probes []Probe
		want   HealthStatus
	}{
		{"all healthy", []Probe{{"db", ok}, {"gateway", ok}, {"cache", ok}}, Healthy},
		{"slow cache", []Probe{{"db", ok}, {"cache", slow}}, Degraded},
		{"db down", []Probe{{"db", down}, {"cache", slow}}, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMonitoringService(nil, tt.probes, nil, quietLog())
			rep := s.Health(context.Background())
			if rep.Overall != tt.want {
				t.Fatalf("overall = %s; want %s (%+v)", rep.Overall, tt.want, rep.Components)
			}
			if len(rep.Components) != len(tt.probes) {
				t.Fatalf("components = %d", len(rep.Components))
			}
		})
	}
}

func TestHealthAlerts(t *testing.T) {
	h := HealthReport{Components: map[string]ComponentHealth{
		"db":      {Status: Healthy},
		"gateway": {Status: Unhealthy},
		"cache":   {Status: Degraded},
	}}
	got := HealthAlerts(h)
	if len(got) != 2 || got[0].Message != "cache is degraded" || got[1].Severity != "critical" {
		t.Fatalf("alerts = %+v", got)
	}
}

func TestMetricsWindow(t *testing.T) {
	h := newHarness(t)
	h.settle(t)
	s := NewMonitoringService(h.repos.Transactions, nil, nil, quietLog())
	m, err := s.Metrics(context.Background(), "24h", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalAttempts != 1 || m.SuccessRate != 100 || m.Window != "24h" {
		t.Fatalf("metrics = %+v", m)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *recordingNotifier) Notify(_ context.Context, m notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, m := range r.sent {
		out = append(out, m.Data["type"].(string)+"/"+m.Data["component"].(string))
	}
	return out
}

func TestMetricsCarryHealthAlerts(t *testing.T) {
	h := newHarness(t)
	h.settle(t)
	down := func(context.Context) error { return errors.New("connection refused") }
	s := NewMonitoringService(h.repos.Transactions, []Probe{{"gateway", down}}, nil, quietLog())

	rep := s.Health(context.Background())
	if len(rep.Alerts) != 1 || rep.Alerts[0].Component != "gateway" || rep.Alerts[0].Severity != "critical" {
		t.Fatalf("health alerts = %+v", rep.Alerts)
	}
	m, err := s.Metrics(context.Background(), "24h", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Alerts) != 1 || m.Alerts[0].Type != "component_unhealthy" {
		t.Fatalf("metrics alerts = %+v", m.Alerts)
	}
	alerts, err := s.Alerts(context.Background(), "24h", 24*time.Hour)
	if err != nil || len(alerts) != 1 {
		t.Fatalf("alerts = %+v, %v", alerts, err)
	}
}

func TestAlertsSentOnStateChange(t *testing.T) {
	var (
		mu   sync.Mutex
		fail = true
	)
	check := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("connection refused")
		}
		return nil
	}
	setFail := func(v bool) {
		mu.Lock()
		fail = v
		mu.Unlock()
	}

	h := newHarness(t)
	rec := &recordingNotifier{}
	pool := worker.NewPool(1, quietLog())
	s := NewMonitoringService(h.repos.Transactions, []Probe{{"db", check}},
		notify.NewDispatcher(rec, pool, quietLog()), quietLog())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Metrics(ctx, "24h", 24*time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	setFail(false)
	s.Health(ctx)
	setFail(true)
	s.Health(ctx)
	pool.Stop()

	got := rec.types()
	want := []string{"component_unhealthy/db", "component_unhealthy/db"}
	if len(got) != len(want) {
		t.Fatalf("sent = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent = %v; want %v", got, want)
		}
	}
}
