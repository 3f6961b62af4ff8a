package handlers

import (
	"net/http"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/api/validate"
	"github.com/coursepay/payments/internal/services"
)

type MonitoringHandler struct {
	Monitor *services.MonitoringService
}

func NewMonitoringHandler(ms *services.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{Monitor: ms}
}

// Health answers 503 when any component is unhealthy so load balancers can act on it.
func (h *MonitoringHandler) Health(w http.ResponseWriter, r *http.Request) {
	rep := h.Monitor.Health(r.Context())
	status := http.StatusOK
	if rep.Overall == services.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, rep)
}

func (h *MonitoringHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	rng, errs := validate.MonitoringRange(r.URL.Query())
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	m, err := h.Monitor.Metrics(r.Context(), string(rng), rng.Duration())
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m)
}

func (h *MonitoringHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	rng, errs := validate.MonitoringRange(r.URL.Query())
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	alerts, err := h.Monitor.Alerts(r.Context(), string(rng), rng.Duration())
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}
