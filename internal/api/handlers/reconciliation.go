package handlers

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/api/validate"
	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/report"
	"github.com/coursepay/payments/internal/services"
)

type ReconciliationHandler struct {
	Recon *services.ReconciliationService
}

func NewReconciliationHandler(rs *services.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{Recon: rs}
}

// Run: rapor hemen "running" döner, iş worker pool'da yürür
func (h *ReconciliationHandler) Run(w http.ResponseWriter, r *http.Request) {
	u, err := caller(r)
	if err != nil {
		fail(w, err)
		return
	}
	p, err := payload(r)
	if err != nil {
		fail(w, err)
		return
	}
	rng, errs := validate.ReconciliationRun(p)
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	rep, err := h.Recon.Run(r.Context(), rng.Start, rng.End, u.UserID)
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, rep)
}

func (h *ReconciliationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			fail(w, apperr.Validation(apperr.FieldError{Field: "limit", Message: "must be an integer between 1 and 100"}))
			return
		}
		limit = n
	}
	reps, err := h.Recon.List(r.Context(), limit)
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": reps})
}

func (h *ReconciliationHandler) Get(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Recon.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}

// Export buffers the file so a late failure still returns a JSON error
// instead of a truncated download.
func (h *ReconciliationHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f, ok := report.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		fail(w, apperr.Validation(apperr.FieldError{Field: "format", Message: "must be csv or xlsx"}))
		return
	}
	var buf bytes.Buffer
	if err := h.Recon.Export(r.Context(), id, f, &buf); err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Filename(id)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *ReconciliationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	u, err := caller(r)
	if err != nil {
		fail(w, err)
		return
	}
	p, err := payload(r)
	if err != nil {
		fail(w, err)
		return
	}
	in, errs := validate.Resolve(p)
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	d, err := h.Recon.Resolve(r.Context(), in.ReportID, in.TransactionID, in.Notes, u.UserID)
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}
