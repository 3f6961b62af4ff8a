package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/api/validate"
	"github.com/coursepay/payments/internal/csrf"
	"github.com/coursepay/payments/internal/services"
)

type PaymentHandler struct {
	Payments *services.PaymentService
	CSRF     *csrf.Guard
}

func NewPaymentHandler(ps *services.PaymentService, guard *csrf.Guard) *PaymentHandler {
	return &PaymentHandler{Payments: ps, CSRF: guard}
}

// CSRFToken: cookie + token; token X-CSRF-Token header ile geri gönderilir
func (h *PaymentHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.CSRF.IssueToken(w, r)
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"csrfToken": tok})
}

func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
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
	in, errs := validate.Initiate(p)
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	res, err := h.Payments.Initiate(r.Context(), services.InitiateRequest{
		UserID:        u.UserID,
		CourseID:      in.CourseID,
		DiscountCode:  in.DiscountCode,
		PaymentMethod: in.PaymentMethod,
	})
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	u, err := caller(r)
	if err != nil {
		fail(w, err)
		return
	}
	id, errs := validate.TransactionID(chi.URLParam(r, "transactionId"))
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	tx, err := h.Payments.Status(r.Context(), u.UserID, u.IsAdmin(), id)
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tx)
}

func (h *PaymentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	u, err := caller(r)
	if err != nil {
		fail(w, err)
		return
	}
	id, errs := validate.TransactionID(chi.URLParam(r, "transactionId"))
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	tx, err := h.Payments.Retry(r.Context(), u.UserID, id)
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tx)
}

func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	u, err := caller(r)
	if err != nil {
		fail(w, err)
		return
	}
	q, errs := validate.History(r.URL.Query())
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	page, err := h.Payments.History(r.Context(), u.UserID, q.Page, q.Limit, q.Status)
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}
