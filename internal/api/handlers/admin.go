package handlers

import (
	"net/http"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/api/validate"
	"github.com/coursepay/payments/internal/services"
)

type AdminHandler struct {
	Refunds *services.RefundService
	Config  *services.ConfigService
}

func NewAdminHandler(rs *services.RefundService, cs *services.ConfigService) *AdminHandler {
	return &AdminHandler{Refunds: rs, Config: cs}
}

func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
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
	in, errs := validate.Refund(p)
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	res, err := h.Refunds.Refund(r.Context(), services.RefundRequest{
		AdminID:       u.UserID,
		TransactionID: in.TransactionID,
		Amount:        in.Amount,
		Reason:        in.Reason,
		TwoFactorCode: in.TwoFactorCode,
	})
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// GetConfig never returns the API secret in clear.
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.Config.Masked())
}

func (h *AdminHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
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
	in, errs := validate.GatewayConfig(p)
	if err := errs.Err(); err != nil {
		fail(w, err)
		return
	}
	cfg, err := h.Config.Update(r.Context(), services.ConfigUpdate(in), u.UserID)
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cfg)
}
