package handlers

import (
	"io"
	"net/http"

	"github.com/coursepay/payments/internal/api/httpx"
	"github.com/coursepay/payments/internal/apperr"
	"github.com/coursepay/payments/internal/gateway"
	"github.com/coursepay/payments/internal/services"
)

// WebhookHandler serves the two gateway entry points. They carry no session
// and are authenticated by the gateway signature alone.
type WebhookHandler struct {
	Webhooks *services.WebhookService
}

func NewWebhookHandler(ws *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{Webhooks: ws}
}

func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	// the signature covers the raw bytes, so they are kept as received
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		fail(w, apperr.Validation(apperr.FieldError{Field: "body", Message: "unreadable"}))
		return
	}
	res, err := h.Webhooks.IngestWebhook(r.Context(), services.SignedRequest{
		Signature: r.Header.Get(gateway.SignatureHeader),
		Timestamp: r.Header.Get(gateway.TimestampHeader),
		EventID:   r.Header.Get(gateway.EventIDHeader),
		Body:      body,
	})
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *WebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	res, err := h.Webhooks.IngestCallback(r.Context(), r.URL.Query())
	if err != nil {
		fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
