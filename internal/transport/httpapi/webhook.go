package httpapi

import (
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/service/fulfillment"
)

const (
	signatureHeader = "Stripe-Signature"
	retryAfter      = "5"
)

type webhookHandler struct {
	fulfiller Fulfiller
	logger    *log.Entry
}

// WebhookResponse — тело успешного ответа провайдеру.
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	CodeCount int    `json:"code_count,omitempty"`
	Delivered bool   `json:"delivered"`
}

// handle подтверждает уведомление 200 только после того, как результат сохранён.
// 400: провайдер не должен повторять, 503: повторить позже, 500: неизвестная ошибка.
func (h *webhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	result, err := h.fulfiller.Fulfill(r.Context(), domain.RawNotification{
		Payload:   payload,
		Signature: r.Header.Get(signatureHeader),
		Source:    "http",
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWebhookResponse(result))
}

func (h *webhookHandler) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRejectedNotification):
		h.logger.WithError(err).Warn("payment notification rejected")
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsTransient(err):
		h.logger.WithError(err).Warn("payment notification not processed, provider will retry")
		w.Header().Set("Retry-After", retryAfter)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		h.logger.WithError(err).Error("payment notification failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toWebhookResponse(result fulfillment.Result) WebhookResponse {
	return WebhookResponse{
		Received:  true,
		Status:    string(result.Status),
		Reference: result.Reference,
		OrderID:   result.OrderID,
		CodeCount: result.CodeCount,
		Delivered: result.Delivered,
	}
}
