package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

type adminHandler struct {
	redeliverer Redeliverer
	logger      *log.Entry
}

type redeliverResponse struct {
	OrderID        string `json:"order_id"`
	DeliveryStatus string `json:"delivery_status"`
}

// redeliver отправляет уже закреплённые за заказом коды повторно. Новые коды не выдаются.
func (h *adminHandler) redeliver(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	err := h.redeliverer.Redeliver(r.Context(), orderID)
	switch {
	case err == nil:
		h.logger.WithField("order_id", orderID).Info("codes redelivered by operator")
		writeJSON(w, http.StatusOK, redeliverResponse{OrderID: orderID, DeliveryStatus: string(domain.DeliveryStatusDelivered)})
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrDeliveryFailed):
		h.logger.WithError(err).WithField("order_id", orderID).Warn("manual redelivery failed")
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.WithError(err).WithField("order_id", orderID).Error("manual redelivery error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// requireBearer пропускает только запросы с Authorization: Bearer <token>.
func requireBearer(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
