// Package httpapi — HTTP-вход сервиса: webhook платёжного провайдера, чтение каталога и заказов,
// ручная повторная доставка.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/metrics"
	"github.com/vladislavdragonenkov/giftshop/internal/service/fulfillment"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultReadTimeout    = 3 * time.Second
	maxWebhookBodyBytes   = 1 << 20
)

// Fulfiller обрабатывает уведомление об оплате.
type Fulfiller interface {
	Fulfill(ctx context.Context, raw domain.RawNotification) (fulfillment.Result, error)
}

// Catalog — чтение каталога.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// Orders — чтение заказов.
type Orders interface {
	Get(ctx context.Context, id string) (domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error)
}

// Redeliverer повторно отправляет коды заказа.
type Redeliverer interface {
	Redeliver(ctx context.Context, orderID string) error
}

// Dependencies описывает зависимости HTTP API.
type Dependencies struct {
	Fulfiller   Fulfiller
	Catalog     Catalog
	Orders      Orders
	Redeliverer Redeliverer
	// AdminToken включает /api/admin; пустой токен отключает административные маршруты.
	AdminToken     string
	RequestTimeout time.Duration
	Metrics        *metrics.HTTPMetrics
	Logger         *log.Entry
}

// NewRouter собирает chi-роутер со всеми маршрутами API. Health и /metrics
// монтирует вызывающая сторона поверх возвращённого роутера.
func NewRouter(deps Dependencies) (*chi.Mux, error) {
	if deps.Fulfiller == nil {
		return nil, errors.New("fulfiller is required")
	}
	if deps.Catalog == nil || deps.Orders == nil {
		return nil, errors.New("catalog and orders readers are required")
	}
	if deps.Logger == nil {
		deps.Logger = log.WithField("component", "http-api")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(accessLog(deps.Logger, deps.Metrics))
	r.Use(middleware.Timeout(deps.RequestTimeout))

	webhooks := &webhookHandler{fulfiller: deps.Fulfiller, logger: deps.Logger.WithField("handler", "webhook")}
	r.Post("/webhooks/payments", webhooks.handle)

	catalog := &catalogHandler{catalog: deps.Catalog, orders: deps.Orders}
	r.Route("/api", func(api chi.Router) {
		api.Get("/products", catalog.listProducts)
		api.Get("/products/{id}", catalog.getProduct)
		api.Get("/orders/{id}", catalog.getOrder)
		api.Get("/buyers/{buyerID}/orders", catalog.listBuyerOrders)

		if deps.AdminToken != "" && deps.Redeliverer != nil {
			admin := &adminHandler{redeliverer: deps.Redeliverer, logger: deps.Logger.WithField("handler", "admin")}
			api.With(requireBearer(deps.AdminToken)).Post("/admin/orders/{id}/redeliver", admin.redeliver)
		}
	})

	return r, nil
}

// accessLog пишет строку лога на каждый запрос и учитывает его в метриках по шаблону маршрута.
func accessLog(logger *log.Entry, m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			duration := time.Since(start)
			m.Observe(route, r.Method, status, duration)

			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"route":       route,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": duration.Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
				"remote_addr": r.RemoteAddr,
			})
			switch {
			case status >= http.StatusInternalServerError:
				entry.Warn("http request failed")
			default:
				entry.Debug("http request")
			}
		})
	}
}
