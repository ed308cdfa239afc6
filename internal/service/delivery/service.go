// Package delivery отправляет уже закреплённые за заказом коды покупателю.
// Доставка никогда не захватывает новые коды и не откатывает выдачу.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/metrics"
)

const (
	defaultMaxAttempts = 5
	defaultSendTimeout = 15 * time.Second
)

var tracer = otel.Tracer("giftshop/delivery")

// Options задаёт параметры сервиса доставки.
type Options struct {
	Logger      *log.Entry
	Metrics     *metrics.FulfillmentMetrics
	Breaker     *CircuitBreaker
	MaxAttempts int
	SendTimeout time.Duration
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics подключает метрики доставки.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithBreaker оборачивает notifier в circuit breaker.
func WithBreaker(b *CircuitBreaker) Option {
	return func(o *Options) { o.Breaker = b }
}

// WithMaxAttempts задаёт число попыток до перевода доставки в failed.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithSendTimeout ограничивает одну попытку отправки.
func WithSendTimeout(d time.Duration) Option {
	return func(o *Options) { o.SendTimeout = d }
}

// Service доставляет коды заказа.
type Service struct {
	orders      domain.OrderRepository
	inventory   domain.InventoryRepository
	outbox      domain.OutboxRepository
	notifier    domain.DeliveryNotifier
	breaker     *CircuitBreaker
	logger      *log.Entry
	metrics     *metrics.FulfillmentMetrics
	maxAttempts int
	sendTimeout time.Duration
}

// NewService создаёт сервис доставки.
func NewService(
	orders domain.OrderRepository,
	inventory domain.InventoryRepository,
	outbox domain.OutboxRepository,
	notifier domain.DeliveryNotifier,
	options ...Option,
) *Service {
	opts := Options{MaxAttempts: defaultMaxAttempts, SendTimeout: defaultSendTimeout}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "delivery")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}

	return &Service{
		orders:      orders,
		inventory:   inventory,
		outbox:      outbox,
		notifier:    notifier,
		breaker:     opts.Breaker,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxAttempts,
		sendTimeout: opts.SendTimeout,
	}
}

// MaxAttempts возвращает лимит попыток доставки.
func (s *Service) MaxAttempts() int {
	return s.maxAttempts
}

// Deliver отправляет коды заказа, если они ещё не доставлены.
func (s *Service) Deliver(ctx context.Context, orderID string) error {
	return s.deliver(ctx, orderID, false)
}

// Redeliver повторно отправляет коды независимо от текущего статуса доставки.
func (s *Service) Redeliver(ctx context.Context, orderID string) error {
	return s.deliver(ctx, orderID, true)
}

func (s *Service) deliver(ctx context.Context, orderID string, force bool) (err error) {
	ctx, span := tracer.Start(ctx, "delivery.Deliver", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Bool("delivery.forced", force),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !force && order.DeliveryStatus != domain.DeliveryStatusPending {
		return nil
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"reference": order.PaymentReference,
		"attempt":   order.DeliveryAttempts + 1,
	})

	giftCodes, err := s.inventory.ListCodesByOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("load codes for order %s: %w", order.ID, err)
	}
	if len(giftCodes) != order.CodeCount() {
		logger.WithFields(log.Fields{
			"severity": "critical",
			"expected": order.CodeCount(),
			"found":    len(giftCodes),
		}).Error("order code count does not match claimed codes")
		return fmt.Errorf("%w: order %s has %d codes, expected %d",
			domain.ErrInventoryDrift, order.ID, len(giftCodes), order.CodeCount())
	}

	productName := s.productName(ctx, order)
	started := time.Now()

	sendErr := s.send(ctx, order.RecipientEmail, productName, domain.CodeValues(giftCodes))
	if sendErr == nil {
		s.metrics.RecordDelivery("delivered", time.Since(started))
		if err := s.orders.MarkDelivered(ctx, order.ID); err != nil {
			// коды уже у покупателя; повторная отправка безопасна
			logger.WithError(err).Warn("codes sent but delivery status was not saved")
			return err
		}
		logger.WithField("codes", len(giftCodes)).Info("codes delivered")
		return nil
	}

	s.metrics.RecordDelivery("failed", time.Since(started))
	return s.recordFailure(ctx, logger, order, sendErr)
}

func (s *Service) send(ctx context.Context, recipient, productName string, values []string) error {
	if recipient == "" {
		return errors.New("recipient email is missing")
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	call := func() error { return s.notifier.Send(sendCtx, recipient, productName, values) }
	if s.breaker == nil {
		return call()
	}
	return s.breaker.Execute("send", call)
}

func (s *Service) recordFailure(ctx context.Context, logger *log.Entry, order domain.Order, sendErr error) error {
	attempts := order.DeliveryAttempts + 1
	terminal := attempts >= s.maxAttempts || order.RecipientEmail == ""

	if err := s.orders.RecordDeliveryFailure(ctx, order.ID, sendErr.Error(), terminal); err != nil {
		logger.WithError(err).Error("failed to record delivery failure")
	}

	entry := logger.WithError(sendErr).WithField("terminal", terminal)
	if !terminal {
		entry.Warn("delivery failed, will retry")
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, sendErr)
	}

	entry.WithField("severity", "critical").Error("delivery failed permanently, operator action required")
	s.enqueueAlert(ctx, logger, order, attempts, sendErr)
	return fmt.Errorf("%w: giving up after %d attempts: %w", domain.ErrDeliveryFailed, attempts, sendErr)
}

func (s *Service) enqueueAlert(ctx context.Context, logger *log.Entry, order domain.Order, attempts int, sendErr error) {
	if s.outbox == nil {
		return
	}
	payload, err := json.Marshal(domain.DeliveryFailedEvent{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		Attempts:   attempts,
		LastError:  sendErr.Error(),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		logger.WithError(err).Error("marshal delivery failed event")
		return
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventDeliveryFailed,
		Payload:       payload,
	}); err != nil {
		logger.WithError(err).Error("enqueue delivery failed alert")
	}
}

func (s *Service) productName(ctx context.Context, order domain.Order) string {
	if len(order.Items) == 0 {
		return ""
	}
	productID := order.Items[0].ProductID
	product, err := s.inventory.GetProduct(ctx, productID)
	if err != nil {
		s.logger.WithError(err).WithField("product_id", productID).Warn("product lookup failed, using id in email")
		return productID
	}
	return product.Name
}
