// Package fulfillment обрабатывает уведомления об оплате: проверка, дедупликация,
// выдача кодов и доставка после коммита.
package fulfillment

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
	"github.com/vladislavdragonenkov/giftshop/internal/service/allocation"
)

var tracer = otel.Tracer("giftshop/fulfillment")

// Status итог обработки уведомления. Любой статус означает, что уведомление можно подтвердить.
type Status string

const (
	StatusFulfilled       Status = "fulfilled"
	StatusReplayed        Status = "replayed"
	StatusInventoryFailed Status = "inventory_failed"
	StatusIgnored         Status = "ignored"
)

// Result описывает результат Fulfill.
type Result struct {
	Status    Status
	Reference string
	OrderID   string
	CodeCount int
	// Delivered false, если коды выданы, но письмо не ушло; доставку повторит воркер.
	Delivered bool
}

// Allocator выполняет атомарную выдачу.
type Allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (domain.Order, error)
}

// Deliverer отправляет уже выданные коды.
type Deliverer interface {
	Deliver(ctx context.Context, orderID string) error
}

// Config задаёт таймауты шагов обработки.
type Config struct {
	VerifyTimeout     time.Duration
	AllocationTimeout time.Duration
	DeliveryTimeout   time.Duration
	// LockTTL ограничивает время жизни in-flight блокировки по ссылке.
	LockTTL time.Duration
}

// DefaultConfig возвращает таймауты по умолчанию.
func DefaultConfig() Config {
	return Config{
		VerifyTimeout:     2 * time.Second,
		AllocationTimeout: 10 * time.Second,
		DeliveryTimeout:   20 * time.Second,
		LockTTL:           30 * time.Second,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = def.VerifyTimeout
	}
	if c.AllocationTimeout <= 0 {
		c.AllocationTimeout = def.AllocationTimeout
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = def.DeliveryTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = def.LockTTL
	}
	return c
}

// Dependencies собирает зависимости сервиса.
type Dependencies struct {
	Verifier      domain.NotificationVerifier
	Catalog       domain.CatalogReader
	Notifications domain.NotificationRepository
	Allocator     Allocator
	Deliverer     Deliverer
	// Locker необязателен: без него дубли отсекает уникальность записи уведомления.
	Locker  domain.InFlightLocker
	Metrics *metrics.FulfillmentMetrics
	Logger  *log.Entry
}

// Service — точка входа для уведомлений об оплате.
type Service struct {
	verifier      domain.NotificationVerifier
	catalog       domain.CatalogReader
	notifications domain.NotificationRepository
	allocator     Allocator
	deliverer     Deliverer
	locker        domain.InFlightLocker
	metrics       *metrics.FulfillmentMetrics
	logger        *log.Entry
	cfg           Config
	now           func() time.Time
}

// NewService создаёт оркестратор выдачи.
func NewService(deps Dependencies, cfg Config) (*Service, error) {
	switch {
	case deps.Verifier == nil:
		return nil, errors.New("fulfillment: verifier is required")
	case deps.Catalog == nil:
		return nil, errors.New("fulfillment: catalog is required")
	case deps.Notifications == nil:
		return nil, errors.New("fulfillment: notification repository is required")
	case deps.Allocator == nil:
		return nil, errors.New("fulfillment: allocator is required")
	case deps.Deliverer == nil:
		return nil, errors.New("fulfillment: deliverer is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "fulfillment")
	}

	return &Service{
		verifier:      deps.Verifier,
		catalog:       deps.Catalog,
		notifications: deps.Notifications,
		allocator:     deps.Allocator,
		deliverer:     deps.Deliverer,
		locker:        deps.Locker,
		metrics:       deps.Metrics,
		logger:        logger,
		cfg:           cfg.normalized(),
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Fulfill проверяет уведомление и выдаёт коды не более одного раза на ссылку оплаты.
//
// Ошибка означает, что уведомление нельзя подтверждать: ErrRejectedNotification
// (повтор бессмысленен) либо временная ошибка (IsTransient), после которой провайдер
// доставит событие снова. Неудачная доставка письма ошибкой не считается.
func (s *Service) Fulfill(ctx context.Context, raw domain.RawNotification) (result Result, err error) {
	source := raw.Source
	if source == "" {
		source = "http"
	}

	s.metrics.InFlightStarted()
	defer s.metrics.InFlightFinished()

	ctx, span := tracer.Start(ctx, "fulfillment.Fulfill", trace.WithAttributes(attribute.String("notification.source", source)))
	defer func() {
		span.SetAttributes(attribute.String("fulfillment.status", string(result.Status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.RecordNotification(source, errorLabel(err))
		} else {
			s.metrics.RecordNotification(source, string(result.Status))
		}
		span.End()
	}()

	notification, err := s.verify(ctx, raw)
	if err != nil {
		if errors.Is(err, domain.ErrNotificationIgnored) {
			s.logger.WithError(err).Debug("notification ignored")
			return Result{Status: StatusIgnored}, nil
		}
		return Result{}, err
	}

	if errs := notification.Validate(); len(errs) > 0 {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrRejectedNotification, errors.Join(errs...))
	}

	span.SetAttributes(attribute.String("payment.reference", notification.Reference))
	logger := s.logger.WithFields(log.Fields{
		"reference":  notification.Reference,
		"event_id":   notification.EventID,
		"product_id": notification.ProductID,
		"quantity":   notification.Quantity,
		"source":     source,
	})
	hash := notification.PayloadHash()

	if result, done, err := s.replay(ctx, logger, notification, hash); done || err != nil {
		return result, err
	}

	if s.locker != nil {
		token, acquired, lockErr := s.locker.TryLock(ctx, notification.Reference, s.cfg.LockTTL)
		switch {
		case lockErr != nil:
			logger.WithError(lockErr).Warn("in-flight lock unavailable, relying on ledger uniqueness")
		case !acquired:
			return Result{}, fmt.Errorf("%w: %s", domain.ErrNotificationInProgress, notification.Reference)
		default:
			defer func() {
				unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				if err := s.locker.Unlock(unlockCtx, notification.Reference, token); err != nil {
					logger.WithError(err).Warn("failed to release in-flight lock")
				}
			}()
		}
	}

	product, err := s.catalog.GetProduct(ctx, notification.ProductID)
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return s.recordInventoryFailure(ctx, logger, notification, hash, err)
	case err != nil:
		return Result{}, fmt.Errorf("load product %s: %w", notification.ProductID, err)
	}
	if expected := product.PriceMinor * int64(notification.Quantity); expected != notification.AmountTotalMinor {
		// скидки и налоги провайдера меняют итог; заказ хранит фактически оплаченную сумму
		logger.WithFields(log.Fields{
			"catalog_total_minor": expected,
			"paid_total_minor":    notification.AmountTotalMinor,
		}).Info("paid amount differs from catalog price")
	}

	allocCtx, cancel := context.WithTimeout(ctx, s.cfg.AllocationTimeout)
	order, err := s.allocator.Allocate(allocCtx, allocation.RequestFromNotification(notification, product.PriceMinor))
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotificationExists):
			// параллельный дубль успел закоммитить выдачу
			return s.replayExisting(ctx, logger, notification, hash)
		case errors.Is(err, domain.ErrInsufficientInventory), errors.Is(err, domain.ErrProductNotFound):
			return s.recordInventoryFailure(ctx, logger, notification, hash, err)
		case errors.Is(err, domain.ErrInventoryDrift):
			logger.WithError(err).WithField("severity", "critical").Error("stock counter drift detected, allocation rolled back")
			return Result{}, err
		case !domain.IsTransient(err) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
			logger.WithError(err).Warn("allocation timed out, transaction rolled back")
			return Result{}, fmt.Errorf("%w: allocate: %w", domain.ErrTransientStore, err)
		default:
			logger.WithError(err).Warn("allocation failed")
			return Result{}, err
		}
	}

	result = Result{
		Status:    StatusFulfilled,
		Reference: notification.Reference,
		OrderID:   order.ID,
		CodeCount: order.CodeCount(),
	}
	logger = logger.WithField("order_id", order.ID)
	logger.Info("codes allocated")

	deliverCtx, cancelDeliver := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DeliveryTimeout)
	defer cancelDeliver()
	if err := s.deliverer.Deliver(deliverCtx, order.ID); err != nil {
		logger.WithError(err).Warn("delivery failed after commit, order kept for retry")
		return result, nil
	}
	result.Delivered = true
	return result, nil
}

func (s *Service) verify(ctx context.Context, raw domain.RawNotification) (domain.PaymentNotification, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.Verify")
	defer span.End()

	verifyCtx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()

	notification, err := s.verifier.Verify(verifyCtx, raw)
	if err == nil {
		return notification, nil
	}
	if errors.Is(err, domain.ErrRejectedNotification) || errors.Is(err, domain.ErrNotificationIgnored) {
		return domain.PaymentNotification{}, err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.PaymentNotification{}, fmt.Errorf("%w: verify notification: %w", domain.ErrTransientStore, err)
	}
	return domain.PaymentNotification{}, fmt.Errorf("verify notification: %w", err)
}

// replay возвращает done=true, если по ссылке уже есть окончательный результат.
func (s *Service) replay(
	ctx context.Context,
	logger *log.Entry,
	notification domain.PaymentNotification,
	hash string,
) (Result, bool, error) {
	record, err := s.notifications.Get(ctx, notification.Reference)
	if errors.Is(err, domain.ErrNotificationNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("load notification %s: %w", notification.Reference, err)
	}

	if record.PayloadHash != hash {
		logger.WithError(domain.ErrPayloadMismatch).WithField("recorded_hash", record.PayloadHash).
			Warn("redelivered notification differs from recorded one, keeping first result")
	}

	switch record.Status {
	case domain.NotificationStatusFulfilled:
		logger.WithField("order_id", record.OrderID).Info("notification already fulfilled")
		return Result{
			Status:    StatusReplayed,
			Reference: record.Reference,
			OrderID:   record.OrderID,
			CodeCount: notification.Quantity,
		}, true, nil
	case domain.NotificationStatusInventoryFailed:
		logger.Info("notification already recorded as inventory failure")
		return Result{Status: StatusInventoryFailed, Reference: record.Reference}, true, nil
	default:
		return Result{}, true, fmt.Errorf("%w: %s", domain.ErrNotificationInProgress, record.Reference)
	}
}

// replayExisting вызывается, когда запись по ссылке точно существует.
func (s *Service) replayExisting(
	ctx context.Context,
	logger *log.Entry,
	notification domain.PaymentNotification,
	hash string,
) (Result, error) {
	result, done, err := s.replay(ctx, logger, notification, hash)
	if err != nil {
		return Result{}, err
	}
	if !done {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrNotificationInProgress, notification.Reference)
	}
	return result, nil
}

func (s *Service) recordInventoryFailure(
	ctx context.Context,
	logger *log.Entry,
	notification domain.PaymentNotification,
	hash string,
	cause error,
) (Result, error) {
	s.metrics.RecordInventoryFailure()
	logger.WithError(cause).WithFields(log.Fields{
		"severity":           "critical",
		"buyer_id":           notification.BuyerID,
		"amount_total_minor": notification.AmountTotalMinor,
	}).Error("payment captured but codes cannot be issued, operator action required")

	now := s.now()
	payload, err := json.Marshal(domain.InventoryFailedEvent{
		PaymentReference: notification.Reference,
		BuyerID:          notification.BuyerID,
		RecipientEmail:   notification.RecipientEmail,
		ProductID:        notification.ProductID,
		Quantity:         notification.Quantity,
		AmountTotalMinor: notification.AmountTotalMinor,
		Reason:           cause.Error(),
		Severity:         "critical",
		OccurredAt:       now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal inventory failed event: %w", err)
	}

	err = s.notifications.RecordInventoryFailure(ctx, domain.NotificationRecord{
		Reference:   notification.Reference,
		PayloadHash: hash,
		Status:      domain.NotificationStatusInventoryFailed,
		Reason:      cause.Error(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, domain.OutboxMessage{
		AggregateType: domain.AggregatePaymentNotification,
		AggregateID:   notification.Reference,
		EventType:     domain.EventInventoryFailed,
		Payload:       payload,
	})
	if errors.Is(err, domain.ErrNotificationExists) {
		return s.replayExisting(ctx, logger, notification, hash)
	}
	if err != nil {
		// без записи о сбое подтверждать нельзя: провайдер повторит доставку
		return Result{}, fmt.Errorf("record inventory failure: %w", err)
	}

	return Result{Status: StatusInventoryFailed, Reference: notification.Reference}, nil
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrRejectedNotification):
		return "rejected"
	case errors.Is(err, domain.ErrNotificationInProgress):
		return "in_progress"
	case domain.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
