// Package allocation выполняет атомарную выдачу кодов под оплаченное уведомление.
package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/metrics"
)

var tracer = otel.Tracer("giftshop/allocation")

// Request описывает одну выдачу кодов.
type Request struct {
	Reference      string
	PayloadHash    string
	BuyerID        string
	RecipientEmail string
	ProductID      string
	Quantity       int
	// TotalMinor — фактически оплаченная сумма.
	TotalMinor int64
	// UnitPriceMinor — цена из снимка каталога на момент обработки уведомления.
	// Позиция заказа берёт её, а не текущую цену заблокированной строки товара.
	UnitPriceMinor int64
}

// RequestFromNotification собирает запрос из проверенного уведомления и снимка цены.
func RequestFromNotification(n domain.PaymentNotification, unitPriceMinor int64) Request {
	return Request{
		Reference:      n.Reference,
		PayloadHash:    n.PayloadHash(),
		BuyerID:        n.BuyerID,
		RecipientEmail: n.RecipientEmail,
		ProductID:      n.ProductID,
		Quantity:       n.Quantity,
		TotalMinor:     n.AmountTotalMinor,
		UnitPriceMinor: unitPriceMinor,
	}
}

func (r Request) validate() error {
	var errs []error
	if strings.TrimSpace(r.Reference) == "" {
		errs = append(errs, domain.ErrReferenceRequired)
	}
	if strings.TrimSpace(r.ProductID) == "" {
		errs = append(errs, domain.ErrProductRequired)
	}
	if strings.TrimSpace(r.BuyerID) == "" {
		errs = append(errs, domain.ErrBuyerRequired)
	}
	if r.Quantity <= 0 {
		errs = append(errs, domain.ErrQuantityInvalid)
	}
	if r.TotalMinor < 0 {
		errs = append(errs, domain.ErrAmountNegative)
	}
	if r.UnitPriceMinor < 0 {
		errs = append(errs, domain.ErrPriceInvalid)
	}
	return errors.Join(errs...)
}

// Service выдаёт коды через AllocationStore.
// Конфликт захвата и временные ошибки хранилища повторяются с backoff,
// нехватка кодов возвращается сразу.
type Service struct {
	store   domain.AllocationStore
	retry   RetryConfig
	logger  *log.Entry
	metrics *metrics.FulfillmentMetrics
	newID   func() string
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics подключает метрики выдачи.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithIDGenerator задаёт генератор идентификаторов заказов.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService создаёт сервис выдачи.
func NewService(store domain.AllocationStore, cfg RetryConfig, logger *log.Entry, opts ...Option) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "allocation")
	}
	s := &Service{
		store:  store,
		retry:  cfg.normalized(),
		logger: logger,
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allocate выдаёт Quantity кодов одним атомарным шагом и возвращает созданный заказ.
// Ошибки: ErrQuantityInvalid и другие ошибки валидации до обращения к хранилищу,
// ErrInsufficientInventory, ErrNotificationExists, ErrTransientStore после исчерпания повторов.
func (s *Service) Allocate(ctx context.Context, req Request) (domain.Order, error) {
	if err := req.validate(); err != nil {
		return domain.Order{}, err
	}

	ctx, span := tracer.Start(ctx, "allocation.Allocate", trace.WithAttributes(
		attribute.String("payment.reference", req.Reference),
		attribute.String("product.id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
	))
	defer span.End()

	started := time.Now()
	delay := s.retry.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		order, err := s.allocateOnce(ctx, req)
		if err == nil {
			s.metrics.RecordAllocationAttempt("committed")
			s.metrics.RecordAllocation(time.Since(started), req.Quantity)
			span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int("attempts", attempt))
			if attempt > 1 {
				s.logger.WithFields(log.Fields{
					"reference": req.Reference,
					"order_id":  order.ID,
					"attempt":   attempt,
				}).Info("allocation succeeded after retry")
			}
			return order, nil
		}

		lastErr = err
		if !retryable(err) {
			s.metrics.RecordAllocationAttempt(outcome(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return domain.Order{}, err
		}
		s.metrics.RecordAllocationAttempt("retry")

		if attempt == s.retry.MaxAttempts {
			break
		}

		s.logger.WithFields(log.Fields{
			"reference": req.Reference,
			"attempt":   attempt,
			"delay":     delay,
			"error":     err,
		}).Warn("allocation attempt failed, retrying")

		if err := sleepContext(ctx, delay); err != nil {
			lastErr = fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
			break
		}
		delay = s.retry.next(delay)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	if !errors.Is(lastErr, domain.ErrTransientStore) {
		lastErr = fmt.Errorf("%w: %v", domain.ErrTransientStore, lastErr)
	}
	return domain.Order{}, fmt.Errorf("allocation gave up after %d attempts: %w", s.retry.MaxAttempts, lastErr)
}

func (s *Service) allocateOnce(ctx context.Context, req Request) (domain.Order, error) {
	var created domain.Order

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.AllocationTx) error {
		if err := tx.InsertNotification(ctx, domain.NotificationRecord{
			Reference:   req.Reference,
			PayloadHash: req.PayloadHash,
		}); err != nil {
			return err
		}

		product, err := tx.LockProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}

		available, err := tx.SelectAvailableCodes(ctx, req.ProductID, req.Quantity)
		if err != nil {
			return err
		}
		if len(available) < req.Quantity {
			return fmt.Errorf("%w: product %s requested %d, available %d",
				domain.ErrInsufficientInventory, req.ProductID, req.Quantity, len(available))
		}

		now := s.now()
		order := domain.Order{
			ID:               s.newID(),
			BuyerID:          req.BuyerID,
			RecipientEmail:   req.RecipientEmail,
			PaymentReference: req.Reference,
			TotalMinor:       req.TotalMinor,
			Status:           domain.OrderStatusCompleted,
			DeliveryStatus:   domain.DeliveryStatusPending,
			Items: []domain.OrderItem{{
				ID:             s.newID(),
				ProductID:      product.ID,
				Quantity:       req.Quantity,
				UnitPriceMinor: req.UnitPriceMinor,
				CreatedAt:      now,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		for _, code := range available {
			claimed, err := tx.ClaimCode(ctx, code.ID, order.ID)
			if err != nil {
				return err
			}
			if !claimed {
				return fmt.Errorf("%w: code %s", domain.ErrClaimConflict, code.ID)
			}
		}

		if err := tx.DecrementStock(ctx, product.ID, req.Quantity); err != nil {
			return err
		}
		if err := tx.CompleteNotification(ctx, req.Reference, order.ID); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.OrderFulfilledEvent{
			OrderID:          order.ID,
			PaymentReference: req.Reference,
			BuyerID:          req.BuyerID,
			ProductID:        product.ID,
			Quantity:         req.Quantity,
			TotalMinor:       req.TotalMinor,
			OccurredAt:       now,
		})
		if err != nil {
			return fmt.Errorf("marshal fulfilled event: %w", err)
		}
		if err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     domain.EventOrderFulfilled,
			Payload:       payload,
		}); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return created, nil
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrClaimConflict) || errors.Is(err, domain.ErrTransientStore)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientInventory):
		return "insufficient"
	case errors.Is(err, domain.ErrNotificationExists):
		return "duplicate"
	case errors.Is(err, domain.ErrInventoryDrift):
		return "drift"
	default:
		return "error"
	}
}
