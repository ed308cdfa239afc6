package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/metrics"
	"github.com/vladislavdragonenkov/giftshop/internal/notify"
	"github.com/vladislavdragonenkov/giftshop/internal/payments"
	"github.com/vladislavdragonenkov/giftshop/internal/service/allocation"
	"github.com/vladislavdragonenkov/giftshop/internal/service/delivery"
	"github.com/vladislavdragonenkov/giftshop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/giftshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/giftshop/internal/storage/redis"
)

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// Dependencies содержит собранные сервисы приложения.
type Dependencies struct {
	Storage     *runtimeDependencies
	Fulfillment *fulfillment.Service
	Delivery    *delivery.Service
	Locker      domain.InFlightLocker
	// RedisPing не nil, когда in-flight блокировка идёт через Redis.
	RedisPing func(ctx context.Context) error
	Metrics   *metrics.FulfillmentMetrics
	Logger    *log.Entry

	redisClient *goredis.Client
}

// NewDependencies собирает верификатор, notifier, блокировку и сервисы выдачи поверх хранилища.
func NewDependencies(cfg Config, storage *runtimeDependencies, fm *metrics.FulfillmentMetrics, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	verifier, err := payments.NewStripeVerifier(cfg.StripeWebhookSecret, cfg.StripeTolerance)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Storage: storage, Metrics: fm, Logger: logger}
	if cfg.RedisAddr != "" {
		deps.redisClient = redis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		locker := redis.NewLocker(deps.redisClient)
		deps.Locker = locker
		deps.RedisPing = locker.Ping
		logger.WithField("addr", cfg.RedisAddr).Info("in-flight lock uses redis")
	} else {
		deps.Locker = memory.NewLocker()
	}

	deps.Delivery = delivery.NewService(
		storage.orders,
		storage.inventory,
		storage.outboxRepo,
		notifier,
		delivery.WithLogger(logger.WithField("component", "delivery")),
		delivery.WithMetrics(fm),
		delivery.WithBreaker(delivery.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout, logger.WithField("component", "delivery-breaker"))),
		delivery.WithMaxAttempts(cfg.DeliveryMaxAttempts),
		delivery.WithSendTimeout(cfg.DeliveryTimeout),
	)

	allocator := allocation.NewService(
		storage.allocationStore,
		allocation.DefaultRetryConfig(),
		logger.WithField("component", "allocation"),
		allocation.WithMetrics(fm),
	)

	deps.Fulfillment, err = fulfillment.NewService(fulfillment.Dependencies{
		Verifier:      verifier,
		Catalog:       storage.inventory,
		Notifications: storage.notifications,
		Allocator:     allocator,
		Deliverer:     deps.Delivery,
		Locker:        deps.Locker,
		Metrics:       fm,
		Logger:        logger.WithField("component", "fulfillment"),
	}, fulfillment.Config{
		VerifyTimeout:     cfg.VerifyTimeout,
		AllocationTimeout: cfg.AllocationTimeout,
		DeliveryTimeout:   cfg.DeliveryTimeout,
	})
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	return deps, nil
}

// Close освобождает внешние подключения, открытые при сборке.
func (d *Dependencies) Close() error {
	if d == nil || d.redisClient == nil {
		return nil
	}
	return d.redisClient.Close()
}

// newNotifier выбирает SMTP при заданном хосте, иначе пишет доставку в лог.
func newNotifier(cfg Config, logger *log.Entry) (domain.DeliveryNotifier, error) {
	if cfg.SMTPHost == "" {
		logger.Warn("smtp is not configured: codes are delivered to the log only")
		return notify.NewLogNotifier(logger.WithField("component", "log-notifier")), nil
	}

	notifier, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, logger.WithField("component", "smtp-notifier"))
	if err != nil {
		return nil, fmt.Errorf("init smtp notifier: %w", err)
	}
	return notifier, nil
}
