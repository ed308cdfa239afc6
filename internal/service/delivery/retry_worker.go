package delivery

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

const (
	defaultRetryInterval    = 30 * time.Second
	defaultRetryGracePeriod = time.Minute
	defaultRetryBatchSize   = 50
	defaultRetryParallelism = 4
)

// RetryOptions задаёт параметры RetryWorker.
type RetryOptions struct {
	Logger      *log.Entry
	Interval    time.Duration
	GracePeriod time.Duration
	BatchSize   int
	Parallelism int
}

// RetryOption настраивает RetryWorker.
type RetryOption func(*RetryOptions)

// WithRetryLogger задаёт logger.
func WithRetryLogger(logger *log.Entry) RetryOption {
	return func(o *RetryOptions) { o.Logger = logger }
}

// WithRetryInterval задаёт интервал опроса.
func WithRetryInterval(d time.Duration) RetryOption {
	return func(o *RetryOptions) { o.Interval = d }
}

// WithGracePeriod задаёт паузу после последнего изменения заказа,
// чтобы не конкурировать с доставкой сразу после выдачи.
func WithGracePeriod(d time.Duration) RetryOption {
	return func(o *RetryOptions) { o.GracePeriod = d }
}

// WithRetryBatchSize задаёт размер выборки.
func WithRetryBatchSize(n int) RetryOption {
	return func(o *RetryOptions) { o.BatchSize = n }
}

// WithParallelism ограничивает число одновременных отправок.
func WithParallelism(n int) RetryOption {
	return func(o *RetryOptions) { o.Parallelism = n }
}

// RetryWorker повторяет доставку заказов, застрявших в pending.
type RetryWorker struct {
	orders      domain.OrderRepository
	delivery    *Service
	logger      *log.Entry
	interval    time.Duration
	gracePeriod time.Duration
	batchSize   int
	parallelism int
	now         func() time.Time
}

// NewRetryWorker создаёт воркер повторной доставки.
func NewRetryWorker(orders domain.OrderRepository, delivery *Service, options ...RetryOption) *RetryWorker {
	opts := RetryOptions{
		Interval:    defaultRetryInterval,
		GracePeriod: defaultRetryGracePeriod,
		BatchSize:   defaultRetryBatchSize,
		Parallelism: defaultRetryParallelism,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "delivery-retry-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultRetryInterval
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRetryBatchSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultRetryParallelism
	}

	return &RetryWorker{
		orders:      orders,
		delivery:    delivery,
		logger:      opts.Logger,
		interval:    opts.Interval,
		gracePeriod: opts.GracePeriod,
		batchSize:   opts.BatchSize,
		parallelism: opts.Parallelism,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run опрашивает заказы до отмены ctx.
func (w *RetryWorker) Run(ctx context.Context) {
	if w.orders == nil || w.delivery == nil {
		w.logger.Warn("delivery retry worker is disabled: repo or service is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл и возвращает число успешно доставленных заказов.
func (w *RetryWorker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	pending, err := w.orders.ListPendingDelivery(ctx, w.now().Add(-w.gracePeriod), w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list pending deliveries")
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	semaphore := make(chan struct{}, w.parallelism)

	for _, order := range pending {
		if ctx.Err() != nil {
			break
		}
		semaphore <- struct{}{}
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := w.delivery.Deliver(ctx, orderID); err != nil {
				w.logger.WithError(err).WithField("order_id", orderID).Debug("redelivery attempt failed")
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(order.ID)
	}
	wg.Wait()

	w.logger.WithFields(log.Fields{
		"pending":   len(pending),
		"delivered": delivered,
	}).Info("delivery retry cycle completed")
	return delivered
}
