package outbox

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/metrics"
)

const (
	defaultRetentionInterval  = 10 * time.Minute
	defaultRetentionBatchSize = 500
	defaultRetentionPeriod    = 7 * 24 * time.Hour
)

// RetentionOptions задаёт параметры очистки опубликованных сообщений.
type RetentionOptions struct {
	Logger    *log.Entry
	Metrics   *metrics.OutboxMetrics
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// RetentionOption настраивает RetentionWorker.
type RetentionOption func(*RetentionOptions)

// WithRetentionLogger задаёт logger.
func WithRetentionLogger(logger *log.Entry) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Logger = logger
	}
}

// WithRetentionMetrics подключает метрики очистки.
func WithRetentionMetrics(m *metrics.OutboxMetrics) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Metrics = m
	}
}

// WithRetentionInterval задаёт интервал между запусками.
func WithRetentionInterval(interval time.Duration) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Interval = interval
	}
}

// WithRetentionBatchSize задаёт размер одной порции удаления.
func WithRetentionBatchSize(batchSize int) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.BatchSize = batchSize
	}
}

// WithRetention задаёт, сколько хранить отправленные сообщения.
func WithRetention(retention time.Duration) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Retention = retention
	}
}

// RetentionWorker периодически удаляет sent-сообщения старше Retention.
// pending и failed не трогаются.
type RetentionWorker struct {
	repo      domain.OutboxRepository
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics
	interval  time.Duration
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// NewRetentionWorker создаёт воркер очистки outbox.
func NewRetentionWorker(repo domain.OutboxRepository, options ...RetentionOption) *RetentionWorker {
	opts := RetentionOptions{
		Interval:  defaultRetentionInterval,
		BatchSize: defaultRetentionBatchSize,
		Retention: defaultRetentionPeriod,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-retention-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultRetentionInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRetentionBatchSize
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetentionPeriod
	}

	return &RetentionWorker{
		repo:      repo,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("outbox retention worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *RetentionWorker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteSent(ctx, w.now().Add(-w.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordRetention("error", deleted)
		w.logger.WithError(err).Warn("outbox retention run failed")
		return
	}

	w.metrics.RecordRetention("ok", deleted)
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("outbox retention completed")
	}
}

// DeleteSent удаляет все sent-сообщения старше before порциями batchSize.
func (w *RetentionWorker) DeleteSent(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now().Add(-w.retention)
	}

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.repo.DeleteSent(ctx, before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
