package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ErrPermanent помечает ошибку, которую бессмысленно повторять: сообщение сразу уходит в DLQ.
var ErrPermanent = errors.New("permanent message failure")

// Permanent оборачивает err в ErrPermanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// ConsumerOptions задаёт параметры consumer.
type ConsumerOptions struct {
	Logger         *log.Entry
	DLQProducer    *Producer
	DLQTopic       string
	MaxRetries     int
	RetryBaseDelay time.Duration
	InitialOffset  int64
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*ConsumerOptions)

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(o *ConsumerOptions) { o.Logger = logger }
}

// WithDLQ включает отправку необработанных сообщений в DLQ.
func WithDLQ(producer *Producer, topic string) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.DLQProducer = producer
		o.DLQTopic = topic
	}
}

// WithMaxRetries задаёт число повторов обработки до DLQ.
func WithMaxRetries(n int) ConsumerOption {
	return func(o *ConsumerOptions) { o.MaxRetries = n }
}

// WithRetryBaseDelay задаёт базовую задержку exponential backoff между повторами.
func WithRetryBaseDelay(d time.Duration) ConsumerOption {
	return func(o *ConsumerOptions) { o.RetryBaseDelay = d }
}

// WithInitialOffset задаёт стартовый offset новой группы (sarama.OffsetOldest/OffsetNewest).
func WithInitialOffset(offset int64) ConsumerOption {
	return func(o *ConsumerOptions) { o.InitialOffset = offset }
}

// Consumer представляет Kafka consumer group с повторами и DLQ.
type Consumer struct {
	consumer       sarama.ConsumerGroup
	topics         []string
	handler        MessageHandler
	logger         *log.Entry
	wg             sync.WaitGroup
	dlqProducer    *Producer
	dlqTopic       string
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewConsumer создаёт consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	opts := ConsumerOptions{
		MaxRetries:     defaultMaxRetries,
		RetryBaseDelay: defaultRetryBaseDelay,
		InitialOffset:  sarama.OffsetOldest,
	}
	for _, option := range options {
		option(&opts)
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = opts.InitialOffset
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return newConsumer(group, topics, handler, opts), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ConsumerOptions) *Consumer {
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "kafka-consumer")
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.DLQTopic == "" {
		opts.DLQTopic = TopicDeadLetterQueue
	}

	return &Consumer{
		consumer:       group,
		topics:         topics,
		handler:        handler,
		logger:         opts.Logger,
		dlqProducer:    opts.DLQProducer,
		dlqTopic:       opts.DLQTopic,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// Start запускает consumer.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			entry := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			entry.Debug("received message")

			if err := c.handleMessage(session.Context(), message); err != nil {
				if session.Context().Err() != nil {
					// сессия закрывается: offset не коммитим, сообщение получит следующий владелец партиции
					return nil
				}
				entry.WithError(err).Error("message processing failed after all retries")
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage вызывает handler с повторами и отправляет сообщение в DLQ, если повторы исчерпаны.
// nil означает, что offset можно коммитить.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var (
		err      error
		attempts int
	)

	for {
		attempts++
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) || attempts > c.maxRetries {
			break
		}

		delay := c.backoff(attempts)
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"attempt":     attempts,
			"max_retries": c.maxRetries,
			"delay":       delay,
		}).Warn("message processing failed, will retry")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(message, err, RetryCount(message)+attempts); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":    message.Topic,
		"offset":   message.Offset,
		"attempts": attempts,
	}).Warn("message sent to DLQ")
	return nil
}

func (c *Consumer) backoff(attempt int) time.Duration {
	if c.retryBaseDelay <= 0 {
		return 0
	}
	delay := c.retryBaseDelay
	for i := 1; i < attempt && delay < time.Minute; i++ {
		delay *= 2
	}
	return delay
}

// sendToDLQ пересылает исходные ключ, значение и заголовки, добавляя служебные x-* заголовки.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, retryCount int) error {
	headers := make([]sarama.RecordHeader, 0, len(message.Headers)+6)
	for _, header := range message.Headers {
		if header == nil || IsDLQHeader(string(header.Key)) {
			continue
		}
		headers = append(headers, *header)
	}
	headers = append(headers,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderOriginalPartition), Value: []byte(strconv.FormatInt(int64(message.Partition), 10))},
		sarama.RecordHeader{Key: []byte(HeaderOriginalOffset), Value: []byte(strconv.FormatInt(message.Offset, 10))},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(processingErr.Error())},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retryCount))},
	)

	return c.dlqProducer.PublishRaw(c.dlqTopic, string(message.Key), message.Value, headers)
}
