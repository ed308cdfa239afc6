package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/giftshop/internal/service/outbox"
)

const (
	defaultReplayLimit   = 100
	defaultIdleTimeout   = 2 * time.Second
	defaultMaxRetryCount = 10
)

var errNotReplayable = errors.New("message is not a replayable dlq entry")

type config struct {
	brokers       []string
	sourceTopic   string
	eventsTopic   string
	limit         int
	maxRetryCount int
	execute       bool
	fromNewest    bool
	idleTimeout   time.Duration
}

// replayMessage — сообщение, которое нужно вернуть в рабочий топик.
type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewProducerConfig())
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: GIFTSHOP_KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.eventsTopic, "events-topic", kafka.TopicFulfillmentEvents, "topic for replayed outbox events")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	flag.IntVar(&cfg.maxRetryCount, "max-retry-count", defaultMaxRetryCount, "skip entries that already failed this many times")
	flag.BoolVar(&cfg.execute, "execute", false, "publish replayed messages; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("GIFTSHOP_KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or GIFTSHOP_KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.eventsTopic) == "":
		return config{}, errors.New("events-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.maxRetryCount <= 0:
		return config{}, errors.New("max-retry-count must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"events_topic": cfg.eventsTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, producer)
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) error {
	if client == nil || consumer == nil {
		return errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return errors.New("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total replayStats
	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return err
		}
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case <-idleTimer.C:
			return stats, nil
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			if err := replayOne(producer, cfg, msg); err != nil {
				if errors.Is(err, errNotReplayable) {
					stats.skipped++
					log.WithError(err).WithFields(log.Fields{
						"partition": msg.Partition,
						"offset":    msg.Offset,
					}).Warn("skip dlq message")
					continue
				}
				return stats, err
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}

	return stats, nil
}

func replayOne(producer replayProducer, cfg config, msg *sarama.ConsumerMessage) error {
	if count := kafka.RetryCount(msg); count >= cfg.maxRetryCount {
		return fmt.Errorf("%w: retry count %d reached limit %d", errNotReplayable, count, cfg.maxRetryCount)
	}

	replay, err := extractReplayMessage(msg, cfg.eventsTopic)
	if err != nil {
		return err
	}

	if !cfg.execute {
		log.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"target_topic": replay.topic,
			"key":          replay.key,
		}).Info("dlq replay candidate")
		return nil
	}

	if err := publishReplay(producer, replay); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	return nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return errors.New("producer is nil")
	}

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Headers:   msg.headers,
		Timestamp: time.Now().UTC(),
	})
	return err
}

// extractReplayMessage распознаёт два формата DLQ:
// записи consumer'а (исходное сообщение с заголовком x-original-topic)
// и записи outbox-воркера (OutboxEnvelope с DLQEnvelope внутри).
func extractReplayMessage(msg *sarama.ConsumerMessage, eventsTopic string) (replayMessage, error) {
	if originalTopic, ok := kafka.Header(msg, kafka.HeaderOriginalTopic); ok && strings.TrimSpace(originalTopic) != "" {
		return replayMessage{
			topic:   originalTopic,
			key:     string(msg.Key),
			value:   msg.Value,
			headers: replayHeaders(msg),
		}, nil
	}

	envelope, err := kafka.ParseOutboxEnvelope(msg)
	if err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errNotReplayable
	}

	var failed outbox.DLQEnvelope
	if err := json.Unmarshal(envelope.Payload, &failed); err != nil {
		return replayMessage{}, fmt.Errorf("%w: decode outbox dlq payload: %v", errNotReplayable, err)
	}
	if failed.OutboxID == "" || failed.EventType == "" {
		return replayMessage{}, fmt.Errorf("%w: outbox dlq payload has no event", errNotReplayable)
	}
	if len(failed.Payload) == 0 || string(failed.Payload) == "null" {
		return replayMessage{}, fmt.Errorf("%w: outbox dlq payload lost the original event", errNotReplayable)
	}

	encoded, err := json.Marshal(kafka.OutboxEnvelope{
		ID:            failed.OutboxID,
		AggregateType: failed.AggregateType,
		AggregateID:   failed.AggregateID,
		EventType:     failed.EventType,
		Payload:       failed.Payload,
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := failed.AggregateID
	if key == "" {
		key = failed.OutboxID
	}

	return replayMessage{topic: eventsTopic, key: key, value: encoded}, nil
}

// replayHeaders возвращает исходные заголовки без служебных x-*, сохраняя счётчик попыток.
func replayHeaders(msg *sarama.ConsumerMessage) []sarama.RecordHeader {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers))
	for _, header := range msg.Headers {
		if header == nil {
			continue
		}
		key := string(header.Key)
		if kafka.IsDLQHeader(key) && key != kafka.HeaderRetryCount {
			continue
		}
		headers = append(headers, *header)
	}
	return headers
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
