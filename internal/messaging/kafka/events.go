package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	TopicFulfillmentEvents    = "giftshop.fulfillment.events"
	TopicPaymentNotifications = "giftshop.payment.notifications"
	TopicDeadLetterQueue      = "giftshop.dlq"
)

// Kafka headers для retry и DLQ
const (
	HeaderRetryCount        = "x-retry-count"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderErrorMessage      = "x-error-message"
	HeaderFailedAt          = "x-failed-at"
	// HeaderSignature несёт подпись платёжного провайдера для уведомлений из Kafka.
	HeaderSignature = "stripe-signature"
)

// OutboxEnvelope — формат события outbox в топике fulfillment events.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// ParseOutboxEnvelope разбирает событие outbox из сообщения.
func ParseOutboxEnvelope(message *sarama.ConsumerMessage) (*OutboxEnvelope, error) {
	var envelope OutboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox envelope: %w", err)
	}
	return &envelope, nil
}

// Header возвращает значение заголовка сообщения.
func Header(message *sarama.ConsumerMessage, key string) (string, bool) {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value), true
		}
	}
	return "", false
}

// RetryCount возвращает число прошлых попыток из заголовка x-retry-count.
func RetryCount(message *sarama.ConsumerMessage) int {
	raw, ok := Header(message, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// IsDLQHeader сообщает, что заголовок добавлен при отправке в DLQ.
func IsDLQHeader(key string) bool {
	switch key {
	case HeaderRetryCount, HeaderOriginalTopic, HeaderOriginalPartition,
		HeaderOriginalOffset, HeaderErrorMessage, HeaderFailedAt:
		return true
	default:
		return false
	}
}
