package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/messaging/kafka"
)

// splitBrokers разбирает список брокеров через запятую, отбрасывая пробелы и пустые элементы.
func splitBrokers(brokers string) []string {
	var list []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			list = append(list, broker)
		}
	}
	return list
}

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initNotificationConsumer подписывает оркестратор на топик уведомлений об оплате.
// Сообщения, которые не удалось обработать, уходят в DLQ через тот же producer.
func initNotificationConsumer(cfg Config, fulfiller kafka.Fulfiller, producer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	consumerLogger := logger.WithField("component", "kafka-consumer")
	options := []kafka.ConsumerOption{kafka.WithConsumerLogger(consumerLogger)}
	if producer != nil {
		options = append(options, kafka.WithDLQ(producer, kafka.TopicDeadLetterQueue))
	}

	return kafka.NewConsumer(
		splitBrokers(cfg.KafkaBrokers),
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicPaymentNotifications},
		kafka.NewNotificationHandler(fulfiller, consumerLogger),
		options...,
	)
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
