package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/service/fulfillment"
)

// Fulfiller обрабатывает уведомление об оплате.
type Fulfiller interface {
	Fulfill(ctx context.Context, raw domain.RawNotification) (fulfillment.Result, error)
}

// NewNotificationHandler превращает сообщения топика уведомлений в вызовы Fulfill.
// Значение сообщения — подписанный payload провайдера, подпись в заголовке stripe-signature.
// Отклонённые уведомления уходят в DLQ сразу, временные ошибки повторяются.
func NewNotificationHandler(fulfiller Fulfiller, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-notification-handler")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		signature, _ := Header(message, HeaderSignature)

		result, err := fulfiller.Fulfill(ctx, domain.RawNotification{
			Payload:   message.Value,
			Signature: signature,
			Source:    "kafka",
		})
		if err != nil {
			if errors.Is(err, domain.ErrRejectedNotification) {
				return Permanent(err)
			}
			return err
		}

		logger.WithFields(log.Fields{
			"offset":    message.Offset,
			"reference": result.Reference,
			"status":    result.Status,
			"order_id":  result.OrderID,
		}).Debug("payment notification processed")
		return nil
	}
}
