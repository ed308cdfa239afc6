// Package payments проверяет и разбирает уведомления платёжного провайдера.
package payments

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

// Ключи metadata, которые проставляются при создании checkout session.
const (
	MetadataBuyerID   = "userId"
	MetadataProductID = "productId"
	MetadataQuantity  = "quantity"
)

// StripeVerifier проверяет подпись заголовка Stripe-Signature и извлекает данные оплаты.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier создаёт верификатор. tolerance<=0 означает допуск по умолчанию библиотеки.
func NewStripeVerifier(secret string, tolerance time.Duration) (*StripeVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}, nil
}

// Verify возвращает ErrRejectedNotification при неверной подписи или неполных данных
// и ErrNotificationIgnored для событий, которые не означают завершённую оплату.
func (v *StripeVerifier) Verify(ctx context.Context, raw domain.RawNotification) (domain.PaymentNotification, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentNotification{}, err
	}

	event, err := webhook.ConstructEventWithOptions(raw.Payload, raw.Signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: %v", domain.ErrRejectedNotification, err)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return domain.PaymentNotification{}, fmt.Errorf("%w: event type %s", domain.ErrNotificationIgnored, event.Type)
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.PaymentNotification{}, fmt.Errorf("%w: event %s has no data", domain.ErrRejectedNotification, event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: decode checkout session: %v", domain.ErrRejectedNotification, err)
	}

	// completed с отложенным методом оплаты приходит до списания средств.
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return domain.PaymentNotification{}, fmt.Errorf("%w: session %s payment_status=%s",
			domain.ErrNotificationIgnored, session.ID, session.PaymentStatus)
	}

	return notificationFromSession(event.ID, &session)
}

func notificationFromSession(eventID string, session *stripe.CheckoutSession) (domain.PaymentNotification, error) {
	quantityRaw := strings.TrimSpace(session.Metadata[MetadataQuantity])
	quantity, err := strconv.Atoi(quantityRaw)
	if err != nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: metadata quantity %q", domain.ErrRejectedNotification, quantityRaw)
	}

	recipient := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		recipient = session.CustomerDetails.Email
	}

	n := domain.PaymentNotification{
		Reference:        session.ID,
		EventID:          eventID,
		BuyerID:          strings.TrimSpace(session.Metadata[MetadataBuyerID]),
		RecipientEmail:   strings.TrimSpace(recipient),
		ProductID:        strings.TrimSpace(session.Metadata[MetadataProductID]),
		Quantity:         quantity,
		AmountTotalMinor: session.AmountTotal,
	}
	if errs := n.Validate(); len(errs) > 0 {
		return domain.PaymentNotification{}, fmt.Errorf("%w: %w", domain.ErrRejectedNotification, errors.Join(errs...))
	}
	return n, nil
}

// SignPayload строит заголовок Stripe-Signature для payload.
// Нужен нагрузочному тесту и локальной отладке без Stripe CLI.
func SignPayload(payload []byte, secret string, at time.Time) string {
	mac := webhook.ComputeSignature(at, payload, secret)
	return "t=" + strconv.FormatInt(at.Unix(), 10) + ",v1=" + hex.EncodeToString(mac)
}

var _ domain.NotificationVerifier = (*StripeVerifier)(nil)
