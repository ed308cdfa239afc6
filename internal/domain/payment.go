package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// RawNotification — входящее событие платёжного провайдера до проверки подписи.
type RawNotification struct {
	Payload   []byte
	Signature string
	// Source помечает канал доставки (http, kafka) для логов и метрик.
	Source string
}

// PaymentNotification — проверенное уведомление об успешной оплате.
type PaymentNotification struct {
	// Reference — уникальный внешний идентификатор оплаты (checkout session).
	Reference string
	// EventID — идентификатор события у провайдера; повторная доставка сохраняет Reference,
	// но может прийти с другим EventID.
	EventID          string
	BuyerID          string
	RecipientEmail   string
	ProductID        string
	Quantity         int
	AmountTotalMinor int64
}

// Validate проверяет поля уведомления. Вызывается до любого обращения к хранилищу.
func (n *PaymentNotification) Validate() []error {
	var errs []error

	if strings.TrimSpace(n.Reference) == "" {
		errs = append(errs, ErrReferenceRequired)
	}
	if strings.TrimSpace(n.ProductID) == "" {
		errs = append(errs, ErrProductRequired)
	}
	if strings.TrimSpace(n.BuyerID) == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if n.Quantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}
	if n.AmountTotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	return errs
}

// PayloadHash возвращает отпечаток полей, влияющих на выдачу.
// Повторная доставка с той же ссылкой обязана давать тот же отпечаток.
func (n *PaymentNotification) PayloadHash() string {
	canonical := strings.Join([]string{
		strings.TrimSpace(n.Reference),
		strings.TrimSpace(n.BuyerID),
		strings.TrimSpace(n.ProductID),
		strconv.Itoa(n.Quantity),
		strconv.FormatInt(n.AmountTotalMinor, 10),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
