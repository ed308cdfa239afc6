package domain

import "time"

// OrderStatus описывает статус заказа.
// В потоке выдачи кодов заказ создаётся сразу завершённым: промежуточных состояний нет.
type OrderStatus string

const (
	// OrderStatusCompleted — оплата подтверждена, коды закреплены за заказом.
	OrderStatusCompleted OrderStatus = "completed"
)

// DeliveryStatus описывает отправку кодов покупателю. Живёт отдельно от статуса
// заказа: неудачная доставка никогда не откатывает продажу.
type DeliveryStatus string

const (
	// DeliveryStatusPending — коды ещё не отправлены (или последняя попытка не удалась).
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusDelivered — уведомление с кодами отправлено.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusFailed — попытки исчерпаны, нужна ручная повторная отправка.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Valid проверяет, что статус доставки поддерживается.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusDelivered, DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	// UnitPriceMinor — снимок цены на момент покупки, после записи не меняется.
	UnitPriceMinor int64
	CreatedAt      time.Time
}

// Order агрегирует проданные коды одной оплаты.
type Order struct {
	ID      string
	BuyerID string
	// RecipientEmail — куда отправлять коды; хранится в заказе, чтобы повторная доставка
	// не зависела от внешних сервисов.
	RecipientEmail string
	// PaymentReference — внешний идентификатор оплаты, по которому заказ был создан.
	PaymentReference string
	// TotalMinor — фактически оплаченная сумма в минимальных единицах.
	TotalMinor        int64
	Status            OrderStatus
	DeliveryStatus    DeliveryStatus
	DeliveryAttempts  int
	LastDeliveryError string
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CodeCount возвращает суммарное количество кодов по всем позициям.
func (o *Order) CodeCount() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if o.PaymentReference == "" {
		errs = append(errs, ErrReferenceRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Итог заказа — то, что провёл платёжный провайдер (скидки, налоги),
	// поэтому с суммой позиций он не сверяется.
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrPriceInvalid)
		}
		if item.ProductID == "" {
			errs = append(errs, ErrProductRequired)
		}
	}

	return errs
}
