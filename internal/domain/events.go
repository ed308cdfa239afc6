package domain

import "time"

// OrderFulfilledEvent публикуется после коммита выдачи. Значения кодов в событие не попадают.
type OrderFulfilledEvent struct {
	OrderID          string    `json:"order_id"`
	PaymentReference string    `json:"payment_reference"`
	BuyerID          string    `json:"buyer_id"`
	ProductID        string    `json:"product_id"`
	Quantity         int       `json:"quantity"`
	TotalMinor       int64     `json:"total_minor"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// InventoryFailedEvent — сигнал оператору: оплата получена, кодов не хватило.
type InventoryFailedEvent struct {
	PaymentReference string    `json:"payment_reference"`
	BuyerID          string    `json:"buyer_id"`
	RecipientEmail   string    `json:"recipient_email,omitempty"`
	ProductID        string    `json:"product_id"`
	Quantity         int       `json:"quantity"`
	AmountTotalMinor int64     `json:"amount_total_minor"`
	Reason           string    `json:"reason"`
	Severity         string    `json:"severity"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// DeliveryFailedEvent — попытки доставки исчерпаны, коды остаются за заказом.
type DeliveryFailedEvent struct {
	OrderID    string    `json:"order_id"`
	BuyerID    string    `json:"buyer_id"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	OccurredAt time.Time `json:"occurred_at"`
}
