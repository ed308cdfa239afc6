package domain

import "time"

// NotificationStatus описывает жизненный цикл уведомления об оплате по его внешней ссылке.
//
//	unseen → processing → fulfilled
//	unseen → processing → inventory_failed
//
// Отклонённые уведомления (подпись, содержимое) не сохраняются: их отсекают до обращения
// к хранилищу, а ответ 400 сам по себе окончателен.
type NotificationStatus string

const (
	// NotificationStatusProcessing — уведомление принято и обрабатывается.
	NotificationStatusProcessing NotificationStatus = "processing"
	// NotificationStatusFulfilled — коды выданы, ссылка привязана к заказу.
	NotificationStatusFulfilled NotificationStatus = "fulfilled"
	// NotificationStatusInventoryFailed — оплата есть, кодов нет; нужен оператор.
	NotificationStatusInventoryFailed NotificationStatus = "inventory_failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s NotificationStatus) Valid() bool {
	switch s {
	case NotificationStatusProcessing,
		NotificationStatusFulfilled,
		NotificationStatusInventoryFailed:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что повторная доставка уведомления не должна ничего менять.
func (s NotificationStatus) Terminal() bool {
	return s == NotificationStatusFulfilled || s == NotificationStatusInventoryFailed
}

// NotificationRecord — сохранённое соответствие ссылки на оплату и результата обработки.
type NotificationRecord struct {
	Reference   string
	PayloadHash string
	Status      NotificationStatus
	OrderID     string
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
