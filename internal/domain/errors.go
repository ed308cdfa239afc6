package domain

import "errors"

var (
	// ErrRejectedNotification — уведомление не прошло проверку подписи или содержит некорректные данные.
	// Повторять бессмысленно, событие можно отбросить.
	ErrRejectedNotification = errors.New("notification rejected")
	// ErrNotificationIgnored — подлинное уведомление, но тип события не относится к выдаче кодов.
	ErrNotificationIgnored = errors.New("notification ignored")
	// Ошибка отсутствующего внешнего идентификатора платежа.
	ErrReferenceRequired = errors.New("notification reference is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductRequired = errors.New("product_id is required")
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// Ошибка при некорректном количестве (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка отрицательной суммы.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// Ошибка, если цена позиции отрицательная.
	ErrPriceInvalid = errors.New("unit price must be non-negative")
	// Ошибка отсутствия позиций в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка неизвестного статуса кода.
	ErrCodeStatusInvalid = errors.New("gift code status is invalid")
	// Ошибка рассогласования статуса кода и order_id.
	ErrCodeOwnershipInvalid = errors.New("gift code must reference an order iff sold")
	// Ошибка пустого значения кода.
	ErrCodeValueRequired = errors.New("gift code value is required")

	// ErrInsufficientInventory — оплата уже списана, но свободных кодов не хватает.
	// Критическая ошибка: требуется ручное вмешательство оператора.
	ErrInsufficientInventory = errors.New("insufficient code inventory")
	// ErrInventoryDrift — счётчик stock_count разошёлся с числом доступных кодов.
	ErrInventoryDrift = errors.New("stock counter does not match available codes")
	// ErrClaimConflict — код успел забрать другой процесс, выборку нужно повторить.
	ErrClaimConflict = errors.New("code claim conflict")
	// ErrTransientStore — временная ошибка хранилища (таймаут, недоступность, сериализация).
	ErrTransientStore = errors.New("transient store failure")
	// ErrDeliveryFailed — не удалось отправить коды покупателю; продажа остаётся в силе.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateCode — код с таким значением уже загружен.
	ErrDuplicateCode = errors.New("gift code already exists")
	// ErrProductExists — товар с таким ID уже существует.
	ErrProductExists = errors.New("product already exists")

	// ErrNotificationNotFound — по ссылке ещё не было обработки.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrNotificationExists — запись по ссылке уже создана (конкурентный дубль).
	ErrNotificationExists = errors.New("notification already recorded")
	// ErrNotificationInProgress — уведомление с той же ссылкой обрабатывается прямо сейчас.
	ErrNotificationInProgress = errors.New("notification is being processed")
	// ErrPayloadMismatch — повторное уведомление с той же ссылкой, но другим содержимым.
	ErrPayloadMismatch = errors.New("notification payload does not match recorded hash")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsTransient сообщает, можно ли безопасно повторить всю обработку уведомления.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore) ||
		errors.Is(err, ErrClaimConflict) ||
		errors.Is(err, ErrNotificationInProgress)
}

// IsCritical отмечает ошибки, при которых деньги списаны, а товар не выдан.
func IsCritical(err error) bool {
	return errors.Is(err, ErrInsufficientInventory) || errors.Is(err, ErrInventoryDrift)
}
