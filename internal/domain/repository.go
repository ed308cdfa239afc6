package domain

import (
	"context"
	"time"
)

// InventoryReport — сверка счётчика stock_count с фактическим числом кодов.
type InventoryReport struct {
	ProductID  string
	StockCount int
	Available  int
	Sold       int
}

// Consistent сообщает, что кэшированный счётчик совпадает с числом доступных кодов.
func (r InventoryReport) Consistent() bool {
	return r.StockCount == r.Available
}

// InventoryRepository описывает каталог и склад кодов вне транзакции выдачи.
// Статусы кодов и stock_count здесь не меняются: продажа идёт только через AllocationStore.
type InventoryRepository interface {
	// CreateProduct сохраняет товар с нулевым запасом. ErrProductExists при дубле.
	CreateProduct(ctx context.Context, product Product) error
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
	// ListProducts возвращает весь каталог, отсортированный по имени.
	ListProducts(ctx context.Context) ([]Product, error)
	// AddCodes загружает новые доступные коды и увеличивает stock_count на их число одной транзакцией.
	AddCodes(ctx context.Context, productID string, values []string) (int, error)
	// ListCodesByOrder возвращает коды, закреплённые за заказом (в открытом виде).
	ListCodesByOrder(ctx context.Context, orderID string) ([]GiftCode, error)
	// Report сверяет stock_count с числом доступных и проданных кодов.
	Report(ctx context.Context, productID string) (InventoryReport, error)
}

// OrderRepository описывает чтение заказов и учёт доставки.
type OrderRepository interface {
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByBuyer возвращает заказы покупателя, новые первыми.
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]Order, error)
	// ListPendingDelivery возвращает заказы с недоставленными кодами, обновлённые не позже before.
	ListPendingDelivery(ctx context.Context, before time.Time, limit int) ([]Order, error)
	// MarkDelivered фиксирует успешную отправку кодов.
	MarkDelivered(ctx context.Context, id string) error
	// RecordDeliveryFailure увеличивает счётчик попыток; terminal переводит доставку в failed.
	RecordDeliveryFailure(ctx context.Context, id, reason string, terminal bool) error
}

// NotificationRepository хранит соответствие ссылки на оплату и результата обработки.
type NotificationRepository interface {
	// Get возвращает запись по ссылке или ErrNotificationNotFound.
	Get(ctx context.Context, reference string) (NotificationRecord, error)
	// RecordInventoryFailure сохраняет терминальный статус inventory_failed вместе с alert-событием в outbox.
	// ErrNotificationExists, если по ссылке уже есть запись.
	RecordInventoryFailure(ctx context.Context, record NotificationRecord, alert OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// DeleteSent удаляет опубликованные сообщения старше before порцией до limit.
	DeleteSent(ctx context.Context, before time.Time, limit int) (int, error)
}
