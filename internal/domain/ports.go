package domain

import (
	"context"
	"time"
)

// AllocationStore выполняет единицу выдачи кодов атомарно: либо видны все изменения, либо ни одного.
type AllocationStore interface {
	// RunInTx открывает транзакцию, вызывает fn и коммитит при nil, иначе откатывает.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx AllocationTx) error) error
}

// AllocationTx — операции, доступные внутри транзакции выдачи.
// Это единственный путь, которым меняются статусы кодов, stock_count и создаются заказы.
type AllocationTx interface {
	// InsertNotification резервирует ссылку в статусе processing. ErrNotificationExists при дубле.
	InsertNotification(ctx context.Context, record NotificationRecord) error
	// LockProduct блокирует строку товара до конца транзакции. ErrProductNotFound если её нет.
	LockProduct(ctx context.Context, productID string) (Product, error)
	// SelectAvailableCodes выбирает не более limit доступных кодов товара.
	SelectAvailableCodes(ctx context.Context, productID string, limit int) ([]GiftCode, error)
	// ClaimCode переводит код в sold при условии, что он всё ещё available.
	// false означает, что код забрал кто-то другой.
	ClaimCode(ctx context.Context, codeID, orderID string) (bool, error)
	// DecrementStock уменьшает stock_count ровно на quantity. ErrInventoryDrift, если счётчик меньше.
	DecrementStock(ctx context.Context, productID string, quantity int) error
	// CreateOrder сохраняет заказ с позициями.
	CreateOrder(ctx context.Context, order Order) error
	// CompleteNotification переводит ссылку в fulfilled и привязывает к заказу.
	CompleteNotification(ctx context.Context, reference, orderID string) error
	// EnqueueOutbox пишет событие в outbox той же транзакцией.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// CatalogReader — чтение каталога для снимка цены и имени товара.
type CatalogReader interface {
	GetProduct(ctx context.Context, id string) (Product, error)
}

// NotificationVerifier проверяет подлинность уведомления провайдера и разбирает его.
type NotificationVerifier interface {
	// Verify возвращает ErrRejectedNotification при неверной подписи или содержимом
	// и ErrNotificationIgnored для событий, не требующих выдачи.
	Verify(ctx context.Context, raw RawNotification) (PaymentNotification, error)
}

// DeliveryNotifier отправляет коды покупателю вне транзакции.
type DeliveryNotifier interface {
	Send(ctx context.Context, recipient, productName string, codes []string) error
}

// InFlightLocker помечает ссылку как обрабатываемую, чтобы дубли не шли в транзакцию параллельно.
// Корректность от него не зависит: защиту даёт уникальность записи уведомления.
type InFlightLocker interface {
	// TryLock возвращает токен владельца, если блокировка взята.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	// Unlock снимает блокировку, только если токен совпадает.
	Unlock(ctx context.Context, key, token string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Типы событий outbox.
const (
	EventOrderFulfilled          = "order.fulfilled"
	EventInventoryFailed         = "fulfillment.inventory_failed"
	EventDeliveryFailed          = "delivery.failed"
	AggregateOrder               = "order"
	AggregatePaymentNotification = "payment_notification"
)
