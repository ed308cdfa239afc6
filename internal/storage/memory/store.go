package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

// Store — in-memory хранилище каталога, кодов, заказов, уведомлений и outbox.
// Все сущности делят один мьютекс, поэтому транзакция выдачи видит согласованный снимок.
// Предназначено для локальной разработки и тестов.
type Store struct {
	mu sync.RWMutex

	products      map[string]*domain.Product
	codes         map[string]*domain.GiftCode
	codeOrder     []string
	codesByValue  map[string]string
	orders        map[string]*domain.Order
	notifications map[string]*domain.NotificationRecord
	outbox        map[string]*outboxRecord
	outboxOrder   []string
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		products:      make(map[string]*domain.Product),
		codes:         make(map[string]*domain.GiftCode),
		codesByValue:  make(map[string]string),
		orders:        make(map[string]*domain.Order),
		notifications: make(map[string]*domain.NotificationRecord),
		outbox:        make(map[string]*outboxRecord),
	}
}

// Inventory возвращает представление каталога и склада кодов.
func (s *Store) Inventory() domain.InventoryRepository { return &inventoryRepository{s: s} }

// Orders возвращает представление журнала заказов.
func (s *Store) Orders() domain.OrderRepository { return &orderRepository{s: s} }

// Notifications возвращает представление журнала уведомлений.
func (s *Store) Notifications() domain.NotificationRepository { return &notificationRepository{s: s} }

// Outbox возвращает представление transactional outbox.
func (s *Store) Outbox() *OutboxRepository { return &OutboxRepository{s: s} }

// RunInTx выполняет fn под эксклюзивной блокировкой хранилища.
// Любая ошибка (в том числе истёкший ctx) или паника откатывает все изменения через журнал отмены.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.AllocationTx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &allocationTx{s: s}
	defer func() {
		// паника в fn откатывает журнал до снятия блокировки
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return fmt.Errorf("%w: commit aborted: %v", domain.ErrTransientStore, err)
	}
	return nil
}

func copyOrder(o *domain.Order) domain.Order {
	out := *o
	out.Items = append([]domain.OrderItem(nil), o.Items...)
	return out
}

var _ domain.AllocationStore = (*Store)(nil)
