package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

// allocationTx работает под блокировкой Store и записывает обратные операции в журнал.
type allocationTx struct {
	s    *Store
	undo []func()
}

func (tx *allocationTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *allocationTx) InsertNotification(_ context.Context, record domain.NotificationRecord) error {
	if _, exists := tx.s.notifications[record.Reference]; exists {
		return domain.ErrNotificationExists
	}
	now := time.Now().UTC()
	record.Status = domain.NotificationStatusProcessing
	record.CreatedAt = now
	record.UpdatedAt = now
	tx.s.notifications[record.Reference] = &record
	tx.undo = append(tx.undo, func() { delete(tx.s.notifications, record.Reference) })
	return nil
}

func (tx *allocationTx) LockProduct(_ context.Context, productID string) (domain.Product, error) {
	product, ok := tx.s.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return *product, nil
}

func (tx *allocationTx) SelectAvailableCodes(_ context.Context, productID string, limit int) ([]domain.GiftCode, error) {
	result := make([]domain.GiftCode, 0, limit)
	for _, id := range tx.s.codeOrder {
		if len(result) >= limit {
			break
		}
		code := tx.s.codes[id]
		if code.ProductID != productID || code.Status != domain.CodeStatusAvailable {
			continue
		}
		result = append(result, *code)
	}
	return result, nil
}

func (tx *allocationTx) ClaimCode(_ context.Context, codeID, orderID string) (bool, error) {
	code, ok := tx.s.codes[codeID]
	if !ok || code.Status != domain.CodeStatusAvailable {
		return false, nil
	}
	prev := *code
	code.Status = domain.CodeStatusSold
	code.OrderID = orderID
	code.UpdatedAt = time.Now().UTC()
	tx.undo = append(tx.undo, func() { *code = prev })
	return true, nil
}

func (tx *allocationTx) DecrementStock(_ context.Context, productID string, quantity int) error {
	product, ok := tx.s.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.StockCount < quantity {
		return fmt.Errorf("%w: product %s stock=%d, decrement=%d", domain.ErrInventoryDrift, productID, product.StockCount, quantity)
	}
	prev := *product
	product.StockCount -= quantity
	product.UpdatedAt = time.Now().UTC()
	tx.undo = append(tx.undo, func() { *product = prev })
	return nil
}

func (tx *allocationTx) CreateOrder(_ context.Context, order domain.Order) error {
	if _, exists := tx.s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
		order.Items[i].OrderID = order.ID
	}
	stored := copyOrder(&order)
	tx.s.orders[order.ID] = &stored
	tx.undo = append(tx.undo, func() { delete(tx.s.orders, order.ID) })
	return nil
}

func (tx *allocationTx) CompleteNotification(_ context.Context, reference, orderID string) error {
	record, ok := tx.s.notifications[reference]
	if !ok || record.Status != domain.NotificationStatusProcessing {
		return fmt.Errorf("complete notification %s: %w", reference, domain.ErrNotificationNotFound)
	}
	prev := *record
	record.Status = domain.NotificationStatusFulfilled
	record.OrderID = orderID
	record.UpdatedAt = time.Now().UTC()
	tx.undo = append(tx.undo, func() { *record = prev })
	return nil
}

func (tx *allocationTx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) error {
	stored := tx.s.enqueueOutboxLocked(msg)
	tx.undo = append(tx.undo, func() { tx.s.removeOutboxLocked(stored.ID) })
	return nil
}

var _ domain.AllocationTx = (*allocationTx)(nil)
