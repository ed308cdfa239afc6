package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

type orderRepository struct {
	s *Store
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

// ListByBuyer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepository) ListByBuyer(_ context.Context, buyerID string, limit int) ([]domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if order.BuyerID != buyerID {
			continue
		}
		result = append(result, copyOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *orderRepository) ListPendingDelivery(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if order.DeliveryStatus != domain.DeliveryStatusPending || order.UpdatedAt.After(before) {
			continue
		}
		result = append(result, copyOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.Before(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *orderRepository) MarkDelivered(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.DeliveryStatus = domain.DeliveryStatusDelivered
	order.DeliveryAttempts++
	order.LastDeliveryError = ""
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *orderRepository) RecordDeliveryFailure(_ context.Context, id, reason string, terminal bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.DeliveryAttempts++
	order.LastDeliveryError = reason
	if terminal {
		order.DeliveryStatus = domain.DeliveryStatusFailed
	}
	order.UpdatedAt = time.Now().UTC()
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
