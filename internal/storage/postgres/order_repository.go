package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

const orderColumns = `id, buyer_id, recipient_email, payment_reference, total_minor, status,
	delivery_status, delivery_attempts, last_delivery_error, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order          domain.Order
		status         string
		deliveryStatus string
	)
	err := row.Scan(
		&order.ID, &order.BuyerID, &order.RecipientEmail, &order.PaymentReference, &order.TotalMinor, &status,
		&deliveryStatus, &order.DeliveryAttempts, &order.LastDeliveryError, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.DeliveryStatus = domain.DeliveryStatus(deliveryStatus)
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, classify(fmt.Errorf("select order: %w", err))
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", buyerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, buyerID)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("list orders: %w", err))
	}

	return r.collect(ctx, rows)
}

func (r *orderRepository) ListPendingDelivery(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+`
		FROM orders
		WHERE delivery_status = 'pending' AND updated_at <= $1
		ORDER BY updated_at ASC, id ASC
		LIMIT $2
	`, before.UTC(), limit)
	if err != nil {
		return nil, classify(fmt.Errorf("list pending deliveries: %w", err))
	}

	return r.collect(ctx, rows)
}

func (r *orderRepository) MarkDelivered(ctx context.Context, id string) error {
	return r.updateDelivery(ctx, `
		UPDATE orders
		SET delivery_status = 'delivered',
		    delivery_attempts = delivery_attempts + 1,
		    last_delivery_error = '',
		    updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
}

func (r *orderRepository) RecordDeliveryFailure(ctx context.Context, id, reason string, terminal bool) error {
	return r.updateDelivery(ctx, `
		UPDATE orders
		SET delivery_status = CASE WHEN $4 THEN 'failed' ELSE delivery_status END,
		    delivery_attempts = delivery_attempts + 1,
		    last_delivery_error = $3,
		    updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC(), reason, terminal)
}

func (r *orderRepository) updateDelivery(ctx context.Context, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(fmt.Errorf("update delivery state: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) collect(ctx context.Context, rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
