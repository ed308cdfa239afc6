package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

// allocationTx выполняет шаги выдачи внутри одной SQL-транзакции.
type allocationTx struct {
	tx *sql.Tx
}

func (a *allocationTx) InsertNotification(ctx context.Context, record domain.NotificationRecord) error {
	now := time.Now().UTC()
	_, err := a.tx.ExecContext(ctx, `
		INSERT INTO payment_notifications (reference, payload_hash, status, reason, created_at, updated_at)
		VALUES ($1,$2,$3,'',$4,$4)
	`, record.Reference, record.PayloadHash, string(domain.NotificationStatusProcessing), now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrNotificationExists
		}
		return fmt.Errorf("insert payment notification: %w", err)
	}
	return nil
}

func (a *allocationTx) LockProduct(ctx context.Context, productID string) (domain.Product, error) {
	var p domain.Product
	err := a.tx.QueryRowContext(ctx, `
		SELECT id, name, description, price_minor, stock_count, image_url, created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(
		&p.ID, &p.Name, &p.Description, &p.PriceMinor, &p.StockCount, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("lock product: %w", err)
	}
	return p, nil
}

// SelectAvailableCodes возвращает коды без расшифрованных значений: для выдачи нужны только идентификаторы.
func (a *allocationTx) SelectAvailableCodes(ctx context.Context, productID string, limit int) ([]domain.GiftCode, error) {
	rows, err := a.tx.QueryContext(ctx, `
		SELECT id, product_id, status, created_at, updated_at
		FROM gift_codes
		WHERE product_id = $1 AND status = 'available'
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("select available codes: %w", err)
	}
	defer rows.Close()

	codes := make([]domain.GiftCode, 0, limit)
	for rows.Next() {
		var (
			code   domain.GiftCode
			status string
		)
		if err := rows.Scan(&code.ID, &code.ProductID, &status, &code.CreatedAt, &code.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan available code: %w", err)
		}
		code.Status = domain.CodeStatus(status)
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate available codes: %w", err)
	}
	return codes, nil
}

func (a *allocationTx) ClaimCode(ctx context.Context, codeID, orderID string) (bool, error) {
	res, err := a.tx.ExecContext(ctx, `
		UPDATE gift_codes
		SET status = 'sold', order_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'available'
	`, codeID, orderID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for claim: %w", err)
	}
	return affected == 1, nil
}

func (a *allocationTx) DecrementStock(ctx context.Context, productID string, quantity int) error {
	res, err := a.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_count = stock_count - $2, updated_at = $3
		WHERE id = $1 AND stock_count >= $2
	`, productID, quantity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for stock: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("%w: product %s cannot drop by %d", domain.ErrInventoryDrift, productID, quantity)
	}
	return nil
}

func (a *allocationTx) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := a.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, recipient_email, payment_reference, total_minor, status,
			delivery_status, delivery_attempts, last_delivery_error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,0,'',$8,$9)
	`,
		order.ID, order.BuyerID, order.RecipientEmail, order.PaymentReference, order.TotalMinor,
		string(order.Status), string(order.DeliveryStatus), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrNotificationExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = order.CreatedAt
		}
		if _, err := a.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, unit_price_minor, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.ID, order.ID, item.ProductID, item.Quantity, item.UnitPriceMinor, item.CreatedAt); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (a *allocationTx) CompleteNotification(ctx context.Context, reference, orderID string) error {
	res, err := a.tx.ExecContext(ctx, `
		UPDATE payment_notifications
		SET status = $2, order_id = $3, updated_at = $4
		WHERE reference = $1 AND status = $5
	`, reference, string(domain.NotificationStatusFulfilled), orderID, time.Now().UTC(),
		string(domain.NotificationStatusProcessing))
	if err != nil {
		return fmt.Errorf("complete payment notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for notification: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("complete notification %s: %w", reference, domain.ErrNotificationNotFound)
	}
	return nil
}

func (a *allocationTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := insertOutbox(ctx, a.tx, msg)
	return err
}

var _ domain.AllocationTx = (*allocationTx)(nil)
