package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

type notificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создаёт PostgreSQL-реализацию NotificationRepository.
func NewNotificationRepository(store *Store) domain.NotificationRepository {
	return &notificationRepository{db: store.DB()}
}

func (r *notificationRepository) Get(ctx context.Context, reference string) (domain.NotificationRecord, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.NotificationRecord{}, domain.ErrReferenceRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		record    domain.NotificationRecord
		statusRaw string
		orderID   sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT reference, payload_hash, status, order_id, reason, created_at, updated_at
		FROM payment_notifications
		WHERE reference = $1
	`, reference).Scan(
		&record.Reference,
		&record.PayloadHash,
		&statusRaw,
		&orderID,
		&record.Reason,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotificationRecord{}, domain.ErrNotificationNotFound
		}
		return domain.NotificationRecord{}, classify(fmt.Errorf("get payment notification: %w", err))
	}

	record.Status = domain.NotificationStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.NotificationRecord{}, fmt.Errorf("invalid notification status %q for reference %s", statusRaw, reference)
	}
	record.OrderID = orderID.String

	return record, nil
}

func (r *notificationRepository) RecordInventoryFailure(ctx context.Context, record domain.NotificationRecord, alert domain.OutboxMessage) (err error) {
	record.Reference = strings.TrimSpace(record.Reference)
	if record.Reference == "" {
		return domain.ErrReferenceRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_notifications (reference, payload_hash, status, reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
	`, record.Reference, record.PayloadHash, string(domain.NotificationStatusInventoryFailed), record.Reason, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrNotificationExists
		}
		return classify(fmt.Errorf("insert inventory failure: %w", err))
	}

	if _, err = insertOutbox(ctx, tx, alert); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit inventory failure: %w", err))
	}
	return nil
}

var _ domain.NotificationRepository = (*notificationRepository)(nil)
