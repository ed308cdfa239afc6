package memory

import (
	"context"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

type notificationRepository struct {
	s *Store
}

func (r *notificationRepository) Get(_ context.Context, reference string) (domain.NotificationRecord, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.NotificationRecord{}, domain.ErrReferenceRequired
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	record, ok := r.s.notifications[reference]
	if !ok {
		return domain.NotificationRecord{}, domain.ErrNotificationNotFound
	}
	return *record, nil
}

// RecordInventoryFailure сохраняет терминальную запись и alert одной операцией.
func (r *notificationRepository) RecordInventoryFailure(_ context.Context, record domain.NotificationRecord, alert domain.OutboxMessage) error {
	record.Reference = strings.TrimSpace(record.Reference)
	if record.Reference == "" {
		return domain.ErrReferenceRequired
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.notifications[record.Reference]; exists {
		return domain.ErrNotificationExists
	}

	now := time.Now().UTC()
	record.Status = domain.NotificationStatusInventoryFailed
	record.OrderID = ""
	record.CreatedAt = now
	record.UpdatedAt = now
	r.s.notifications[record.Reference] = &record
	r.s.enqueueOutboxLocked(alert)
	return nil
}

var _ domain.NotificationRepository = (*notificationRepository)(nil)
