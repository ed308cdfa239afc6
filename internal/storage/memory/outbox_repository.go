package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// OutboxRepository — представление outbox поверх общего Store.
// Сообщения выдаются в порядке постановки.
type OutboxRepository struct {
	s *Store
}

// enqueueOutboxLocked вызывается под s.mu.
func (s *Store) enqueueOutboxLocked(msg domain.OutboxMessage) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	s.outboxOrder = append(s.outboxOrder, msg.ID)
	return msg
}

// removeOutboxLocked вызывается под s.mu.
func (s *Store) removeOutboxLocked(id string) {
	delete(s.outbox, id)
	for i, candidate := range s.outboxOrder {
		if candidate == id {
			s.outboxOrder = append(s.outboxOrder[:i], s.outboxOrder[i+1:]...)
			return
		}
	}
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.enqueueOutboxLocked(msg), nil
}

// PullPending возвращает до limit самых старых сообщений со статусом `pending`.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.s.outboxOrder {
		rec := r.s.outbox[id]
		if rec.status != outboxStatusPending {
			continue
		}
		result = append(result, rec.msg)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var stats domain.OutboxStats
	for _, id := range r.s.outboxOrder {
		rec := r.s.outbox[id]
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusSent)
}

// MarkFailed фиксирует окончательную ошибку публикации.
func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r *OutboxRepository) markStatus(id, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	record, ok := r.s.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

// DeleteSent удаляет до limit опубликованных сообщений, обновлённых раньше before.
func (r *OutboxRepository) DeleteSent(_ context.Context, before time.Time, limit int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if limit <= 0 {
		limit = 1000
	}

	kept := r.s.outboxOrder[:0]
	deleted := 0
	for _, id := range r.s.outboxOrder {
		rec := r.s.outbox[id]
		if deleted < limit && rec.status == outboxStatusSent && rec.updatedAt.Before(before) {
			delete(r.s.outbox, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	r.s.outboxOrder = kept
	return deleted, nil
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	msgs, _ := r.PullPending(context.Background(), len(r.s.outboxOrder)+1)
	return msgs
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
