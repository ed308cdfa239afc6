package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// Locker — процессная реализация InFlightLocker с истечением по TTL.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLocker создаёт пустой Locker.
func NewLocker() *Locker {
	return &Locker{leases: make(map[string]lease), now: time.Now}
}

// TryLock берёт блокировку, если её нет или она истекла.
func (l *Locker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.leases[key]; ok && now.Before(current.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Unlock снимает блокировку только владельцу токена.
func (l *Locker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.leases[key]; ok && current.token == token {
		delete(l.leases, key)
	}
	return nil
}

var _ domain.InFlightLocker = (*Locker)(nil)
