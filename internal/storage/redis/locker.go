// Package redis реализует распределённую блокировку обработки уведомлений поверх Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

const keyPrefix = "giftshop:notification:inflight:"

// releaseIfOwner удаляет ключ, только если значение совпадает с токеном владельца.
var releaseIfOwner = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker — InFlightLocker на SET NX PX.
type Locker struct {
	client goredis.UniversalClient
}

// NewClient создаёт клиента Redis с таймаутами, подходящими для вызова из обработчика вебхука.
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// NewLocker оборачивает клиента Redis.
func NewLocker(client goredis.UniversalClient) *Locker {
	return &Locker{client: client}
}

func lockKey(key string) string {
	return keyPrefix + key
}

// TryLock берёт блокировку на ttl. acquired=false, если ключ уже занят.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock снимает блокировку, если она всё ещё принадлежит token.
func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	if err := releaseIfOwner.Run(ctx, l.client, []string{lockKey(key)}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

// Ping проверяет доступность Redis для readiness.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

var _ domain.InFlightLocker = (*Locker)(nil)
