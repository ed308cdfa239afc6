package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/codecrypt"
	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/giftshop/internal/storage/postgres"
)

// runtimeDependencies — хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	allocationStore domain.AllocationStore
	inventory       domain.InventoryRepository
	orders          domain.OrderRepository
	notifications   domain.NotificationRepository
	outboxRepo      domain.OutboxRepository
	// ping проверяет доступность хранилища для readiness; nil для памяти.
	ping  func(ctx context.Context) error
	close func() error
}

func (d *runtimeDependencies) Close() error {
	if d == nil || d.close == nil {
		return nil
	}
	return d.close()
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Warn("using in-memory storage: inventory and orders are lost on restart")
		return &runtimeDependencies{
			allocationStore: store,
			inventory:       store.Inventory(),
			orders:          store.Orders(),
			notifications:   store.Notifications(),
			outboxRepo:      store.Outbox(),
		}, nil
	case StorageDriverPostgres:
		return initPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres storage requires a DSN")
	}
	cipher, err := codecrypt.NewFromBase64(cfg.CodeMasterKey)
	if err != nil {
		return nil, fmt.Errorf("init code cipher: %w", err)
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres schema is up to date")
	} else if err := store.VerifySchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("auto-migrate is disabled, run cmd/migrate first: %w", err)
	}

	return &runtimeDependencies{
		allocationStore: store,
		inventory:       postgres.NewInventoryRepository(store, cipher),
		orders:          postgres.NewOrderRepository(store),
		notifications:   postgres.NewNotificationRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		ping:            store.Ping,
		close:           store.Close,
	}, nil
}
