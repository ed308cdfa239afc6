package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/storage/memory"
)

func sellOne(t *testing.T, store *memory.Store, reference, orderID string) {
	t.Helper()
	err := store.RunInTx(context.Background(), func(ctx context.Context, tx domain.AllocationTx) error {
		return sell(ctx, tx, reference, "p-1", orderID, 1)
	})
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
}

func TestOrderRepository_GetAndListByBuyer(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", "AAAA-1", "AAAA-2")
	sellOne(t, store, "ref-1", "order-1")
	sellOne(t, store, "ref-2", "order-2")
	ctx := context.Background()

	stored, err := store.Orders().Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.CodeCount() != 1 || stored.Items[0].OrderID != "order-1" || stored.Items[0].ID == "" {
		t.Fatalf("unexpected order: %+v", stored)
	}

	orders, err := store.Orders().ListByBuyer(ctx, "buyer-1", 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(orders))
	}

	if _, err := store.Orders().Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_DeliveryLifecycle(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", "AAAA-1", "AAAA-2")
	sellOne(t, store, "ref-1", "order-1")
	sellOne(t, store, "ref-2", "order-2")
	ctx := context.Background()
	later := time.Now().UTC().Add(time.Minute)

	pending, err := store.Orders().ListPendingDelivery(ctx, later, 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	if err := store.Orders().MarkDelivered(ctx, "order-1"); err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if err := store.Orders().RecordDeliveryFailure(ctx, "order-2", "smtp down", false); err != nil {
		t.Fatalf("record failure failed: %v", err)
	}

	pending, _ = store.Orders().ListPendingDelivery(ctx, later, 10)
	if len(pending) != 1 || pending[0].ID != "order-2" || pending[0].DeliveryAttempts != 1 {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	if err := store.Orders().RecordDeliveryFailure(ctx, "order-2", "smtp down", true); err != nil {
		t.Fatalf("record terminal failure failed: %v", err)
	}
	failed, _ := store.Orders().Get(ctx, "order-2")
	if failed.DeliveryStatus != domain.DeliveryStatusFailed || failed.LastDeliveryError != "smtp down" {
		t.Fatalf("unexpected order: %+v", failed)
	}

	codes, _ := store.Inventory().ListCodesByOrder(ctx, "order-2")
	if len(codes) != 1 {
		t.Fatal("failed delivery must keep codes with the order")
	}

	if err := store.Orders().MarkDelivered(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
