package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/storage/memory"
)

func seedProduct(t *testing.T, store *memory.Store, productID string, codes ...string) {
	t.Helper()
	ctx := context.Background()
	if err := store.Inventory().CreateProduct(ctx, domain.Product{ID: productID, Name: "Gift " + productID, PriceMinor: 2500}); err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if len(codes) == 0 {
		return
	}
	if _, err := store.Inventory().AddCodes(ctx, productID, codes); err != nil {
		t.Fatalf("add codes failed: %v", err)
	}
}

func sell(ctx context.Context, tx domain.AllocationTx, reference, productID, orderID string, qty int) error {
	if err := tx.InsertNotification(ctx, domain.NotificationRecord{Reference: reference, PayloadHash: "h"}); err != nil {
		return err
	}
	if _, err := tx.LockProduct(ctx, productID); err != nil {
		return err
	}
	codes, err := tx.SelectAvailableCodes(ctx, productID, qty)
	if err != nil {
		return err
	}
	if len(codes) < qty {
		return domain.ErrInsufficientInventory
	}
	now := time.Now().UTC()
	if err := tx.CreateOrder(ctx, domain.Order{
		ID:               orderID,
		BuyerID:          "buyer-1",
		PaymentReference: reference,
		Status:           domain.OrderStatusCompleted,
		DeliveryStatus:   domain.DeliveryStatusPending,
		Items:            []domain.OrderItem{{ProductID: productID, Quantity: qty, UnitPriceMinor: 2500}},
		CreatedAt:        now,
		UpdatedAt:        now,
	}); err != nil {
		return err
	}
	for _, code := range codes {
		ok, err := tx.ClaimCode(ctx, code.ID, orderID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrClaimConflict
		}
	}
	if err := tx.DecrementStock(ctx, productID, qty); err != nil {
		return err
	}
	if err := tx.CompleteNotification(ctx, reference, orderID); err != nil {
		return err
	}
	return tx.EnqueueOutbox(ctx, domain.OutboxMessage{AggregateType: domain.AggregateOrder, AggregateID: orderID, EventType: domain.EventOrderFulfilled})
}

func TestStore_RunInTxCommits(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", "AAAA-1", "AAAA-2", "AAAA-3")
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context, tx domain.AllocationTx) error {
		return sell(ctx, tx, "ref-1", "p-1", "order-1", 2)
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}

	report, err := store.Inventory().Report(ctx, "p-1")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if !report.Consistent() || report.StockCount != 1 || report.Sold != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	codes, err := store.Inventory().ListCodesByOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("list codes failed: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("expected 2 codes, got %d", len(codes))
	}

	record, err := store.Notifications().Get(ctx, "ref-1")
	if err != nil {
		t.Fatalf("get notification failed: %v", err)
	}
	if record.Status != domain.NotificationStatusFulfilled || record.OrderID != "order-1" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if len(store.Outbox().AllPending()) != 1 {
		t.Fatal("expected fulfilled event in outbox")
	}
}

func TestStore_RunInTxRollsBackEverything(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", "AAAA-1", "AAAA-2")
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context, tx domain.AllocationTx) error {
		if err := sell(ctx, tx, "ref-1", "p-1", "order-1", 2); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	report, _ := store.Inventory().Report(ctx, "p-1")
	if report.StockCount != 2 || report.Available != 2 || report.Sold != 0 {
		t.Fatalf("expected untouched inventory, got %+v", report)
	}
	if _, err := store.Orders().Get(ctx, "order-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected order rollback, got %v", err)
	}
	if _, err := store.Notifications().Get(ctx, "ref-1"); !errors.Is(err, domain.ErrNotificationNotFound) {
		t.Fatalf("expected notification rollback, got %v", err)
	}
	if len(store.Outbox().AllPending()) != 0 {
		t.Fatal("expected outbox rollback")
	}
}

func TestStore_RunInTxRollsBackOnPanic(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", "AAAA-1", "AAAA-2")
	ctx := context.Background()

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("expected panic to propagate, got %v", r)
			}
		}()
		_ = store.RunInTx(ctx, func(ctx context.Context, tx domain.AllocationTx) error {
			if err := sell(ctx, tx, "ref-1", "p-1", "order-1", 1); err != nil {
				t.Fatalf("sell failed: %v", err)
			}
			panic("boom")
		})
	}()

	report, err := store.Inventory().Report(ctx, "p-1")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.StockCount != 2 || report.Available != 2 || report.Sold != 0 {
		t.Fatalf("expected untouched inventory, got %+v", report)
	}
	if _, err := store.Notifications().Get(ctx, "ref-1"); !errors.Is(err, domain.ErrNotificationNotFound) {
		t.Fatalf("expected notification rollback, got %v", err)
	}
	if len(store.Outbox().AllPending()) != 0 {
		t.Fatal("expected outbox rollback")
	}

	// блокировка снята, следующая выдача проходит
	err = store.RunInTx(ctx, func(ctx context.Context, tx domain.AllocationTx) error {
		return sell(ctx, tx, "ref-1", "p-1", "order-1", 1)
	})
	if err != nil {
		t.Fatalf("store must stay usable after panic: %v", err)
	}
}

func TestStore_RunInTxInsufficientInventory(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", "AAAA-1")
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context, tx domain.AllocationTx) error {
		return sell(ctx, tx, "ref-1", "p-1", "order-1", 2)
	})
	if !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}

	report, _ := store.Inventory().Report(ctx, "p-1")
	if report.StockCount != 1 || report.Available != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestStore_RunInTxDuplicateReference(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", "AAAA-1", "AAAA-2")
	ctx := context.Background()

	run := func(orderID string) error {
		return store.RunInTx(ctx, func(ctx context.Context, tx domain.AllocationTx) error {
			return sell(ctx, tx, "ref-1", "p-1", orderID, 1)
		})
	}
	if err := run("order-1"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := run("order-2"); !errors.Is(err, domain.ErrNotificationExists) {
		t.Fatalf("expected ErrNotificationExists, got %v", err)
	}

	report, _ := store.Inventory().Report(ctx, "p-1")
	if report.StockCount != 1 || report.Sold != 1 {
		t.Fatalf("duplicate reference must not sell more codes: %+v", report)
	}
}

func TestStore_RunInTxCancelledContext(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", "AAAA-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.RunInTx(ctx, func(context.Context, domain.AllocationTx) error {
		t.Fatal("fn must not run with cancelled context")
		return nil
	})
	if !errors.Is(err, domain.ErrTransientStore) {
		t.Fatalf("expected ErrTransientStore, got %v", err)
	}
}

func TestStore_ClaimCodeIsConditional(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "p-1", "AAAA-1")
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context, tx domain.AllocationTx) error {
		codes, err := tx.SelectAvailableCodes(ctx, "p-1", 1)
		if err != nil {
			return err
		}
		first, err := tx.ClaimCode(ctx, codes[0].ID, "order-1")
		if err != nil || !first {
			t.Fatalf("first claim: ok=%v err=%v", first, err)
		}
		second, err := tx.ClaimCode(ctx, codes[0].ID, "order-2")
		if err != nil {
			return err
		}
		if second {
			t.Fatal("sold code must not be claimed twice")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}
