package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/giftshop/internal/storage/memory"
)

func TestRetentionWorker_DeleteSentLoopsUntilShortBatch(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{deletes: []int{2, 2, 1}}
	worker := NewRetentionWorker(repo, WithRetentionBatchSize(2))

	deleted, err := worker.DeleteSent(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("delete sent failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("expected 5 deleted, got %d", deleted)
	}
}

func TestRetentionWorker_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{deletes: []int{2, 2, 2}}
	worker := NewRetentionWorker(repo, WithRetentionBatchSize(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deleted, err := worker.DeleteSent(ctx, time.Now())
	if err == nil {
		t.Fatal("expected context error")
	}
	if deleted != 0 {
		t.Fatalf("expected nothing deleted, got %d", deleted)
	}
}

func TestRetentionWorker_KeepsPendingMessages(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	repo := store.Outbox()
	ctx := context.Background()

	sent, err := repo.Enqueue(ctx, fulfilledMessage("", "order-1"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := repo.Enqueue(ctx, fulfilledMessage("", "order-2")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := repo.MarkSent(ctx, sent.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	worker := NewRetentionWorker(repo, WithRetention(time.Hour))
	worker.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	worker.cleanup(ctx)

	pending := repo.AllPending()
	if len(pending) != 1 || pending[0].AggregateID != "order-2" {
		t.Fatalf("expected only pending message to remain, got %+v", pending)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending, got %d", stats.PendingCount)
	}
}
