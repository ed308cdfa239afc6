package app

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/metrics"
	"github.com/vladislavdragonenkov/giftshop/internal/payments"
	"github.com/vladislavdragonenkov/giftshop/internal/service/fulfillment"
)

const testWebhookSecret = "whsec_test"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StripeWebhookSecret = testWebhookSecret
	return cfg
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func testMetrics() *metrics.FulfillmentMetrics {
	return metrics.NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())
}

func memoryStorage(t *testing.T) *runtimeDependencies {
	t.Helper()
	deps, err := initRuntimeDependencies(context.Background(), Config{StorageDriver: StorageDriverMemory}, quietLogger())
	require.NoError(t, err)
	return deps
}

func seedProduct(t *testing.T, storage *runtimeDependencies, productID string, codes int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, storage.inventory.CreateProduct(ctx, domain.Product{ID: productID, Name: "Gift " + productID, PriceMinor: 2500}))
	values := make([]string, codes)
	for i := range values {
		values[i] = fmt.Sprintf("%s-CODE-%04d", productID, i)
	}
	_, err := storage.inventory.AddCodes(ctx, productID, values)
	require.NoError(t, err)
}

// signedCheckout строит подписанное событие checkout.session.completed.
func signedCheckout(t *testing.T, sessionID, productID string, qty int) domain.RawNotification {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + sessionID,
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2025-03-31.basil",
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"object":         "checkout.session",
				"payment_status": "paid",
				"amount_total":   int64(qty) * 2500,
				"customer_email": "buyer@example.com",
				"metadata": map[string]string{
					payments.MetadataBuyerID:   "buyer-1",
					payments.MetadataProductID: productID,
					payments.MetadataQuantity:  fmt.Sprint(qty),
				},
			},
		},
	})
	require.NoError(t, err)
	return domain.RawNotification{
		Payload:   payload,
		Signature: payments.SignPayload(payload, testWebhookSecret, time.Now()),
		Source:    "test",
	}
}

func TestNewDependencies_FulfillsOverMemoryStorage(t *testing.T) {
	t.Parallel()

	storage := memoryStorage(t)
	seedProduct(t, storage, "psn-25", 3)

	deps, err := NewDependencies(testConfig(), storage, testMetrics(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })
	require.Nil(t, deps.RedisPing)
	require.NotNil(t, deps.Locker)

	result, err := deps.Fulfillment.Fulfill(context.Background(), signedCheckout(t, "cs_app_1", "psn-25", 2))
	require.NoError(t, err)
	require.Equal(t, fulfillment.StatusFulfilled, result.Status)
	require.Equal(t, 2, result.CodeCount)
	require.True(t, result.Delivered)

	order, err := storage.orders.Get(context.Background(), result.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.DeliveryStatusDelivered, order.DeliveryStatus)

	replay, err := deps.Fulfillment.Fulfill(context.Background(), signedCheckout(t, "cs_app_1", "psn-25", 2))
	require.NoError(t, err)
	require.Equal(t, fulfillment.StatusReplayed, replay.Status)
	require.Equal(t, result.OrderID, replay.OrderID)

	report, err := storage.inventory.Report(context.Background(), "psn-25")
	require.NoError(t, err)
	require.True(t, report.Consistent())
	require.Equal(t, 1, report.Available)
}

func TestNewDependencies_RedisLocker(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	deps, err := NewDependencies(cfg, memoryStorage(t), testMetrics(), quietLogger())
	require.NoError(t, err)
	require.NotNil(t, deps.RedisPing)
	require.Error(t, deps.RedisPing(context.Background()))
	require.NoError(t, deps.Close())
}

func TestNewDependencies_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewDependencies(testConfig(), nil, testMetrics(), quietLogger())
	require.Error(t, err)

	cfg := testConfig()
	cfg.StripeWebhookSecret = ""
	_, err = NewDependencies(cfg, memoryStorage(t), testMetrics(), quietLogger())
	require.Error(t, err)

	cfg = testConfig()
	cfg.SMTPHost = "smtp.example.com"
	cfg.SMTPFrom = "not an address"
	_, err = NewDependencies(cfg, memoryStorage(t), testMetrics(), quietLogger())
	require.ErrorContains(t, err, "smtp")
}

func TestNewNotifier(t *testing.T) {
	t.Parallel()

	notifier, err := newNotifier(Config{}, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, notifier)

	notifier, err = newNotifier(Config{SMTPHost: "smtp.example.com", SMTPPort: 2525, SMTPFrom: "gifts@example.com"}, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, notifier)
}

func TestDependencies_CloseNil(t *testing.T) {
	t.Parallel()

	var deps *Dependencies
	require.NoError(t, deps.Close())
	require.NoError(t, (&Dependencies{}).Close())
}

