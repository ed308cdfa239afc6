package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/giftshop/internal/health"
	"github.com/vladislavdragonenkov/giftshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/giftshop/internal/metrics"
	"github.com/vladislavdragonenkov/giftshop/internal/service/delivery"
	"github.com/vladislavdragonenkov/giftshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/giftshop/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/giftshop/internal/version"
)

// Run собирает сервис, запускает серверы и фоновые воркеры и блокируется до отмены ctx.
// При остановке сначала снимается readiness, затем дожидаются активные запросы и воркеры.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	storage, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	fulfillmentMetrics := metrics.NewFulfillmentMetrics()
	deps, err := NewDependencies(cfg, storage, fulfillmentMetrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}()

	// Kafka необязательна: без неё события остаются в outbox до появления брокера.
	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil && cfg.KafkaConsumeNotifications {
		return fmt.Errorf("kafka is required to consume notifications: %w", err)
	}
	defer closeKafka(kafkaProducer, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if storage.ping != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", storage.ping))
	}
	if deps.RedisPing != nil {
		healthHandler.RegisterOptional("redis", healthcheck.NewSimpleChecker("redis", deps.RedisPing))
	}

	router, err := httpapi.NewRouter(httpapi.Dependencies{
		Fulfiller:      deps.Fulfillment,
		Catalog:        storage.inventory,
		Orders:         storage.orders,
		Redeliverer:    deps.Delivery,
		AdminToken:     cfg.AdminToken,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        metrics.NewHTTPMetrics(),
		Logger:         logger.WithField("component", "http-api"),
	})
	if err != nil {
		return err
	}
	mountProbes(router, healthHandler)

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers := startWorkers(workersCtx, cfg, storage, deps, kafkaProducer, logger)

	var consumer *kafka.Consumer
	if cfg.KafkaConsumeNotifications {
		consumer, err = initNotificationConsumer(cfg, deps.Fulfillment, kafkaProducer, logger)
		if err != nil {
			stopWorkers()
			workers.Wait()
			return err
		}
		if err := consumer.Start(workersCtx); err != nil {
			stopWorkers()
			workers.Wait()
			return err
		}
	}

	errCh := make(chan error, 2)
	httpSrv, err := startHTTPServer(cfg.HTTPAddr, router, logger, errCh)
	if err != nil {
		stopConsumer(consumer, logger)
		stopWorkers()
		workers.Wait()
		return fmt.Errorf("listen http: %w", err)
	}

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	startMetricsServer(metricsCtx, cfg.MetricsAddr, logger, healthHandler)

	grpcServer, grpcHealth := newGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTPWithTimeout(httpSrv, cfg.ShutdownTimeout, logger)
		stopConsumer(consumer, logger)
		stopWorkers()
		workers.Wait()
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Infof("gRPC health слушает %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthHandler.SetReady(true)
	logger.WithFields(version.Fields()).Info("giftshop service is ready")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, снимаем readiness")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("server failed, shutting down")
		runErr = err
	}

	healthHandler.SetReady(false)
	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Новые уведомления больше не принимаются; начатые выдачи доходят до коммита.
	shutdownHTTPWithTimeout(httpSrv, cfg.ShutdownTimeout, logger)
	stopConsumer(consumer, logger)
	stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)

	stopWorkers()
	workers.Wait()
	stopMetrics()

	return runErr
}

// startWorkers запускает фоновые воркеры: публикацию и очистку outbox, повторную доставку.
func startWorkers(ctx context.Context, cfg Config, storage *runtimeDependencies, deps *Dependencies, producer *kafka.Producer, logger *log.Entry) *sync.WaitGroup {
	var wg sync.WaitGroup
	outboxMetrics := metrics.NewOutboxMetrics()

	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.WithField("worker", name).Info("worker started")
			fn(ctx)
			logger.WithField("worker", name).Info("worker stopped")
		}()
	}

	if producer != nil {
		worker := outbox.NewWorker(
			storage.outboxRepo,
			kafka.NewOutboxPublisher(producer, kafka.TopicFulfillmentEvents),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(outboxMetrics),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		run("outbox", worker.Run)
	} else {
		logger.Warn("kafka is not configured: outbox events stay pending")
	}

	retention := outbox.NewRetentionWorker(
		storage.outboxRepo,
		outbox.WithRetentionLogger(logger.WithField("component", "outbox-retention")),
		outbox.WithRetentionMetrics(outboxMetrics),
		outbox.WithRetentionInterval(cfg.OutboxRetentionInterval),
		outbox.WithRetentionBatchSize(cfg.OutboxRetentionBatchSize),
		outbox.WithRetention(cfg.OutboxRetention),
	)
	run("outbox-retention", retention.Run)

	redelivery := delivery.NewRetryWorker(
		storage.orders,
		deps.Delivery,
		delivery.WithRetryLogger(logger.WithField("component", "delivery-retry")),
		delivery.WithRetryInterval(cfg.DeliveryRetryInterval),
		delivery.WithGracePeriod(cfg.DeliveryGracePeriod),
		delivery.WithRetryBatchSize(cfg.DeliveryRetryBatchSize),
	)
	run("delivery-retry", redelivery.Run)

	return &wg
}

func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}

// stopGRPC останавливает gRPC сервер, принудительно, если graceful stop не уложился в timeout.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	if server == nil {
		return
	}
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}
