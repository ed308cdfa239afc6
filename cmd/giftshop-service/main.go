package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/app"
	"github.com/vladislavdragonenkov/giftshop/internal/version"
)

const (
	envLogLevel  = "GIFTSHOP_LOG_LEVEL"
	envLogFormat = "GIFTSHOP_LOG_FORMAT"

	envHTTPAddr    = "GIFTSHOP_HTTP_ADDR"
	envGRPCAddr    = "GIFTSHOP_GRPC_ADDR"
	envMetricsAddr = "GIFTSHOP_METRICS_ADDR"

	envStorageDriver       = "GIFTSHOP_STORAGE_DRIVER"
	envPostgresDSN         = "GIFTSHOP_POSTGRES_DSN"
	envPostgresAutoMigrate = "GIFTSHOP_POSTGRES_AUTO_MIGRATE"
	envCodeMasterKey       = "GIFTSHOP_CODE_MASTER_KEY"

	envRedisAddr     = "GIFTSHOP_REDIS_ADDR"
	envRedisPassword = "GIFTSHOP_REDIS_PASSWORD"
	envRedisDB       = "GIFTSHOP_REDIS_DB"

	envStripeWebhookSecret = "GIFTSHOP_STRIPE_WEBHOOK_SECRET"
	envStripeTolerance     = "GIFTSHOP_STRIPE_TOLERANCE"

	envSMTPHost     = "GIFTSHOP_SMTP_HOST"
	envSMTPPort     = "GIFTSHOP_SMTP_PORT"
	envSMTPUsername = "GIFTSHOP_SMTP_USERNAME"
	envSMTPPassword = "GIFTSHOP_SMTP_PASSWORD"
	envSMTPFrom     = "GIFTSHOP_SMTP_FROM"
	envSMTPFromName = "GIFTSHOP_SMTP_FROM_NAME"

	envKafkaBrokers              = "GIFTSHOP_KAFKA_BROKERS"
	envKafkaConsumerGroup        = "GIFTSHOP_KAFKA_CONSUMER_GROUP"
	envKafkaConsumeNotifications = "GIFTSHOP_KAFKA_CONSUME_NOTIFICATIONS"

	envRequestTimeout    = "GIFTSHOP_REQUEST_TIMEOUT"
	envVerifyTimeout     = "GIFTSHOP_VERIFY_TIMEOUT"
	envAllocationTimeout = "GIFTSHOP_ALLOCATION_TIMEOUT"
	envDeliveryTimeout   = "GIFTSHOP_DELIVERY_TIMEOUT"
	envShutdownTimeout   = "GIFTSHOP_SHUTDOWN_TIMEOUT"

	envOutboxPollInterval       = "GIFTSHOP_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize          = "GIFTSHOP_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts        = "GIFTSHOP_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay         = "GIFTSHOP_OUTBOX_RETRY_DELAY"
	envOutboxRetention          = "GIFTSHOP_OUTBOX_RETENTION"
	envOutboxRetentionInterval  = "GIFTSHOP_OUTBOX_RETENTION_INTERVAL"
	envOutboxRetentionBatchSize = "GIFTSHOP_OUTBOX_RETENTION_BATCH_SIZE"

	envDeliveryMaxAttempts    = "GIFTSHOP_DELIVERY_MAX_ATTEMPTS"
	envDeliveryRetryInterval  = "GIFTSHOP_DELIVERY_RETRY_INTERVAL"
	envDeliveryGracePeriod    = "GIFTSHOP_DELIVERY_GRACE_PERIOD"
	envDeliveryRetryBatchSize = "GIFTSHOP_DELIVERY_RETRY_BATCH_SIZE"

	envAdminToken = "GIFTSHOP_ADMIN_TOKEN"
)

type envLookup func(string) (string, bool)

func positiveInt(v int) bool { return v > 0 }
func nonNegativeInt(v int) bool { return v >= 0 }
func positiveDuration(v time.Duration) bool { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	if format, ok := lookup(envLogFormat); ok && strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok {
		if level, err := log.ParseLevel(strings.TrimSpace(raw)); err == nil {
			log.SetLevel(level)
		}
	}
}

// readConfigFromEnv формирует конфигурацию поверх значений по умолчанию.
// Некорректные значения не останавливают запуск: остаётся значение по умолчанию и возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envCodeMasterKey, &cfg.CodeMasterKey)

	str(envRedisAddr, &cfg.RedisAddr)
	if v, ok := lookup(envRedisPassword); ok {
		cfg.RedisPassword = v
	}
	integer(envRedisDB, &cfg.RedisDB, nonNegativeInt, "must be >= 0")

	str(envStripeWebhookSecret, &cfg.StripeWebhookSecret)
	duration(envStripeTolerance, &cfg.StripeTolerance, positiveDuration, "must be > 0")

	str(envSMTPHost, &cfg.SMTPHost)
	integer(envSMTPPort, &cfg.SMTPPort, positiveInt, "must be > 0")
	str(envSMTPUsername, &cfg.SMTPUsername)
	if v, ok := lookup(envSMTPPassword); ok {
		cfg.SMTPPassword = v
	}
	str(envSMTPFrom, &cfg.SMTPFrom)
	str(envSMTPFromName, &cfg.SMTPFromName)

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)
	boolean(envKafkaConsumeNotifications, &cfg.KafkaConsumeNotifications)

	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")
	duration(envVerifyTimeout, &cfg.VerifyTimeout, positiveDuration, "must be > 0")
	duration(envAllocationTimeout, &cfg.AllocationTimeout, positiveDuration, "must be > 0")
	duration(envDeliveryTimeout, &cfg.DeliveryTimeout, positiveDuration, "must be > 0")
	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	duration(envOutboxRetention, &cfg.OutboxRetention, positiveDuration, "must be > 0")
	duration(envOutboxRetentionInterval, &cfg.OutboxRetentionInterval, positiveDuration, "must be > 0")
	integer(envOutboxRetentionBatchSize, &cfg.OutboxRetentionBatchSize, positiveInt, "must be > 0")

	integer(envDeliveryMaxAttempts, &cfg.DeliveryMaxAttempts, positiveInt, "must be > 0")
	duration(envDeliveryRetryInterval, &cfg.DeliveryRetryInterval, positiveDuration, "must be > 0")
	duration(envDeliveryGracePeriod, &cfg.DeliveryGracePeriod, nonNegativeDuration, "must be >= 0")
	integer(envDeliveryRetryBatchSize, &cfg.DeliveryRetryBatchSize, positiveInt, "must be > 0")

	str(envAdminToken, &cfg.AdminToken)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

// loadDotEnv подхватывает .env при локальном запуске. Уже выставленные переменные не перезаписываются.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func main() {
	if err := loadDotEnv(".env"); err != nil {
		log.WithError(err).Warn("failed to load .env")
	}
	setupLogger(os.LookupEnv)

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.WithField("setting", warning).Warn("invalid configuration value, using default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaBrokers != "",
		"redis_enabled":  cfg.RedisAddr != "",
		"smtp_enabled":   cfg.SMTPHost != "",
	}).Info("запускаем giftshop-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("giftshop-service остановлен")
}
