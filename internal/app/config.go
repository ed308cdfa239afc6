package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса. Все поля скалярные, поэтому Config сравним через ==.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// CodeMasterKey — base64 мастер-ключа для шифрования кодов в PostgreSQL.
	CodeMasterKey string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StripeWebhookSecret string
	StripeTolerance     time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	KafkaBrokers       string
	KafkaConsumerGroup string
	// KafkaConsumeNotifications включает приём уведомлений об оплате из топика в дополнение к webhook.
	KafkaConsumeNotifications bool

	RequestTimeout    time.Duration
	VerifyTimeout     time.Duration
	AllocationTimeout time.Duration
	DeliveryTimeout   time.Duration
	ShutdownTimeout   time.Duration

	OutboxPollInterval       time.Duration
	OutboxBatchSize          int
	OutboxMaxAttempts        int
	OutboxRetryDelay         time.Duration
	OutboxRetention          time.Duration
	OutboxRetentionInterval  time.Duration
	OutboxRetentionBatchSize int

	DeliveryMaxAttempts    int
	DeliveryRetryInterval  time.Duration
	DeliveryGracePeriod    time.Duration
	DeliveryRetryBatchSize int

	// AdminToken включает /api/admin; пустое значение отключает административные маршруты.
	AdminToken string
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                 ":8080",
		GRPCAddr:                 ":50051",
		MetricsAddr:              ":9090",
		StorageDriver:            StorageDriverMemory,
		PostgresAutoMigrate:      true,
		StripeTolerance:          5 * time.Minute,
		SMTPPort:                 587,
		SMTPFromName:             "Giftshop",
		KafkaConsumerGroup:       "giftshop-fulfillment",
		RequestTimeout:           30 * time.Second,
		VerifyTimeout:            2 * time.Second,
		AllocationTimeout:        10 * time.Second,
		DeliveryTimeout:          20 * time.Second,
		ShutdownTimeout:          15 * time.Second,
		OutboxPollInterval:       time.Second,
		OutboxBatchSize:          100,
		OutboxMaxAttempts:        5,
		OutboxRetryDelay:         time.Second,
		OutboxRetention:          7 * 24 * time.Hour,
		OutboxRetentionInterval:  time.Hour,
		OutboxRetentionBatchSize: 500,
		DeliveryMaxAttempts:      5,
		DeliveryRetryInterval:    30 * time.Second,
		DeliveryGracePeriod:      time.Minute,
		DeliveryRetryBatchSize:   50,
	}
}

// Validate проверяет сочетания настроек, без которых сервис не может стартовать.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN"))
		}
		if strings.TrimSpace(c.CodeMasterKey) == "" {
			errs = append(errs, errors.New("postgres storage requires a code master key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if strings.TrimSpace(c.StripeWebhookSecret) == "" {
		errs = append(errs, errors.New("stripe webhook secret is required"))
	}
	if c.KafkaConsumeNotifications && strings.TrimSpace(c.KafkaBrokers) == "" {
		errs = append(errs, errors.New("consuming notifications from kafka requires brokers"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}

	return errors.Join(errs...)
}
