package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// loadDBConfig reads <PREFIX>_DB_HOST and friends, so each process owns its
// own database.
func loadDBConfig(prefix string) DBConfig {
	return DBConfig{
		Host:     getEnvOrDefault(prefix+"_DB_HOST", "localhost"),
		Port:     getEnvOrDefault(prefix+"_DB_PORT", "5432"),
		User:     getEnvOrDefault(prefix+"_DB_USER", "postgres"),
		Password: getEnvOrDefault(prefix+"_DB_PASSWORD", "postgres"),
		Name:     getEnvOrDefault(prefix+"_DB_NAME", "donations_db"),
		SSLMode:  getEnvOrDefault(prefix+"_DB_SSLMODE", "disable"),
	}
}

func (c DBConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type KafkaConfig struct {
	BrokerURL            string
	DonationCreatedTopic string
	DonationFailedTopic  string
}

func loadKafkaConfig() KafkaConfig {
	return KafkaConfig{
		BrokerURL:            getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092"),
		DonationCreatedTopic: getEnvOrDefault("KAFKA_DONATION_CREATED_TOPIC", "donation_created"),
		DonationFailedTopic:  getEnvOrDefault("KAFKA_DONATION_FAILED_TOPIC", "donation_failed"),
	}
}

func (c KafkaConfig) Brokers() []string {
	return []string{c.BrokerURL}
}

// DonationConfig configures the donation service: HTTP boundary, settlement
// coordinator, outbox relay and recovery sweep.
type DonationConfig struct {
	DB    DBConfig
	Kafka KafkaConfig

	HTTPPort       int
	MigrationsPath string

	LedgerBaseURL      string
	LedgerRPCTimeout   time.Duration
	LedgerMaxAttempts  int
	LedgerRetryBackoff time.Duration

	OutboxPollInterval time.Duration
	OutboxPollTimeout  time.Duration
	OutboxBatchSize    int

	RecoverySweepInterval time.Duration
	RecoveryPendingAge    time.Duration
}

func LoadDonationConfig() (*DonationConfig, error) {
	cfg := &DonationConfig{
		DB:             loadDBConfig("DONATIONS"),
		Kafka:          loadKafkaConfig(),
		LedgerBaseURL:  getEnvOrDefault("LEDGER_BASE_URL", "http://localhost:8082"),
		MigrationsPath: getEnvOrDefault("DONATIONS_MIGRATIONS_PATH", "file://migrations/donations"),
	}

	var err error
	if cfg.HTTPPort, err = getEnvInt("DONATIONS_HTTP_PORT", 8081); err != nil {
		return nil, err
	}
	if cfg.LedgerRPCTimeout, err = getEnvDuration("LEDGER_RPC_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if cfg.LedgerMaxAttempts, err = getEnvInt("LEDGER_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.LedgerRetryBackoff, err = getEnvDuration("LEDGER_RETRY_BACKOFF", "100ms"); err != nil {
		return nil, err
	}
	if cfg.OutboxPollInterval, err = getEnvDuration("OUTBOX_POLL_INTERVAL", "1s"); err != nil {
		return nil, err
	}
	if cfg.OutboxPollTimeout, err = getEnvDuration("OUTBOX_POLL_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.OutboxBatchSize, err = getEnvInt("OUTBOX_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.RecoverySweepInterval, err = getEnvDuration("RECOVERY_SWEEP_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if cfg.RecoveryPendingAge, err = getEnvDuration("RECOVERY_PENDING_AGE", "1m"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LedgerConfig configures the campaign ledger service.
type LedgerConfig struct {
	DB DBConfig

	HTTPPort        int
	MigrationsPath  string
	ConflictRetries int
}

func LoadLedgerConfig() (*LedgerConfig, error) {
	cfg := &LedgerConfig{
		DB:             loadDBConfig("LEDGER"),
		MigrationsPath: getEnvOrDefault("LEDGER_MIGRATIONS_PATH", "file://migrations/ledger"),
	}

	var err error
	if cfg.HTTPPort, err = getEnvInt("LEDGER_HTTP_PORT", 8082); err != nil {
		return nil, err
	}
	if cfg.ConflictRetries, err = getEnvInt("LEDGER_CONFLICT_RETRIES", 5); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WorkerConfig configures one consumer-group worker process.
type WorkerConfig struct {
	DB    DBConfig
	Kafka KafkaConfig

	ConsumerGroup  string
	MigrationsPath string
	MaxAttempts    int
	RetryBackoff   time.Duration
}

func LoadPaymentWorkerConfig() (*WorkerConfig, error) {
	return loadWorkerConfig("PAYMENTS", "payment-worker-group", "file://migrations/payments")
}

func LoadNotificationWorkerConfig() (*WorkerConfig, error) {
	return loadWorkerConfig("NOTIFICATIONS", "notification-worker-group", "file://migrations/notifications")
}

func loadWorkerConfig(prefix, defaultGroup, defaultMigrations string) (*WorkerConfig, error) {
	cfg := &WorkerConfig{
		DB:             loadDBConfig(prefix),
		Kafka:          loadKafkaConfig(),
		ConsumerGroup:  getEnvOrDefault(prefix+"_CONSUMER_GROUP", defaultGroup),
		MigrationsPath: getEnvOrDefault(prefix+"_MIGRATIONS_PATH", defaultMigrations),
	}

	var err error
	if cfg.MaxAttempts, err = getEnvInt("WORKER_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = getEnvDuration("WORKER_RETRY_BACKOFF", "200ms"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnvOrDefault(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
