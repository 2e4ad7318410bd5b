package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"donations/internal/config"
	"donations/internal/eventbus"
	"donations/internal/infrastructure/database"
	postgres_accounts_repo "donations/internal/repository/accounts_repo/postgres"
	postgres_processed_repo "donations/internal/repository/processed_repo/postgres"
	"donations/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadPaymentWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	appLogger.Info("Payment Worker starting...", zap.String("consumer_group", cfg.ConsumerGroup))

	db := connectWithRetry(cfg.DB, appLogger)
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		}
	}()

	appLogger.Info("Running database migrations...")
	m, err := migrate.New(cfg.MigrationsPath, cfg.DB.MigrationURL())
	if err != nil {
		appLogger.Fatal("Failed to create migrate instance", zap.Error(err))
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	publisher, err := eventbus.NewKafkaPublisher(cfg.Kafka.Brokers(), appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create Kafka producer", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}()

	accountRepository := postgres_accounts_repo.NewAccountRepository(db, appLogger)
	processedRepository := postgres_processed_repo.NewProcessedRepository(db, appLogger)

	paymentHandler := worker.NewPaymentHandler(accountRepository, appLogger.With(zap.String("component", "PaymentHandler")))
	paymentWorker := worker.New(
		cfg.ConsumerGroup,
		processedRepository,
		publisher,
		paymentHandler.Handle,
		cfg.MaxAttempts,
		cfg.RetryBackoff,
		appLogger.With(zap.String("component", "PaymentWorker")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, topic := range []string{cfg.Kafka.DonationCreatedTopic, cfg.Kafka.DonationFailedTopic} {
		if err := eventbus.StartConsumer(ctx, cfg.Kafka.Brokers(), topic, cfg.ConsumerGroup, paymentWorker.HandleMessage, appLogger); err != nil {
			appLogger.Fatal("Failed to start Kafka consumer", zap.String("topic", topic), zap.Error(err))
		}
	}
	appLogger.Info("Payment Worker consumers started!")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("Shutting down Payment Worker...")
	cancel()
	appLogger.Info("Payment Worker stopped.")
}

func connectWithRetry(cfg config.DBConfig, logger *zap.Logger) *sql.DB {
	dbConfig := database.DBConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.Name,
		SSLMode:  cfg.SSLMode,
	}

	var db *sql.DB
	var err error
	maxRetries := 10
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			logger.Info("Successfully connected to PostgreSQL database!")
			return db
		}
		logger.Warn(fmt.Sprintf("Failed to connect to database (attempt %d/%d): %v. Retrying in %s...", i+1, maxRetries, err, retryDelay))
		time.Sleep(retryDelay)
	}

	logger.Fatal("Could not connect to database after multiple retries. Exiting.", zap.Error(err))
	return nil
}
