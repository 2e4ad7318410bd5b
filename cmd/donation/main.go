package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"donations/internal/app/settlement"
	"donations/internal/config"
	"donations/internal/eventbus"
	http_donations "donations/internal/handler/http/donations"
	"donations/internal/infrastructure/database"
	"donations/internal/ledger"
	"donations/internal/outbox"
	postgres_donation_repo "donations/internal/repository/donation_repo/postgres"
	postgres_outbox_repo "donations/internal/repository/outbox_repo/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadDonationConfig()
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
	appLogger.Info("Donation Service starting...")

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

	donationRepository := postgres_donation_repo.NewDonationRepository(db, appLogger)
	outboxRepository := postgres_outbox_repo.NewOutboxRepository(db, appLogger)
	ledgerClient := ledger.NewHTTPClient(cfg.LedgerBaseURL, cfg.LedgerRPCTimeout, appLogger.With(zap.String("component", "LedgerClient")))

	settlementService := settlement.NewService(
		donationRepository,
		ledgerClient,
		cfg.Kafka.DonationCreatedTopic,
		cfg.Kafka.DonationFailedTopic,
		cfg.LedgerMaxAttempts,
		cfg.LedgerRetryBackoff,
		appLogger.With(zap.String("component", "SettlementCoordinator")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := outbox.NewRelay(
		outboxRepository,
		publisher,
		cfg.OutboxPollInterval,
		cfg.OutboxPollTimeout,
		cfg.OutboxBatchSize,
		appLogger.With(zap.String("component", "OutboxRelay")),
	)
	go relay.Run(ctx)

	sweeper := settlement.NewSweeper(
		donationRepository,
		ledgerClient,
		cfg.Kafka.DonationFailedTopic,
		cfg.RecoveryPendingAge,
		cfg.RecoverySweepInterval,
		appLogger.With(zap.String("component", "RecoverySweeper")),
	)
	go sweeper.Run(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"healthy","service":"donation-service"}`))
	})

	http_donations.RegisterRoutes(r, settlementService, appLogger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	appLogger.Info("Donation Service started", zap.Int("port", cfg.HTTPPort))

	<-sigChan

	appLogger.Info("Shutting down Donation Service...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatal("Donation Service graceful shutdown failed", zap.Error(err))
	}
	appLogger.Info("Donation Service stopped.")
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
