package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshu-sajeev/migrateq/internal/api"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/joshu-sajeev/migrateq/internal/migration"
	"github.com/joshu-sajeev/migrateq/internal/publisher"
	"github.com/joshu-sajeev/migrateq/internal/storage/postgres"
	"github.com/joshu-sajeev/migrateq/internal/telemetry"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv(ctx)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		logger.Fatal("failed to load database config", zap.Error(err))
	}
	db, err := postgres.ConnectDB(ctx, dbCfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	if err := postgres.RunMigrations(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	metrics := telemetry.New()

	client := broker.NewClient(cfg.BrokerURL, logger,
		broker.WithEventHook(metrics.BrokerEventHook()),
		broker.WithReconnectPolicy(cfg.MaxRetries, cfg.RetryDelay))
	if err := client.Connect(); err != nil {
		logger.Fatal("broker connection failed", zap.Error(err))
	}
	defer client.Close()
	if err := client.SetupTopology(); err != nil {
		logger.Fatal("topology setup failed", zap.Error(err))
	}

	ledgerSvc := ledger.NewService(postgres.NewJobLedgerRepository(db))
	publisherSvc := publisher.NewService(client, ledgerSvc, logger,
		publisher.WithMetrics(metrics))
	migrationSvc := migration.NewService(
		postgres.NewDocumentRepository(db), ledgerSvc, publisherSvc, cfg.BatchSize, logger)

	router := &api.Router{
		Migrations: api.NewMigrationHandler(migrationSvc),
		Jobs:       api.NewJobHandler(ledgerSvc),
		Publish:    api.NewPublishHandler(publisherSvc),
		Queues:     api.NewQueueHandler(client),
		Metrics:    metrics,
	}

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router.Engine(),
	}

	go func() {
		logger.Info("api listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}
