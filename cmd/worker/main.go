package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshu-sajeev/migrateq/internal/api"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/consumer"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/joshu-sajeev/migrateq/internal/migration"
	"github.com/joshu-sajeev/migrateq/internal/publisher"
	"github.com/joshu-sajeev/migrateq/internal/scheduler"
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

	docs := postgres.NewDocumentRepository(db)
	ledgerSvc := ledger.NewService(postgres.NewJobLedgerRepository(db))

	bulkUpdate := consumer.NewBulkUpdateProcessor(docs, logger)
	archive := consumer.NewArchiveProcessor(docs, logger)
	deadLetter := consumer.NewDeadLetterProcessor(client, logger)

	observe := consumer.WithBatchObserver(metrics)
	retry := consumer.WithRetryPolicy(cfg.MaxRetries, cfg.RetryDelay)
	supervisor := consumer.NewSupervisor(client, logger,
		queueWorker(broker.QueueProcessing, client, ledgerSvc, bulkUpdate, logger, observe, retry),
		queueWorker(broker.QueuePriority, client, ledgerSvc, bulkUpdate, logger, observe, retry),
		queueWorker(broker.QueueArchive, client, ledgerSvc, archive, logger, observe, retry),
		queueWorker(broker.QueueDeadLetter, client, ledgerSvc, deadLetter, logger,
			observe, consumer.WithDeadLetterBookkeeping()),
	)
	supervisor.StartAll()
	logger.Info("consumers active")

	router := &api.WorkerRouter{
		Consumers: api.NewConsumerAdminHandler(supervisor),
		Metrics:   metrics,
	}
	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router.Engine(),
	}
	go func() {
		logger.Info("admin server listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()

	if cfg.SchedulerEnabled {
		publisherSvc := publisher.NewService(client, ledgerSvc, logger,
			publisher.WithMetrics(metrics))
		migrationSvc := migration.NewService(docs, ledgerSvc, publisherSvc, cfg.BatchSize, logger)

		sched := scheduler.New(cfg.CronSchedule, migrationSvc, ledgerSvc, logger)
		if err := sched.Start(); err != nil {
			logger.Fatal("scheduler start failed", zap.Error(err))
		}
		defer sched.Stop()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", zap.Error(err))
	}
	supervisor.StopAll()
	logger.Info("shutdown complete")
}

func queueWorker(
	queue string,
	client *broker.Client,
	ledgerSvc ledger.ServiceInterface,
	proc consumer.Processor,
	logger *zap.Logger,
	opts ...consumer.WorkerOption,
) *consumer.Worker {
	desc, ok := broker.QueueByName(queue)
	if !ok {
		logger.Fatal("unknown queue", zap.String("queue", queue))
	}
	return consumer.NewWorker(desc, client, ledgerSvc, proc, logger, opts...)
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
