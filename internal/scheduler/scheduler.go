package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/joshu-sajeev/migrateq/internal/migration"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// Batches still in processing after this long are presumed lost.
	stuckJobThreshold = 15 * time.Minute
	// Terminal ledger records older than this are purged by the nightly run.
	jobRetention = 30 * 24 * time.Hour
	// Upper bound on a single scheduled run.
	runTimeout = 30 * time.Minute
)

// Scheduler runs the recurring maintenance pass: sweep pending documents
// into a migration, fail stuck batches, and purge old ledger records.
type Scheduler struct {
	cron       *cron.Cron
	schedule   string
	migrations migration.ServiceInterface
	ledger     ledger.ServiceInterface
	log        *zap.Logger
}

func New(schedule string, migrations migration.ServiceInterface, ledgerSvc ledger.ServiceInterface, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		schedule:   schedule,
		migrations: migrations,
		ledger:     ledgerSvc,
		log:        log.Named("scheduler"),
	}
}

// Start registers the maintenance pass and begins the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.log.Info("scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the cron loop and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// RunOnce executes one maintenance pass. Each step runs regardless of
// whether the previous one failed.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	s.log.Info("maintenance pass started")

	repaired, err := s.ledger.RepairStuckJobs(ctx, stuckJobThreshold)
	if err != nil {
		s.log.Error("stuck job repair failed", zap.Error(err))
	} else if repaired > 0 {
		s.log.Warn("repaired stuck batches", zap.Int("count", repaired))
	}

	resp, err := s.migrations.ProcessAllPending(ctx)
	if err != nil {
		s.log.Error("pending document sweep failed", zap.Error(err))
	} else {
		s.log.Info("pending document sweep finished",
			zap.String("migration_id", resp.MigrationID),
			zap.Int64("total_items", resp.TotalItems),
			zap.Int("total_batches", resp.TotalBatches),
		)
	}

	purged, err := s.ledger.CleanupOldJobs(ctx, jobRetention)
	if err != nil {
		s.log.Error("ledger cleanup failed", zap.Error(err))
	} else if purged > 0 {
		s.log.Info("purged old ledger records", zap.Int64("count", purged))
	}

	s.log.Info("maintenance pass finished", zap.Duration("took", time.Since(start)))
}
