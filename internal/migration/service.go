// Package migration drives cursor-based batch migrations: it counts the
// eligible documents, carves them into batches, and hands each batch to the
// publisher while the job ledger tracks overall progress.
package migration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/joshu-sajeev/migrateq/internal/models"
	"github.com/joshu-sajeev/migrateq/internal/publisher"
	"go.uber.org/zap"
)

type Service struct {
	docs      DocumentRepoInterface
	ledger    ledger.ServiceInterface
	publisher publisher.ServiceInterface
	batchSize int
	log       *zap.Logger
}

func NewService(
	docs DocumentRepoInterface,
	ledgerSvc ledger.ServiceInterface,
	publisherSvc publisher.ServiceInterface,
	batchSize int,
	log *zap.Logger,
) *Service {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Service{
		docs:      docs,
		ledger:    ledgerSvc,
		publisher: publisherSvc,
		batchSize: batchSize,
		log:       log.Named("migration"),
	}
}

var _ ServiceInterface = (*Service)(nil)

// StartMigration begins a bulk-update migration over every pending document.
func (s *Service) StartMigration(ctx context.Context, req dto.MigrationStartDTO) (*dto.MigrationResponseDTO, error) {
	return s.run(ctx, req, "processing", []string{config.DocStatusPending})
}

// StartArchiveMigration begins an archive migration over every successfully
// processed document.
func (s *Service) StartArchiveMigration(ctx context.Context, req dto.MigrationStartDTO) (*dto.MigrationResponseDTO, error) {
	return s.run(ctx, req, "archive", []string{config.DocStatusSuccess})
}

// RetryFailed starts a fresh migration over every failed document.
func (s *Service) RetryFailed(ctx context.Context) (*dto.MigrationResponseDTO, error) {
	return s.run(ctx, dto.MigrationStartDTO{}, "processing", []string{config.DocStatusFailed})
}

// CompleteProcessing starts a migration over documents abandoned mid-flight,
// typically after a worker crash.
func (s *Service) CompleteProcessing(ctx context.Context) (*dto.MigrationResponseDTO, error) {
	return s.run(ctx, dto.MigrationStartDTO{}, "processing", []string{config.DocStatusProcessing})
}

// ProcessAllPending sweeps every document that has not yet migrated
// successfully. Used by the scheduler.
func (s *Service) ProcessAllPending(ctx context.Context) (*dto.MigrationResponseDTO, error) {
	return s.run(ctx, dto.MigrationStartDTO{}, "processing", []string{
		config.DocStatusPending,
		config.DocStatusProcessing,
		config.DocStatusFailed,
	})
}

func (s *Service) run(ctx context.Context, req dto.MigrationStartDTO, queueType string, statuses []string) (*dto.MigrationResponseDTO, error) {
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	total, err := s.docs.CountByStatus(ctx, statuses)
	if err != nil {
		return nil, err
	}

	// Nothing to do: report success without minting a ledger record, so the
	// nightly sweeps do not accumulate empty migrations.
	if total == 0 {
		return &dto.MigrationResponseDTO{
			Status:  string(config.JobStatusCompleted),
			Message: "no documents to migrate",
		}, nil
	}

	migrationID := "migration-" + uuid.NewString()
	metadata := map[string]any{
		"batch_size": batchSize,
		"queue_type": queueType,
		"dry_run":    req.DryRun,
	}
	if err := s.ledger.CreateMigrationJob(ctx, migrationID, int(total), metadata); err != nil {
		return nil, err
	}

	expectedBatches := int((total + int64(batchSize) - 1) / int64(batchSize))

	// A dry run reports the batch plan without touching the broker.
	if req.DryRun {
		msg := fmt.Sprintf("dry run: %d documents in %d batches of up to %d", total, expectedBatches, batchSize)
		err := s.ledger.UpdateJob(ctx, migrationID, ledger.JobUpdate{
			Status:  config.JobStatusCompleted,
			Message: msg,
		})
		if err != nil {
			return nil, err
		}
		return &dto.MigrationResponseDTO{
			MigrationID:  migrationID,
			Status:       string(config.JobStatusCompleted),
			TotalItems:   total,
			TotalBatches: expectedBatches,
			DryRun:       true,
			Message:      msg,
		}, nil
	}

	published, err := s.publishBatches(ctx, migrationID, queueType, statuses, batchSize, req.UpdateFields)
	if err != nil {
		s.failMigration(ctx, migrationID, err)
		return nil, err
	}

	// TotalBatches is written only now that publishing finished:
	// reconciliation treats a zero value as "still publishing" and will
	// not complete the migration early.
	msg := fmt.Sprintf("published %d batches", published)
	err = s.ledger.UpdateJob(ctx, migrationID, ledger.JobUpdate{
		Status:       config.JobStatusProcessing,
		TotalBatches: &published,
		Message:      msg,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("migration started",
		zap.String("migration_id", migrationID),
		zap.Int64("total_items", total),
		zap.Int("batches", published),
		zap.String("queue_type", queueType),
	)

	return &dto.MigrationResponseDTO{
		MigrationID:  migrationID,
		Status:       string(config.JobStatusProcessing),
		TotalItems:   total,
		TotalBatches: published,
		Message:      msg,
	}, nil
}

// publishBatches walks the document cursor, accumulating up to batchSize
// documents per batch. The trailing partial batch is published after the
// cursor is exhausted. Running progress is written back to the migration
// record after each batch so a long publish phase is observable.
func (s *Service) publishBatches(ctx context.Context, migrationID, queueType string, statuses []string, batchSize int, updateFields json.RawMessage) (int, error) {
	var (
		batch     []json.RawMessage
		published int
		enqueued  int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		req := dto.PublishBatchDTO{
			QueueType: queueType,
			Items:     batch,
			Metadata:  map[string]any{"migration_id": migrationID},
		}
		if _, err := s.publisher.PublishBatch(ctx, req, migrationID); err != nil {
			return err
		}
		published++
		enqueued += len(batch)
		batch = nil

		n := enqueued
		err := s.ledger.UpdateJob(ctx, migrationID, ledger.JobUpdate{ProcessedItems: &n})
		if err != nil {
			s.log.Warn("failed to update migration progress",
				zap.String("migration_id", migrationID), zap.Error(err))
		}
		return nil
	}

	err := s.docs.StreamByStatus(ctx, statuses, func(doc models.Document) error {
		item, err := marshalItem(doc, updateFields)
		if err != nil {
			return err
		}
		batch = append(batch, item)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return published, err
	}

	if err := flush(); err != nil {
		return published, err
	}
	return published, nil
}

func (s *Service) failMigration(ctx context.Context, migrationID string, cause error) {
	err := s.ledger.UpdateJob(ctx, migrationID, ledger.JobUpdate{
		Status: config.JobStatusFailed,
		Error:  cause.Error(),
	})
	if err != nil {
		s.log.Warn("failed to record migration failure",
			zap.String("migration_id", migrationID), zap.Error(err))
	}
}

// CancelMigration marks a live migration cancelled. Terminal migrations
// cannot be cancelled.
func (s *Service) CancelMigration(ctx context.Context, migrationID string) error {
	rec, err := s.ledger.GetJob(ctx, migrationID)
	if err != nil {
		return err
	}
	if rec.JobType != string(config.JobTypeMigration) {
		return common.ValidationErrf("job %q is not a migration", migrationID)
	}
	status := config.JobStatus(rec.Status)
	if status.IsTerminal() || status == config.JobStatusCancelled {
		return common.InvalidStateErrf("migration %q is already %s", migrationID, rec.Status)
	}

	return s.ledger.UpdateJob(ctx, migrationID, ledger.JobUpdate{
		Status:  config.JobStatusCancelled,
		Message: "cancelled by operator",
	})
}

// SeedDocuments inserts count pending documents for load and smoke testing.
func (s *Service) SeedDocuments(ctx context.Context, count int) error {
	if count <= 0 {
		return common.ValidationErrf("seed count must be positive")
	}

	docs := make([]models.Document, count)
	for i := range docs {
		docs[i] = models.Document{
			Name:   fmt.Sprintf("user-%06d", i+1),
			Email:  fmt.Sprintf("user-%06d@example.com", i+1),
			Status: config.DocStatusPending,
		}
	}
	return s.docs.CreateBatch(ctx, docs)
}

// Summary returns per-status counts for both ledger records and documents.
func (s *Service) Summary(ctx context.Context) (*dto.JobStatusSummaryDTO, error) {
	jobs, err := s.ledger.StatusSummary(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.GroupCountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.JobStatusSummaryDTO{Jobs: jobs, Documents: docs}, nil
}

func marshalItem(doc models.Document, updateFields json.RawMessage) (json.RawMessage, error) {
	item := map[string]any{
		"id":     doc.ID,
		"name":   doc.Name,
		"email":  doc.Email,
		"status": doc.Status,
	}
	if len(updateFields) > 0 {
		item["updateFields"] = updateFields
	} else if len(doc.UpdateFields) > 0 {
		item["updateFields"] = json.RawMessage(doc.UpdateFields)
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal document %d: %w", doc.ID, err)
	}
	return raw, nil
}
