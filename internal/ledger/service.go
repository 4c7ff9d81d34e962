package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/joshu-sajeev/migrateq/internal/models"
	"gorm.io/datatypes"
)

// batchCounterName is the shared counter all batch ids are drawn from.
const batchCounterName = "batchId"

// JobUpdate is a partial update applied to a single ledger record. Nil or
// zero-value fields are left untouched.
type JobUpdate struct {
	Status         config.JobStatus
	ProcessedItems *int
	TotalBatches   *int
	Message        string
	Error          string
	ProcessedBy    string
}

type Service struct {
	repo JobRepoInterface
}

func NewService(repo JobRepoInterface) *Service {
	return &Service{repo: repo}
}

var _ ServiceInterface = (*Service)(nil)

// CreateMigrationJob records a new migration-level job in pending state.
func (s *Service) CreateMigrationJob(ctx context.Context, correlationID string, totalItems int, metadata map[string]any) error {
	if correlationID == "" {
		return common.ValidationErrf("correlation id is required")
	}
	if totalItems < 0 {
		return common.ValidationErrf("total items cannot be negative")
	}

	rec := models.JobRecord{
		CorrelationID: correlationID,
		Status:        string(config.JobStatusPending),
		JobType:       string(config.JobTypeMigration),
		TotalItems:    totalItems,
	}
	if meta := marshalMetadata(metadata); meta != nil {
		rec.Metadata = meta
	}

	return s.repo.Create(ctx, &rec)
}

// CreateBatchJob records one published batch under its parent migration.
// The record must exist before the batch message reaches the broker, so a
// consumer can never observe a batch the ledger does not know about.
func (s *Service) CreateBatchJob(ctx context.Context, batchID, parentJobID string, totalItems int, metadata map[string]any) error {
	if batchID == "" {
		return common.ValidationErrf("batch id is required")
	}
	if totalItems <= 0 {
		return common.ValidationErrf("batch must contain at least one item")
	}

	rec := models.JobRecord{
		CorrelationID: batchID,
		Status:        string(config.JobStatusPending),
		JobType:       string(config.JobTypeBatch),
		TotalItems:    totalItems,
	}
	if parentJobID != "" {
		rec.ParentJobID = &parentJobID
	}
	if meta := marshalMetadata(metadata); meta != nil {
		rec.Metadata = meta
	}

	return s.repo.Create(ctx, &rec)
}

// UpdateJob applies a partial update to a ledger record. Terminal records
// only accept idempotent updates that repeat their current status.
func (s *Service) UpdateJob(ctx context.Context, correlationID string, upd JobUpdate) error {
	rec, err := s.repo.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return err
	}

	if upd.Status != "" && !isKnownStatus(upd.Status) {
		return common.ValidationErrf("unknown job status %q", upd.Status)
	}

	// Dead-letter reprocessing legitimately revisits failed records, so
	// moves into a dead-letter status bypass the terminal check.
	current := config.JobStatus(rec.Status)
	if current.IsTerminal() && upd.Status != "" && upd.Status != current && !isDeadLetterStatus(upd.Status) {
		return common.InvalidStateErrf(
			"job %q is already %s and cannot move to %s", correlationID, current, upd.Status)
	}

	patch := map[string]any{}
	if upd.Status != "" {
		patch["status"] = string(upd.Status)
		if upd.Status.IsTerminal() {
			patch["end_time"] = time.Now()
		}
	}
	if upd.ProcessedItems != nil {
		patch["processed_items"] = *upd.ProcessedItems
		if rec.TotalItems > 0 {
			patch["progress"] = percent(*upd.ProcessedItems, rec.TotalItems)
		}
	}
	if upd.TotalBatches != nil {
		patch["total_batches"] = *upd.TotalBatches
	}
	if upd.Message != "" {
		patch["message"] = upd.Message
	}
	if upd.Error != "" {
		patch["error"] = upd.Error
	}
	if upd.ProcessedBy != "" {
		patch["processed_by"] = upd.ProcessedBy
	}

	if len(patch) == 0 {
		return nil
	}

	n, err := s.repo.Update(ctx, correlationID, patch)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NotFoundErrf("job %q not found", correlationID)
	}
	return nil
}

// GetJob retrieves a single ledger record by correlation id.
func (s *Service) GetJob(ctx context.Context, correlationID string) (*dto.JobStatusResponseDTO, error) {
	rec, err := s.repo.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	resp := toResponseDTO(rec)
	return &resp, nil
}

// ListJobs retrieves ledger records matching the filter, newest first.
func (s *Service) ListJobs(ctx context.Context, f JobFilter) ([]dto.JobStatusResponseDTO, error) {
	if f.Status != "" && !isKnownStatus(config.JobStatus(f.Status)) {
		return nil, common.ValidationErrf("unknown job status %q", f.Status)
	}

	recs, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}

	dtos := make([]dto.JobStatusResponseDTO, len(recs))
	for i := range recs {
		dtos[i] = toResponseDTO(&recs[i])
	}
	return dtos, nil
}

// ListBatchJobs retrieves every batch belonging to a migration.
func (s *Service) ListBatchJobs(ctx context.Context, parentJobID string) ([]dto.JobStatusResponseDTO, error) {
	recs, err := s.repo.ListByParent(ctx, parentJobID)
	if err != nil {
		return nil, err
	}

	dtos := make([]dto.JobStatusResponseDTO, len(recs))
	for i := range recs {
		dtos[i] = toResponseDTO(&recs[i])
	}
	return dtos, nil
}

// NextBatchID draws the next value from the shared batch counter and
// formats it as a batch correlation id.
func (s *Service) NextBatchID(ctx context.Context) (string, error) {
	seq, err := s.repo.NextSequence(ctx, batchCounterName)
	if err != nil {
		return "", fmt.Errorf("allocate batch id: %w", err)
	}
	return fmt.Sprintf("batch-%03d", seq), nil
}

// ReconcileMigrationStatus recomputes a migration's aggregate fields from a
// full rescan of its child batches. It is the only code path that moves a
// migration out of processing, and it writes nothing when the recomputed
// state matches what is already stored.
func (s *Service) ReconcileMigrationStatus(ctx context.Context, migrationID string) error {
	rec, err := s.repo.GetByCorrelationID(ctx, migrationID)
	if err != nil {
		return err
	}
	if rec.JobType != string(config.JobTypeMigration) {
		return common.ValidationErrf("job %q is not a migration", migrationID)
	}
	if config.JobStatus(rec.Status) == config.JobStatusCancelled {
		return nil
	}

	children, err := s.repo.ListByParent(ctx, migrationID)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}

	var completed, failed, processedItems int
	for _, c := range children {
		switch config.JobStatus(c.Status) {
		case config.JobStatusCompleted:
			completed++
		case config.JobStatusFailed:
			failed++
		}
		processedItems += c.ProcessedItems
	}

	// TotalBatches stays zero until the publisher finishes enumerating
	// batches, which keeps a half-published migration from being marked
	// completed. A failed batch is not gated on that: one failure fails the
	// whole migration even while sibling batches are still in flight.
	expected := rec.TotalBatches
	allPublished := expected > 0 && len(children) >= expected
	allSettled := allPublished && completed+failed >= expected

	status := config.JobStatusProcessing
	errMsg := rec.Error
	switch {
	case failed > 0:
		status = config.JobStatusFailed
		known := expected
		if known == 0 {
			known = len(children)
		}
		errMsg = fmt.Sprintf("%d of %d batches failed", failed, known)
	case allSettled:
		status = config.JobStatusCompleted
	}

	progress := rec.Progress
	if rec.TotalItems > 0 {
		progress = percent(processedItems, rec.TotalItems)
	}

	patch := map[string]any{}
	if rec.Status != string(status) {
		patch["status"] = string(status)
		if status.IsTerminal() {
			patch["end_time"] = time.Now()
		}
	}
	if rec.CompletedBatches != completed {
		patch["completed_batches"] = completed
	}
	if rec.FailedBatches != failed {
		patch["failed_batches"] = failed
	}
	if rec.ProcessedItems != processedItems {
		patch["processed_items"] = processedItems
	}
	if rec.Progress != progress {
		patch["progress"] = progress
	}
	if errMsg != rec.Error {
		patch["error"] = errMsg
	}

	if len(patch) == 0 {
		return nil
	}

	_, err = s.repo.Update(ctx, migrationID, patch)
	return err
}

// RepairStuckJobs fails batch records that have sat in processing past the
// threshold and reconciles their parent migrations, then re-reconciles every
// migration still in processing. The second sweep catches migrations whose
// final batch completed but whose reconciliation never landed, for instance
// because the worker lost its database connection at that moment. Returns
// how many batch records were repaired.
func (s *Service) RepairStuckJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.repo.ListStaleProcessing(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	reconciled := map[string]struct{}{}
	repaired := 0
	for _, rec := range stale {
		_, err := s.repo.Update(ctx, rec.CorrelationID, map[string]any{
			"status":   string(config.JobStatusFailed),
			"error":    fmt.Sprintf("batch processing exceeded %s", olderThan),
			"end_time": time.Now(),
		})
		if err != nil {
			return repaired, err
		}
		repaired++
		if rec.ParentJobID != nil {
			reconciled[*rec.ParentJobID] = struct{}{}
		}
	}

	for parent := range reconciled {
		if err := s.ReconcileMigrationStatus(ctx, parent); err != nil {
			return repaired, err
		}
	}

	open, err := s.repo.List(ctx, JobFilter{
		Status:  string(config.JobStatusProcessing),
		JobType: string(config.JobTypeMigration),
	})
	if err != nil {
		return repaired, err
	}
	for _, rec := range open {
		if _, done := reconciled[rec.CorrelationID]; done {
			continue
		}
		if err := s.ReconcileMigrationStatus(ctx, rec.CorrelationID); err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}

// CleanupOldJobs deletes terminal ledger records older than the retention
// window.
func (s *Service) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	statuses := []string{
		string(config.JobStatusCompleted),
		string(config.JobStatusFailed),
		string(config.JobStatusCancelled),
		string(config.JobStatusDeadLetterCompleted),
		string(config.JobStatusDeadLetterFailed),
	}
	return s.repo.DeleteOlderThan(ctx, time.Now().Add(-olderThan), statuses)
}

// StatusSummary returns per-status record counts.
func (s *Service) StatusSummary(ctx context.Context) (map[string]int64, error) {
	return s.repo.GroupCountByStatus(ctx)
}

// percent rounds processed/total to the nearest whole percentage.
func percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return (processed*100 + total/2) / total
}

func isKnownStatus(status config.JobStatus) bool {
	switch status {
	case config.JobStatusPending,
		config.JobStatusProcessing,
		config.JobStatusCompleted,
		config.JobStatusFailed,
		config.JobStatusCancelled,
		config.JobStatusDeadLetterProcessing,
		config.JobStatusDeadLetterCompleted,
		config.JobStatusDeadLetterFailed:
		return true
	}
	return false
}

func isDeadLetterStatus(status config.JobStatus) bool {
	switch status {
	case config.JobStatusDeadLetterProcessing,
		config.JobStatusDeadLetterCompleted,
		config.JobStatusDeadLetterFailed:
		return true
	}
	return false
}

func marshalMetadata(metadata map[string]any) datatypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func toResponseDTO(rec *models.JobRecord) dto.JobStatusResponseDTO {
	return dto.JobStatusResponseDTO{
		CorrelationID:    rec.CorrelationID,
		Status:           rec.Status,
		JobType:          rec.JobType,
		ParentJobID:      rec.ParentJobID,
		TotalItems:       rec.TotalItems,
		ProcessedItems:   rec.ProcessedItems,
		Progress:         rec.Progress,
		StartTime:        rec.StartTime,
		EndTime:          rec.EndTime,
		Message:          rec.Message,
		Error:            rec.Error,
		ProcessedBy:      rec.ProcessedBy,
		Metadata:         json.RawMessage(rec.Metadata),
		CompletedBatches: rec.CompletedBatches,
		FailedBatches:    rec.FailedBatches,
		TotalBatches:     rec.TotalBatches,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}
