package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/joshu-sajeev/migrateq/internal/models"
	"gorm.io/gorm"
)

type JobLedgerRepository struct {
	db *gorm.DB
}

func NewJobLedgerRepository(db *gorm.DB) *JobLedgerRepository {
	return &JobLedgerRepository{db: db}
}

var _ ledger.JobRepoInterface = (*JobLedgerRepository)(nil)

// Create inserts a new job record. A second insert with the same correlation
// id surfaces as a DuplicateJob error so callers can treat retried requests
// as idempotent.
func (r *JobLedgerRepository) Create(ctx context.Context, rec *models.JobRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return common.DuplicateJobErrf("job %q already exists", rec.CorrelationID)
		}
		return fmt.Errorf("create job record: %w", err)
	}
	return nil
}

// GetByCorrelationID retrieves a single job record by its correlation id.
func (r *JobLedgerRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.JobRecord, error) {
	var rec models.JobRecord
	if err := r.db.WithContext(ctx).
		First(&rec, "correlation_id = ?", correlationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NotFoundErrf("job %q not found", correlationID)
		}
		return nil, fmt.Errorf("get job record: %w", err)
	}
	return &rec, nil
}

// Update applies a partial update to the job record with the given
// correlation id and reports how many rows changed. Zero rows means the
// record does not exist.
func (r *JobLedgerRepository) Update(ctx context.Context, correlationID string, patch map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.JobRecord{}).
		Where("correlation_id = ?", correlationID).
		Updates(patch)
	if res.Error != nil {
		return 0, fmt.Errorf("update job record: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// List retrieves job records matching the filter, newest first.
func (r *JobLedgerRepository) List(ctx context.Context, f ledger.JobFilter) ([]models.JobRecord, error) {
	q := r.db.WithContext(ctx).Model(&models.JobRecord{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.JobType != "" {
		q = q.Where("job_type = ?", f.JobType)
	}
	if f.ParentJobID != "" {
		q = q.Where("parent_job_id = ?", f.ParentJobID)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var recs []models.JobRecord
	if err := q.Order("created_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list job records: %w", err)
	}
	return recs, nil
}

// ListByParent retrieves every batch record belonging to a migration,
// oldest first so batch ordering is stable for reconciliation.
func (r *JobLedgerRepository) ListByParent(ctx context.Context, parentJobID string) ([]models.JobRecord, error) {
	var recs []models.JobRecord
	if err := r.db.WithContext(ctx).
		Where("parent_job_id = ?", parentJobID).
		Order("created_at ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list batch records: %w", err)
	}
	return recs, nil
}

// ListStaleProcessing retrieves batch records that entered processing before
// the cutoff and never finished.
func (r *JobLedgerRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.JobRecord, error) {
	var recs []models.JobRecord
	if err := r.db.WithContext(ctx).
		Where("status = ? AND job_type = ? AND updated_at < ?",
			string(config.JobStatusProcessing), string(config.JobTypeBatch), cutoff).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list stale records: %w", err)
	}
	return recs, nil
}

// NextSequence atomically increments and returns the named counter. The
// upsert keeps concurrent callers from ever observing the same value.
func (r *JobLedgerRepository) NextSequence(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := r.db.WithContext(ctx).Raw(
		`INSERT INTO job_counters (name, seq) VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET seq = job_counters.seq + 1
		 RETURNING seq`,
		name,
	).Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}

// GroupCountByStatus returns how many job records sit in each status.
func (r *JobLedgerRepository) GroupCountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&models.JobRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// DeleteOlderThan removes terminal job records created before the cutoff.
// Used by the scheduled cleanup sweep.
func (r *JobLedgerRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", cutoff, statuses).
		Delete(&models.JobRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
