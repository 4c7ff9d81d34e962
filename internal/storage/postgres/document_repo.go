package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/models"
	"gorm.io/gorm"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CountByStatus returns how many documents currently sit in any of the
// given statuses. An empty status list counts every document.
func (r *DocumentRepository) CountByStatus(ctx context.Context, statuses []string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Document{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// StreamByStatus walks every matching document through a server-side cursor
// and hands each row to fn. Iteration stops at the first error fn returns.
// Rows are ordered by id so a rerun visits documents in the same order.
func (r *DocumentRepository) StreamByStatus(ctx context.Context, statuses []string, fn func(doc models.Document) error) error {
	q := r.db.WithContext(ctx).Model(&models.Document{}).Order("id ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	rows, err := q.Rows()
	if err != nil {
		return fmt.Errorf("open document cursor: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc models.Document
		if err := r.db.ScanRows(rows, &doc); err != nil {
			return fmt.Errorf("scan document row: %w", err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("document cursor: %w", err)
	}
	return nil
}

// MarkCompleted flags the given documents as successfully processed and
// records who processed them.
func (r *DocumentRepository) MarkCompleted(ctx context.Context, ids []uint, processedBy string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":         config.DocStatusSuccess,
			"last_processed": now,
			"processed_by":   processedBy,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("mark completed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkFailed flags the given documents as failed and bumps their retry
// counter. The increment happens at the database level so concurrent
// workers never lose an attempt.
func (r *DocumentRepository) MarkFailed(ctx context.Context, ids []uint, processedBy string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":       config.DocStatusFailed,
			"processed_by": processedBy,
			"retry_count":  gorm.Expr("retry_count + ?", 1),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("mark failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// InsertArchives copies processed documents into the archive table and
// deletes the originals inside one transaction, so a crash mid-archive
// never leaves the same row in both places.
func (r *DocumentRepository) InsertArchives(ctx context.Context, archives []models.DocumentArchive) (int64, error) {
	if len(archives) == 0 {
		return 0, nil
	}

	ids := make([]uint, 0, len(archives))
	for _, a := range archives {
		ids = append(ids, a.OriginalID)
	}

	var moved int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&archives).Error; err != nil {
			return fmt.Errorf("insert archives: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Document{})
		if res.Error != nil {
			return fmt.Errorf("delete archived originals: %w", res.Error)
		}
		moved = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// CreateBatch inserts the given documents. Used for seeding test data.
func (r *DocumentRepository) CreateBatch(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&docs, 500).Error; err != nil {
		return fmt.Errorf("create documents: %w", err)
	}
	return nil
}

// GroupCountByStatus returns per-status document counts.
func (r *DocumentRepository) GroupCountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&models.Document{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count documents by status: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
