package ledger

import (
	"context"
	"time"

	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/joshu-sajeev/migrateq/internal/models"
)

// JobFilter narrows a ledger listing. Zero-value fields are ignored.
type JobFilter struct {
	Status      string
	JobType     string
	ParentJobID string
	Limit       int
}

// JobRepoInterface defines the contract for job ledger persistence.
type JobRepoInterface interface {
	Create(ctx context.Context, rec *models.JobRecord) error
	GetByCorrelationID(ctx context.Context, correlationID string) (*models.JobRecord, error)
	Update(ctx context.Context, correlationID string, patch map[string]any) (int64, error)
	List(ctx context.Context, f JobFilter) ([]models.JobRecord, error)
	ListByParent(ctx context.Context, parentJobID string) ([]models.JobRecord, error)
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.JobRecord, error)
	NextSequence(ctx context.Context, name string) (int64, error)
	GroupCountByStatus(ctx context.Context) (map[string]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []string) (int64, error)
}

// ServiceInterface defines the contract for ledger business logic.
type ServiceInterface interface {
	CreateMigrationJob(ctx context.Context, correlationID string, totalItems int, metadata map[string]any) error
	CreateBatchJob(ctx context.Context, batchID, parentJobID string, totalItems int, metadata map[string]any) error
	UpdateJob(ctx context.Context, correlationID string, upd JobUpdate) error
	GetJob(ctx context.Context, correlationID string) (*dto.JobStatusResponseDTO, error)
	ListJobs(ctx context.Context, f JobFilter) ([]dto.JobStatusResponseDTO, error)
	ListBatchJobs(ctx context.Context, parentJobID string) ([]dto.JobStatusResponseDTO, error)
	NextBatchID(ctx context.Context) (string, error)
	ReconcileMigrationStatus(ctx context.Context, migrationID string) error
	RepairStuckJobs(ctx context.Context, olderThan time.Duration) (int, error)
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error)
	StatusSummary(ctx context.Context) (map[string]int64, error)
}
