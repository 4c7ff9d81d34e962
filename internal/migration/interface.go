package migration

import (
	"context"

	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/joshu-sajeev/migrateq/internal/models"
)

// DocumentRepoInterface is the slice of the document store the orchestrator
// needs.
type DocumentRepoInterface interface {
	CountByStatus(ctx context.Context, statuses []string) (int64, error)
	StreamByStatus(ctx context.Context, statuses []string, fn func(doc models.Document) error) error
	CreateBatch(ctx context.Context, docs []models.Document) error
	GroupCountByStatus(ctx context.Context) (map[string]int64, error)
}

// ServiceInterface defines the contract for migration orchestration.
type ServiceInterface interface {
	StartMigration(ctx context.Context, req dto.MigrationStartDTO) (*dto.MigrationResponseDTO, error)
	StartArchiveMigration(ctx context.Context, req dto.MigrationStartDTO) (*dto.MigrationResponseDTO, error)
	RetryFailed(ctx context.Context) (*dto.MigrationResponseDTO, error)
	CompleteProcessing(ctx context.Context) (*dto.MigrationResponseDTO, error)
	ProcessAllPending(ctx context.Context) (*dto.MigrationResponseDTO, error)
	CancelMigration(ctx context.Context, migrationID string) error
	SeedDocuments(ctx context.Context, count int) error
	Summary(ctx context.Context) (*dto.JobStatusSummaryDTO, error)
}
