package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/stretchr/testify/mock"
)

type LedgerServiceMock struct {
	mock.Mock
}

func (m *LedgerServiceMock) CreateMigrationJob(ctx context.Context, correlationID string, totalItems int, metadata map[string]any) error {
	args := m.Called(ctx, correlationID, totalItems, metadata)
	return args.Error(0)
}

func (m *LedgerServiceMock) CreateBatchJob(ctx context.Context, batchID, parentJobID string, totalItems int, metadata map[string]any) error {
	args := m.Called(ctx, batchID, parentJobID, totalItems, metadata)
	return args.Error(0)
}

func (m *LedgerServiceMock) UpdateJob(ctx context.Context, correlationID string, upd ledger.JobUpdate) error {
	args := m.Called(ctx, correlationID, upd)
	return args.Error(0)
}

func (m *LedgerServiceMock) GetJob(ctx context.Context, correlationID string) (*dto.JobStatusResponseDTO, error) {
	args := m.Called(ctx, correlationID)

	resp, _ := args.Get(0).(*dto.JobStatusResponseDTO)
	return resp, args.Error(1)
}

func (m *LedgerServiceMock) ListJobs(ctx context.Context, f ledger.JobFilter) ([]dto.JobStatusResponseDTO, error) {
	args := m.Called(ctx, f)

	resp, _ := args.Get(0).([]dto.JobStatusResponseDTO)
	return resp, args.Error(1)
}

func (m *LedgerServiceMock) ListBatchJobs(ctx context.Context, parentJobID string) ([]dto.JobStatusResponseDTO, error) {
	args := m.Called(ctx, parentJobID)

	resp, _ := args.Get(0).([]dto.JobStatusResponseDTO)
	return resp, args.Error(1)
}

func (m *LedgerServiceMock) NextBatchID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *LedgerServiceMock) ReconcileMigrationStatus(ctx context.Context, migrationID string) error {
	args := m.Called(ctx, migrationID)
	return args.Error(0)
}

func (m *LedgerServiceMock) RepairStuckJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

func (m *LedgerServiceMock) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *LedgerServiceMock) StatusSummary(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)

	counts, _ := args.Get(0).(map[string]int64)
	return counts, args.Error(1)
}
