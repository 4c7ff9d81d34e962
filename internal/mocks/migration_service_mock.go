package mocks

import (
	"context"

	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/stretchr/testify/mock"
)

type MigrationServiceMock struct {
	mock.Mock
}

func (m *MigrationServiceMock) StartMigration(ctx context.Context, req dto.MigrationStartDTO) (*dto.MigrationResponseDTO, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*dto.MigrationResponseDTO); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MigrationServiceMock) StartArchiveMigration(ctx context.Context, req dto.MigrationStartDTO) (*dto.MigrationResponseDTO, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*dto.MigrationResponseDTO); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MigrationServiceMock) RetryFailed(ctx context.Context) (*dto.MigrationResponseDTO, error) {
	args := m.Called(ctx)
	if resp, ok := args.Get(0).(*dto.MigrationResponseDTO); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MigrationServiceMock) CompleteProcessing(ctx context.Context) (*dto.MigrationResponseDTO, error) {
	args := m.Called(ctx)
	if resp, ok := args.Get(0).(*dto.MigrationResponseDTO); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MigrationServiceMock) ProcessAllPending(ctx context.Context) (*dto.MigrationResponseDTO, error) {
	args := m.Called(ctx)
	if resp, ok := args.Get(0).(*dto.MigrationResponseDTO); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MigrationServiceMock) CancelMigration(ctx context.Context, migrationID string) error {
	args := m.Called(ctx, migrationID)
	return args.Error(0)
}

func (m *MigrationServiceMock) SeedDocuments(ctx context.Context, count int) error {
	args := m.Called(ctx, count)
	return args.Error(0)
}

func (m *MigrationServiceMock) Summary(ctx context.Context) (*dto.JobStatusSummaryDTO, error) {
	args := m.Called(ctx)
	if resp, ok := args.Get(0).(*dto.JobStatusSummaryDTO); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}
