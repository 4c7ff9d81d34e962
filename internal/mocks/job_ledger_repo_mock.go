package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"github.com/joshu-sajeev/migrateq/internal/models"
	"github.com/stretchr/testify/mock"
)

type JobLedgerRepoMock struct {
	mock.Mock
}

func (m *JobLedgerRepoMock) Create(ctx context.Context, rec *models.JobRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *JobLedgerRepoMock) GetByCorrelationID(ctx context.Context, correlationID string) (*models.JobRecord, error) {
	args := m.Called(ctx, correlationID)

	rec, _ := args.Get(0).(*models.JobRecord)
	return rec, args.Error(1)
}

func (m *JobLedgerRepoMock) Update(ctx context.Context, correlationID string, patch map[string]any) (int64, error) {
	args := m.Called(ctx, correlationID, patch)
	return args.Get(0).(int64), args.Error(1)
}

func (m *JobLedgerRepoMock) List(ctx context.Context, f ledger.JobFilter) ([]models.JobRecord, error) {
	args := m.Called(ctx, f)

	recs, _ := args.Get(0).([]models.JobRecord)
	return recs, args.Error(1)
}

func (m *JobLedgerRepoMock) ListByParent(ctx context.Context, parentJobID string) ([]models.JobRecord, error) {
	args := m.Called(ctx, parentJobID)

	recs, _ := args.Get(0).([]models.JobRecord)
	return recs, args.Error(1)
}

func (m *JobLedgerRepoMock) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.JobRecord, error) {
	args := m.Called(ctx, cutoff)

	recs, _ := args.Get(0).([]models.JobRecord)
	return recs, args.Error(1)
}

func (m *JobLedgerRepoMock) NextSequence(ctx context.Context, name string) (int64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *JobLedgerRepoMock) GroupCountByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)

	counts, _ := args.Get(0).(map[string]int64)
	return counts, args.Error(1)
}

func (m *JobLedgerRepoMock) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []string) (int64, error) {
	args := m.Called(ctx, cutoff, statuses)
	return args.Get(0).(int64), args.Error(1)
}
