package mocks

import (
	"context"

	"github.com/joshu-sajeev/migrateq/internal/models"
	"github.com/stretchr/testify/mock"
)

type DocumentRepoMock struct {
	mock.Mock
}

func (m *DocumentRepoMock) CountByStatus(ctx context.Context, statuses []string) (int64, error) {
	args := m.Called(ctx, statuses)
	return args.Get(0).(int64), args.Error(1)
}

func (m *DocumentRepoMock) StreamByStatus(ctx context.Context, statuses []string, fn func(doc models.Document) error) error {
	args := m.Called(ctx, statuses, fn)
	return args.Error(0)
}

func (m *DocumentRepoMock) MarkCompleted(ctx context.Context, ids []uint, processedBy string) (int64, error) {
	args := m.Called(ctx, ids, processedBy)
	return args.Get(0).(int64), args.Error(1)
}

func (m *DocumentRepoMock) MarkFailed(ctx context.Context, ids []uint, processedBy string) (int64, error) {
	args := m.Called(ctx, ids, processedBy)
	return args.Get(0).(int64), args.Error(1)
}

func (m *DocumentRepoMock) InsertArchives(ctx context.Context, archives []models.DocumentArchive) (int64, error) {
	args := m.Called(ctx, archives)
	return args.Get(0).(int64), args.Error(1)
}

func (m *DocumentRepoMock) CreateBatch(ctx context.Context, docs []models.Document) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

func (m *DocumentRepoMock) GroupCountByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)

	counts, _ := args.Get(0).(map[string]int64)
	return counts, args.Error(1)
}
