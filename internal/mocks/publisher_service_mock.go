package mocks

import (
	"context"

	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/stretchr/testify/mock"
)

type PublisherServiceMock struct {
	mock.Mock
}

func (m *PublisherServiceMock) PublishBatch(ctx context.Context, req dto.PublishBatchDTO, parentJobID string) (*dto.PublishResponseDTO, error) {
	args := m.Called(ctx, req, parentJobID)

	resp, _ := args.Get(0).(*dto.PublishResponseDTO)
	return resp, args.Error(1)
}
