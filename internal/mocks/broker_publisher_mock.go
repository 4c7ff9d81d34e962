package mocks

import (
	"context"

	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/stretchr/testify/mock"
)

type BrokerPublisherMock struct {
	mock.Mock
}

func (m *BrokerPublisherMock) Publish(ctx context.Context, exchange, routingKey string, payload any, opts broker.PublishOptions) (bool, error) {
	args := m.Called(ctx, exchange, routingKey, payload, opts)
	return args.Bool(0), args.Error(1)
}

func (m *BrokerPublisherMock) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}
