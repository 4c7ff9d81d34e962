// Package publisher turns validated batches into broker messages, recording
// each batch in the job ledger before it leaves the process.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/joshu-sajeev/migrateq/internal/config"
	"github.com/joshu-sajeev/migrateq/internal/dto"
	"github.com/joshu-sajeev/migrateq/internal/ledger"
	"go.uber.org/zap"
)

// defaultCollection is the source collection stamped on every envelope.
const defaultCollection = "documents"

// BrokerPublisher is the slice of the broker client the publisher needs.
type BrokerPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any, opts broker.PublishOptions) (bool, error)
	IsConnected() bool
}

// BatchEnvelope is the wire format consumed by the batch workers.
type BatchEnvelope struct {
	BatchID    string            `json:"batchId"`
	Collection string            `json:"collection"`
	Data       []json.RawMessage `json:"data"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// ServiceInterface defines the contract for batch publishing.
type ServiceInterface interface {
	PublishBatch(ctx context.Context, req dto.PublishBatchDTO, parentJobID string) (*dto.PublishResponseDTO, error)
}

// BatchCounter receives one tick per successfully published batch.
type BatchCounter interface {
	BatchPublished(queueType string)
}

type Service struct {
	broker  BrokerPublisher
	ledger  ledger.ServiceInterface
	metrics BatchCounter
	log     *zap.Logger
}

type Option func(*Service)

// WithMetrics attaches a publish counter.
func WithMetrics(m BatchCounter) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(b BrokerPublisher, l ledger.ServiceInterface, log *zap.Logger, opts ...Option) *Service {
	s := &Service{broker: b, ledger: l, log: log.Named("publisher")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ServiceInterface = (*Service)(nil)

// PublishBatch validates the batch, allocates a batch id, records it in the
// ledger, and only then hands the envelope to the broker. Validation happens
// strictly before any broker interaction so an empty batch can never consume
// a batch id or touch the connection.
func (s *Service) PublishBatch(ctx context.Context, req dto.PublishBatchDTO, parentJobID string) (*dto.PublishResponseDTO, error) {
	if len(req.Items) == 0 {
		return nil, common.ValidationErrf("batch must contain at least one item")
	}

	desc, ok := broker.QueueByType(broker.QueueType(req.QueueType))
	if !ok {
		return nil, common.ValidationErrf("unknown queue type %q", req.QueueType)
	}

	// High-priority batches bound for the processing queue are escalated to
	// the priority queue so they are not stuck behind bulk traffic.
	if desc.Type == broker.QueueTypeProcessing && req.Priority > 5 {
		if pdesc, ok := broker.QueueByType(broker.QueueTypePriority); ok {
			desc = pdesc
		}
	}

	routingKey, err := routingKeyFor(desc.Type)
	if err != nil {
		return nil, err
	}

	batchID, err := s.ledger.NextBatchID(ctx)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"queue":       desc.Name,
		"routing_key": routingKey,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	// The ledger row must exist before the publish so a consumer can never
	// see a batch the ledger does not know about.
	if err := s.ledger.CreateBatchJob(ctx, batchID, parentJobID, len(req.Items), metadata); err != nil {
		return nil, err
	}

	envelope := BatchEnvelope{
		BatchID:    batchID,
		Collection: defaultCollection,
		Data:       req.Items,
		Metadata:   req.Metadata,
	}

	opts := broker.PublishOptions{
		CorrelationID: batchID,
		Persistent:    true,
		Priority:      req.Priority,
		Headers: map[string]any{
			"batchSize": len(req.Items),
			"source":    "batch-publisher",
			"timestamp": time.Now().Format(time.RFC3339),
			"priority":  int32(req.Priority),
		},
	}

	published, err := s.broker.Publish(ctx, broker.ExchangeMain, routingKey, envelope, opts)
	if err != nil {
		s.markPublishFailed(ctx, batchID, err)
		return nil, err
	}
	if !published {
		err := common.BrokerUnavailableErrf("publish deferred by broker flow control")
		s.markPublishFailed(ctx, batchID, err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.BatchPublished(string(desc.Type))
	}

	s.log.Info("batch published",
		zap.String("batch_id", batchID),
		zap.String("queue", desc.Name),
		zap.String("routing_key", routingKey),
		zap.Int("items", len(req.Items)),
	)

	return &dto.PublishResponseDTO{
		BatchID:       batchID,
		CorrelationID: batchID,
		Queue:         desc.Name,
		RoutingKey:    routingKey,
		ItemCount:     len(req.Items),
	}, nil
}

func (s *Service) markPublishFailed(ctx context.Context, batchID string, cause error) {
	err := s.ledger.UpdateJob(ctx, batchID, ledger.JobUpdate{
		Status: config.JobStatusFailed,
		Error:  cause.Error(),
	})
	if err != nil {
		s.log.Warn("failed to record publish failure",
			zap.String("batch_id", batchID), zap.Error(err))
	}
}

func routingKeyFor(t broker.QueueType) (string, error) {
	switch t {
	case broker.QueueTypeProcessing:
		return broker.RouteBulkUpdate, nil
	case broker.QueueTypePriority:
		return broker.RoutePriorityBulkUpdate, nil
	case broker.QueueTypeArchive:
		return broker.RouteArchive, nil
	}
	return "", common.ValidationErrf("queue type %q cannot be published to directly", t)
}
