package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"go.uber.org/zap"
)

// Dead-letter tiering thresholds.
const (
	permanentFailureDeaths = 5
	manualReviewDeaths     = 3
	requeueDelayStep       = 5 * time.Second
)

// DeadLetterPublisher is the slice of the broker client the dead-letter
// processor republishes through.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any, opts broker.PublishOptions) (bool, error)
}

// DeadLetterProcessor triages dead-lettered messages by how many times they
// have died: beyond repair, needs a human, or worth another delayed attempt.
type DeadLetterProcessor struct {
	pub DeadLetterPublisher
	log *zap.Logger
}

func NewDeadLetterProcessor(pub DeadLetterPublisher, log *zap.Logger) *DeadLetterProcessor {
	return &DeadLetterProcessor{pub: pub, log: log.Named("deadletter")}
}

var _ Processor = (*DeadLetterProcessor)(nil)

func (p *DeadLetterProcessor) Process(ctx context.Context, payload []byte, meta broker.Delivery) (ProcessResult, error) {
	deaths := broker.DeathCount(meta.Headers)

	switch {
	case deaths >= permanentFailureDeaths:
		p.log.Error("message permanently failed",
			zap.String("correlation_id", meta.CorrelationID),
			zap.Int("deaths", deaths),
		)
		return ProcessResult{Failed: 1},
			common.ProcessingErrf("permanently failed after %d deliveries", deaths)

	case deaths >= manualReviewDeaths:
		p.log.Warn("message flagged for manual review",
			zap.String("correlation_id", meta.CorrelationID),
			zap.Int("deaths", deaths),
		)
		return ProcessResult{Note: fmt.Sprintf("flagged for manual review after %d deliveries", deaths)}, nil
	}

	queue, ok := originQueue(meta)
	if !ok {
		return ProcessResult{Failed: 1},
			common.ProcessingErrf("cannot determine origin queue for %q", meta.CorrelationID)
	}

	// Delay grows linearly with the death count. Publishing to the default
	// exchange with the queue name as routing key and a TTL makes the
	// broker redeliver after the delay.
	delay := requeueDelayStep * time.Duration(maxInt(deaths, 1))
	opts := broker.PublishOptions{
		CorrelationID: meta.CorrelationID,
		Persistent:    true,
		Headers:       meta.Headers,
		Expiration:    delay,
	}

	published, err := p.pub.Publish(ctx, "", queue, json.RawMessage(payload), opts)
	if err != nil {
		return ProcessResult{Failed: 1}, err
	}
	if !published {
		return ProcessResult{Failed: 1}, common.BrokerUnavailableErrf("requeue deferred by flow control")
	}

	p.log.Info("message requeued with delay",
		zap.String("correlation_id", meta.CorrelationID),
		zap.String("queue", queue),
		zap.Duration("delay", delay),
	)
	return ProcessResult{Processed: 1, Note: fmt.Sprintf("requeued to %s after %s", queue, delay)}, nil
}

// originQueue resolves which queue a dead-lettered message came from, first
// from the broker's x-death bookkeeping, then from the dead-letter routing
// key.
func originQueue(meta broker.Delivery) (string, bool) {
	if headers := meta.Headers; headers != nil {
		if q, ok := headers["x-first-death-queue"].(string); ok && q != "" {
			return q, true
		}
	}

	key := meta.RoutingKey
	if headers := meta.Headers; headers != nil {
		if orig, ok := headers["x-original-routing-key"].(string); ok && orig != "" {
			key = orig
		}
	}

	switch key {
	case broker.RouteFailedProcessing, broker.RouteBulkUpdate, broker.RouteRetry:
		return broker.QueueProcessing, true
	case broker.RoutePriorityBulkUpdate:
		return broker.QueuePriority, true
	case broker.RouteFailedArchive, broker.RouteArchive:
		return broker.QueueArchive, true
	}
	if broker.IsValidQueueName(key) {
		return key, true
	}
	return "", false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
