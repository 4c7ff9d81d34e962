package consumer

import (
	"context"

	"github.com/joshu-sajeev/migrateq/internal/broker"
)

// ProcessResult reports what a processor did with one batch. Note, when
// set, is recorded as the ledger message for the batch.
type ProcessResult struct {
	Processed int
	Failed    int
	Note      string
}

// Processor applies one batch message. Implementations must be safe for
// concurrent calls since each delivery runs in its own goroutine.
type Processor interface {
	Process(ctx context.Context, payload []byte, meta broker.Delivery) (ProcessResult, error)
}

// BrokerConsumer is the slice of the broker client a worker needs.
type BrokerConsumer interface {
	Consume(queue string, handler broker.Handler, opts broker.ConsumeOptions) error
	CancelConsumer(queue string) error
	IsConnected() bool
}
