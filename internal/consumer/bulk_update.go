package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/joshu-sajeev/migrateq/internal/models"
	"github.com/joshu-sajeev/migrateq/internal/publisher"
	"go.uber.org/zap"
)

// DocumentStore is the slice of the document repository processors mutate
// through.
type DocumentStore interface {
	MarkCompleted(ctx context.Context, ids []uint, processedBy string) (int64, error)
	MarkFailed(ctx context.Context, ids []uint, processedBy string) (int64, error)
	InsertArchives(ctx context.Context, archives []models.DocumentArchive) (int64, error)
}

// batchItem is one document inside a batch envelope.
type batchItem struct {
	ID           uint            `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Status       string          `json:"status"`
	UpdateFields json.RawMessage `json:"updateFields,omitempty"`
}

func decodeEnvelope(payload []byte) (publisher.BatchEnvelope, []batchItem, error) {
	var env publisher.BatchEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, nil, common.ProcessingErrf("malformed batch envelope: %v", err)
	}
	if len(env.Data) == 0 {
		return env, nil, common.ValidationErrf("batch %q contains no items", env.BatchID)
	}

	items := make([]batchItem, 0, len(env.Data))
	for _, raw := range env.Data {
		var item batchItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return env, nil, common.ProcessingErrf("malformed item in batch %q: %v", env.BatchID, err)
		}
		items = append(items, item)
	}
	return env, items, nil
}

// BulkUpdateProcessor applies bulk-update batches against the document
// store.
type BulkUpdateProcessor struct {
	docs DocumentStore
	id   string
	log  *zap.Logger
}

func NewBulkUpdateProcessor(docs DocumentStore, log *zap.Logger) *BulkUpdateProcessor {
	host, _ := os.Hostname()
	return &BulkUpdateProcessor{
		docs: docs,
		id:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		log:  log.Named("bulk_update"),
	}
}

var _ Processor = (*BulkUpdateProcessor)(nil)

func (p *BulkUpdateProcessor) Process(ctx context.Context, payload []byte, meta broker.Delivery) (ProcessResult, error) {
	env, items, err := decodeEnvelope(payload)
	if err != nil {
		return ProcessResult{}, err
	}

	ids := make([]uint, 0, len(items))
	skipped := 0
	for _, item := range items {
		if item.ID == 0 {
			skipped++
			continue
		}
		ids = append(ids, item.ID)
	}
	if len(ids) == 0 {
		return ProcessResult{}, common.ValidationErrf("batch %q has no usable document ids", env.BatchID)
	}

	n, err := p.docs.MarkCompleted(ctx, ids, p.id)
	if err != nil {
		if _, markErr := p.docs.MarkFailed(ctx, ids, p.id); markErr != nil {
			p.log.Warn("failed to flag documents after error",
				zap.String("batch_id", env.BatchID), zap.Error(markErr))
		}
		return ProcessResult{Failed: len(ids)}, common.ProcessingErrf("bulk update for batch %q: %v", env.BatchID, err)
	}

	return ProcessResult{Processed: int(n), Failed: skipped}, nil
}
