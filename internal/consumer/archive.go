package consumer

import (
	"context"
	"fmt"
	"os"

	"github.com/joshu-sajeev/migrateq/internal/broker"
	"github.com/joshu-sajeev/migrateq/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ArchiveProcessor moves batch documents into the archive table.
type ArchiveProcessor struct {
	docs DocumentStore
	id   string
	log  *zap.Logger
}

func NewArchiveProcessor(docs DocumentStore, log *zap.Logger) *ArchiveProcessor {
	host, _ := os.Hostname()
	return &ArchiveProcessor{
		docs: docs,
		id:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		log:  log.Named("archive"),
	}
}

var _ Processor = (*ArchiveProcessor)(nil)

func (p *ArchiveProcessor) Process(ctx context.Context, payload []byte, meta broker.Delivery) (ProcessResult, error) {
	env, items, err := decodeEnvelope(payload)
	if err != nil {
		return ProcessResult{}, err
	}

	archives := make([]models.DocumentArchive, 0, len(items))
	skipped := 0
	for _, item := range items {
		if item.ID == 0 {
			skipped++
			continue
		}
		archives = append(archives, models.DocumentArchive{
			Name:         item.Name,
			Email:        item.Email,
			Status:       item.Status,
			UpdateFields: datatypes.JSON(item.UpdateFields),
			OriginalID:   item.ID,
			ArchiveBatch: env.BatchID,
			ArchivedBy:   p.id,
		})
	}

	moved, err := p.docs.InsertArchives(ctx, archives)
	if err != nil {
		return ProcessResult{Failed: len(archives)}, err
	}

	return ProcessResult{
		Processed: int(moved),
		Failed:    skipped,
		Note:      fmt.Sprintf("archived %d documents", moved),
	}, nil
}
