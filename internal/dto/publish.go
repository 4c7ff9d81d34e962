package dto

import "encoding/json"

type PublishBatchDTO struct {
	QueueType string            `json:"queue_type" validate:"required,oneof=processing priority archive"`
	Items     []json.RawMessage `json:"items" validate:"required,min=1,dive,required"`
	Priority  uint8             `json:"priority" validate:"lte=10"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

type PublishResponseDTO struct {
	BatchID       string `json:"batch_id"`
	CorrelationID string `json:"correlation_id"`
	Queue         string `json:"queue"`
	RoutingKey    string `json:"routing_key"`
	ItemCount     int    `json:"item_count"`
}
