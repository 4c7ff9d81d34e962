package dto

import "encoding/json"

type MigrationStartDTO struct {
	BatchSize    int             `json:"batch_size" validate:"omitempty,gte=1,lte=1000"`
	DryRun       bool            `json:"dry_run"`
	UpdateFields json.RawMessage `json:"update_fields,omitempty"`
}

type MigrationResponseDTO struct {
	MigrationID  string `json:"migration_id"`
	Status       string `json:"status"`
	TotalItems   int64  `json:"total_items"`
	TotalBatches int    `json:"total_batches"`
	DryRun       bool   `json:"dry_run"`
	Message      string `json:"message,omitempty"`
}

type SeedRequestDTO struct {
	Count int `json:"count" validate:"required,gte=1,lte=100000"`
}
