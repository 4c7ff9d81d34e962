package dto

import (
	"encoding/json"
	"time"
)

type JobStatusResponseDTO struct {
	CorrelationID    string          `json:"correlation_id"`
	Status           string          `json:"status"`
	JobType          string          `json:"job_type"`
	ParentJobID      *string         `json:"parent_job_id,omitempty"`
	TotalItems       int             `json:"total_items"`
	ProcessedItems   int             `json:"processed_items"`
	Progress         int             `json:"progress"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          *time.Time      `json:"end_time,omitempty"`
	Message          string          `json:"message,omitempty"`
	Error            string          `json:"error,omitempty"`
	ProcessedBy      string          `json:"processed_by,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CompletedBatches int             `json:"completed_batches"`
	FailedBatches    int             `json:"failed_batches"`
	TotalBatches     int             `json:"total_batches"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type JobListQueryDTO struct {
	Status      string `form:"status" validate:"omitempty,oneof=pending processing completed failed cancelled dead_letter_processing dead_letter_completed dead_letter_failed"`
	JobType     string `form:"job_type" validate:"omitempty,oneof=migration batch"`
	ParentJobID string `form:"parent_job_id"`
	Limit       int    `form:"limit" validate:"gte=0,lte=1000"`
}

type JobStatusSummaryDTO struct {
	Jobs      map[string]int64 `json:"jobs"`
	Documents map[string]int64 `json:"documents"`
}
