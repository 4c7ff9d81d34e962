package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobRecord is one tracked unit of work: either a whole migration or a
// single published batch. CorrelationID ties the row to the broker message
// carrying the batch.
type JobRecord struct {
	ID            uint           `gorm:"primaryKey;autoIncrement"`
	CorrelationID string         `gorm:"type:varchar(255);not null;uniqueIndex"`
	Status        string         `gorm:"type:varchar(50);not null;default:'pending';index"`
	JobType       string         `gorm:"type:varchar(50);not null;default:'batch';index"`
	ParentJobID   *string        `gorm:"type:varchar(255);index"`
	TotalItems    int            `gorm:"default:0;not null"`
	ProcessedItems int           `gorm:"default:0;not null"`
	Progress      int            `gorm:"default:0;not null"`
	StartTime     time.Time      `gorm:"autoCreateTime"`
	EndTime       *time.Time
	Message       string         `gorm:"type:text"`
	Error         string         `gorm:"type:text"`
	ProcessedBy   string         `gorm:"type:varchar(255)"`
	Metadata      datatypes.JSON `gorm:"type:jsonb"`

	// Maintained on migration-type jobs only, recomputed from child batches.
	CompletedBatches int `gorm:"default:0;not null"`
	FailedBatches    int `gorm:"default:0;not null"`
	TotalBatches     int `gorm:"default:0;not null"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (JobRecord) TableName() string { return "job_status" }
