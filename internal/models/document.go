package models

import (
	"time"

	"gorm.io/datatypes"
)

// Document is a row in the collection being migrated.
type Document struct {
	ID           uint           `gorm:"primaryKey;autoIncrement"`
	Name         string         `gorm:"type:varchar(255)"`
	Email        string         `gorm:"type:varchar(255)"`
	Status       string         `gorm:"type:varchar(50);not null;default:'pending';index"`
	UpdateFields datatypes.JSON `gorm:"type:jsonb"`

	LastProcessed *time.Time
	ProcessedBy   string `gorm:"type:varchar(255)"`
	RetryCount    int    `gorm:"default:0;not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Document) TableName() string { return "documents" }

// DocumentArchive keeps a copy of a migrated document together with enough
// provenance to trace it back to the source row and the batch that moved it.
type DocumentArchive struct {
	ID           uint           `gorm:"primaryKey;autoIncrement"`
	Name         string         `gorm:"type:varchar(255);index"`
	Email        string         `gorm:"type:varchar(255);index"`
	Status       string         `gorm:"type:varchar(50);index"`
	UpdateFields datatypes.JSON `gorm:"type:jsonb"`

	OriginalID       uint      `gorm:"not null;index"`
	ArchivedAt       time.Time `gorm:"autoCreateTime;index"`
	ArchiveBatch     string    `gorm:"type:varchar(255);not null;index"`
	ArchiveReason    string    `gorm:"type:varchar(255);default:'bulk_migration'"`
	SourceCollection string    `gorm:"type:varchar(255);default:'documents'"`
	ArchivedBy       string    `gorm:"type:varchar(255)"`

	OriginalCreatedAt time.Time
	OriginalUpdatedAt time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (DocumentArchive) TableName() string { return "document_archives" }
