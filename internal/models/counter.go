package models

// JobCounter backs sequential batch id generation. Seq is only ever moved by
// an atomic upsert-increment, never read-modify-write in application code.
type JobCounter struct {
	Name string `gorm:"primaryKey;type:varchar(100)"`
	Seq  int64  `gorm:"default:0;not null"`
}

func (JobCounter) TableName() string { return "job_counters" }
