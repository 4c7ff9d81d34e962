package config

type JobStatus string

// Batch/migration lifecycle statuses. The dead-letter consumer uses the
// auxiliary dead_letter_* statuses so a reconciliation pass never confuses a
// DLQ replay with a live batch.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"

	JobStatusDeadLetterProcessing JobStatus = "dead_letter_processing"
	JobStatusDeadLetterCompleted  JobStatus = "dead_letter_completed"
	JobStatusDeadLetterFailed     JobStatus = "dead_letter_failed"
)

type JobType string

const (
	JobTypeMigration JobType = "migration"
	JobTypeBatch     JobType = "batch"
)

// Document statuses for the migrated collection.
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusSuccess    = "success"
	DocStatusFailed     = "failed"
)

// IsTerminal reports whether a job status can no longer change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
