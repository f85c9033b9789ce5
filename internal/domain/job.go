package domain

import "time"

// JobStatus represents the status of an ingest job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobKind says what started an ingest job.
type JobKind string

const (
	JobKindIndex     JobKind = "index"
	JobKindAssembly  JobKind = "assembly"
	JobKindSweep     JobKind = "sweep"
	JobKindReconcile JobKind = "reconcile"
)

// IngestJob tracks one background batch and its outcome.
type IngestJob struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	Kind        JobKind    `gorm:"type:text;not null;index" json:"kind"`
	Status      JobStatus  `gorm:"type:text;default:pending" json:"status"`
	TotalItems  int        `gorm:"default:0" json:"total_items"`
	ReadyItems  int        `gorm:"default:0" json:"ready_items"`
	FailedItems int        `gorm:"default:0" json:"failed_items"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorLog    string     `gorm:"type:text" json:"error_log,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for IngestJob.
func (IngestJob) TableName() string {
	return "ingest_jobs"
}
