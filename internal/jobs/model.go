package jobs

import "time"

type BatchStatus string

const (
	BatchProcessing BatchStatus = "PROCESSING"
	BatchPaused     BatchStatus = "PAUSED"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchCancelled  BatchStatus = "CANCELLED"
)

func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchCancelled
}

type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobRetrying   JobStatus = "RETRYING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Provisioning steps, in execution order.
const (
	StepTagConfig      = "tag_config"
	StepConversionLink = "conversion_link"
)

// Batch groups the provisioning jobs submitted for one customer in one go.
// Completed + Failed + still-pending jobs always add up to TotalJobs.
type Batch struct {
	ID         uint64 `gorm:"primaryKey"`
	TenantID   uint64 `gorm:"index;not null"`
	CustomerID uint64 `gorm:"index;not null"`
	UserID     uint64 `gorm:"not null"`

	TotalJobs int `gorm:"not null"`
	Completed int `gorm:"not null;default:0"`
	Failed    int `gorm:"not null;default:0"`

	Status      BatchStatus `gorm:"type:text;index;not null"`
	PauseReason *string     `gorm:"type:text"`
	ResumeAfter *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Job provisions one tracking against the provider. StartedAt is set exactly
// while the job is PROCESSING; the reaper uses it to spot stranded jobs.
type Job struct {
	ID         uint64 `gorm:"primaryKey"`
	BatchID    uint64 `gorm:"index;not null"`
	TrackingID uint64 `gorm:"index;not null"`

	Status JobStatus `gorm:"type:text;index;not null"`
	Step   *string   `gorm:"type:text"`

	Priority     int `gorm:"not null;default:100"`
	AttemptCount int `gorm:"not null;default:0"`

	NextRetryAt *time.Time
	StartedAt   *time.Time
	LastError   *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
