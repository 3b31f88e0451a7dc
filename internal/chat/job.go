package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// EventJob is one application event waiting for (or holding) its dashboard briefing.
type EventJob struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	UserID string `gorm:"type:varchar(128);index;not null;index:uniq_event_idempo,unique,priority:1" json:"user_id"`
	Kind   string `gorm:"type:varchar(32);not null" json:"kind"`

	// JSON encoded event payload and trade metrics
	Payload string `gorm:"type:text;not null" json:"-"`
	Metrics string `gorm:"type:text" json:"-"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_event_idempo,unique,priority:2" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	Query  *string `gorm:"type:text" json:"query"`
	Result *string `gorm:"type:text" json:"result"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EventJob) TableName() string { return "event_jobs" }
