package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job is the execution record of one enqueued background task.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey"`
	TaskName    string         `gorm:"column:task_name;index;not null"`
	Status      JobStatus      `gorm:"column:status;not null;default:'pending'"`
	Affected    int64          `gorm:"column:affected"`
	ErrorMsg    string         `gorm:"column:error_msg"`
	StartedAt   *time.Time     `gorm:"column:started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
}

func (Job) TableName() string { return "task_jobs" }

type sweepPayload struct {
	JobID string `json:"job_id"`
}
