package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobRun is one unit of queued pipeline work. Rows double as the work queue:
// workers claim runnable rows with SKIP LOCKED, giving at-least-once delivery
// with attempt-bounded redelivery.
type JobRun struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobType    string     `gorm:"column:job_type;not null;index" json:"job_type"`
	EntityType string     `gorm:"column:entity_type;index" json:"entity_type,omitempty"`
	EntityID   *uuid.UUID `gorm:"type:uuid;column:entity_id;index" json:"entity_id,omitempty"`

	Status   string `gorm:"column:status;not null;index" json:"status"`
	Stage    string `gorm:"column:stage" json:"stage,omitempty"`
	Progress int    `gorm:"column:progress;not null;default:0" json:"progress"`
	Message  string `gorm:"column:message" json:"message,omitempty"`
	Attempts int    `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error    string `gorm:"column:error" json:"error,omitempty"`

	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result  datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCanceled  = "canceled"
)

// Job types consumed by the pipeline workers.
const (
	JobTypeVisionAnalyze     = "vision_analyze"
	JobTypeChickMedia        = "chick_media"
	JobTypeComfortSong       = "comfort_song"
	JobTypeClutchConsolidate = "clutch_consolidate"
)
