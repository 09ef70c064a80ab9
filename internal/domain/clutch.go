package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClutchStatus is the lifecycle phase of one uploaded clutch image. Statuses
// only move forward through the sequence below; any non-terminal status may
// drop into StatusError.
type ClutchStatus string

const (
	StatusUploaded         ClutchStatus = "Uploaded"
	StatusDetectingEggs    ClutchStatus = "Detecting Eggs"
	StatusDeterminingEggs  ClutchStatus = "Determining Egg Viability"
	StatusCalculatingFlock ClutchStatus = "Calculating Flock Numbers"
	StatusCompleted        ClutchStatus = "Completed"
	StatusError            ClutchStatus = "Error"
)

var statusOrder = map[ClutchStatus]int{
	StatusUploaded:         0,
	StatusDetectingEggs:    1,
	StatusDeterminingEggs:  2,
	StatusCalculatingFlock: 3,
	StatusCompleted:        4,
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. StatusError is reachable from any non-terminal status; both
// terminal statuses are absorbing.
func (s ClutchStatus) CanTransition(next ClutchStatus) bool {
	if s == StatusCompleted || s == StatusError {
		return false
	}
	if next == StatusError {
		return true
	}
	from, okFrom := statusOrder[s]
	to, okTo := statusOrder[next]
	if !okFrom || !okTo {
		return false
	}
	return to > from
}

// Terminal reports whether no further transition is possible.
func (s ClutchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Clutch is the parent record for one uploaded image and its aggregate
// analysis. It is created by the upload gateway, advanced by the vision
// invoker and the consolidator, and never deleted by the pipeline.
type Clutch struct {
	ID              uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	UploadTimestamp time.Time    `gorm:"column:upload_timestamp;not null" json:"upload_timestamp"`
	ImageKey        string       `gorm:"column:image_key;not null" json:"image_key"`
	Status          ClutchStatus `gorm:"column:status;not null;index" json:"status"`

	TotalEggCount  *int `gorm:"column:total_egg_count" json:"total_egg_count,omitempty"`
	ViableEggCount *int `gorm:"column:viable_egg_count" json:"viable_egg_count,omitempty"`

	ChickenImageKey string `gorm:"column:chicken_image_key" json:"chicken_image_key,omitempty"`
	ErrorMessage    string `gorm:"column:error_message" json:"error_message,omitempty"`

	AttestationTxID   string `gorm:"column:attestation_tx_id" json:"attestation_tx_id,omitempty"`
	AttestationTxHash string `gorm:"column:attestation_tx_hash" json:"attestation_tx_hash,omitempty"`
	AttestationBlock  int64  `gorm:"column:attestation_block" json:"attestation_block,omitempty"`

	ConsolidatedAt *time.Time `gorm:"column:consolidated_at" json:"consolidated_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (Clutch) TableName() string { return "clutch" }
