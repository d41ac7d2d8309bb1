package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type JobKind string

const (
	JobRecomputeAll        JobKind = "recompute_all"
	JobShiftDates          JobKind = "shift_dates"
	JobNormalizeCurrency   JobKind = "normalize_currency"
	JobBackfillAttribution JobKind = "backfill_attribution"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobRecomputeAll, JobShiftDates, JobNormalizeCurrency, JobBackfillAttribution:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ReconcileJob records a correction run by key. A completed key is never run again.
type ReconcileJob struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	JobKey      string            `gorm:"type:varchar(128);not null;uniqueIndex" json:"job_key"`
	Kind        JobKind           `gorm:"type:varchar(32);not null" json:"kind"`
	Params      datatypes.JSONMap `gorm:"type:json" json:"params"`
	Status      JobStatus         `gorm:"type:varchar(16);not null" json:"status"`
	Report      datatypes.JSONMap `gorm:"type:json" json:"report,omitempty"`
	Error       string            `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	StartedAt   time.Time         `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func (ReconcileJob) TableName() string { return "reconcile_jobs" }
