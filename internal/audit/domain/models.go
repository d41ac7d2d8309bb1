package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem    ActorType = "system"
	ActorTypeScheduler ActorType = "scheduler"
	ActorTypeAPI       ActorType = "api"
)

// AuditLog is an append-only record of a completed relink, status change or reconcile run.
type AuditLog struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	Action        string            `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetType    string            `gorm:"type:varchar(32);not null;index:idx_audit_target,priority:1" json:"target_type"`
	TargetID      string            `gorm:"type:varchar(64);index:idx_audit_target,priority:2" json:"target_id"`
	CorrelationID string            `gorm:"type:varchar(32);index" json:"correlation_id,omitempty"`
	ActorType     string            `gorm:"type:varchar(32);not null" json:"actor_type"`
	ActorID       string            `gorm:"type:varchar(128)" json:"actor_id,omitempty"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
