package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

const (
	ActionRelink          = "account.relink"
	ActionBulkRelink      = "account.bulk_relink"
	ActionBulkStatus      = "account.bulk_status"
	ActionReconcileAll    = "reconcile.all"
	ActionReconcileEntity = "reconcile.entity"
	ActionReconcileJob    = "reconcile.job"
	ActionDailyClose      = "snapshot.daily_close"
)

// Event is a completed core operation handed to the audit sink.
type Event struct {
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

// Sink receives audit events. Record never blocks and never fails the caller:
// a dropped or failed audit write does not affect ledger correctness.
type Sink interface {
	Record(ctx context.Context, evt Event)
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}
