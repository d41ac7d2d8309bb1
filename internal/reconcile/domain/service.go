package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"gorm.io/gorm"
)

// Options override the tuning config for one run. Zero values use the config.
type Options struct {
	Types       []inventorydomain.EntityType
	BatchSize   int
	Concurrency int
}

type JobRequest struct {
	Key    string
	Kind   JobKind
	Params map[string]any
}

type Service interface {
	ReconcileAll(ctx context.Context, opts Options) (Report, error)
	ReconcileEntity(ctx context.Context, ref inventorydomain.EntityRef) (Entry, error)
	// Verify recomputes without writing and fails with errs.ErrConsistencyViolation
	// when the cache drifted beyond tolerance.
	Verify(ctx context.Context, ref inventorydomain.EntityRef) (Entry, error)
	RunJob(ctx context.Context, req JobRequest) (ReconcileJob, error)
}

type JobRepository interface {
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*ReconcileJob, error)
	Insert(ctx context.Context, db *gorm.DB, job *ReconcileJob) error
	// Claim moves a failed job, or a running job started before staleBefore,
	// back to running. It reports false when another caller claimed it first.
	Claim(ctx context.Context, db *gorm.DB, job *ReconcileJob, staleBefore time.Time) (bool, error)
	Finish(ctx context.Context, db *gorm.DB, job *ReconcileJob) error
}

var (
	ErrPartialReconcile = errs.New(errs.KindPartialBatchFailure, "partial_reconcile")
	ErrInvalidJobKey    = errs.New(errs.KindInvalidInput, "invalid_job_key")
	ErrInvalidJobKind   = errs.New(errs.KindInvalidInput, "invalid_job_kind")
	ErrInvalidJobParams = errs.New(errs.KindInvalidInput, "invalid_job_params")
	ErrJobInProgress    = errs.New(errs.KindConcurrencyConflict, "job_in_progress")
	ErrDateCollision    = errs.New(errs.KindInvalidInput, "date_collision")
)
