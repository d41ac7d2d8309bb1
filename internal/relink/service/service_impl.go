package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/aggregation"
	auditdomain "github.com/smallbiznis/spendledger/internal/audit/domain"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/config"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/lock"
	"github.com/smallbiznis/spendledger/internal/observability/metrics"
	"github.com/smallbiznis/spendledger/internal/observability/tracing"
	"github.com/smallbiznis/spendledger/internal/relink/domain"
	snapshotdomain "github.com/smallbiznis/spendledger/internal/snapshot/domain"
	pkgdb "github.com/smallbiznis/spendledger/pkg/db"
	"github.com/smallbiznis/spendledger/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	resultChanged   = "changed"
	resultUnchanged = "unchanged"
	resultFailed    = "failed"
)

var tracer = otel.Tracer("spendledger/relink")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	InventoryRepo inventorydomain.Repository
	Snapshots     snapshotdomain.Service
	Engine        *aggregation.Engine
	Locker        lock.Locker
	Config        *config.ReconcileConfigHolder
	Clock         clock.Clock
	Audit         auditdomain.Sink       `optional:"true"`
	Metrics       *metrics.Metrics       `optional:"true"`
	Ledger        *metrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	inventoryRepo inventorydomain.Repository
	snapshots     snapshotdomain.Service
	engine        *aggregation.Engine
	locker        lock.Locker
	cfg           *config.ReconcileConfigHolder
	clock         clock.Clock
	audit         auditdomain.Sink
	metrics       *metrics.Metrics
	ledger        *metrics.LedgerMetrics
}

func New(p Params) domain.Service {
	audit := p.Audit
	if audit == nil {
		audit = auditdomain.NopSink{}
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("relink.service"),
		inventoryRepo: p.InventoryRepo,
		snapshots:     p.Snapshots,
		engine:        p.Engine,
		locker:        p.Locker,
		cfg:           p.Config,
		clock:         p.Clock,
		audit:         audit,
		metrics:       p.Metrics,
		ledger:        p.Ledger,
	}
}

// Relink moves one account to another entity on axis. The snapshot, the
// pointer update and the recompute of both entities commit together.
func (s *Service) Relink(ctx context.Context, req domain.RelinkRequest) (domain.RelinkResult, error) {
	if err := validateTarget(req.Axis, req.EntityID); err != nil {
		return domain.RelinkResult{}, err
	}
	if req.AccountID == 0 {
		return domain.RelinkResult{}, inventorydomain.ErrUnknownAccount
	}

	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	ctx, span := tracer.Start(ctx, "relink.Relink")
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("relink.axis", string(req.Axis)),
		attribute.String("correlation_id", correlationID),
	)...)
	defer span.End()

	var result domain.RelinkResult
	err := pkgdb.WithRetry(ctx, s.retryPolicy("relink"), func(ctx context.Context) error {
		unlock, err := s.locker.Lock(ctx, lock.AccountKey(req.AccountID))
		if err != nil {
			return err
		}
		defer unlock()

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, err := s.relinkLocked(ctx, tx, req)
			if err != nil {
				return err
			}
			result = res
			return nil
		}, pkgdb.CounterTx(s.db)...)
	})
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "relink failed")
		s.metrics.RecordRelink(ctx, string(req.Axis), resultFailed)
		s.ledger.IncRelink(string(req.Axis), resultFailed)
		return domain.RelinkResult{}, err
	}
	result.CorrelationID = correlationID

	outcome := resultUnchanged
	if result.Changed {
		outcome = resultChanged
		if result.Snapshot != nil {
			s.metrics.RecordSnapshots(ctx, string(result.Snapshot.SnapshotType), 1)
		}
		s.audit.Record(ctx, auditdomain.Event{
			Action:     auditdomain.ActionRelink,
			TargetType: string(inventorydomain.EntityAccount),
			TargetID:   req.AccountID.String(),
			Metadata: map[string]any{
				"axis":     string(req.Axis),
				"prior":    idString(result.Prior),
				"current":  idString(result.Current),
				"affected": len(result.Affected),
			},
		})
	}
	s.metrics.RecordRelink(ctx, string(req.Axis), outcome)
	s.ledger.IncRelink(string(req.Axis), outcome)

	s.log.Info("account relinked",
		zap.String("account_id", req.AccountID.String()),
		zap.String("axis", string(req.Axis)),
		zap.String("prior", idString(result.Prior)),
		zap.String("current", idString(result.Current)),
		zap.Bool("changed", result.Changed),
		zap.String("correlation_id", correlationID),
	)
	return result, nil
}

func (s *Service) relinkLocked(ctx context.Context, tx *gorm.DB, req domain.RelinkRequest) (domain.RelinkResult, error) {
	account, err := s.inventoryRepo.LockAccount(ctx, tx, req.AccountID)
	if err != nil {
		return domain.RelinkResult{}, err
	}
	if account == nil {
		return domain.RelinkResult{}, inventorydomain.ErrUnknownAccount
	}
	if err := s.ensureTarget(ctx, tx, req.Axis, req.EntityID); err != nil {
		return domain.RelinkResult{}, err
	}

	result, refs, err := s.apply(ctx, tx, *account, req.Axis, req.EntityID)
	if err != nil {
		return domain.RelinkResult{}, err
	}
	if !result.Changed {
		return result, nil
	}
	affected, err := s.engine.RecomputeRefs(ctx, tx, refs)
	if err != nil {
		return domain.RelinkResult{}, err
	}
	result.Affected = affected
	return result, nil
}

// apply snapshots and moves one locked account, returning the entities whose
// counters must be recomputed. The caller recomputes them in the same tx.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, account inventorydomain.Account, axis inventorydomain.Axis, target *snowflake.ID) (domain.RelinkResult, []inventorydomain.EntityRef, error) {
	prior := account.Pointer(axis)
	result := domain.RelinkResult{
		AccountID: account.ID,
		Axis:      axis,
		Prior:     prior,
		Current:   prior,
	}
	if inventorydomain.SameID(prior, target) {
		return result, nil, nil
	}

	now := s.clock.Now()
	if _, ok := snapshotdomain.TypeForAxis(axis); ok {
		snapshot, err := s.snapshots.Capture(ctx, tx, snapshotdomain.CaptureRequest{
			Account: account,
			Axis:    axis,
			At:      now,
		})
		if err != nil {
			return domain.RelinkResult{}, nil, err
		}
		result.Snapshot = &snapshot
	}

	if err := s.inventoryRepo.UpdateAttribution(ctx, tx, account.ID, axis, target, now); err != nil {
		return domain.RelinkResult{}, nil, err
	}

	entityType := axis.EntityType()
	var refs []inventorydomain.EntityRef
	if prior != nil {
		refs = append(refs, inventorydomain.EntityRef{Type: entityType, ID: *prior})
	}
	if target != nil {
		refs = append(refs, inventorydomain.EntityRef{Type: entityType, ID: *target})
	}

	result.Current = target
	result.Changed = true
	return result, refs, nil
}

func (s *Service) ensureTarget(ctx context.Context, tx *gorm.DB, axis inventorydomain.Axis, target *snowflake.ID) error {
	if target == nil {
		return nil
	}
	ref := inventorydomain.EntityRef{Type: axis.EntityType(), ID: *target}
	ok, err := s.inventoryRepo.EntityExists(ctx, tx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return ref.Type.UnknownErr()
	}
	return nil
}

func (s *Service) retryPolicy(operation string) pkgdb.RetryPolicy {
	policy := pkgdb.PolicyFrom(s.cfg.Get())
	policy.OnRetry = func(err error, wait time.Duration) {
		s.ledger.IncRetry(operation)
		s.log.Debug("retrying after conflict",
			zap.String("operation", operation),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return policy
}

func validateTarget(axis inventorydomain.Axis, target *snowflake.ID) error {
	if axis.EntityType() == "" {
		return inventorydomain.ErrInvalidAxis
	}
	if target != nil && *target == 0 {
		return inventorydomain.ErrInvalidID
	}
	if axis == inventorydomain.AxisBatch && target == nil {
		return inventorydomain.ErrBatchRequired
	}
	return nil
}

func idString(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
