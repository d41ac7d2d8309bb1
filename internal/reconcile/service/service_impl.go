package service

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/aggregation"
	auditdomain "github.com/smallbiznis/spendledger/internal/audit/domain"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/config"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/lock"
	"github.com/smallbiznis/spendledger/internal/observability/metrics"
	"github.com/smallbiznis/spendledger/internal/observability/tracing"
	"github.com/smallbiznis/spendledger/internal/reconcile/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	pkgdb "github.com/smallbiznis/spendledger/pkg/db"
	"github.com/smallbiznis/spendledger/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("spendledger/reconcile")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	InventoryRepo inventorydomain.Repository
	SpendingRepo  spendingdomain.Repository
	JobRepo       domain.JobRepository
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
	genID         *snowflake.Node
	inventoryRepo inventorydomain.Repository
	spendingRepo  spendingdomain.Repository
	jobRepo       domain.JobRepository
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
		log:           p.Log.Named("reconcile.service"),
		genID:         p.GenID,
		inventoryRepo: p.InventoryRepo,
		spendingRepo:  p.SpendingRepo,
		jobRepo:       p.JobRepo,
		engine:        p.Engine,
		locker:        p.Locker,
		cfg:           p.Config,
		clock:         p.Clock,
		audit:         audit,
		metrics:       p.Metrics,
		ledger:        p.Ledger,
	}
}

// collector merges batch outcomes from concurrent workers into one report.
type collector struct {
	mu        sync.Mutex
	report    *domain.Report
	tolerance decimal.Decimal
}

// ReconcileAll recomputes every counter from the ledger, leaves first, in
// keyset pages processed by a bounded worker pool. Each page commits on its
// own, so cancellation between pages never leaves a page half-applied.
func (s *Service) ReconcileAll(ctx context.Context, opts domain.Options) (domain.Report, error) {
	cfg := s.cfg.Get()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = cfg.BatchSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.Concurrency
	}
	types := opts.Types
	if len(types) == 0 {
		types = inventorydomain.EntityTypes
	}

	runID := correlation.NewID()
	ctx = correlation.ContextWithCorrelationID(ctx, runID)
	ctx, span := tracer.Start(ctx, "reconcile.ReconcileAll")
	defer span.End()

	report := domain.Report{RunID: runID, StartedAt: s.clock.Now()}
	col := &collector{report: &report, tolerance: decimal.NewFromFloat(cfg.Tolerance)}
	log := s.log.With(zap.String("run_id", runID))
	log.Info("reconcile started",
		zap.Int("batch_size", batchSize),
		zap.Int("concurrency", concurrency),
	)

	var fatal error
	for _, entityType := range types {
		if err := s.reconcileType(ctx, log, entityType, batchSize, concurrency, col); err != nil {
			if ctx.Err() != nil {
				report.Canceled = true
			} else {
				fatal = err
			}
			break
		}
	}
	report.FinishedAt = s.clock.Now()

	status := metrics.ReconcileStatusCompleted
	switch {
	case fatal != nil:
		status = metrics.ReconcileStatusFailed
	case report.Canceled:
		status = metrics.ReconcileStatusCanceled
	case len(report.Failures) > 0:
		status = metrics.ReconcileStatusPartial
	}
	s.ledger.ObserveReconcileRun(status, report.FinishedAt.Sub(report.StartedAt))
	span.SetAttributes(
		attribute.String("reconcile.status", status),
		attribute.Int("reconcile.scanned", report.Scanned),
		attribute.Int("reconcile.corrected", report.Corrected),
	)

	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionReconcileAll,
		TargetType: "reconcile_run",
		TargetID:   runID,
		Metadata: map[string]any{
			"status":     status,
			"scanned":    report.Scanned,
			"corrected":  report.Corrected,
			"violations": report.Violations,
			"failures":   len(report.Failures),
		},
	})
	log.Info("reconcile finished",
		zap.String("status", status),
		zap.Int("scanned", report.Scanned),
		zap.Int("corrected", report.Corrected),
		zap.Int("violations", report.Violations),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	switch {
	case fatal != nil:
		span.RecordError(tracing.SafeError(fatal))
		span.SetStatus(codes.Error, "reconcile failed")
		return report, fatal
	case report.Canceled:
		return report, ctx.Err()
	}
	return report, report.Err()
}

func (s *Service) reconcileType(ctx context.Context, log *zap.Logger, entityType inventorydomain.EntityType, batchSize, concurrency int, col *collector) error {
	var g errgroup.Group
	g.SetLimit(concurrency)

	var after snowflake.ID
	var pageErr error
	for {
		if err := ctx.Err(); err != nil {
			pageErr = err
			break
		}
		ids, err := s.inventoryRepo.ListIDsAfter(ctx, s.db, entityType, after, batchSize)
		if err != nil {
			pageErr = err
			break
		}
		if len(ids) == 0 {
			break
		}
		after = ids[len(ids)-1]

		g.Go(func() error {
			s.reconcileBatch(ctx, log, entityType, ids, col)
			return nil
		})
		if len(ids) < batchSize {
			break
		}
	}
	_ = g.Wait()
	if pageErr != nil {
		return pageErr
	}
	return ctx.Err()
}

// reconcileBatch recomputes one page in a single transaction. A failed page
// is retried one entity at a time and the entities that still fail are
// recorded as row failures.
func (s *Service) reconcileBatch(ctx context.Context, log *zap.Logger, entityType inventorydomain.EntityType, ids []snowflake.ID, col *collector) {
	if ctx.Err() != nil {
		return
	}
	results, err := s.recompute(ctx, entityType, ids)
	if err == nil {
		col.add(s, log, entityType, results)
		s.metrics.RecordReconcileRows(ctx, string(entityType), len(ids))
		log.Debug("reconcile batch",
			zap.String("entity_type", string(entityType)),
			zap.Int("size", len(ids)),
			zap.String("first_id", ids[0].String()),
		)
		return
	}
	if ctx.Err() != nil {
		return
	}

	log.Warn("reconcile batch failed, retrying rows",
		zap.String("entity_type", string(entityType)),
		zap.Int("size", len(ids)),
		zap.Error(err),
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		results, err := s.recompute(ctx, entityType, []snowflake.ID{id})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			col.fail(s, entityType, id, err)
			continue
		}
		col.add(s, log, entityType, results)
	}
	s.metrics.RecordReconcileRows(ctx, string(entityType), len(ids))
}

// recompute runs one locked transaction over ids. Accounts are also taken
// under their per-account locks so an in-flight spend write cannot interleave.
func (s *Service) recompute(ctx context.Context, entityType inventorydomain.EntityType, ids []snowflake.ID) ([]aggregation.Result, error) {
	var results []aggregation.Result
	err := pkgdb.WithRetry(ctx, s.retryPolicy("reconcile"), func(ctx context.Context) error {
		if entityType == inventorydomain.EntityAccount {
			unlock, err := s.locker.Lock(ctx, lock.AccountKeys(ids)...)
			if err != nil {
				return err
			}
			defer unlock()
		}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, err := s.engine.RecomputeMany(ctx, tx, entityType, ids)
			if err != nil {
				return err
			}
			results = res
			return nil
		}, pkgdb.CounterTx(s.db)...)
	})
	return results, err
}

func (c *collector) add(s *Service, log *zap.Logger, entityType inventorydomain.EntityType, results []aggregation.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.report.Scanned += len(results)
	for _, res := range results {
		if !res.Changed {
			continue
		}
		entry := newEntry(res, c.tolerance)
		c.report.Corrected++
		c.report.Entries = append(c.report.Entries, entry)
		s.ledger.IncCorrection(string(entityType))
		if entry.Violation {
			c.report.Violations++
			s.ledger.IncConsistencyViolation(string(entityType))
			log.Warn("consistency violation corrected",
				zap.String("entity", res.Entity.String()),
				zap.String("cached_total", res.Old.TotalSpending.String()),
				zap.String("recomputed_total", res.New.TotalSpending.String()),
				zap.Int64("cached_linked", res.Old.Linked),
				zap.Int64("recomputed_linked", res.New.Linked),
				zap.Int64("cached_active", res.Old.Active),
				zap.Int64("recomputed_active", res.New.Active),
			)
		}
	}
}

func (c *collector) fail(s *Service, entityType inventorydomain.EntityType, id snowflake.ID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.report.Failures = append(c.report.Failures, domain.RowFailure{
		EntityType: string(entityType),
		EntityID:   id.String(),
		Code:       errs.CodeOf(err),
		Error:      err.Error(),
	})
	s.ledger.IncRowFailure(string(entityType))
}

// ReconcileEntity recomputes and rewrites one entity.
func (s *Service) ReconcileEntity(ctx context.Context, ref inventorydomain.EntityRef) (domain.Entry, error) {
	if err := validateRef(ref); err != nil {
		return domain.Entry{}, err
	}
	results, err := s.recompute(ctx, ref.Type, []snowflake.ID{ref.ID})
	if err != nil {
		return domain.Entry{}, err
	}
	if len(results) == 0 {
		return domain.Entry{}, ref.Type.UnknownErr()
	}

	entry := newEntry(results[0], decimal.NewFromFloat(s.cfg.Get().Tolerance))
	if entry.Corrected {
		s.ledger.IncCorrection(string(ref.Type))
		if entry.Violation {
			s.ledger.IncConsistencyViolation(string(ref.Type))
			s.log.Warn("consistency violation corrected",
				zap.String("entity", ref.String()),
				zap.String("cached_total", entry.Old.TotalSpending.String()),
				zap.String("recomputed_total", entry.New.TotalSpending.String()),
			)
		}
		s.audit.Record(ctx, auditdomain.Event{
			Action:     auditdomain.ActionReconcileEntity,
			TargetType: string(ref.Type),
			TargetID:   ref.ID.String(),
			Metadata: map[string]any{
				"old_total": entry.Old.TotalSpending.String(),
				"new_total": entry.New.TotalSpending.String(),
				"violation": entry.Violation,
			},
		})
	}
	return entry, nil
}

// Verify compares the cache with a fresh recompute without writing anything.
func (s *Service) Verify(ctx context.Context, ref inventorydomain.EntityRef) (domain.Entry, error) {
	if err := validateRef(ref); err != nil {
		return domain.Entry{}, err
	}
	ids := []snowflake.ID{ref.ID}
	cached, err := s.engine.Cached(ctx, s.db, ref.Type, ids)
	if err != nil {
		return domain.Entry{}, err
	}
	old, ok := cached[ref.ID]
	if !ok {
		return domain.Entry{}, ref.Type.UnknownErr()
	}
	truth, err := s.engine.Compute(ctx, s.db, ref.Type, ids)
	if err != nil {
		return domain.Entry{}, err
	}

	entry := newEntry(aggregation.Result{
		Entity:  ref,
		Old:     old,
		New:     truth[ref.ID],
		Changed: !old.Equal(truth[ref.ID]),
	}, decimal.NewFromFloat(s.cfg.Get().Tolerance))
	// nothing is written
	entry.Corrected = false
	if entry.Violation {
		return entry, errs.ErrConsistencyViolation
	}
	return entry, nil
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

func newEntry(res aggregation.Result, tolerance decimal.Decimal) domain.Entry {
	drift := res.Old.TotalSpending.Sub(res.New.TotalSpending).Abs()
	return domain.Entry{
		Entity:    res.Entity,
		Old:       res.Old,
		New:       res.New,
		Corrected: res.Changed,
		Violation: drift.GreaterThan(tolerance) ||
			res.Old.Linked != res.New.Linked ||
			res.Old.Active != res.New.Active,
	}
}

func validateRef(ref inventorydomain.EntityRef) error {
	if ref.Type.Table() == "" {
		return inventorydomain.ErrInvalidEntityType
	}
	if ref.ID == 0 {
		return inventorydomain.ErrInvalidID
	}
	return nil
}
