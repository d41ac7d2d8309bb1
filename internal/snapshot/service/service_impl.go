package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/config"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/observability/metrics"
	"github.com/smallbiznis/spendledger/internal/snapshot/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          domain.Repository
	SpendingRepo  spendingdomain.Repository
	InventoryRepo inventorydomain.Repository
	Config        *config.ReconcileConfigHolder
	Clock         clock.Clock
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          domain.Repository
	spendingRepo  spendingdomain.Repository
	inventoryRepo inventorydomain.Repository
	cfg           *config.ReconcileConfigHolder
	clock         clock.Clock
	metrics       *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("snapshot.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		spendingRepo:  p.SpendingRepo,
		inventoryRepo: p.InventoryRepo,
		cfg:           p.Config,
		clock:         p.Clock,
		metrics:       p.Metrics,
	}
}

// Capture records the account's attribution on req.Axis before it changes.
// The cumulative amount is read from the ledger inside tx, never from the cache.
func (s *Service) Capture(ctx context.Context, tx *gorm.DB, req domain.CaptureRequest) (domain.SpendingSnapshot, error) {
	snapshotType, ok := domain.TypeForAxis(req.Axis)
	if !ok {
		return domain.SpendingSnapshot{}, domain.ErrInvalidAxis
	}
	if req.Account.ID == 0 {
		return domain.SpendingSnapshot{}, domain.ErrUnknownAccount
	}

	total, err := s.spendingRepo.SumByAccount(ctx, tx, req.Account.ID)
	if err != nil {
		return domain.SpendingSnapshot{}, err
	}

	at := req.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	snapshot := domain.SpendingSnapshot{
		ID:               s.genID.Generate(),
		AccountID:        req.Account.ID,
		SnapshotType:     snapshotType,
		CumulativeAmount: domain.CumulativeFor(req.Account.Pointer(req.Axis), total),
		AccountTotal:     total,
		SnapshotAt:       at,
		PriorInvoiceID:   req.Account.CurrentInvoiceID,
		PriorCustomerID:  req.Account.CurrentCustomerID,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, tx, &snapshot); err != nil {
		return domain.SpendingSnapshot{}, err
	}
	return snapshot, nil
}

// CaptureDailyFinal writes one DAILY_FINAL snapshot per account for day.
// Re-running for a closed day writes nothing.
func (s *Service) CaptureDailyFinal(ctx context.Context, day time.Time) (domain.DailyCloseReport, error) {
	if day.IsZero() {
		return domain.DailyCloseReport{}, domain.ErrInvalidDay
	}
	day = clock.StartOfDay(day)
	closeDate := day
	snapshotAt := day.Add(24*time.Hour - time.Second)
	report := domain.DailyCloseReport{Day: day}

	batchSize := s.cfg.Get().BatchSize
	var after snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		ids, err := s.inventoryRepo.ListIDsAfter(ctx, s.db, inventorydomain.EntityAccount, after, batchSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			break
		}
		after = ids[len(ids)-1]

		accounts, err := s.inventoryRepo.FindAccounts(ctx, s.db, ids)
		if err != nil {
			return report, err
		}
		totals, err := s.spendingRepo.SumByAccountsUpTo(ctx, s.db, ids, day)
		if err != nil {
			return report, err
		}

		now := s.clock.Now()
		rows := make([]domain.SpendingSnapshot, 0, len(accounts))
		for _, account := range accounts {
			total := totals[account.ID]
			rows = append(rows, domain.SpendingSnapshot{
				ID:               s.genID.Generate(),
				AccountID:        account.ID,
				SnapshotType:     domain.SnapshotDailyFinal,
				CumulativeAmount: total,
				AccountTotal:     total,
				SnapshotAt:       snapshotAt,
				PriorInvoiceID:   account.CurrentInvoiceID,
				PriorCustomerID:  account.CurrentCustomerID,
				CloseDate:        &closeDate,
				CreatedAt:        now,
			})
		}

		written, err := s.repo.InsertDailyIgnoreExisting(ctx, s.db, rows)
		if err != nil {
			return report, err
		}
		report.Accounts += len(rows)
		report.Written += int(written)
		report.Existing += len(rows) - int(written)
		s.metrics.RecordSnapshots(ctx, string(domain.SnapshotDailyFinal), written)

		s.log.Debug("daily close batch",
			zap.Time("day", day),
			zap.Int("accounts", len(rows)),
			zap.Int64("written", written),
		)
		if len(ids) < batchSize {
			break
		}
	}

	s.log.Info("daily close completed",
		zap.Time("day", day),
		zap.Int("accounts", report.Accounts),
		zap.Int("written", report.Written),
		zap.Int("existing", report.Existing),
	)
	return report, nil
}

func (s *Service) ListForAccount(ctx context.Context, accountID snowflake.ID, filter domain.ListFilter) ([]domain.SpendingSnapshot, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domain.ErrInvalidSnapshotType
	}
	account, err := s.inventoryRepo.FindAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrUnknownAccount
	}
	return s.repo.ListForAccount(ctx, s.db, accountID, filter)
}
