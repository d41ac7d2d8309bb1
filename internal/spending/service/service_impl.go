package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/aggregation"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/config"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/lock"
	"github.com/smallbiznis/spendledger/internal/observability/metrics"
	"github.com/smallbiznis/spendledger/internal/spending/domain"
	pkgdb "github.com/smallbiznis/spendledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          domain.Repository
	InventoryRepo inventorydomain.Repository
	Engine        *aggregation.Engine
	Locker        lock.Locker
	Config        *config.ReconcileConfigHolder
	Clock         clock.Clock
	Metrics       *metrics.Metrics       `optional:"true"`
	Ledger        *metrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          domain.Repository
	inventoryRepo inventorydomain.Repository
	engine        *aggregation.Engine
	locker        lock.Locker
	cfg           *config.ReconcileConfigHolder
	clock         clock.Clock
	metrics       *metrics.Metrics
	ledger        *metrics.LedgerMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("spending.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		inventoryRepo: p.InventoryRepo,
		engine:        p.Engine,
		locker:        p.Locker,
		cfg:           p.Config,
		clock:         p.Clock,
		metrics:       p.Metrics,
		ledger:        p.Ledger,
	}
}

// RecordSpend upserts the record for (account, day). A replaced amount
// propagates only its delta to the cached counters.
func (s *Service) RecordSpend(ctx context.Context, req domain.RecordSpendRequest) (domain.RecordSpendResult, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return domain.RecordSpendResult{}, err
	}

	policy := pkgdb.PolicyFrom(s.cfg.Get())
	policy.OnRetry = func(err error, wait time.Duration) {
		s.ledger.IncRetry("record_spend")
		s.log.Debug("retrying spend write",
			zap.String("account_id", req.AccountID.String()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	var result domain.RecordSpendResult
	err = pkgdb.WithRetry(ctx, policy, func(ctx context.Context) error {
		unlock, err := s.locker.Lock(ctx, lock.AccountKey(req.AccountID))
		if err != nil {
			return err
		}
		defer unlock()

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, err := s.upsert(ctx, tx, req)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return domain.RecordSpendResult{}, err
	}

	s.metrics.RecordSpendWrite(ctx, string(result.Outcome), result.Record.Currency)
	s.ledger.IncSpendRecord(string(result.Outcome))
	s.log.Debug("spend recorded",
		zap.String("account_id", req.AccountID.String()),
		zap.Time("spending_date", req.Date),
		zap.String("outcome", string(result.Outcome)),
		zap.String("delta", result.Delta.String()),
	)
	return result, nil
}

func (s *Service) upsert(ctx context.Context, tx *gorm.DB, req domain.RecordSpendRequest) (domain.RecordSpendResult, error) {
	account, err := s.inventoryRepo.LockAccount(ctx, tx, req.AccountID)
	if err != nil {
		return domain.RecordSpendResult{}, err
	}
	if account == nil {
		return domain.RecordSpendResult{}, domain.ErrUnknownAccount
	}

	existing, err := s.repo.FindByAccountDate(ctx, tx, req.AccountID, req.Date)
	if err != nil {
		return domain.RecordSpendResult{}, err
	}

	now := s.clock.Now()
	if existing == nil {
		record := domain.SpendingRecord{
			ID:           s.genID.Generate(),
			AccountID:    req.AccountID,
			Amount:       req.Amount,
			Currency:     req.Currency,
			SpendingDate: req.Date,
			PeriodStart:  req.PeriodStart,
			PeriodEnd:    req.PeriodEnd,
			InvoiceID:    account.CurrentInvoiceID,
			CustomerID:   account.CurrentCustomerID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.Insert(ctx, tx, &record); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				// a writer outside the account lock got there first
				return domain.RecordSpendResult{}, fmt.Errorf("%w: %w", errs.ErrConcurrencyConflict, err)
			}
			return domain.RecordSpendResult{}, err
		}
		if err := s.engine.ApplyDelta(ctx, tx, *account, record.Amount); err != nil {
			return domain.RecordSpendResult{}, err
		}
		return domain.RecordSpendResult{
			Record:  record,
			Delta:   record.Amount,
			Outcome: domain.OutcomeInserted,
		}, nil
	}

	previous := domain.RoundAmount(existing.Amount)
	delta := req.Amount.Sub(previous)
	record := *existing
	record.Amount = req.Amount
	record.Currency = req.Currency
	record.PeriodStart = req.PeriodStart
	record.PeriodEnd = req.PeriodEnd
	record.InvoiceID = account.CurrentInvoiceID
	record.CustomerID = account.CurrentCustomerID

	if sameRecord(*existing, record) {
		return domain.RecordSpendResult{
			Record:   *existing,
			Previous: &previous,
			Delta:    decimal.Zero,
			Outcome:  domain.OutcomeUnchanged,
		}, nil
	}

	record.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, &record); err != nil {
		return domain.RecordSpendResult{}, err
	}
	if err := s.engine.ApplyDelta(ctx, tx, *account, delta); err != nil {
		return domain.RecordSpendResult{}, err
	}
	return domain.RecordSpendResult{
		Record:   record,
		Previous: &previous,
		Delta:    delta,
		Outcome:  domain.OutcomeReplaced,
	}, nil
}

func (s *Service) RecordsForAccount(ctx context.Context, accountID snowflake.ID, rng domain.DateRange) ([]domain.SpendingRecord, error) {
	rng, err := rng.Normalize()
	if err != nil {
		return nil, err
	}
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListByAccount(ctx, s.db, accountID, rng)
}

// AggregateSpend sums the stored records. It never reads the cached total.
func (s *Service) AggregateSpend(ctx context.Context, accountID snowflake.ID) (decimal.Decimal, error) {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	return s.repo.SumByAccount(ctx, s.db, accountID)
}

func (s *Service) ensureAccount(ctx context.Context, accountID snowflake.ID) error {
	if accountID == 0 {
		return domain.ErrUnknownAccount
	}
	account, err := s.inventoryRepo.FindAccount(ctx, s.db, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return domain.ErrUnknownAccount
	}
	return nil
}

func normalizeRequest(req domain.RecordSpendRequest) (domain.RecordSpendRequest, error) {
	if req.AccountID == 0 {
		return req, domain.ErrUnknownAccount
	}
	if req.Amount.IsNegative() || !domain.FitsScale(req.Amount) {
		return req, domain.ErrInvalidAmount
	}
	if req.Date.IsZero() {
		return req, domain.ErrInvalidDate
	}
	req.Date = clock.StartOfDay(req.Date)

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if !currencyPattern.MatchString(req.Currency) {
		return req, domain.ErrInvalidCurrency
	}

	if req.PeriodStart.IsZero() {
		req.PeriodStart = req.Date
	}
	if req.PeriodEnd.IsZero() {
		req.PeriodEnd = req.Date
	}
	req.PeriodStart = clock.StartOfDay(req.PeriodStart)
	req.PeriodEnd = clock.StartOfDay(req.PeriodEnd)
	if req.PeriodEnd.Before(req.PeriodStart) {
		return req, domain.ErrInvalidPeriod
	}
	if req.Date.Before(req.PeriodStart) || req.Date.After(req.PeriodEnd) {
		return req, domain.ErrInvalidPeriod
	}
	return req, nil
}

func sameRecord(a, b domain.SpendingRecord) bool {
	return a.Amount.Equal(b.Amount) &&
		a.Currency == b.Currency &&
		a.PeriodStart.Equal(b.PeriodStart) &&
		a.PeriodEnd.Equal(b.PeriodEnd) &&
		inventorydomain.SameID(a.InvoiceID, b.InvoiceID) &&
		inventorydomain.SameID(a.CustomerID, b.CustomerID)
}
