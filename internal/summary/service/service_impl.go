package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/clock"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	snapshotdomain "github.com/smallbiznis/spendledger/internal/snapshot/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	"github.com/smallbiznis/spendledger/internal/summary/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	InventoryRepo inventorydomain.Repository
	SpendingRepo  spendingdomain.Repository
	SnapshotRepo  snapshotdomain.Repository
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	inventoryRepo inventorydomain.Repository
	spendingRepo  spendingdomain.Repository
	snapshotRepo  snapshotdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("summary.service"),
		inventoryRepo: p.InventoryRepo,
		spendingRepo:  p.SpendingRepo,
		snapshotRepo:  p.SnapshotRepo,
	}
}

// scope selects the records and accounts belonging to an entity through its
// current attribution.
type scope struct {
	records  string
	accounts string
}

func scopeFor(entityType inventorydomain.EntityType) (scope, error) {
	switch entityType {
	case inventorydomain.EntityAccount:
		return scope{
			records:  `FROM spending_records s WHERE s.account_id = ?`,
			accounts: `FROM accounts a WHERE a.id = ?`,
		}, nil
	case inventorydomain.EntityCustomer, inventorydomain.EntityInvoice, inventorydomain.EntityBatch:
		column := pointerColumn(entityType)
		return scope{
			records:  fmt.Sprintf(`FROM spending_records s JOIN accounts a ON a.id = s.account_id WHERE a.%s = ?`, column),
			accounts: fmt.Sprintf(`FROM accounts a WHERE a.%s = ?`, column),
		}, nil
	}
	return scope{}, inventorydomain.ErrInvalidEntityType
}

func pointerColumn(entityType inventorydomain.EntityType) string {
	switch entityType {
	case inventorydomain.EntityCustomer:
		return inventorydomain.AxisCustomer.Column()
	case inventorydomain.EntityInvoice:
		return inventorydomain.AxisInvoice.Column()
	case inventorydomain.EntityBatch:
		return inventorydomain.AxisBatch.Column()
	}
	return ""
}

func (s *Service) GetEntitySummary(ctx context.Context, req domain.SummaryRequest) (domain.Summary, error) {
	sc, err := scopeFor(req.EntityType)
	if err != nil {
		return domain.Summary{}, err
	}
	if req.EntityID == 0 {
		return domain.Summary{}, inventorydomain.ErrInvalidID
	}
	rng, err := req.Range.Normalize()
	if err != nil {
		return domain.Summary{}, err
	}
	if rng.Bounded() && int(rng.To.Sub(rng.From)/(24*time.Hour))+1 > domain.MaxDailyPoints {
		return domain.Summary{}, domain.ErrRangeTooLarge
	}

	ref := inventorydomain.EntityRef{Type: req.EntityType, ID: req.EntityID}
	ok, err := s.inventoryRepo.EntityExists(ctx, s.db, ref)
	if err != nil {
		return domain.Summary{}, err
	}
	if !ok {
		return domain.Summary{}, ref.Type.UnknownErr()
	}

	db := s.db.WithContext(ctx)
	summary := domain.Summary{EntityType: req.EntityType, EntityID: req.EntityID}
	if !rng.From.IsZero() {
		from := rng.From
		summary.From = &from
	}
	if !rng.To.IsZero() {
		to := rng.To
		summary.To = &to
	}

	if err := db.Raw(`SELECT COALESCE(SUM(s.amount), 0) `+sc.records, req.EntityID).Scan(&summary.Lifetime).Error; err != nil {
		return domain.Summary{}, err
	}

	rangeSQL, rangeArgs := rangeFilter(rng)
	args := append([]any{req.EntityID}, rangeArgs...)
	if err := db.Raw(`SELECT COALESCE(SUM(s.amount), 0) `+sc.records+rangeSQL, args...).Scan(&summary.Total).Error; err != nil {
		return domain.Summary{}, err
	}

	var counts struct {
		Linked int64
		Active int64
	}
	err = db.Raw(
		`SELECT COUNT(1) AS linked, COALESCE(SUM(CASE WHEN a.status = ? THEN 1 ELSE 0 END), 0) AS active `+sc.accounts,
		inventorydomain.AccountStatusActive,
		req.EntityID,
	).Scan(&counts).Error
	if err != nil {
		return domain.Summary{}, err
	}
	summary.Lifetime = spendingdomain.RoundAmount(summary.Lifetime)
	summary.Total = spendingdomain.RoundAmount(summary.Total)
	summary.AccountCount = counts.Linked
	summary.ActiveAccountCount = counts.Active

	var points []domain.DailyPoint
	err = db.Raw(
		`SELECT s.spending_date AS date, COALESCE(SUM(s.amount), 0) AS amount `+sc.records+rangeSQL+
			` GROUP BY s.spending_date ORDER BY s.spending_date ASC`,
		args...,
	).Scan(&points).Error
	if err != nil {
		return domain.Summary{}, err
	}
	for i := range points {
		points[i].Amount = spendingdomain.RoundAmount(points[i].Amount)
	}
	summary.Daily = fillGaps(points, rng)
	return summary, nil
}

func rangeFilter(rng spendingdomain.DateRange) (string, []any) {
	var sql string
	var args []any
	if !rng.From.IsZero() {
		sql += ` AND s.spending_date >= ?`
		args = append(args, rng.From)
	}
	if !rng.To.IsZero() {
		sql += ` AND s.spending_date <= ?`
		args = append(args, rng.To)
	}
	return sql, args
}

// fillGaps returns one point per day of a bounded range, zero where nothing was spent.
func fillGaps(points []domain.DailyPoint, rng spendingdomain.DateRange) []domain.DailyPoint {
	if !rng.Bounded() {
		if points == nil {
			return []domain.DailyPoint{}
		}
		return points
	}
	byDay := make(map[time.Time]decimal.Decimal, len(points))
	for _, p := range points {
		byDay[clock.StartOfDay(p.Date)] = p.Amount
	}
	out := make([]domain.DailyPoint, 0, int(rng.To.Sub(rng.From)/(24*time.Hour))+1)
	for day := rng.From; !day.After(rng.To); day = day.AddDate(0, 0, 1) {
		amount, ok := byDay[day]
		if !ok {
			amount = decimal.Zero
		}
		out = append(out, domain.DailyPoint{Date: day, Amount: amount})
	}
	return out
}

func (s *Service) AttributedAsOf(ctx context.Context, axis inventorydomain.Axis, entityID snowflake.ID, asOf time.Time) (domain.AsOfResult, error) {
	snapshotType, ok := snapshotdomain.TypeForAxis(axis)
	if !ok {
		return domain.AsOfResult{}, inventorydomain.ErrInvalidAxis
	}
	if entityID == 0 {
		return domain.AsOfResult{}, inventorydomain.ErrInvalidID
	}
	if asOf.IsZero() {
		return domain.AsOfResult{}, domain.ErrInvalidAsOf
	}
	day := clock.StartOfDay(asOf)
	endOfDay := day.AddDate(0, 0, 1).Add(-time.Nanosecond)

	ref := inventorydomain.EntityRef{Type: axis.EntityType(), ID: entityID}
	exists, err := s.inventoryRepo.EntityExists(ctx, s.db, ref)
	if err != nil {
		return domain.AsOfResult{}, err
	}
	if !exists {
		return domain.AsOfResult{}, ref.Type.UnknownErr()
	}

	current, err := s.inventoryRepo.AccountsAttributedTo(ctx, s.db, axis, entityID)
	if err != nil {
		return domain.AsOfResult{}, err
	}
	former, err := s.snapshotRepo.AccountsWithPrior(ctx, s.db, snapshotType, entityID)
	if err != nil {
		return domain.AsOfResult{}, err
	}
	candidates := mergeIDs(current, former)
	accounts, err := s.inventoryRepo.FindAccounts(ctx, s.db, candidates)
	if err != nil {
		return domain.AsOfResult{}, err
	}

	var attributed []snowflake.ID
	currentSet := make(map[snowflake.ID]bool, len(accounts))
	for _, account := range accounts {
		pointer := account.Pointer(axis)
		isCurrent := pointer != nil && *pointer == entityID
		currentSet[account.ID] = isCurrent

		next, err := s.snapshotRepo.FirstChangeAfter(ctx, s.db, account.ID, snapshotType, endOfDay)
		if err != nil {
			return domain.AsOfResult{}, err
		}
		if next != nil {
			pointer = priorOn(*next, axis)
		}
		if pointer != nil && *pointer == entityID {
			attributed = append(attributed, account.ID)
		}
	}

	totals, err := s.spendingRepo.SumByAccountsUpTo(ctx, s.db, attributed, day)
	if err != nil {
		return domain.AsOfResult{}, err
	}
	result := domain.AsOfResult{
		Axis:     axis,
		EntityID: entityID,
		AsOf:     day,
		Total:    decimal.Zero,
		Accounts: make([]domain.AccountContribution, 0, len(attributed)),
	}
	for _, id := range attributed {
		amount := totals[id]
		result.Total = result.Total.Add(amount)
		result.Accounts = append(result.Accounts, domain.AccountContribution{
			AccountID: id,
			Amount:    amount,
			Current:   currentSet[id],
		})
	}
	return result, nil
}

func priorOn(snapshot snapshotdomain.SpendingSnapshot, axis inventorydomain.Axis) *snowflake.ID {
	if axis == inventorydomain.AxisInvoice {
		return snapshot.PriorInvoiceID
	}
	return snapshot.PriorCustomerID
}

func mergeIDs(a, b []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(a)+len(b))
	out := make([]snowflake.ID, 0, len(a)+len(b))
	for _, list := range [][]snowflake.ID{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
