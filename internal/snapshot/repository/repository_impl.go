package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/snapshot/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, snapshot *domain.SpendingSnapshot) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO spending_snapshots (id, account_id, snapshot_type, cumulative_amount, account_total, snapshot_at, prior_invoice_id, prior_customer_id, close_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.ID,
		snapshot.AccountID,
		snapshot.SnapshotType,
		snapshot.CumulativeAmount,
		snapshot.AccountTotal,
		snapshot.SnapshotAt,
		snapshot.PriorInvoiceID,
		snapshot.PriorCustomerID,
		snapshot.CloseDate,
		snapshot.CreatedAt,
	).Error
}

func (r *repo) InsertDailyIgnoreExisting(ctx context.Context, db *gorm.DB, snapshots []domain.SpendingSnapshot) (int64, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&snapshots)
	return res.RowsAffected, res.Error
}

func (r *repo) ListForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, filter domain.ListFilter) ([]domain.SpendingSnapshot, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.SpendingSnapshot{}).
		Where("account_id = ?", accountID)
	if filter.Type != "" {
		stmt = stmt.Where("snapshot_type = ?", filter.Type)
	}
	if !filter.From.IsZero() {
		stmt = stmt.Where("snapshot_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		stmt = stmt.Where("snapshot_at <= ?", filter.To)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	var snapshots []domain.SpendingSnapshot
	if err := stmt.Order("snapshot_at asc, id asc").Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (r *repo) FirstChangeAfter(ctx context.Context, db *gorm.DB, accountID snowflake.ID, snapshotType domain.SnapshotType, at time.Time) (*domain.SpendingSnapshot, error) {
	var snapshots []domain.SpendingSnapshot
	err := db.WithContext(ctx).
		Model(&domain.SpendingSnapshot{}).
		Where("account_id = ? AND snapshot_type = ? AND snapshot_at > ?", accountID, snapshotType, at).
		Order("snapshot_at asc, id asc").
		Limit(1).
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}

func (r *repo) AccountsWithPrior(ctx context.Context, db *gorm.DB, snapshotType domain.SnapshotType, entityID snowflake.ID) ([]snowflake.ID, error) {
	column := "prior_customer_id"
	if snapshotType == domain.SnapshotInvoiceChange {
		column = "prior_invoice_id"
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.SpendingSnapshot{}).
		Distinct("account_id").
		Where("snapshot_type = ? AND "+column+" = ?", snapshotType, entityID).
		Order("account_id asc").
		Pluck("account_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
