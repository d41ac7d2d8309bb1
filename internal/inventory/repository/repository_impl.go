package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/inventory/domain"
	pkgdb "github.com/smallbiznis/spendledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, batch *domain.Batch) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO batches (id, name, total_spending, total_accounts, active_accounts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.Name,
		batch.TotalSpending,
		batch.TotalAccounts,
		batch.ActiveAccounts,
		batch.CreatedAt,
		batch.UpdatedAt,
	).Error
}

func (r *repo) InsertCustomer(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, name, total_spending, linked_accounts_count, active_accounts_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.Name,
		customer.TotalSpending,
		customer.LinkedAccountsCount,
		customer.ActiveAccountsCount,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) InsertInvoiceEntity(ctx context.Context, db *gorm.DB, entity *domain.InvoiceEntity) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_entities (id, name, total_spending, linked_accounts_count, active_accounts_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entity.ID,
		entity.Name,
		entity.TotalSpending,
		entity.LinkedAccountsCount,
		entity.ActiveAccountsCount,
		entity.CreatedAt,
		entity.UpdatedAt,
	).Error
}

func (r *repo) InsertAccount(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, external_ref, name, batch_id, current_invoice_id, current_customer_id, status, total_spending, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.ExternalRef,
		account.Name,
		account.BatchID,
		account.CurrentInvoiceID,
		account.CurrentCustomerID,
		account.Status,
		account.TotalSpending,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var accounts []domain.Account
	err := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Limit(1).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

func (r *repo) FindAccounts(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var accounts []domain.Account
	err := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id IN ?", ids).
		Order("id asc").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) LockAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	accounts, err := r.LockAccounts(ctx, db, []snowflake.ID{id})
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

func (r *repo) LockAccounts(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stmt := db.WithContext(ctx).Model(&domain.Account{})
	if pkgdb.SupportsRowLocks(db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var accounts []domain.Account
	err := stmt.
		Where("id IN ?", ids).
		Order("id asc").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) EntityExists(ctx context.Context, db *gorm.DB, ref domain.EntityRef) (bool, error) {
	table := ref.Type.Table()
	if table == "" {
		return false, domain.ErrInvalidEntityType
	}
	var count int64
	err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE id = ?`, table),
		ref.ID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) UpdateAttribution(ctx context.Context, db *gorm.DB, accountID snowflake.ID, axis domain.Axis, entityID *snowflake.ID, now time.Time) error {
	column := axis.Column()
	if column == "" {
		return domain.ErrInvalidAxis
	}
	return db.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE accounts SET %s = ?, updated_at = ? WHERE id = ?`, column),
		entityID,
		now,
		accountID,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, ids []snowflake.ID, status domain.AccountStatus, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id IN ? AND status <> ?`,
		status,
		now,
		ids,
		status,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListIDsAfter(ctx context.Context, db *gorm.DB, entityType domain.EntityType, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	table := entityType.Table()
	if table == "" {
		return nil, domain.ErrInvalidEntityType
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT id FROM %s WHERE id > ? ORDER BY id ASC LIMIT ?`, table),
		afterID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListAccountsByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM accounts WHERE batch_id = ? ORDER BY id ASC`,
		batchID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) AccountsAttributedTo(ctx context.Context, db *gorm.DB, axis domain.Axis, entityID snowflake.ID) ([]snowflake.ID, error) {
	column := axis.Column()
	if column == "" {
		return nil, domain.ErrInvalidAxis
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT id FROM accounts WHERE %s = ? ORDER BY id ASC`, column),
		entityID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
