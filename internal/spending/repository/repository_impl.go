package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/spending/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByAccountDate(ctx context.Context, db *gorm.DB, accountID snowflake.ID, date time.Time) (*domain.SpendingRecord, error) {
	var records []domain.SpendingRecord
	err := db.WithContext(ctx).
		Model(&domain.SpendingRecord{}).
		Where("account_id = ? AND spending_date = ?", accountID, date).
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.SpendingRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO spending_records (id, account_id, amount, currency, spending_date, period_start, period_end, invoice_id, customer_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AccountID,
		record.Amount,
		record.Currency,
		record.SpendingDate,
		record.PeriodStart,
		record.PeriodEnd,
		record.InvoiceID,
		record.CustomerID,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, record *domain.SpendingRecord) error {
	return db.WithContext(ctx).Exec(
		`UPDATE spending_records
		 SET amount = ?, currency = ?, period_start = ?, period_end = ?, invoice_id = ?, customer_id = ?, updated_at = ?
		 WHERE id = ?`,
		record.Amount,
		record.Currency,
		record.PeriodStart,
		record.PeriodEnd,
		record.InvoiceID,
		record.CustomerID,
		record.UpdatedAt,
		record.ID,
	).Error
}

func (r *repo) UpdateDates(ctx context.Context, db *gorm.DB, record *domain.SpendingRecord) error {
	return db.WithContext(ctx).Exec(
		`UPDATE spending_records SET spending_date = ?, period_start = ?, period_end = ?, updated_at = ? WHERE id = ?`,
		record.SpendingDate,
		record.PeriodStart,
		record.PeriodEnd,
		record.UpdatedAt,
		record.ID,
	).Error
}

func (r *repo) NormalizeCurrency(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID, from []string, to string, now time.Time) (int64, error) {
	if len(accountIDs) == 0 || len(from) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE spending_records SET currency = ?, updated_at = ?
		 WHERE account_id IN ? AND UPPER(TRIM(currency)) IN ? AND currency <> ?`,
		to,
		now,
		accountIDs,
		from,
		to,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) BackfillAttribution(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID, now time.Time) (int64, error) {
	if len(accountIDs) == 0 {
		return 0, nil
	}
	var total int64
	res := db.WithContext(ctx).Exec(
		`UPDATE spending_records
		 SET invoice_id = (SELECT a.current_invoice_id FROM accounts a WHERE a.id = spending_records.account_id),
		     updated_at = ?
		 WHERE account_id IN ? AND invoice_id IS NULL
		   AND EXISTS (SELECT 1 FROM accounts a WHERE a.id = spending_records.account_id AND a.current_invoice_id IS NOT NULL)`,
		now,
		accountIDs,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	total += res.RowsAffected
	res = db.WithContext(ctx).Exec(
		`UPDATE spending_records
		 SET customer_id = (SELECT a.current_customer_id FROM accounts a WHERE a.id = spending_records.account_id),
		     updated_at = ?
		 WHERE account_id IN ? AND customer_id IS NULL
		   AND EXISTS (SELECT 1 FROM accounts a WHERE a.id = spending_records.account_id AND a.current_customer_id IS NOT NULL)`,
		now,
		accountIDs,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return total + res.RowsAffected, nil
}

func (r *repo) AccountsWithCurrency(ctx context.Context, db *gorm.DB, currencies []string) ([]snowflake.ID, error) {
	if len(currencies) == 0 {
		return nil, nil
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT account_id FROM spending_records WHERE UPPER(TRIM(currency)) IN ? ORDER BY account_id ASC`,
		currencies,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) AccountsMissingAttribution(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT s.account_id FROM spending_records s
		 JOIN accounts a ON a.id = s.account_id
		 WHERE (s.invoice_id IS NULL AND a.current_invoice_id IS NOT NULL)
		    OR (s.customer_id IS NULL AND a.current_customer_id IS NOT NULL)
		 ORDER BY s.account_id ASC`,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, rng domain.DateRange) ([]domain.SpendingRecord, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.SpendingRecord{}).
		Where("account_id = ?", accountID)
	if !rng.From.IsZero() {
		stmt = stmt.Where("spending_date >= ?", rng.From)
	}
	if !rng.To.IsZero() {
		stmt = stmt.Where("spending_date <= ?", rng.To)
	}
	var records []domain.SpendingRecord
	if err := stmt.Order("spending_date asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) SumByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM spending_records WHERE account_id = ?`,
		accountID,
	).Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return domain.RoundAmount(total), nil
}

func (r *repo) SumByAccountsUpTo(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID, day time.Time) (map[snowflake.ID]decimal.Decimal, error) {
	out := make(map[snowflake.ID]decimal.Decimal, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	type row struct {
		AccountID snowflake.ID
		Total     decimal.Decimal
	}
	var rows []row
	err := db.WithContext(ctx).Raw(
		`SELECT account_id, COALESCE(SUM(amount), 0) AS total
		 FROM spending_records
		 WHERE account_id IN ? AND spending_date <= ?
		 GROUP BY account_id`,
		accountIDs,
		day,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, id := range accountIDs {
		out[id] = decimal.Zero
	}
	for _, r := range rows {
		out[r.AccountID] = domain.RoundAmount(r.Total)
	}
	return out, nil
}
