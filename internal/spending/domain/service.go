package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/errs"
	"gorm.io/gorm"
)

// DateRange bounds spending dates inclusively. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Normalize truncates both bounds to UTC days and rejects inverted ranges.
func (r DateRange) Normalize() (DateRange, error) {
	out := DateRange{}
	if !r.From.IsZero() {
		out.From = clock.StartOfDay(r.From)
	}
	if !r.To.IsZero() {
		out.To = clock.StartOfDay(r.To)
	}
	if !out.From.IsZero() && !out.To.IsZero() && out.From.After(out.To) {
		return DateRange{}, ErrInvalidDateRange
	}
	return out, nil
}

func (r DateRange) Bounded() bool {
	return !r.From.IsZero() && !r.To.IsZero()
}

type RecordSpendRequest struct {
	AccountID   snowflake.ID
	Date        time.Time
	Amount      decimal.Decimal
	Currency    string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

type RecordSpendResult struct {
	Record   SpendingRecord   `json:"record"`
	Previous *decimal.Decimal `json:"previous,omitempty"`
	Delta    decimal.Decimal  `json:"delta"`
	Outcome  Outcome          `json:"outcome"`
}

type Service interface {
	RecordSpend(ctx context.Context, req RecordSpendRequest) (RecordSpendResult, error)
	RecordsForAccount(ctx context.Context, accountID snowflake.ID, rng DateRange) ([]SpendingRecord, error)
	AggregateSpend(ctx context.Context, accountID snowflake.ID) (decimal.Decimal, error)
}

type Repository interface {
	FindByAccountDate(ctx context.Context, db *gorm.DB, accountID snowflake.ID, date time.Time) (*SpendingRecord, error)
	Insert(ctx context.Context, db *gorm.DB, record *SpendingRecord) error
	Update(ctx context.Context, db *gorm.DB, record *SpendingRecord) error
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, rng DateRange) ([]SpendingRecord, error)
	SumByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (decimal.Decimal, error)
	// UpdateDates moves a record to another day. The caller checks the target day is free.
	UpdateDates(ctx context.Context, db *gorm.DB, record *SpendingRecord) error
	// NormalizeCurrency rewrites currencies matching any of from (case-insensitive) to to.
	NormalizeCurrency(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID, from []string, to string, now time.Time) (int64, error)
	// BackfillAttribution fills null attribution from the accounts' current pointers.
	BackfillAttribution(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID, now time.Time) (int64, error)
	// AccountsWithCurrency lists accounts having records in any of the currencies.
	AccountsWithCurrency(ctx context.Context, db *gorm.DB, currencies []string) ([]snowflake.ID, error)
	// AccountsMissingAttribution lists accounts having records with null attribution
	// that their current pointers could fill.
	AccountsMissingAttribution(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
	// SumByAccountsUpTo sums records with spending_date <= day per account.
	SumByAccountsUpTo(ctx context.Context, db *gorm.DB, accountIDs []snowflake.ID, day time.Time) (map[snowflake.ID]decimal.Decimal, error)
}

var (
	ErrInvalidAmount    = errs.New(errs.KindInvalidInput, "invalid_amount")
	ErrInvalidDate      = errs.New(errs.KindInvalidInput, "invalid_date")
	ErrInvalidDateRange = errs.New(errs.KindInvalidInput, "invalid_date_range")
	ErrInvalidCurrency  = errs.New(errs.KindInvalidInput, "invalid_currency")
	ErrInvalidPeriod    = errs.New(errs.KindInvalidInput, "invalid_period")
	ErrUnknownAccount   = errs.New(errs.KindUnknownEntity, "unknown_account")
)
