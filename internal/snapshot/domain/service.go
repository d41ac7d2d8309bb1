package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"gorm.io/gorm"
)

// CaptureRequest describes an attribution change about to be applied to Account.
type CaptureRequest struct {
	Account inventorydomain.Account
	Axis    inventorydomain.Axis
	At      time.Time
}

type DailyCloseReport struct {
	Day      time.Time `json:"day"`
	Accounts int       `json:"accounts"`
	Written  int       `json:"written"`
	Existing int       `json:"existing"`
}

type ListFilter struct {
	Type  SnapshotType
	From  time.Time
	To    time.Time
	Limit int
}

type Service interface {
	// Capture writes the change snapshot inside the caller's transaction.
	Capture(ctx context.Context, tx *gorm.DB, req CaptureRequest) (SpendingSnapshot, error)
	CaptureDailyFinal(ctx context.Context, day time.Time) (DailyCloseReport, error)
	ListForAccount(ctx context.Context, accountID snowflake.ID, filter ListFilter) ([]SpendingSnapshot, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, snapshot *SpendingSnapshot) error
	// InsertDailyIgnoreExisting writes DAILY_FINAL rows, skipping (account, close_date) pairs
	// already present, and returns the number written.
	InsertDailyIgnoreExisting(ctx context.Context, db *gorm.DB, snapshots []SpendingSnapshot) (int64, error)
	ListForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, filter ListFilter) ([]SpendingSnapshot, error)
	// FirstChangeAfter returns the earliest change snapshot on axis strictly after at.
	FirstChangeAfter(ctx context.Context, db *gorm.DB, accountID snowflake.ID, snapshotType SnapshotType, at time.Time) (*SpendingSnapshot, error)
	// AccountsWithPrior lists accounts having any change snapshot whose prior on axis is entityID.
	AccountsWithPrior(ctx context.Context, db *gorm.DB, snapshotType SnapshotType, entityID snowflake.ID) ([]snowflake.ID, error)
}

// TypeForAxis maps an attribution axis to its change snapshot type.
func TypeForAxis(axis inventorydomain.Axis) (SnapshotType, bool) {
	switch axis {
	case inventorydomain.AxisInvoice:
		return SnapshotInvoiceChange, true
	case inventorydomain.AxisCustomer:
		return SnapshotCustomerChange, true
	}
	return "", false
}

// CumulativeFor returns the spend attributed to the prior entity: the account
// total when the account was attributed on the axis, zero otherwise.
func CumulativeFor(prior *snowflake.ID, accountTotal decimal.Decimal) decimal.Decimal {
	if prior == nil {
		return decimal.Zero
	}
	return accountTotal
}

var (
	ErrInvalidSnapshotType = errs.New(errs.KindInvalidInput, "invalid_snapshot_type")
	ErrInvalidDay          = errs.New(errs.KindInvalidInput, "invalid_day")
	ErrInvalidAxis         = errs.New(errs.KindInvalidInput, "invalid_axis")
	ErrUnknownAccount      = errs.New(errs.KindUnknownEntity, "unknown_account")
)
