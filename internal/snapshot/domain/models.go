package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	"gorm.io/gorm"
)

type SnapshotType string

const (
	// SnapshotInvoiceChange is written before an account moves to another invoice entity.
	SnapshotInvoiceChange SnapshotType = "MI_CHANGE"
	// SnapshotCustomerChange is written before an account moves to another customer.
	SnapshotCustomerChange SnapshotType = "MC_CHANGE"
	SnapshotDailyFinal     SnapshotType = "DAILY_FINAL"
)

func (t SnapshotType) Valid() bool {
	switch t {
	case SnapshotInvoiceChange, SnapshotCustomerChange, SnapshotDailyFinal:
		return true
	}
	return false
}

// SpendingSnapshot is immutable once written.
//
// CumulativeAmount is the spend attributed to the prior entity on the changed
// axis at SnapshotAt, zero when the account was unattributed. AccountTotal is
// the account's full cumulative spend at SnapshotAt.
type SpendingSnapshot struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID        snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_snapshot_daily_close,priority:1" json:"account_id"`
	SnapshotType     SnapshotType    `gorm:"type:varchar(16);not null" json:"snapshot_type"`
	CumulativeAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"cumulative_amount"`
	AccountTotal     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"account_total"`
	SnapshotAt       time.Time       `gorm:"not null;index" json:"snapshot_at"`
	PriorInvoiceID   *snowflake.ID   `gorm:"index" json:"prior_invoice_id,omitempty"`
	PriorCustomerID  *snowflake.ID   `gorm:"index" json:"prior_customer_id,omitempty"`
	CloseDate        *time.Time      `gorm:"uniqueIndex:ux_snapshot_daily_close,priority:2" json:"close_date,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
}

func (SpendingSnapshot) TableName() string { return "spending_snapshots" }

func (s *SpendingSnapshot) AfterFind(*gorm.DB) error {
	s.CumulativeAmount = spendingdomain.RoundAmount(s.CumulativeAmount)
	s.AccountTotal = spendingdomain.RoundAmount(s.AccountTotal)
	return nil
}
