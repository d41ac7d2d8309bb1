package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AmountScale is the number of fractional digits every amount column keeps.
const AmountScale int32 = 4

// RoundAmount brings d to AmountScale. Sums read back from sqlite come back
// as float64 and must pass through it before they are compared or written.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// FitsScale reports whether d is representable in an amount column without rounding.
func FitsScale(d decimal.Decimal) bool {
	return d.Equal(RoundAmount(d))
}

// SpendingRecord is the ledger row for one account and calendar day.
// InvoiceID and CustomerID capture the account's attribution at write time.
type SpendingRecord struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID    `gorm:"not null;uniqueIndex:ux_spending_account_date,priority:1" json:"account_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency     string          `gorm:"type:varchar(3);not null" json:"currency"`
	SpendingDate time.Time       `gorm:"not null;uniqueIndex:ux_spending_account_date,priority:2;index" json:"spending_date"`
	PeriodStart  time.Time       `gorm:"not null" json:"period_start"`
	PeriodEnd    time.Time       `gorm:"not null" json:"period_end"`
	InvoiceID    *snowflake.ID   `gorm:"index" json:"invoice_id,omitempty"`
	CustomerID   *snowflake.ID   `gorm:"index" json:"customer_id,omitempty"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null" json:"updated_at"`
}

func (SpendingRecord) TableName() string { return "spending_records" }

func (r *SpendingRecord) AfterFind(*gorm.DB) error {
	r.Amount = RoundAmount(r.Amount)
	return nil
}

type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeUnchanged Outcome = "unchanged"
)
