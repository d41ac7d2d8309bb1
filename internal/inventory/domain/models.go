package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	"gorm.io/gorm"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
)

func (s AccountStatus) Valid() bool {
	return s == AccountStatusActive || s == AccountStatusInactive
}

// Batch owns accounts. Counters are caches over accounts with batch_id = id.
type Batch struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name           string          `gorm:"type:varchar(255);not null" json:"name"`
	TotalSpending  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_spending"`
	TotalAccounts  int64           `gorm:"not null;default:0" json:"total_accounts"`
	ActiveAccounts int64           `gorm:"not null;default:0" json:"active_accounts"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (Batch) TableName() string { return "batches" }

func (b *Batch) AfterFind(*gorm.DB) error {
	b.TotalSpending = spendingdomain.RoundAmount(b.TotalSpending)
	return nil
}

// Customer counters are caches over accounts currently attributed to the customer.
type Customer struct {
	ID                  snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name                string          `gorm:"type:varchar(255);not null" json:"name"`
	TotalSpending       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_spending"`
	LinkedAccountsCount int64           `gorm:"not null;default:0" json:"linked_accounts_count"`
	ActiveAccountsCount int64           `gorm:"not null;default:0" json:"active_accounts_count"`
	CreatedAt           time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

func (c *Customer) AfterFind(*gorm.DB) error {
	c.TotalSpending = spendingdomain.RoundAmount(c.TotalSpending)
	return nil
}

// InvoiceEntity counters are caches over accounts currently attributed to the entity.
type InvoiceEntity struct {
	ID                  snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name                string          `gorm:"type:varchar(255);not null" json:"name"`
	TotalSpending       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_spending"`
	LinkedAccountsCount int64           `gorm:"not null;default:0" json:"linked_accounts_count"`
	ActiveAccountsCount int64           `gorm:"not null;default:0" json:"active_accounts_count"`
	CreatedAt           time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"not null" json:"updated_at"`
}

func (InvoiceEntity) TableName() string { return "invoice_entities" }

func (i *InvoiceEntity) AfterFind(*gorm.DB) error {
	i.TotalSpending = spendingdomain.RoundAmount(i.TotalSpending)
	return nil
}

// Account attribution pointers are mutable; history lives in spending snapshots.
type Account struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	ExternalRef       *string         `gorm:"type:varchar(128);uniqueIndex" json:"external_ref,omitempty"`
	Name              string          `gorm:"type:varchar(255);not null" json:"name"`
	BatchID           snowflake.ID    `gorm:"not null;index" json:"batch_id"`
	CurrentInvoiceID  *snowflake.ID   `gorm:"index" json:"current_invoice_id,omitempty"`
	CurrentCustomerID *snowflake.ID   `gorm:"index" json:"current_customer_id,omitempty"`
	Status            AccountStatus   `gorm:"type:varchar(16);not null;default:active" json:"status"`
	TotalSpending     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_spending"`
	CreatedAt         time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) AfterFind(*gorm.DB) error {
	a.TotalSpending = spendingdomain.RoundAmount(a.TotalSpending)
	return nil
}

// Pointer returns the account's current attribution on axis.
func (a Account) Pointer(axis Axis) *snowflake.ID {
	switch axis {
	case AxisInvoice:
		return a.CurrentInvoiceID
	case AxisCustomer:
		return a.CurrentCustomerID
	case AxisBatch:
		id := a.BatchID
		return &id
	}
	return nil
}

// Parents lists every entity whose counters include this account, in lock order.
func (a Account) Parents() []EntityRef {
	var refs []EntityRef
	if a.CurrentCustomerID != nil {
		refs = append(refs, EntityRef{Type: EntityCustomer, ID: *a.CurrentCustomerID})
	}
	if a.CurrentInvoiceID != nil {
		refs = append(refs, EntityRef{Type: EntityInvoice, ID: *a.CurrentInvoiceID})
	}
	return append(refs, EntityRef{Type: EntityBatch, ID: a.BatchID})
}
