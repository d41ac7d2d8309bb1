package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/errs"
	"gorm.io/gorm"
)

type CreateBatchRequest struct {
	Name string
}

type CreateCustomerRequest struct {
	Name string
}

type CreateInvoiceEntityRequest struct {
	Name string
}

type CreateAccountRequest struct {
	ExternalRef       string
	Name              string
	BatchID           snowflake.ID
	CurrentInvoiceID  *snowflake.ID
	CurrentCustomerID *snowflake.ID
	Status            AccountStatus
}

type Service interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest) (Batch, error)
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	CreateInvoiceEntity(ctx context.Context, req CreateInvoiceEntityRequest) (InvoiceEntity, error)
	CreateAccount(ctx context.Context, req CreateAccountRequest) (Account, error)
	GetAccount(ctx context.Context, id snowflake.ID) (Account, error)
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, batch *Batch) error
	InsertCustomer(ctx context.Context, db *gorm.DB, customer *Customer) error
	InsertInvoiceEntity(ctx context.Context, db *gorm.DB, entity *InvoiceEntity) error
	InsertAccount(ctx context.Context, db *gorm.DB, account *Account) error

	FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindAccounts(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Account, error)
	// LockAccount reads the account under a row lock where the dialect supports one.
	LockAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	LockAccounts(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Account, error)
	EntityExists(ctx context.Context, db *gorm.DB, ref EntityRef) (bool, error)

	UpdateAttribution(ctx context.Context, db *gorm.DB, accountID snowflake.ID, axis Axis, entityID *snowflake.ID, now time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, ids []snowflake.ID, status AccountStatus, now time.Time) (int64, error)

	// ListIDsAfter pages entity ids in ascending order for keyset iteration.
	ListIDsAfter(ctx context.Context, db *gorm.DB, entityType EntityType, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	ListAccountsByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]snowflake.ID, error)
	AccountsAttributedTo(ctx context.Context, db *gorm.DB, axis Axis, entityID snowflake.ID) ([]snowflake.ID, error)
}

var (
	ErrInvalidName          = errs.New(errs.KindInvalidInput, "invalid_name")
	ErrInvalidStatus        = errs.New(errs.KindInvalidInput, "invalid_status")
	ErrInvalidEntityType    = errs.New(errs.KindInvalidInput, "invalid_entity_type")
	ErrInvalidAxis          = errs.New(errs.KindInvalidInput, "invalid_axis")
	ErrInvalidID            = errs.New(errs.KindInvalidInput, "invalid_id")
	ErrDuplicateExternalRef = errs.New(errs.KindInvalidInput, "duplicate_external_ref")
	ErrBatchRequired        = errs.New(errs.KindInvalidInput, "batch_required")
	ErrUnknownAccount       = errs.New(errs.KindUnknownEntity, "unknown_account")
	ErrUnknownBatch         = errs.New(errs.KindUnknownEntity, "unknown_batch")
	ErrUnknownCustomer      = errs.New(errs.KindUnknownEntity, "unknown_customer")
	ErrUnknownInvoiceEntity = errs.New(errs.KindUnknownEntity, "unknown_invoice_entity")
)
