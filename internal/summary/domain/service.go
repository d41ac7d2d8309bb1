package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
)

// MaxDailyPoints bounds the gap-filled chart series of a bounded range.
const MaxDailyPoints = 1000

type SummaryRequest struct {
	EntityType inventorydomain.EntityType
	EntityID   snowflake.ID
	Range      spendingdomain.DateRange
}

type DailyPoint struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// Summary is derived from the ledger and current attribution, never from cached counters.
type Summary struct {
	EntityType         inventorydomain.EntityType `json:"entity_type"`
	EntityID           snowflake.ID               `json:"entity_id"`
	From               *time.Time                 `json:"from,omitempty"`
	To                 *time.Time                 `json:"to,omitempty"`
	Total              decimal.Decimal            `json:"total"`
	Lifetime           decimal.Decimal            `json:"lifetime"`
	AccountCount       int64                      `json:"account_count"`
	ActiveAccountCount int64                      `json:"active_account_count"`
	Daily              []DailyPoint               `json:"daily"`
}

type AccountContribution struct {
	AccountID snowflake.ID    `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	// Current reports whether the account is still attributed to the entity today.
	Current bool `json:"current"`
}

type AsOfResult struct {
	Axis     inventorydomain.Axis  `json:"axis"`
	EntityID snowflake.ID          `json:"entity_id"`
	AsOf     time.Time             `json:"as_of"`
	Total    decimal.Decimal       `json:"total"`
	Accounts []AccountContribution `json:"accounts"`
}

type Service interface {
	GetEntitySummary(ctx context.Context, req SummaryRequest) (Summary, error)
	// AttributedAsOf rebuilds the spend attributed to an entity at the end of
	// day asOf from change snapshots and the ledger.
	AttributedAsOf(ctx context.Context, axis inventorydomain.Axis, entityID snowflake.ID, asOf time.Time) (AsOfResult, error)
}

var (
	ErrRangeTooLarge = errs.New(errs.KindInvalidInput, "range_too_large")
	ErrInvalidAsOf   = errs.New(errs.KindInvalidInput, "invalid_as_of")
)
