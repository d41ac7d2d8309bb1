package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/aggregation"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	snapshotdomain "github.com/smallbiznis/spendledger/internal/snapshot/domain"
)

type RelinkRequest struct {
	AccountID snowflake.ID
	Axis      inventorydomain.Axis
	// EntityID nil unlinks the account on the axis.
	EntityID *snowflake.ID
}

type RelinkResult struct {
	AccountID     snowflake.ID                     `json:"account_id"`
	Axis          inventorydomain.Axis             `json:"axis"`
	Prior         *snowflake.ID                    `json:"prior,omitempty"`
	Current       *snowflake.ID                    `json:"current,omitempty"`
	Changed       bool                             `json:"changed"`
	Snapshot      *snapshotdomain.SpendingSnapshot `json:"snapshot,omitempty"`
	Affected      []aggregation.Result             `json:"affected"`
	CorrelationID string                           `json:"correlation_id"`
}

type BulkRelinkRequest struct {
	AccountIDs []snowflake.ID
	Axis       inventorydomain.Axis
	EntityID   *snowflake.ID
}

type BulkStatusRequest struct {
	AccountIDs []snowflake.ID
	Status     inventorydomain.AccountStatus
}

type Failure struct {
	AccountID snowflake.ID `json:"account_id"`
	Code      string       `json:"code"`
	Error     string       `json:"error"`
}

type BulkResult struct {
	Requested        int       `json:"requested"`
	Changed          int       `json:"changed"`
	Unchanged        int       `json:"unchanged"`
	AffectedEntities int       `json:"affected_entities"`
	Failures         []Failure `json:"failures"`
	CorrelationID    string    `json:"correlation_id"`
}

// Err reports failed accounts as a partial batch failure.
func (r BulkResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return ErrPartialBulk
}

type Service interface {
	Relink(ctx context.Context, req RelinkRequest) (RelinkResult, error)
	BulkRelink(ctx context.Context, req BulkRelinkRequest) (BulkResult, error)
	BulkSetStatus(ctx context.Context, req BulkStatusRequest) (BulkResult, error)
}

var (
	ErrEmptyAccounts = errs.New(errs.KindInvalidInput, "empty_account_ids")
	ErrPartialBulk   = errs.New(errs.KindPartialBatchFailure, "partial_bulk_failure")
)
