package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/spendledger/internal/audit/domain"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/lock"
	"github.com/smallbiznis/spendledger/internal/relink/domain"
	pkgdb "github.com/smallbiznis/spendledger/pkg/db"
	"github.com/smallbiznis/spendledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type chunkOutcome struct {
	changed   int
	unchanged int
	refs      []inventorydomain.EntityRef
}

// chunkFunc applies a bulk operation to accounts already locked inside tx.
type chunkFunc func(ctx context.Context, tx *gorm.DB, accounts []inventorydomain.Account) (chunkOutcome, error)

// BulkRelink moves every account to the same target. Accounts are processed
// in chunks; a failing chunk is retried account by account so one bad row
// does not block the rest.
func (s *Service) BulkRelink(ctx context.Context, req domain.BulkRelinkRequest) (domain.BulkResult, error) {
	if err := validateTarget(req.Axis, req.EntityID); err != nil {
		return domain.BulkResult{}, err
	}
	ids := uniqueSorted(req.AccountIDs)
	if len(ids) == 0 {
		return domain.BulkResult{}, domain.ErrEmptyAccounts
	}
	if err := s.ensureTarget(ctx, s.db, req.Axis, req.EntityID); err != nil {
		return domain.BulkResult{}, err
	}

	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	op := func(ctx context.Context, tx *gorm.DB, accounts []inventorydomain.Account) (chunkOutcome, error) {
		var out chunkOutcome
		for _, account := range accounts {
			res, refs, err := s.apply(ctx, tx, account, req.Axis, req.EntityID)
			if err != nil {
				return chunkOutcome{}, err
			}
			if !res.Changed {
				out.unchanged++
				continue
			}
			out.changed++
			out.refs = append(out.refs, refs...)
		}
		if _, err := s.engine.RecomputeRefs(ctx, tx, out.refs); err != nil {
			return chunkOutcome{}, err
		}
		return out, nil
	}

	result, err := s.runChunks(ctx, "bulk_relink", ids, op)
	result.CorrelationID = correlationID
	for i := 0; i < result.Changed; i++ {
		s.ledger.IncRelink(string(req.Axis), resultChanged)
	}

	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionBulkRelink,
		TargetType: string(req.Axis.EntityType()),
		TargetID:   idString(req.EntityID),
		Metadata: map[string]any{
			"axis":      string(req.Axis),
			"requested": result.Requested,
			"changed":   result.Changed,
			"failures":  len(result.Failures),
		},
	})
	s.log.Info("bulk relink completed",
		zap.String("axis", string(req.Axis)),
		zap.String("target", idString(req.EntityID)),
		zap.Int("requested", result.Requested),
		zap.Int("changed", result.Changed),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("failures", len(result.Failures)),
		zap.String("correlation_id", correlationID),
	)
	return result, err
}

// BulkSetStatus activates or deactivates accounts and refreshes the active
// counts of every parent they belong to.
func (s *Service) BulkSetStatus(ctx context.Context, req domain.BulkStatusRequest) (domain.BulkResult, error) {
	if !req.Status.Valid() {
		return domain.BulkResult{}, inventorydomain.ErrInvalidStatus
	}
	ids := uniqueSorted(req.AccountIDs)
	if len(ids) == 0 {
		return domain.BulkResult{}, domain.ErrEmptyAccounts
	}

	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	op := func(ctx context.Context, tx *gorm.DB, accounts []inventorydomain.Account) (chunkOutcome, error) {
		var out chunkOutcome
		var changed []snowflake.ID
		for _, account := range accounts {
			if account.Status == req.Status {
				out.unchanged++
				continue
			}
			changed = append(changed, account.ID)
			out.refs = append(out.refs, account.Parents()...)
		}
		if len(changed) == 0 {
			return out, nil
		}
		if _, err := s.inventoryRepo.UpdateStatus(ctx, tx, changed, req.Status, s.clock.Now()); err != nil {
			return chunkOutcome{}, err
		}
		if _, err := s.engine.RecomputeRefs(ctx, tx, out.refs); err != nil {
			return chunkOutcome{}, err
		}
		out.changed = len(changed)
		return out, nil
	}

	result, err := s.runChunks(ctx, "bulk_status", ids, op)
	result.CorrelationID = correlationID

	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionBulkStatus,
		TargetType: string(inventorydomain.EntityAccount),
		Metadata: map[string]any{
			"status":    string(req.Status),
			"requested": result.Requested,
			"changed":   result.Changed,
			"failures":  len(result.Failures),
		},
	})
	s.log.Info("bulk status completed",
		zap.String("status", string(req.Status)),
		zap.Int("requested", result.Requested),
		zap.Int("changed", result.Changed),
		zap.Int("failures", len(result.Failures)),
		zap.String("correlation_id", correlationID),
	)
	return result, err
}

func (s *Service) runChunks(ctx context.Context, operation string, ids []snowflake.ID, op chunkFunc) (domain.BulkResult, error) {
	result := domain.BulkResult{Requested: len(ids)}
	affected := make(map[inventorydomain.EntityRef]struct{})
	merge := func(out chunkOutcome) {
		result.Changed += out.changed
		result.Unchanged += out.unchanged
		for _, ref := range out.refs {
			affected[ref] = struct{}{}
		}
	}

	batchSize := s.cfg.Get().BatchSize
	for start := 0; start < len(ids); start += batchSize {
		if err := ctx.Err(); err != nil {
			result.AffectedEntities = len(affected)
			return result, err
		}
		end := min(start+batchSize, len(ids))
		chunk := ids[start:end]

		out, err := s.runChunk(ctx, operation, chunk, op)
		if err == nil {
			merge(out)
			continue
		}
		if ctx.Err() != nil {
			result.AffectedEntities = len(affected)
			return result, ctx.Err()
		}
		if len(chunk) > 1 {
			s.log.Warn("bulk chunk failed, retrying accounts one by one",
				zap.String("operation", operation),
				zap.Int("size", len(chunk)),
				zap.Error(err),
			)
		}
		for _, id := range chunk {
			if len(chunk) > 1 {
				out, err = s.runChunk(ctx, operation, []snowflake.ID{id}, op)
			}
			if err != nil {
				result.Failures = append(result.Failures, domain.Failure{
					AccountID: id,
					Code:      errs.CodeOf(err),
					Error:     err.Error(),
				})
				continue
			}
			merge(out)
		}
	}
	result.AffectedEntities = len(affected)
	return result, result.Err()
}

func (s *Service) runChunk(ctx context.Context, operation string, ids []snowflake.ID, op chunkFunc) (chunkOutcome, error) {
	var out chunkOutcome
	err := pkgdb.WithRetry(ctx, s.retryPolicy(operation), func(ctx context.Context) error {
		unlock, err := s.locker.Lock(ctx, lock.AccountKeys(ids)...)
		if err != nil {
			return err
		}
		defer unlock()

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			accounts, err := s.inventoryRepo.LockAccounts(ctx, tx, ids)
			if err != nil {
				return err
			}
			if len(accounts) != len(ids) {
				return inventorydomain.ErrUnknownAccount
			}
			res, err := op(ctx, tx, accounts)
			if err != nil {
				return err
			}
			out = res
			return nil
		}, pkgdb.CounterTx(s.db)...)
	})
	return out, err
}

func uniqueSorted(ids []snowflake.ID) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(ids))
	seen := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
