package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/spendledger/internal/audit/domain"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/lock"
	"github.com/smallbiznis/spendledger/internal/reconcile/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	pkgdb "github.com/smallbiznis/spendledger/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const staleJobAfter = time.Hour

// jobReport is what a correction job stores in reconcile_jobs.report.
type jobReport struct {
	Accounts  int                 `json:"accounts"`
	Rows      int64               `json:"rows"`
	Failures  []domain.RowFailure `json:"failures,omitempty"`
	Reconcile *domain.Report      `json:"reconcile,omitempty"`
	// Done lists accounts already corrected, so a failed job resumes instead of re-applying.
	Done []string `json:"done,omitempty"`
}

func (r jobReport) err() error {
	if r.Reconcile != nil {
		return r.Reconcile.Err()
	}
	return domain.Report{Failures: r.Failures}.Err()
}

// RunJob applies a keyed correction at most once. A completed key returns
// the stored job without running it again. A failed key may be re-run and
// skips the accounts the failed attempt already corrected. Row failures do
// not fail the job: they are kept in the report and returned as a partial
// batch failure.
func (s *Service) RunJob(ctx context.Context, req domain.JobRequest) (domain.ReconcileJob, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" || len(key) > 128 {
		return domain.ReconcileJob{}, domain.ErrInvalidJobKey
	}
	if !req.Kind.Valid() {
		return domain.ReconcileJob{}, domain.ErrInvalidJobKind
	}
	run, err := s.jobRunner(req.Kind, req.Params)
	if err != nil {
		return domain.ReconcileJob{}, err
	}

	job, proceed, err := s.claimJob(ctx, key, req)
	if err != nil || !proceed {
		return job, err
	}
	done := doneAccounts(job.Report)

	log := s.log.With(zap.String("job_key", key), zap.String("kind", string(req.Kind)))
	log.Info("reconcile job started")

	report, runErr := run(ctx, done)
	now := s.clock.Now()
	job.CompletedAt = &now
	job.Report = toJSONMap(report)
	job.Status = domain.JobStatusCompleted
	if runErr != nil {
		job.Status = domain.JobStatusFailed
		job.Error = runErr.Error()
	} else {
		runErr = report.err()
	}

	// the outcome must be stored even when the caller's context is gone
	finishCtx := context.WithoutCancel(ctx)
	if err := s.jobRepo.Finish(finishCtx, s.db, &job); err != nil {
		log.Error("store reconcile job outcome", zap.Error(err))
		return job, err
	}

	s.audit.Record(ctx, auditdomain.Event{
		Action:     auditdomain.ActionReconcileJob,
		TargetType: "reconcile_job",
		TargetID:   key,
		Metadata: map[string]any{
			"kind":     string(req.Kind),
			"status":   string(job.Status),
			"accounts": report.Accounts,
			"rows":     report.Rows,
		},
	})
	log.Info("reconcile job finished",
		zap.String("status", string(job.Status)),
		zap.Int("accounts", report.Accounts),
		zap.Int64("rows", report.Rows),
		zap.Error(runErr),
	)
	return job, runErr
}

// claimJob inserts or re-claims the job row. proceed is false when the key
// already completed.
func (s *Service) claimJob(ctx context.Context, key string, req domain.JobRequest) (domain.ReconcileJob, bool, error) {
	now := s.clock.Now()
	existing, err := s.jobRepo.FindByKey(ctx, s.db, key)
	if err != nil {
		return domain.ReconcileJob{}, false, err
	}
	if existing == nil {
		job := domain.ReconcileJob{
			ID:        s.genID.Generate(),
			JobKey:    key,
			Kind:      req.Kind,
			Params:    datatypes.JSONMap(req.Params),
			Status:    domain.JobStatusRunning,
			CreatedAt: now,
			StartedAt: now,
		}
		if err := s.jobRepo.Insert(ctx, s.db, &job); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ReconcileJob{}, false, domain.ErrJobInProgress
			}
			return domain.ReconcileJob{}, false, err
		}
		return job, true, nil
	}

	if existing.Kind != req.Kind {
		return *existing, false, domain.ErrInvalidJobKind
	}
	switch existing.Status {
	case domain.JobStatusCompleted:
		return *existing, false, nil
	case domain.JobStatusRunning:
		if existing.StartedAt.After(now.Add(-staleJobAfter)) {
			return *existing, false, domain.ErrJobInProgress
		}
	}

	job := *existing
	job.Params = datatypes.JSONMap(req.Params)
	job.Status = domain.JobStatusRunning
	job.StartedAt = now
	job.CompletedAt = nil
	job.Error = ""
	ok, err := s.jobRepo.Claim(ctx, s.db, &job, now.Add(-staleJobAfter))
	if err != nil {
		return domain.ReconcileJob{}, false, err
	}
	if !ok {
		return *existing, false, domain.ErrJobInProgress
	}
	return job, true, nil
}

type jobFunc func(ctx context.Context, done map[string]struct{}) (jobReport, error)

// jobRunner validates params up front so an invalid request never creates a job row.
func (s *Service) jobRunner(kind domain.JobKind, params map[string]any) (jobFunc, error) {
	switch kind {
	case domain.JobRecomputeAll:
		return func(ctx context.Context, _ map[string]struct{}) (jobReport, error) {
			report, err := s.ReconcileAll(ctx, domain.Options{})
			if errors.Is(err, errs.ErrPartialBatchFailure) {
				err = nil
			}
			return jobReport{Reconcile: &report}, err
		}, nil

	case domain.JobShiftDates:
		p, err := parseShiftParams(params)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, done map[string]struct{}) (jobReport, error) {
			ids, err := s.resolveAccounts(ctx, p.accountIDs, p.batchID)
			if err != nil {
				return jobReport{}, err
			}
			return s.forAccounts(ctx, "shift_dates", ids, done, func(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, report *jobReport) error {
				return s.shiftAccountDates(ctx, tx, accountID, p, report)
			})
		}, nil

	case domain.JobNormalizeCurrency:
		from, to, err := parseCurrencyParams(params)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, done map[string]struct{}) (jobReport, error) {
			ids, err := s.spendingRepo.AccountsWithCurrency(ctx, s.db, from)
			if err != nil {
				return jobReport{}, err
			}
			return s.forAccounts(ctx, "normalize_currency", ids, done, func(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, report *jobReport) error {
				n, err := s.spendingRepo.NormalizeCurrency(ctx, tx, []snowflake.ID{accountID}, from, to, s.clock.Now())
				report.Rows += n
				return err
			})
		}, nil

	case domain.JobBackfillAttribution:
		return func(ctx context.Context, done map[string]struct{}) (jobReport, error) {
			ids, err := s.spendingRepo.AccountsMissingAttribution(ctx, s.db)
			if err != nil {
				return jobReport{}, err
			}
			return s.forAccounts(ctx, "backfill_attribution", ids, done, func(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, report *jobReport) error {
				n, err := s.spendingRepo.BackfillAttribution(ctx, tx, []snowflake.ID{accountID}, s.clock.Now())
				report.Rows += n
				return err
			})
		}, nil
	}
	return nil, domain.ErrInvalidJobKind
}

type accountFunc func(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, report *jobReport) error

// forAccounts runs fn per account under its lock, recomputing the account and
// its parents in the same transaction. A failing account is a row failure.
func (s *Service) forAccounts(ctx context.Context, operation string, ids []snowflake.ID, done map[string]struct{}, fn accountFunc) (jobReport, error) {
	report := jobReport{}
	for id := range done {
		report.Done = append(report.Done, id)
	}
	sort.Strings(report.Done)
	for _, id := range ids {
		if _, ok := done[id.String()]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		local := jobReport{}
		err := pkgdb.WithRetry(ctx, s.retryPolicy(operation), func(ctx context.Context) error {
			local = jobReport{}
			unlock, err := s.locker.Lock(ctx, lock.AccountKey(id))
			if err != nil {
				return err
			}
			defer unlock()

			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				account, err := s.inventoryRepo.LockAccount(ctx, tx, id)
				if err != nil {
					return err
				}
				if account == nil {
					return inventorydomain.ErrUnknownAccount
				}
				if err := fn(ctx, tx, id, &local); err != nil {
					return err
				}
				refs := append([]inventorydomain.EntityRef{{Type: inventorydomain.EntityAccount, ID: id}}, account.Parents()...)
				_, err = s.engine.RecomputeRefs(ctx, tx, refs)
				return err
			}, pkgdb.CounterTx(s.db)...)
		})
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failures = append(report.Failures, domain.RowFailure{
				EntityType: string(inventorydomain.EntityAccount),
				EntityID:   id.String(),
				Code:       errs.CodeOf(err),
				Error:      err.Error(),
			})
			s.ledger.IncRowFailure(string(inventorydomain.EntityAccount))
			continue
		}
		report.Accounts++
		report.Rows += local.Rows
		report.Failures = append(report.Failures, local.Failures...)
		report.Done = append(report.Done, id.String())
	}
	return report, nil
}

func doneAccounts(previous datatypes.JSONMap) map[string]struct{} {
	done := make(map[string]struct{})
	list, _ := previous["done"].([]any)
	for _, item := range list {
		if id, ok := item.(string); ok {
			done[id] = struct{}{}
		}
	}
	return done
}

type shiftParams struct {
	accountIDs []snowflake.ID
	batchID    snowflake.ID
	from       time.Time
	to         time.Time
	days       int
}

// shiftAccountDates moves records in [from, to] by days. Records are visited
// away from the direction of travel so a shifted row never lands on one that
// is about to move. A row whose target day is taken stays where it is.
func (s *Service) shiftAccountDates(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, p shiftParams, report *jobReport) error {
	records, err := s.spendingRepo.ListByAccount(ctx, tx, accountID, spendingdomain.DateRange{From: p.from, To: p.to})
	if err != nil {
		return err
	}
	if p.days > 0 {
		sort.Slice(records, func(i, j int) bool { return records[i].SpendingDate.After(records[j].SpendingDate) })
	}

	now := s.clock.Now()
	for _, record := range records {
		target := record.SpendingDate.AddDate(0, 0, p.days)
		existing, err := s.spendingRepo.FindByAccountDate(ctx, tx, accountID, target)
		if err != nil {
			return err
		}
		if existing != nil {
			report.Failures = append(report.Failures, domain.RowFailure{
				EntityType: "spending_record",
				EntityID:   record.ID.String(),
				Code:       domain.ErrDateCollision.Code,
				Error:      fmt.Sprintf("%s: %s already recorded", domain.ErrDateCollision.Code, target.Format(time.DateOnly)),
			})
			continue
		}
		record.SpendingDate = target
		record.PeriodStart = record.PeriodStart.AddDate(0, 0, p.days)
		record.PeriodEnd = record.PeriodEnd.AddDate(0, 0, p.days)
		record.UpdatedAt = now
		if err := s.spendingRepo.UpdateDates(ctx, tx, &record); err != nil {
			return err
		}
		report.Rows++
	}
	return nil
}

func (s *Service) resolveAccounts(ctx context.Context, ids []snowflake.ID, batchID snowflake.ID) ([]snowflake.ID, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	return s.inventoryRepo.ListAccountsByBatch(ctx, s.db, batchID)
}

func parseShiftParams(params map[string]any) (shiftParams, error) {
	var p shiftParams
	var err error
	if p.accountIDs, err = paramIDs(params, "account_ids"); err != nil {
		return p, err
	}
	if raw, ok := params["batch_id"]; ok {
		id, err := toID(raw)
		if err != nil {
			return p, err
		}
		p.batchID = id
	}
	if len(p.accountIDs) == 0 && p.batchID == 0 {
		return p, fmt.Errorf("%w: account_ids or batch_id required", domain.ErrInvalidJobParams)
	}
	if p.from, err = paramDate(params, "from"); err != nil {
		return p, err
	}
	if p.to, err = paramDate(params, "to"); err != nil {
		return p, err
	}
	if !p.from.IsZero() && !p.to.IsZero() && p.from.After(p.to) {
		return p, spendingdomain.ErrInvalidDateRange
	}
	days, ok := params["days"]
	if !ok {
		return p, fmt.Errorf("%w: days required", domain.ErrInvalidJobParams)
	}
	n, err := toInt(days)
	if err != nil || n == 0 {
		return p, fmt.Errorf("%w: days must be a non-zero integer", domain.ErrInvalidJobParams)
	}
	p.days = n
	return p, nil
}

func parseCurrencyParams(params map[string]any) ([]string, string, error) {
	to, _ := params["to"].(string)
	to = strings.ToUpper(strings.TrimSpace(to))
	if len(to) != 3 {
		return nil, "", spendingdomain.ErrInvalidCurrency
	}
	rawFrom, ok := params["from"].([]any)
	if !ok || len(rawFrom) == 0 {
		return nil, "", fmt.Errorf("%w: from must list currencies", domain.ErrInvalidJobParams)
	}
	from := make([]string, 0, len(rawFrom))
	for _, raw := range rawFrom {
		code, ok := raw.(string)
		if !ok || strings.TrimSpace(code) == "" {
			return nil, "", fmt.Errorf("%w: from must list currencies", domain.ErrInvalidJobParams)
		}
		from = append(from, strings.ToUpper(strings.TrimSpace(code)))
	}
	return from, to, nil
}

func paramIDs(params map[string]any, key string) ([]snowflake.ID, error) {
	raw, ok := params[key]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", domain.ErrInvalidJobParams, key)
	}
	ids := make([]snowflake.ID, 0, len(list))
	for _, item := range list {
		id, err := toID(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func paramDate(params map[string]any, key string) (time.Time, error) {
	raw, ok := params[key]
	if !ok {
		return time.Time{}, nil
	}
	str, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrInvalidJobParams, key)
	}
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(str))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrInvalidJobParams, key)
	}
	return clock.StartOfDay(t), nil
}

func toID(raw any) (snowflake.ID, error) {
	switch v := raw.(type) {
	case string:
		id, err := snowflake.ParseString(strings.TrimSpace(v))
		if err != nil || id == 0 {
			return 0, fmt.Errorf("%w: invalid id %q", domain.ErrInvalidJobParams, v)
		}
		return id, nil
	case float64:
		if v <= 0 || v != float64(int64(v)) {
			return 0, fmt.Errorf("%w: invalid id", domain.ErrInvalidJobParams)
		}
		return snowflake.ID(int64(v)), nil
	case int64:
		return snowflake.ID(v), nil
	case int:
		return snowflake.ID(v), nil
	case snowflake.ID:
		return v, nil
	}
	return 0, fmt.Errorf("%w: invalid id", domain.ErrInvalidJobParams)
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, domain.ErrInvalidJobParams
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	}
	return 0, domain.ErrInvalidJobParams
}

func toJSONMap(report jobReport) datatypes.JSONMap {
	raw, err := json.Marshal(report)
	if err != nil {
		return datatypes.JSONMap{}
	}
	out := datatypes.JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return datatypes.JSONMap{}
	}
	return out
}
