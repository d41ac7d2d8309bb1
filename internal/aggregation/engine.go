// Package aggregation maintains the cached spending counters of accounts,
// customers, invoice entities and batches.
//
// Counters move two ways. ApplyDelta adds a ledger delta to an account and
// its current parents inside the writer's transaction. Recompute derives the
// counters from the ledger and current attribution and overwrites the cache
// when it differs. Recompute never reads another cached counter.
package aggregation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/clock"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	pkgdb "github.com/smallbiznis/spendledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Counters are the cached aggregate values of one entity. Linked and Active
// are always zero for accounts.
type Counters struct {
	TotalSpending decimal.Decimal `json:"total_spending"`
	Linked        int64           `json:"linked_accounts"`
	Active        int64           `json:"active_accounts"`
}

func (c Counters) Equal(o Counters) bool {
	return c.TotalSpending.Equal(o.TotalSpending) && c.Linked == o.Linked && c.Active == o.Active
}

type Result struct {
	Entity  inventorydomain.EntityRef `json:"entity"`
	Old     Counters                  `json:"old"`
	New     Counters                  `json:"new"`
	Changed bool                      `json:"changed"`
}

type counterSpec struct {
	table        string
	pointer      string
	linkedColumn string
	activeColumn string
}

var specs = map[inventorydomain.EntityType]counterSpec{
	inventorydomain.EntityAccount: {table: "accounts"},
	inventorydomain.EntityCustomer: {
		table:        "customers",
		pointer:      "current_customer_id",
		linkedColumn: "linked_accounts_count",
		activeColumn: "active_accounts_count",
	},
	inventorydomain.EntityInvoice: {
		table:        "invoice_entities",
		pointer:      "current_invoice_id",
		linkedColumn: "linked_accounts_count",
		activeColumn: "active_accounts_count",
	},
	inventorydomain.EntityBatch: {
		table:        "batches",
		pointer:      "batch_id",
		linkedColumn: "total_accounts",
		activeColumn: "active_accounts",
	},
}

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
}

type Engine struct {
	log   *zap.Logger
	clock clock.Clock
}

func New(p Params) *Engine {
	return &Engine{
		log:   p.Log.Named("aggregation.engine"),
		clock: p.Clock,
	}
}

// ApplyDelta adds delta to the account and to every entity it is currently
// attributed to. tx must hold the account's lock.
func (e *Engine) ApplyDelta(ctx context.Context, tx *gorm.DB, account inventorydomain.Account, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	now := e.clock.Now()
	targets := append([]inventorydomain.EntityRef{{Type: inventorydomain.EntityAccount, ID: account.ID}}, account.Parents()...)
	for _, ref := range targets {
		spec := specs[ref.Type]
		err := tx.WithContext(ctx).Exec(
			fmt.Sprintf(`UPDATE %s SET total_spending = total_spending + ?, updated_at = ? WHERE id = ?`, spec.table),
			delta,
			now,
			ref.ID,
		).Error
		if err != nil {
			return fmt.Errorf("apply delta to %s: %w", ref, err)
		}
	}
	return nil
}

// Compute derives counters for ids from the ledger without touching the cache.
func (e *Engine) Compute(ctx context.Context, db *gorm.DB, entityType inventorydomain.EntityType, ids []snowflake.ID) (map[snowflake.ID]Counters, error) {
	spec, ok := specs[entityType]
	if !ok {
		return nil, inventorydomain.ErrInvalidEntityType
	}
	out := make(map[snowflake.ID]Counters, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	type totalRow struct {
		ID    snowflake.ID
		Total decimal.Decimal
	}
	var totals []totalRow
	var query string
	if entityType == inventorydomain.EntityAccount {
		query = `SELECT account_id AS id, COALESCE(SUM(amount), 0) AS total
		 FROM spending_records WHERE account_id IN ? GROUP BY account_id`
	} else {
		query = fmt.Sprintf(`SELECT a.%[1]s AS id, COALESCE(SUM(s.amount), 0) AS total
		 FROM accounts a JOIN spending_records s ON s.account_id = a.id
		 WHERE a.%[1]s IN ? GROUP BY a.%[1]s`, spec.pointer)
	}
	if err := db.WithContext(ctx).Raw(query, ids).Scan(&totals).Error; err != nil {
		return nil, err
	}
	for _, row := range totals {
		c := out[row.ID]
		c.TotalSpending = spendingdomain.RoundAmount(row.Total)
		out[row.ID] = c
	}

	if entityType != inventorydomain.EntityAccount {
		type countRow struct {
			ID     snowflake.ID
			Linked int64
			Active int64
		}
		var counts []countRow
		err := db.WithContext(ctx).Raw(
			fmt.Sprintf(`SELECT %[1]s AS id, COUNT(1) AS linked,
			 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS active
			 FROM accounts WHERE %[1]s IN ? GROUP BY %[1]s`, spec.pointer),
			inventorydomain.AccountStatusActive,
			ids,
		).Scan(&counts).Error
		if err != nil {
			return nil, err
		}
		for _, row := range counts {
			c := out[row.ID]
			c.Linked = row.Linked
			c.Active = row.Active
			out[row.ID] = c
		}
	}

	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = Counters{TotalSpending: decimal.Zero}
		}
	}
	return out, nil
}

// Recompute rewrites one entity's counters from the ledger.
func (e *Engine) Recompute(ctx context.Context, tx *gorm.DB, ref inventorydomain.EntityRef) (Result, error) {
	results, err := e.RecomputeMany(ctx, tx, ref.Type, []snowflake.ID{ref.ID})
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, ref.Type.UnknownErr()
	}
	return results[0], nil
}

// RecomputeMany locks the cached rows, derives the true counters and writes
// only the rows that drifted. Ids with no entity row are skipped.
func (e *Engine) RecomputeMany(ctx context.Context, tx *gorm.DB, entityType inventorydomain.EntityType, ids []snowflake.ID) ([]Result, error) {
	spec, ok := specs[entityType]
	if !ok {
		return nil, inventorydomain.ErrInvalidEntityType
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	current, err := e.readCounters(ctx, tx, spec, ids, true)
	if err != nil {
		return nil, err
	}
	truth, err := e.Compute(ctx, tx, entityType, ids)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	results := make([]Result, 0, len(current))
	for _, id := range ids {
		old, ok := current[id]
		if !ok {
			continue
		}
		res := Result{
			Entity: inventorydomain.EntityRef{Type: entityType, ID: id},
			Old:    old,
			New:    truth[id],
		}
		res.Changed = !res.Old.Equal(res.New)
		if res.Changed {
			if err := e.write(ctx, tx, spec, id, res.New, now); err != nil {
				return nil, err
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// Cached reads the cached counters of ids without locking or recomputing.
func (e *Engine) Cached(ctx context.Context, db *gorm.DB, entityType inventorydomain.EntityType, ids []snowflake.ID) (map[snowflake.ID]Counters, error) {
	spec, ok := specs[entityType]
	if !ok {
		return nil, inventorydomain.ErrInvalidEntityType
	}
	return e.readCounters(ctx, db, spec, ids, false)
}

func (e *Engine) readCounters(ctx context.Context, db *gorm.DB, spec counterSpec, ids []snowflake.ID, forUpdate bool) (map[snowflake.ID]Counters, error) {
	if len(ids) == 0 {
		return map[snowflake.ID]Counters{}, nil
	}
	columns := "id, total_spending, 0 AS linked, 0 AS active"
	if spec.linkedColumn != "" {
		columns = fmt.Sprintf("id, total_spending, %s AS linked, %s AS active", spec.linkedColumn, spec.activeColumn)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id IN ? ORDER BY id ASC`, columns, spec.table)
	if forUpdate && pkgdb.SupportsRowLocks(db) {
		query += " FOR UPDATE"
	}

	type row struct {
		ID            snowflake.ID
		TotalSpending decimal.Decimal
		Linked        int64
		Active        int64
	}
	var rows []row
	if err := db.WithContext(ctx).Raw(query, ids).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]Counters, len(rows))
	for _, r := range rows {
		out[r.ID] = Counters{TotalSpending: spendingdomain.RoundAmount(r.TotalSpending), Linked: r.Linked, Active: r.Active}
	}
	return out, nil
}

func (e *Engine) write(ctx context.Context, tx *gorm.DB, spec counterSpec, id snowflake.ID, c Counters, now time.Time) error {
	if spec.linkedColumn == "" {
		return tx.WithContext(ctx).Exec(
			fmt.Sprintf(`UPDATE %s SET total_spending = ?, updated_at = ? WHERE id = ?`, spec.table),
			c.TotalSpending, now, id,
		).Error
	}
	return tx.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE %s SET total_spending = ?, %s = ?, %s = ?, updated_at = ? WHERE id = ?`,
			spec.table, spec.linkedColumn, spec.activeColumn),
		c.TotalSpending, c.Linked, c.Active, now, id,
	).Error
}

// RecomputeRefs recomputes a mixed set of entities, grouped by type in reconcile order.
func (e *Engine) RecomputeRefs(ctx context.Context, tx *gorm.DB, refs []inventorydomain.EntityRef) ([]Result, error) {
	grouped := make(map[inventorydomain.EntityType][]snowflake.ID)
	for _, ref := range refs {
		grouped[ref.Type] = append(grouped[ref.Type], ref.ID)
	}
	var out []Result
	for _, t := range inventorydomain.EntityTypes {
		if len(grouped[t]) == 0 {
			continue
		}
		results, err := e.RecomputeMany(ctx, tx, t, grouped[t])
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

func uniqueIDs(ids []snowflake.ID) []snowflake.ID {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]snowflake.ID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := sorted[:1]
	for _, id := range sorted[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
