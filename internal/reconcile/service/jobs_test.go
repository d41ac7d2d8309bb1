package service_test

import (
	"context"
	"testing"

	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledgertest"
	"github.com/smallbiznis/spendledger/internal/reconcile/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spendDays(t *testing.T, records []spendingdomain.SpendingRecord) []string {
	t.Helper()
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.SpendingDate.UTC().Format("2006-01-02")+"="+r.Amount.String())
	}
	return out
}

func TestShiftDatesJobRunsOncePerKey(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "10")
	h.Spend(t, a1.ID, "2024-03-02", "20")
	h.Spend(t, a1.ID, "2024-03-03", "30")
	ctx := context.Background()

	req := domain.JobRequest{
		Key:  "shift-a1-2024-03",
		Kind: domain.JobShiftDates,
		Params: map[string]any{
			"account_ids": []any{a1.ID.String()},
			"from":        "2024-03-02",
			"to":          "2024-03-03",
			"days":        float64(1),
		},
	}
	job, err := h.Reconcile.RunJob(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, float64(2), job.Report["rows"])

	records, err := h.Spending.RecordsForAccount(ctx, a1.ID, spendingdomain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01=10", "2024-03-03=20", "2024-03-04=30"}, spendDays(t, records))

	// a completed key is never applied twice
	again, err := h.Reconcile.RunJob(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, domain.JobStatusCompleted, again.Status)

	records, err = h.Spending.RecordsForAccount(ctx, a1.ID, spendingdomain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01=10", "2024-03-03=20", "2024-03-04=30"}, spendDays(t, records))
	assert.Equal(t, "60", h.Counters(t, inventorydomain.EntityAccount, a1.ID).TotalSpending.String())
}

func TestShiftDatesCollisionIsARowFailure(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)
	a2 := h.Account(t, "A2", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "10")
	h.Spend(t, a1.ID, "2024-03-05", "50")
	h.Spend(t, a2.ID, "2024-03-01", "7")
	ctx := context.Background()

	job, err := h.Reconcile.RunJob(ctx, domain.JobRequest{
		Key:  "shift-b1",
		Kind: domain.JobShiftDates,
		Params: map[string]any{
			"batch_id": b1.ID.String(),
			"from":     "2024-03-01",
			"to":       "2024-03-01",
			"days":     4,
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPartialBatchFailure)
	assert.ErrorIs(t, err, domain.ErrPartialReconcile)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, float64(1), job.Report["rows"])

	failures, ok := job.Report["failures"].([]any)
	require.True(t, ok)
	require.Len(t, failures, 1)
	failure := failures[0].(map[string]any)
	assert.Equal(t, domain.ErrDateCollision.Code, failure["code"])

	a1Records, err := h.Spending.RecordsForAccount(ctx, a1.ID, spendingdomain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01=10", "2024-03-05=50"}, spendDays(t, a1Records))

	a2Records, err := h.Spending.RecordsForAccount(ctx, a2.ID, spendingdomain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-05=7"}, spendDays(t, a2Records))
}

func TestNormalizeCurrencyJob(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "10")
	require.NoError(t, h.DB.Exec(`UPDATE spending_records SET currency = 'usd'`).Error)
	ctx := context.Background()

	job, err := h.Reconcile.RunJob(ctx, domain.JobRequest{
		Key:    "normalize-usd",
		Kind:   domain.JobNormalizeCurrency,
		Params: map[string]any{"from": []any{"usd"}, "to": "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, float64(1), job.Report["accounts"])

	records, err := h.Spending.RecordsForAccount(ctx, a1.ID, spendingdomain.DateRange{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "USD", records[0].Currency)
}

func TestBackfillAttributionJob(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	c1 := h.Customer(t, "C1")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "10")
	// attribution written outside the relink path leaves the ledger unattributed
	require.NoError(t, h.DB.Exec(`UPDATE accounts SET current_customer_id = ? WHERE id = ?`, c1.ID, a1.ID).Error)
	ctx := context.Background()

	job, err := h.Reconcile.RunJob(ctx, domain.JobRequest{Key: "backfill-1", Kind: domain.JobBackfillAttribution})
	require.NoError(t, err)
	assert.Equal(t, float64(1), job.Report["rows"])

	records, err := h.Spending.RecordsForAccount(ctx, a1.ID, spendingdomain.DateRange{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].CustomerID)
	assert.Equal(t, c1.ID, *records[0].CustomerID)

	// the job also recomputed the parents of the account
	assert.Equal(t, "10", h.Counters(t, inventorydomain.EntityCustomer, c1.ID).TotalSpending.String())
}

func TestRunJobValidation(t *testing.T) {
	h := ledgertest.New(t)
	ctx := context.Background()

	_, err := h.Reconcile.RunJob(ctx, domain.JobRequest{Kind: domain.JobRecomputeAll})
	assert.ErrorIs(t, err, domain.ErrInvalidJobKey)

	_, err = h.Reconcile.RunJob(ctx, domain.JobRequest{Key: "k", Kind: "explode"})
	assert.ErrorIs(t, err, domain.ErrInvalidJobKind)

	_, err = h.Reconcile.RunJob(ctx, domain.JobRequest{
		Key:    "k",
		Kind:   domain.JobShiftDates,
		Params: map[string]any{"account_ids": []any{"1"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidJobParams)

	_, err = h.Reconcile.RunJob(ctx, domain.JobRequest{
		Key:    "k",
		Kind:   domain.JobNormalizeCurrency,
		Params: map[string]any{"from": []any{"usd"}, "to": "US"},
	})
	assert.ErrorIs(t, err, spendingdomain.ErrInvalidCurrency)

	// invalid requests never create a job row, so the key is still free
	job, err := h.Reconcile.RunJob(ctx, domain.JobRequest{Key: "k", Kind: domain.JobRecomputeAll})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}
