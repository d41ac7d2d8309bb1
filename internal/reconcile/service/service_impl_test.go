package service_test

import (
	"context"
	"testing"

	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledgertest"
	"github.com/smallbiznis/spendledger/internal/reconcile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileAllCorrectsDriftAndConverges(t *testing.T) {
	h := ledgertest.New(t, ledgertest.WithBatchSize(2))
	b1 := h.Batch(t, "B1")
	c1 := h.Customer(t, "C1")
	a1 := h.Account(t, "A1", b1.ID, 0, c1.ID)
	a2 := h.Account(t, "A2", b1.ID, 0, c1.ID)
	a3 := h.Account(t, "A3", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "100")
	h.Spend(t, a2.ID, "2024-03-01", "50")
	h.Spend(t, a3.ID, "2024-03-01", "5")

	h.Corrupt(t, inventorydomain.EntityAccount, a2.ID, "49.995")
	h.Corrupt(t, inventorydomain.EntityCustomer, c1.ID, "500")
	ctx := context.Background()

	report, err := h.Reconcile.ReconcileAll(ctx, domain.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 2, report.Corrected)
	// the account drift is within tolerance, the customer drift is not
	assert.Equal(t, 1, report.Violations)
	assert.Empty(t, report.Failures)

	assert.Equal(t, "50", h.Counters(t, inventorydomain.EntityAccount, a2.ID).TotalSpending.String())
	assert.Equal(t, "150", h.Counters(t, inventorydomain.EntityCustomer, c1.ID).TotalSpending.String())

	again, err := h.Reconcile.ReconcileAll(ctx, domain.Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, again.Scanned)
	assert.Zero(t, again.Corrected)
	assert.Empty(t, again.Entries)
}

func TestReconcileAllRestrictedToTypes(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "10")
	h.Corrupt(t, inventorydomain.EntityAccount, a1.ID, "1")
	h.Corrupt(t, inventorydomain.EntityBatch, b1.ID, "1")

	report, err := h.Reconcile.ReconcileAll(context.Background(), domain.Options{
		Types: []inventorydomain.EntityType{inventorydomain.EntityBatch},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, "10", h.Counters(t, inventorydomain.EntityBatch, b1.ID).TotalSpending.String())
	assert.Equal(t, "1", h.Counters(t, inventorydomain.EntityAccount, a1.ID).TotalSpending.String())
}

func TestReconcileAllHonorsCancellation(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	h.Account(t, "A1", b1.ID, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.Reconcile.ReconcileAll(ctx, domain.Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Canceled)
	assert.Zero(t, report.Corrected)
}

func TestReconcileEntityAndVerify(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	mi := h.InvoiceEntity(t, "MI1")
	a1 := h.Account(t, "A1", b1.ID, mi.ID, 0)
	h.Spend(t, a1.ID, "2024-03-01", "80")
	ref := inventorydomain.EntityRef{Type: inventorydomain.EntityInvoice, ID: mi.ID}
	ctx := context.Background()

	entry, err := h.Reconcile.Verify(ctx, ref)
	require.NoError(t, err)
	assert.False(t, entry.Violation)

	h.Corrupt(t, inventorydomain.EntityInvoice, mi.ID, "20")
	entry, err = h.Reconcile.Verify(ctx, ref)
	assert.ErrorIs(t, err, errs.ErrConsistencyViolation)
	assert.True(t, entry.Violation)
	assert.False(t, entry.Corrected)
	assert.Equal(t, "20", entry.Old.TotalSpending.String())
	assert.Equal(t, "80", entry.New.TotalSpending.String())
	// verify never writes
	assert.Equal(t, "20", h.Counters(t, inventorydomain.EntityInvoice, mi.ID).TotalSpending.String())

	entry, err = h.Reconcile.ReconcileEntity(ctx, ref)
	require.NoError(t, err)
	assert.True(t, entry.Corrected)
	assert.True(t, entry.Violation)
	assert.Equal(t, "80", h.Counters(t, inventorydomain.EntityInvoice, mi.ID).TotalSpending.String())

	_, err = h.Reconcile.ReconcileEntity(ctx, inventorydomain.EntityRef{Type: inventorydomain.EntityCustomer, ID: 99})
	assert.ErrorIs(t, err, inventorydomain.ErrUnknownCustomer)

	_, err = h.Reconcile.Verify(ctx, inventorydomain.EntityRef{Type: "region", ID: 1})
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidEntityType)
}
