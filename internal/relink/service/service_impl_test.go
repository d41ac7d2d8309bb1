package service_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledgertest"
	"github.com/smallbiznis/spendledger/internal/relink/domain"
	snapshotdomain "github.com/smallbiznis/spendledger/internal/snapshot/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelinkMovesSpendBetweenCustomers(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	c1 := h.Customer(t, "C1")
	c2 := h.Customer(t, "C2")
	a1 := h.Account(t, "A1", b1.ID, 0, c1.ID)
	h.Spend(t, a1.ID, "2024-03-01", "100")
	h.Spend(t, a1.ID, "2024-03-02", "50")

	ctx := context.Background()
	res, err := h.Relink.Relink(ctx, domain.RelinkRequest{
		AccountID: a1.ID,
		Axis:      inventorydomain.AxisCustomer,
		EntityID:  &c2.ID,
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	require.NotNil(t, res.Prior)
	assert.Equal(t, c1.ID, *res.Prior)
	require.NotNil(t, res.Current)
	assert.Equal(t, c2.ID, *res.Current)
	assert.NotEmpty(t, res.CorrelationID)
	assert.Len(t, res.Affected, 2)

	require.NotNil(t, res.Snapshot)
	assert.Equal(t, snapshotdomain.SnapshotCustomerChange, res.Snapshot.SnapshotType)
	assert.Equal(t, "150", res.Snapshot.CumulativeAmount.String())
	require.NotNil(t, res.Snapshot.PriorCustomerID)
	assert.Equal(t, c1.ID, *res.Snapshot.PriorCustomerID)

	old := h.Counters(t, inventorydomain.EntityCustomer, c1.ID)
	assert.True(t, old.TotalSpending.IsZero())
	assert.Equal(t, int64(0), old.Linked)
	assert.Equal(t, int64(0), old.Active)

	moved := h.Counters(t, inventorydomain.EntityCustomer, c2.ID)
	assert.Equal(t, "150", moved.TotalSpending.String())
	assert.Equal(t, int64(1), moved.Linked)
	assert.Equal(t, int64(1), moved.Active)

	// the batch is not on the relinked axis
	assert.Equal(t, "150", h.Counters(t, inventorydomain.EntityBatch, b1.ID).TotalSpending.String())

	// later spend lands on the new customer only
	h.Spend(t, a1.ID, "2024-03-03", "25")
	assert.True(t, h.Counters(t, inventorydomain.EntityCustomer, c1.ID).TotalSpending.IsZero())
	assert.Equal(t, "175", h.Counters(t, inventorydomain.EntityCustomer, c2.ID).TotalSpending.String())
}

func TestRelinkToSameEntityIsNoop(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	mi := h.InvoiceEntity(t, "MI1")
	a1 := h.Account(t, "A1", b1.ID, mi.ID, 0)
	h.Spend(t, a1.ID, "2024-03-01", "10")

	res, err := h.Relink.Relink(context.Background(), domain.RelinkRequest{
		AccountID: a1.ID,
		Axis:      inventorydomain.AxisInvoice,
		EntityID:  &mi.ID,
	})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Nil(t, res.Snapshot)
	assert.Empty(t, res.Affected)

	snaps, err := h.Snapshots.ListForAccount(context.Background(), a1.ID, snapshotdomain.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestRelinkUnlinkAndRelinkFromNothing(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	mi := h.InvoiceEntity(t, "MI1")
	a1 := h.Account(t, "A1", b1.ID, mi.ID, 0)
	h.Spend(t, a1.ID, "2024-03-01", "60")
	ctx := context.Background()

	res, err := h.Relink.Relink(ctx, domain.RelinkRequest{AccountID: a1.ID, Axis: inventorydomain.AxisInvoice})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Nil(t, res.Current)
	assert.True(t, h.Counters(t, inventorydomain.EntityInvoice, mi.ID).TotalSpending.IsZero())

	res, err = h.Relink.Relink(ctx, domain.RelinkRequest{AccountID: a1.ID, Axis: inventorydomain.AxisInvoice, EntityID: &mi.ID})
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.Nil(t, res.Snapshot.PriorInvoiceID)
	assert.True(t, res.Snapshot.CumulativeAmount.IsZero())
	assert.Equal(t, "60", h.Counters(t, inventorydomain.EntityInvoice, mi.ID).TotalSpending.String())
}

func TestRelinkBatchAxis(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	b2 := h.Batch(t, "B2")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "30")
	ctx := context.Background()

	_, err := h.Relink.Relink(ctx, domain.RelinkRequest{AccountID: a1.ID, Axis: inventorydomain.AxisBatch})
	assert.ErrorIs(t, err, inventorydomain.ErrBatchRequired)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	res, err := h.Relink.Relink(ctx, domain.RelinkRequest{AccountID: a1.ID, Axis: inventorydomain.AxisBatch, EntityID: &b2.ID})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Nil(t, res.Snapshot)

	assert.True(t, h.Counters(t, inventorydomain.EntityBatch, b1.ID).TotalSpending.IsZero())
	moved := h.Counters(t, inventorydomain.EntityBatch, b2.ID)
	assert.Equal(t, "30", moved.TotalSpending.String())
	assert.Equal(t, int64(1), moved.Linked)
}

func TestRelinkErrors(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)
	missing := snowflake.ID(12345)
	ctx := context.Background()

	_, err := h.Relink.Relink(ctx, domain.RelinkRequest{AccountID: a1.ID, Axis: "region", EntityID: &missing})
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidAxis)

	_, err = h.Relink.Relink(ctx, domain.RelinkRequest{AccountID: a1.ID, Axis: inventorydomain.AxisCustomer, EntityID: &missing})
	assert.ErrorIs(t, err, inventorydomain.ErrUnknownCustomer)

	_, err = h.Relink.Relink(ctx, domain.RelinkRequest{AccountID: missing, Axis: inventorydomain.AxisCustomer})
	assert.ErrorIs(t, err, inventorydomain.ErrUnknownAccount)
}

func TestBulkRelinkReportsFailuresAndAppliesTheRest(t *testing.T) {
	h := ledgertest.New(t, ledgertest.WithBatchSize(2))
	b1 := h.Batch(t, "B1")
	c1 := h.Customer(t, "C1")
	c2 := h.Customer(t, "C2")
	a1 := h.Account(t, "A1", b1.ID, 0, c1.ID)
	a2 := h.Account(t, "A2", b1.ID, 0, c1.ID)
	a3 := h.Account(t, "A3", b1.ID, 0, c2.ID)
	h.Spend(t, a1.ID, "2024-03-01", "10")
	h.Spend(t, a2.ID, "2024-03-01", "20")
	h.Spend(t, a3.ID, "2024-03-01", "40")
	missing := a3.ID + 1000

	res, err := h.Relink.BulkRelink(context.Background(), domain.BulkRelinkRequest{
		AccountIDs: []snowflake.ID{a1.ID, a2.ID, a3.ID, missing, a1.ID},
		Axis:       inventorydomain.AxisCustomer,
		EntityID:   &c2.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPartialBatchFailure)
	assert.Equal(t, 4, res.Requested)
	assert.Equal(t, 2, res.Changed)
	assert.Equal(t, 1, res.Unchanged)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, missing, res.Failures[0].AccountID)
	assert.Equal(t, inventorydomain.ErrUnknownAccount.Code, res.Failures[0].Code)

	assert.True(t, h.Counters(t, inventorydomain.EntityCustomer, c1.ID).TotalSpending.IsZero())
	moved := h.Counters(t, inventorydomain.EntityCustomer, c2.ID)
	assert.Equal(t, "70", moved.TotalSpending.String())
	assert.Equal(t, int64(3), moved.Linked)
}

func TestBulkRelinkValidation(t *testing.T) {
	h := ledgertest.New(t)
	ctx := context.Background()

	_, err := h.Relink.BulkRelink(ctx, domain.BulkRelinkRequest{Axis: inventorydomain.AxisCustomer})
	assert.ErrorIs(t, err, domain.ErrEmptyAccounts)

	missing := snowflake.ID(7)
	_, err = h.Relink.BulkRelink(ctx, domain.BulkRelinkRequest{
		AccountIDs: []snowflake.ID{1},
		Axis:       inventorydomain.AxisInvoice,
		EntityID:   &missing,
	})
	assert.ErrorIs(t, err, inventorydomain.ErrUnknownInvoiceEntity)
}

func TestBulkSetStatusRefreshesActiveCounts(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	c1 := h.Customer(t, "C1")
	a1 := h.Account(t, "A1", b1.ID, 0, c1.ID)
	a2 := h.Account(t, "A2", b1.ID, 0, c1.ID)
	ctx := context.Background()

	res, err := h.Relink.BulkSetStatus(ctx, domain.BulkStatusRequest{
		AccountIDs: []snowflake.ID{a1.ID, a2.ID},
		Status:     inventorydomain.AccountStatusInactive,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Changed)
	assert.Equal(t, 2, res.AffectedEntities)

	customer := h.Counters(t, inventorydomain.EntityCustomer, c1.ID)
	assert.Equal(t, int64(2), customer.Linked)
	assert.Equal(t, int64(0), customer.Active)
	assert.Equal(t, int64(0), h.Counters(t, inventorydomain.EntityBatch, b1.ID).Active)

	res, err = h.Relink.BulkSetStatus(ctx, domain.BulkStatusRequest{
		AccountIDs: []snowflake.ID{a1.ID},
		Status:     inventorydomain.AccountStatusInactive,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Changed)
	assert.Equal(t, 1, res.Unchanged)

	_, err = h.Relink.BulkSetStatus(ctx, domain.BulkStatusRequest{AccountIDs: []snowflake.ID{a1.ID}, Status: "paused"})
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidStatus)
}

func TestRelinkTwiceProducesOneSnapshot(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	c1 := h.Customer(t, "C1")
	c2 := h.Customer(t, "C2")
	a1 := h.Account(t, "A1", b1.ID, 0, c1.ID)
	h.Spend(t, a1.ID, "2024-03-01", "40")
	ctx := context.Background()

	req := domain.RelinkRequest{AccountID: a1.ID, Axis: inventorydomain.AxisCustomer, EntityID: &c2.ID}
	first, err := h.Relink.Relink(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Changed)

	second, err := h.Relink.Relink(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Nil(t, second.Snapshot)

	snaps, err := h.Snapshots.ListForAccount(ctx, a1.ID, snapshotdomain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, snapshotdomain.SnapshotCustomerChange, snaps[0].SnapshotType)

	assert.True(t, h.Counters(t, inventorydomain.EntityCustomer, c1.ID).TotalSpending.IsZero())
	assert.Equal(t, "40", h.Counters(t, inventorydomain.EntityCustomer, c2.ID).TotalSpending.String())
	assert.Equal(t, int64(1), h.Counters(t, inventorydomain.EntityCustomer, c2.ID).Linked)
}
