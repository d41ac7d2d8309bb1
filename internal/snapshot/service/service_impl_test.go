package service_test

import (
	"context"
	"testing"
	"time"

	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledgertest"
	"github.com/smallbiznis/spendledger/internal/snapshot/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCaptureDailyFinalIsIdempotent(t *testing.T) {
	h := ledgertest.New(t, ledgertest.WithBatchSize(2))
	batch := h.Batch(t, "b")
	a1 := h.Account(t, "a1", batch.ID, 0, 0)
	a2 := h.Account(t, "a2", batch.ID, 0, 0)
	h.Account(t, "a3", batch.ID, 0, 0)

	h.Spend(t, a1.ID, "2024-03-01", "10")
	h.Spend(t, a1.ID, "2024-03-02", "5")
	h.Spend(t, a2.ID, "2024-03-03", "7")

	ctx := context.Background()
	day := ledgertest.Day(t, "2024-03-02").Add(15 * time.Hour)

	first, err := h.Snapshots.CaptureDailyFinal(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, ledgertest.Day(t, "2024-03-02"), first.Day)
	assert.Equal(t, 3, first.Accounts)
	assert.Equal(t, 3, first.Written)
	assert.Equal(t, 0, first.Existing)

	second, err := h.Snapshots.CaptureDailyFinal(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Accounts)
	assert.Equal(t, 0, second.Written)
	assert.Equal(t, 3, second.Existing)

	snaps, err := h.Snapshots.ListForAccount(ctx, a1.ID, domain.ListFilter{Type: domain.SnapshotDailyFinal})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "15", snaps[0].AccountTotal.String())
	assert.Equal(t, "15", snaps[0].CumulativeAmount.String())
	require.NotNil(t, snaps[0].CloseDate)

	// spend after the closed day is not part of its snapshot
	snaps, err = h.Snapshots.ListForAccount(ctx, a2.ID, domain.ListFilter{Type: domain.SnapshotDailyFinal})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].AccountTotal.IsZero())
}

func TestCaptureRecordsPriorAttribution(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "b")
	invoice := h.InvoiceEntity(t, "mi")
	account := h.Account(t, "a", batch.ID, invoice.ID, 0)
	h.Spend(t, account.ID, "2024-03-01", "40")

	ctx := context.Background()
	var snap domain.SpendingSnapshot
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		snap, err = h.Snapshots.Capture(ctx, tx, domain.CaptureRequest{Account: account, Axis: inventorydomain.AxisInvoice})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotInvoiceChange, snap.SnapshotType)
	require.NotNil(t, snap.PriorInvoiceID)
	assert.Equal(t, invoice.ID, *snap.PriorInvoiceID)
	assert.Equal(t, "40", snap.CumulativeAmount.String())
	assert.Equal(t, h.Clock.Now(), snap.SnapshotAt)

	// unattributed on the customer axis: nothing was attributed to a prior customer
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		snap, err = h.Snapshots.Capture(ctx, tx, domain.CaptureRequest{Account: account, Axis: inventorydomain.AxisCustomer})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotCustomerChange, snap.SnapshotType)
	assert.True(t, snap.CumulativeAmount.IsZero())
	assert.Equal(t, "40", snap.AccountTotal.String())

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		_, err := h.Snapshots.Capture(ctx, tx, domain.CaptureRequest{Account: account, Axis: inventorydomain.AxisBatch})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAxis)
}

func TestListForAccountValidation(t *testing.T) {
	h := ledgertest.New(t)
	ctx := context.Background()

	_, err := h.Snapshots.ListForAccount(ctx, 1, domain.ListFilter{Type: "WEEKLY"})
	assert.ErrorIs(t, err, domain.ErrInvalidSnapshotType)

	_, err = h.Snapshots.ListForAccount(ctx, 1, domain.ListFilter{})
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)

	_, err = h.Snapshots.CaptureDailyFinal(ctx, time.Time{})
	assert.ErrorIs(t, err, domain.ErrInvalidDay)
}
