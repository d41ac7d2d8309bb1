package service_test

import (
	"context"
	"testing"
	"time"

	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledgertest"
	relinkdomain "github.com/smallbiznis/spendledger/internal/relink/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	"github.com/smallbiznis/spendledger/internal/summary/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitySummaryFillsGaps(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	c1 := h.Customer(t, "C1")
	a1 := h.Account(t, "A1", b1.ID, 0, c1.ID)
	a2 := h.Account(t, "A2", b1.ID, 0, c1.ID)
	h.Account(t, "A3", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "10")
	h.Spend(t, a2.ID, "2024-03-01", "5")
	h.Spend(t, a1.ID, "2024-03-04", "20")
	h.Spend(t, a1.ID, "2024-03-09", "100")

	// the cache is never read
	h.Corrupt(t, inventorydomain.EntityCustomer, c1.ID, "1")

	summary, err := h.Summary.GetEntitySummary(context.Background(), domain.SummaryRequest{
		EntityType: inventorydomain.EntityCustomer,
		EntityID:   c1.ID,
		Range: spendingdomain.DateRange{
			From: ledgertest.Day(t, "2024-03-01"),
			To:   ledgertest.Day(t, "2024-03-05"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "35", summary.Total.String())
	assert.Equal(t, "135", summary.Lifetime.String())
	assert.Equal(t, int64(2), summary.AccountCount)
	assert.Equal(t, int64(2), summary.ActiveAccountCount)

	require.Len(t, summary.Daily, 5)
	amounts := make([]string, 0, len(summary.Daily))
	for _, p := range summary.Daily {
		amounts = append(amounts, p.Amount.String())
	}
	assert.Equal(t, []string{"15", "0", "0", "20", "0"}, amounts)
	assert.Equal(t, ledgertest.Day(t, "2024-03-01"), summary.Daily[0].Date)
	assert.Equal(t, ledgertest.Day(t, "2024-03-05"), summary.Daily[4].Date)
}

func TestEntitySummaryOpenRange(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "10")
	h.Spend(t, a1.ID, "2024-03-04", "20")

	summary, err := h.Summary.GetEntitySummary(context.Background(), domain.SummaryRequest{
		EntityType: inventorydomain.EntityAccount,
		EntityID:   a1.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "30", summary.Total.String())
	assert.Nil(t, summary.From)
	assert.Len(t, summary.Daily, 2)
}

func TestEntitySummaryValidation(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	ctx := context.Background()

	_, err := h.Summary.GetEntitySummary(ctx, domain.SummaryRequest{
		EntityType: inventorydomain.EntityBatch,
		EntityID:   b1.ID,
		Range: spendingdomain.DateRange{
			From: ledgertest.Day(t, "2020-01-01"),
			To:   ledgertest.Day(t, "2024-01-01"),
		},
	})
	assert.ErrorIs(t, err, domain.ErrRangeTooLarge)

	_, err = h.Summary.GetEntitySummary(ctx, domain.SummaryRequest{EntityType: "region", EntityID: b1.ID})
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidEntityType)

	_, err = h.Summary.GetEntitySummary(ctx, domain.SummaryRequest{EntityType: inventorydomain.EntityInvoice, EntityID: 5})
	assert.ErrorIs(t, err, inventorydomain.ErrUnknownInvoiceEntity)
}

func TestAttributedAsOfFollowsRelinkHistory(t *testing.T) {
	h := ledgertest.New(t)
	b1 := h.Batch(t, "B1")
	c1 := h.Customer(t, "C1")
	c2 := h.Customer(t, "C2")
	a1 := h.Account(t, "A1", b1.ID, 0, c1.ID)
	a2 := h.Account(t, "A2", b1.ID, 0, c1.ID)
	h.Spend(t, a1.ID, "2024-03-01", "100")
	h.Spend(t, a2.ID, "2024-03-01", "30")
	ctx := context.Background()

	// a1 moves to C2 on 2024-03-10; the fake clock starts that day at noon
	_, err := h.Relink.Relink(ctx, relinkdomain.RelinkRequest{
		AccountID: a1.ID,
		Axis:      inventorydomain.AxisCustomer,
		EntityID:  &c2.ID,
	})
	require.NoError(t, err)
	h.Clock.Advance(48 * time.Hour)
	h.Spend(t, a1.ID, "2024-03-11", "50")

	before, err := h.Summary.AttributedAsOf(ctx, inventorydomain.AxisCustomer, c1.ID, ledgertest.Day(t, "2024-03-05"))
	require.NoError(t, err)
	assert.Equal(t, "130", before.Total.String())
	require.Len(t, before.Accounts, 2)

	after, err := h.Summary.AttributedAsOf(ctx, inventorydomain.AxisCustomer, c1.ID, ledgertest.Day(t, "2024-03-11"))
	require.NoError(t, err)
	assert.Equal(t, "30", after.Total.String())
	require.Len(t, after.Accounts, 1)
	assert.Equal(t, a2.ID, after.Accounts[0].AccountID)
	assert.True(t, after.Accounts[0].Current)

	moved, err := h.Summary.AttributedAsOf(ctx, inventorydomain.AxisCustomer, c2.ID, ledgertest.Day(t, "2024-03-11"))
	require.NoError(t, err)
	assert.Equal(t, "150", moved.Total.String())

	_, err = h.Summary.AttributedAsOf(ctx, inventorydomain.AxisBatch, b1.ID, ledgertest.Day(t, "2024-03-11"))
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidAxis)

	_, err = h.Summary.AttributedAsOf(ctx, inventorydomain.AxisCustomer, c1.ID, time.Time{})
	assert.ErrorIs(t, err, domain.ErrInvalidAsOf)
}
