package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledgertest"
	"github.com/smallbiznis/spendledger/internal/spending/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSpendReplacePropagatesDelta(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "b")
	invoice := h.InvoiceEntity(t, "mi")
	customer := h.Customer(t, "mc")
	account := h.Account(t, "a", batch.ID, invoice.ID, customer.ID)

	first := h.Spend(t, account.ID, "2024-03-01", "100")
	assert.Equal(t, domain.OutcomeInserted, first.Outcome)
	assert.Equal(t, "100", first.Delta.String())
	require.NotNil(t, first.Record.InvoiceID)
	assert.Equal(t, invoice.ID, *first.Record.InvoiceID)

	second := h.Spend(t, account.ID, "2024-03-01", "150")
	assert.Equal(t, domain.OutcomeReplaced, second.Outcome)
	assert.Equal(t, "50", second.Delta.String())
	require.NotNil(t, second.Previous)
	assert.Equal(t, "100", second.Previous.String())
	assert.Equal(t, first.Record.ID, second.Record.ID)

	for _, ref := range []inventorydomain.EntityRef{
		{Type: inventorydomain.EntityAccount, ID: account.ID},
		{Type: inventorydomain.EntityInvoice, ID: invoice.ID},
		{Type: inventorydomain.EntityCustomer, ID: customer.ID},
		{Type: inventorydomain.EntityBatch, ID: batch.ID},
	} {
		assert.Equal(t, "150", h.Counters(t, ref.Type, ref.ID).TotalSpending.String(), ref.String())
	}

	records, err := h.Spending.RecordsForAccount(context.Background(), account.ID, domain.DateRange{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecordSpendSameAmountIsUnchanged(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "b")
	account := h.Account(t, "a", batch.ID, 0, 0)

	h.Spend(t, account.ID, "2024-03-01", "80")
	again := h.Spend(t, account.ID, "2024-03-01", "80")
	assert.Equal(t, domain.OutcomeUnchanged, again.Outcome)
	assert.True(t, again.Delta.IsZero())
	assert.Equal(t, "80", h.Counters(t, inventorydomain.EntityBatch, batch.ID).TotalSpending.String())
}

func TestRecordSpendZeroAmountIsStored(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "b")
	account := h.Account(t, "a", batch.ID, 0, 0)

	h.Spend(t, account.ID, "2024-03-01", "30")
	res := h.Spend(t, account.ID, "2024-03-01", "0")
	assert.Equal(t, domain.OutcomeReplaced, res.Outcome)
	assert.Equal(t, "-30", res.Delta.String())

	total, err := h.Spending.AggregateSpend(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestRecordSpendValidation(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "b")
	account := h.Account(t, "a", batch.ID, 0, 0)
	day := ledgertest.Day(t, "2024-03-05")

	tests := []struct {
		name string
		req  domain.RecordSpendRequest
		want error
	}{
		{
			name: "negative amount",
			req:  domain.RecordSpendRequest{AccountID: account.ID, Date: day, Amount: decimal.NewFromInt(-1), Currency: "USD"},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "amount finer than the stored scale",
			req:  domain.RecordSpendRequest{AccountID: account.ID, Date: day, Amount: decimal.RequireFromString("0.00005"), Currency: "USD"},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "missing date",
			req:  domain.RecordSpendRequest{AccountID: account.ID, Amount: decimal.NewFromInt(1), Currency: "USD"},
			want: domain.ErrInvalidDate,
		},
		{
			name: "bad currency",
			req:  domain.RecordSpendRequest{AccountID: account.ID, Date: day, Amount: decimal.NewFromInt(1), Currency: "US"},
			want: domain.ErrInvalidCurrency,
		},
		{
			name: "date outside period",
			req: domain.RecordSpendRequest{
				AccountID:   account.ID,
				Date:        day,
				Amount:      decimal.NewFromInt(1),
				Currency:    "USD",
				PeriodStart: ledgertest.Day(t, "2024-03-06"),
				PeriodEnd:   ledgertest.Day(t, "2024-03-07"),
			},
			want: domain.ErrInvalidPeriod,
		},
		{
			name: "unknown account",
			req:  domain.RecordSpendRequest{AccountID: account.ID + 1, Date: day, Amount: decimal.NewFromInt(1), Currency: "USD"},
			want: domain.ErrUnknownAccount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Spending.RecordSpend(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	total, err := h.Spending.AggregateSpend(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestRecordSpendLowercaseCurrencyIsNormalized(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "b")
	account := h.Account(t, "a", batch.ID, 0, 0)

	res, err := h.Spending.RecordSpend(context.Background(), domain.RecordSpendRequest{
		AccountID: account.ID,
		Date:      ledgertest.Day(t, "2024-03-01"),
		Amount:    decimal.NewFromInt(5),
		Currency:  " idr ",
	})
	require.NoError(t, err)
	assert.Equal(t, "IDR", res.Record.Currency)
}

func TestRecordSpendConcurrentWritersKeepCountersExact(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "b")
	customer := h.Customer(t, "mc")
	account := h.Account(t, "a", batch.ID, 0, customer.ID)

	days := []string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04", "2024-03-05"}
	var wg sync.WaitGroup
	errCh := make(chan error, len(days)*2)
	for _, day := range days {
		for _, amount := range []int64{10, 20} {
			wg.Add(1)
			date := ledgertest.Day(t, day)
			go func(amount int64) {
				defer wg.Done()
				_, err := h.Spending.RecordSpend(context.Background(), domain.RecordSpendRequest{
					AccountID: account.ID,
					Date:      date,
					Amount:    decimal.NewFromInt(amount),
					Currency:  "USD",
				})
				errCh <- err
			}(amount)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	total, err := h.Spending.AggregateSpend(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, total.Equal(h.Counters(t, inventorydomain.EntityAccount, account.ID).TotalSpending))
	assert.True(t, total.Equal(h.Counters(t, inventorydomain.EntityCustomer, customer.ID).TotalSpending))
	assert.True(t, total.Equal(h.Counters(t, inventorydomain.EntityBatch, batch.ID).TotalSpending))
}

func TestRecordsForAccountRange(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "b")
	account := h.Account(t, "a", batch.ID, 0, 0)
	h.Spend(t, account.ID, "2024-03-01", "1")
	h.Spend(t, account.ID, "2024-03-02", "2")
	h.Spend(t, account.ID, "2024-03-03", "3")

	ctx := context.Background()
	records, err := h.Spending.RecordsForAccount(ctx, account.ID, domain.DateRange{
		From: ledgertest.Day(t, "2024-03-02"),
		To:   ledgertest.Day(t, "2024-03-03"),
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[0].Amount.String())

	_, err = h.Spending.RecordsForAccount(ctx, account.ID, domain.DateRange{
		From: ledgertest.Day(t, "2024-03-03"),
		To:   ledgertest.Day(t, "2024-03-01"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestRecordSpendSumsAreExact(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "b")
	customer := h.Customer(t, "mc")
	account := h.Account(t, "a", batch.ID, 0, customer.ID)

	h.Spend(t, account.ID, "2024-03-01", "0.1")
	h.Spend(t, account.ID, "2024-03-02", "0.2")
	h.Spend(t, account.ID, "2024-03-03", "0.3")
	// trailing zeros beyond the scale are not extra precision
	h.Spend(t, account.ID, "2024-03-04", "0.12340")

	total, err := h.Spending.AggregateSpend(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.7234", total.String())

	assert.Equal(t, "0.7234", h.Counters(t, inventorydomain.EntityAccount, account.ID).TotalSpending.String())
	assert.Equal(t, "0.7234", h.Counters(t, inventorydomain.EntityCustomer, customer.ID).TotalSpending.String())
	assert.Equal(t, "0.7234", h.Counters(t, inventorydomain.EntityBatch, batch.ID).TotalSpending.String())
}
