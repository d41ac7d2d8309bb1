package service_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/errs"
	"github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledgertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccountRefreshesParentCounters(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "batch-1")
	invoice := h.InvoiceEntity(t, "mi-1")
	customer := h.Customer(t, "mc-1")

	account := h.Account(t, "acct-1", batch.ID, invoice.ID, customer.ID)
	assert.Equal(t, domain.AccountStatusActive, account.Status)
	assert.True(t, account.TotalSpending.IsZero())

	for _, ref := range account.Parents() {
		c := h.Counters(t, ref.Type, ref.ID)
		assert.Equal(t, int64(1), c.Linked, ref.String())
		assert.Equal(t, int64(1), c.Active, ref.String())
		assert.True(t, c.TotalSpending.IsZero(), ref.String())
	}
}

func TestCreateAccountValidation(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "batch-1")
	ctx := context.Background()
	missing := snowflake.ID(42)

	tests := []struct {
		name string
		req  domain.CreateAccountRequest
		want error
	}{
		{name: "blank name", req: domain.CreateAccountRequest{Name: "  ", BatchID: batch.ID}, want: domain.ErrInvalidName},
		{name: "no batch", req: domain.CreateAccountRequest{Name: "a"}, want: domain.ErrBatchRequired},
		{name: "bad status", req: domain.CreateAccountRequest{Name: "a", BatchID: batch.ID, Status: "paused"}, want: domain.ErrInvalidStatus},
		{name: "unknown batch", req: domain.CreateAccountRequest{Name: "a", BatchID: missing}, want: domain.ErrUnknownBatch},
		{name: "unknown customer", req: domain.CreateAccountRequest{Name: "a", BatchID: batch.ID, CurrentCustomerID: &missing}, want: domain.ErrUnknownCustomer},
		{name: "unknown invoice entity", req: domain.CreateAccountRequest{Name: "a", BatchID: batch.ID, CurrentInvoiceID: &missing}, want: domain.ErrUnknownInvoiceEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Inventory.CreateAccount(ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	c := h.Counters(t, domain.EntityBatch, batch.ID)
	assert.Equal(t, int64(0), c.Linked)
}

func TestCreateAccountRejectsDuplicateExternalRef(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "batch-1")
	ctx := context.Background()

	_, err := h.Inventory.CreateAccount(ctx, domain.CreateAccountRequest{Name: "a", ExternalRef: "ext-1", BatchID: batch.ID})
	require.NoError(t, err)

	_, err = h.Inventory.CreateAccount(ctx, domain.CreateAccountRequest{Name: "b", ExternalRef: "ext-1", BatchID: batch.ID})
	assert.ErrorIs(t, err, domain.ErrDuplicateExternalRef)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	c := h.Counters(t, domain.EntityBatch, batch.ID)
	assert.Equal(t, int64(1), c.Linked)
}

func TestGetAccount(t *testing.T) {
	h := ledgertest.New(t)
	batch := h.Batch(t, "batch-1")
	account := h.Account(t, "acct-1", batch.ID, 0, 0)
	h.Spend(t, account.ID, "2024-03-01", "12.5")

	got, err := h.Inventory.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.Nil(t, got.CurrentCustomerID)
	assert.True(t, got.TotalSpending.Equal(decimal.RequireFromString("12.5")))

	_, err = h.Inventory.GetAccount(context.Background(), account.ID+1)
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)
	assert.Equal(t, errs.KindUnknownEntity, errs.KindOf(err))
}
