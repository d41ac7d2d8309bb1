// Package ledgertest wires the ledger services over an in-memory sqlite
// database for package tests.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/spendledger/internal/aggregation"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/config"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	inventoryrepo "github.com/smallbiznis/spendledger/internal/inventory/repository"
	inventorysvc "github.com/smallbiznis/spendledger/internal/inventory/service"
	"github.com/smallbiznis/spendledger/internal/lock"
	"github.com/smallbiznis/spendledger/internal/migration"
	reconciledomain "github.com/smallbiznis/spendledger/internal/reconcile/domain"
	reconcilerepo "github.com/smallbiznis/spendledger/internal/reconcile/repository"
	reconcilesvc "github.com/smallbiznis/spendledger/internal/reconcile/service"
	relinkdomain "github.com/smallbiznis/spendledger/internal/relink/domain"
	relinksvc "github.com/smallbiznis/spendledger/internal/relink/service"
	snapshotdomain "github.com/smallbiznis/spendledger/internal/snapshot/domain"
	snapshotrepo "github.com/smallbiznis/spendledger/internal/snapshot/repository"
	snapshotsvc "github.com/smallbiznis/spendledger/internal/snapshot/service"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	spendingrepo "github.com/smallbiznis/spendledger/internal/spending/repository"
	spendingsvc "github.com/smallbiznis/spendledger/internal/spending/service"
	summarydomain "github.com/smallbiznis/spendledger/internal/summary/domain"
	summarysvc "github.com/smallbiznis/spendledger/internal/summary/service"
	pkgdb "github.com/smallbiznis/spendledger/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Start is the fake clock's initial time in every harness.
var Start = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type Harness struct {
	DB     *gorm.DB
	Clock  *clock.FakeClock
	Tuning *config.ReconcileConfigHolder
	Engine *aggregation.Engine

	InventoryRepo inventorydomain.Repository
	SpendingRepo  spendingdomain.Repository
	SnapshotRepo  snapshotdomain.Repository

	Inventory inventorydomain.Service
	Spending  spendingdomain.Service
	Snapshots snapshotdomain.Service
	Relink    relinkdomain.Service
	Reconcile reconciledomain.Service
	Summary   summarydomain.Service
}

// Option adjusts the tuning config before services are built.
type Option func(*config.ReconcileConfig)

func WithBatchSize(n int) Option {
	return func(c *config.ReconcileConfig) { c.BatchSize = n }
}

func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()

	tuning := config.DefaultReconcileConfig()
	tuning.Concurrency = 1
	tuning.LockTimeout = time.Second
	for _, opt := range opts {
		opt(&tuning)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	h := &Harness{
		DB:            pkgdb.NewTest(t, migration.Models()...),
		Clock:         clock.NewFakeClock(Start),
		Tuning:        config.NewStaticReconcileConfigHolder(tuning),
		InventoryRepo: inventoryrepo.Provide(),
		SpendingRepo:  spendingrepo.Provide(),
		SnapshotRepo:  snapshotrepo.Provide(),
	}
	log := zap.NewNop()
	locker := lock.NewLocalLocker(h.Tuning, nil)
	h.Engine = aggregation.New(aggregation.Params{Log: log, Clock: h.Clock})

	h.Inventory = inventorysvc.New(inventorysvc.Params{
		DB:     h.DB,
		Log:    log,
		GenID:  node,
		Repo:   h.InventoryRepo,
		Engine: h.Engine,
		Clock:  h.Clock,
	})
	h.Spending = spendingsvc.New(spendingsvc.Params{
		DB:            h.DB,
		Log:           log,
		GenID:         node,
		Repo:          h.SpendingRepo,
		InventoryRepo: h.InventoryRepo,
		Engine:        h.Engine,
		Locker:        locker,
		Config:        h.Tuning,
		Clock:         h.Clock,
	})
	h.Snapshots = snapshotsvc.New(snapshotsvc.Params{
		DB:            h.DB,
		Log:           log,
		GenID:         node,
		Repo:          h.SnapshotRepo,
		SpendingRepo:  h.SpendingRepo,
		InventoryRepo: h.InventoryRepo,
		Config:        h.Tuning,
		Clock:         h.Clock,
	})
	h.Relink = relinksvc.New(relinksvc.Params{
		DB:            h.DB,
		Log:           log,
		InventoryRepo: h.InventoryRepo,
		Snapshots:     h.Snapshots,
		Engine:        h.Engine,
		Locker:        locker,
		Config:        h.Tuning,
		Clock:         h.Clock,
	})
	h.Reconcile = reconcilesvc.New(reconcilesvc.Params{
		DB:            h.DB,
		Log:           log,
		GenID:         node,
		InventoryRepo: h.InventoryRepo,
		SpendingRepo:  h.SpendingRepo,
		JobRepo:       reconcilerepo.Provide(),
		Engine:        h.Engine,
		Locker:        locker,
		Config:        h.Tuning,
		Clock:         h.Clock,
	})
	h.Summary = summarysvc.New(summarysvc.Params{
		DB:            h.DB,
		Log:           log,
		InventoryRepo: h.InventoryRepo,
		SpendingRepo:  h.SpendingRepo,
		SnapshotRepo:  h.SnapshotRepo,
	})
	return h
}

func (h *Harness) Batch(t testing.TB, name string) inventorydomain.Batch {
	t.Helper()
	b, err := h.Inventory.CreateBatch(context.Background(), inventorydomain.CreateBatchRequest{Name: name})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return b
}

func (h *Harness) Customer(t testing.TB, name string) inventorydomain.Customer {
	t.Helper()
	c, err := h.Inventory.CreateCustomer(context.Background(), inventorydomain.CreateCustomerRequest{Name: name})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func (h *Harness) InvoiceEntity(t testing.TB, name string) inventorydomain.InvoiceEntity {
	t.Helper()
	e, err := h.Inventory.CreateInvoiceEntity(context.Background(), inventorydomain.CreateInvoiceEntityRequest{Name: name})
	if err != nil {
		t.Fatalf("create invoice entity: %v", err)
	}
	return e
}

// Account creates an active account in batch, attributed to invoice and
// customer when they are non-zero.
func (h *Harness) Account(t testing.TB, name string, batch, invoice, customer snowflake.ID) inventorydomain.Account {
	t.Helper()
	req := inventorydomain.CreateAccountRequest{Name: name, BatchID: batch}
	if invoice != 0 {
		req.CurrentInvoiceID = &invoice
	}
	if customer != 0 {
		req.CurrentCustomerID = &customer
	}
	a, err := h.Inventory.CreateAccount(context.Background(), req)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

// Spend records amount for the account on day (YYYY-MM-DD) in USD.
func (h *Harness) Spend(t testing.TB, accountID snowflake.ID, day string, amount string) spendingdomain.RecordSpendResult {
	t.Helper()
	res, err := h.Spending.RecordSpend(context.Background(), spendingdomain.RecordSpendRequest{
		AccountID: accountID,
		Date:      Day(t, day),
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("record spend: %v", err)
	}
	return res
}

// Counters reads the cached counters of one entity.
func (h *Harness) Counters(t testing.TB, entityType inventorydomain.EntityType, id snowflake.ID) aggregation.Counters {
	t.Helper()
	cached, err := h.Engine.Cached(context.Background(), h.DB, entityType, []snowflake.ID{id})
	if err != nil {
		t.Fatalf("read counters: %v", err)
	}
	c, ok := cached[id]
	if !ok {
		t.Fatalf("no %s %s", entityType, id)
	}
	return c
}

// Corrupt overwrites a cached total without touching the ledger.
func (h *Harness) Corrupt(t testing.TB, entityType inventorydomain.EntityType, id snowflake.ID, total string) {
	t.Helper()
	err := h.DB.Exec(
		"UPDATE "+entityType.Table()+" SET total_spending = ? WHERE id = ?",
		decimal.RequireFromString(total), id,
	).Error
	if err != nil {
		t.Fatalf("corrupt counters: %v", err)
	}
}

func Day(t testing.TB, raw string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		t.Fatalf("parse day %q: %v", raw, err)
	}
	return d
}
