// Package ledger bundles the spend ledger core: stores, aggregation,
// snapshots, relinking, reconciliation and summaries, together with the
// locker and audit sink they share.
package ledger

import (
	"github.com/smallbiznis/spendledger/internal/aggregation"
	"github.com/smallbiznis/spendledger/internal/audit"
	"github.com/smallbiznis/spendledger/internal/inventory"
	"github.com/smallbiznis/spendledger/internal/lock"
	"github.com/smallbiznis/spendledger/internal/reconcile"
	"github.com/smallbiznis/spendledger/internal/relink"
	"github.com/smallbiznis/spendledger/internal/snapshot"
	"github.com/smallbiznis/spendledger/internal/spending"
	"github.com/smallbiznis/spendledger/internal/summary"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	lock.Module,
	audit.Module,
	aggregation.Module,
	inventory.Module,
	spending.Module,
	snapshot.Module,
	relink.Module,
	reconcile.Module,
	summary.Module,
)
