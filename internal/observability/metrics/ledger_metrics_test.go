package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/spendledger/internal/errs"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "unavailable", err: fmt.Errorf("x: %w", errs.ErrUnavailable), want: JobReasonUnavailable},
		{name: "partial", err: errs.ErrPartialBatchFailure, want: JobReasonPartialFailure},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: JobReasonConflict},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestLedgerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newLedgerMetrics(registry, Config{ServiceName: "spendledger", Environment: "test"})

	m.IncCorrection("customer")
	m.IncCorrection("customer")
	m.IncConsistencyViolation("account")
	m.ObserveReconcileRun(ReconcileStatusCompleted, time.Second)
	m.ObserveSlowQuery("spending_records", time.Second)
	m.ObserveSlowQuery("", time.Second)

	if got := testutil.ToFloat64(m.reconcileCorrections.WithLabelValues("customer")); got != 2 {
		t.Fatalf("expected 2 corrections, got %v", got)
	}
	if got := testutil.ToFloat64(m.consistencyViolation.WithLabelValues("account")); got != 1 {
		t.Fatalf("expected 1 violation, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconcileRuns.WithLabelValues(ReconcileStatusCompleted)); got != 1 {
		t.Fatalf("expected 1 run, got %v", got)
	}
	if got := testutil.ToFloat64(m.slowQueries.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected 1 unattributed slow query, got %v", got)
	}
}

func TestResetLedgerMetricsForTest(t *testing.T) {
	first := ResetLedgerMetricsForTest(prometheus.NewRegistry())
	second := ResetLedgerMetricsForTest(prometheus.NewRegistry())
	if first == second {
		t.Fatalf("expected a fresh registry after reset")
	}
	if Ledger() != second {
		t.Fatalf("expected singleton to return the reset instance")
	}
}
