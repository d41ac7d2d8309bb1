package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/spendledger/internal/errs"
	"github.com/smallbiznis/spendledger/pkg/db"
)

const (
	JobReasonDeadlineExceeded = "deadline_exceeded"
	JobReasonUnavailable      = "unavailable"
	JobReasonPartialFailure   = "partial_batch_failure"
	JobReasonInvalidInput     = "invalid_input"
	JobReasonConflict         = "concurrency_conflict"
	JobReasonUnknown          = "unknown"
)

const (
	ReconcileStatusCompleted = "completed"
	ReconcileStatusPartial   = "partial"
	ReconcileStatusCanceled  = "canceled"
	ReconcileStatusFailed    = "failed"
)

// LedgerMetrics captures ledger, relink, reconciliation and scheduler health signals.
type LedgerMetrics struct {
	spendRecords         *prometheus.CounterVec
	relinks              *prometheus.CounterVec
	retries              *prometheus.CounterVec
	reconcileRuns        *prometheus.CounterVec
	reconcileDuration    prometheus.Observer
	reconcileCorrections *prometheus.CounterVec
	consistencyViolation *prometheus.CounterVec
	reconcileRowFailures *prometheus.CounterVec
	jobRuns              *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	jobTimeouts          *prometheus.CounterVec
	jobErrors            *prometheus.CounterVec
	lockWait             *prometheus.HistogramVec
	slowQueries          *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	return LedgerWithConfig(Config{})
}

// LedgerWithConfig returns the singleton ledger metrics registry using config labels.
func LedgerWithConfig(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = newLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

// ResetLedgerMetricsForTest resets the singleton and registers a fresh set on registerer.
func ResetLedgerMetricsForTest(registerer prometheus.Registerer) *LedgerMetrics {
	ledgerMetricsOnce = sync.Once{}
	ledgerMetrics = nil
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = newLedgerMetrics(registerer, Config{ServiceName: "spendledger", Environment: "test"})
	})
	return ledgerMetrics
}

func newLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "spendledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	spendRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_spend_records_total",
		Help:        "Ledger upserts by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	relinks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_relinks_total",
		Help:        "Relink calls by axis and result.",
		ConstLabels: constLabels,
	}, []string{"axis", "result"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_retries_total",
		Help:        "Transparent retries of concurrency conflicts by operation.",
		ConstLabels: constLabels,
	}, []string{"operation"})
	reconcileRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_reconcile_runs_total",
		Help:        "Reconciliation runs by final status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	reconcileDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "spendledger_reconcile_duration_seconds",
		Help:        "Wall clock time of full reconciliation runs.",
		Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		ConstLabels: constLabels,
	})
	reconcileCorrections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_reconcile_corrections_total",
		Help:        "Cached counters rewritten by reconciliation.",
		ConstLabels: constLabels,
	}, []string{"entity_type"})
	consistencyViolation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_consistency_violations_total",
		Help:        "Cached totals that drifted beyond tolerance from ledger truth.",
		ConstLabels: constLabels,
	}, []string{"entity_type"})
	reconcileRowFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_reconcile_row_failures_total",
		Help:        "Rows that failed inside a reconcile batch.",
		ConstLabels: constLabels,
	}, []string{"entity_type"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "spendledger_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_scheduler_job_timeouts_total",
		Help:        "Scheduler job timeouts.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "spendledger_account_lock_wait_seconds",
		Help:        "Time spent waiting for per-account locks.",
		Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"backend"})
	slowQueries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "spendledger_slow_queries_total",
		Help:        "Database statements slower than the slow query threshold, by table.",
		ConstLabels: constLabels,
	}, []string{"table"})

	registerer.MustRegister(
		spendRecords,
		relinks,
		retries,
		reconcileRuns,
		reconcileDuration,
		reconcileCorrections,
		consistencyViolation,
		reconcileRowFailures,
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		lockWait,
		slowQueries,
	)

	return &LedgerMetrics{
		spendRecords:         spendRecords,
		relinks:              relinks,
		retries:              retries,
		reconcileRuns:        reconcileRuns,
		reconcileDuration:    reconcileDuration,
		reconcileCorrections: reconcileCorrections,
		consistencyViolation: consistencyViolation,
		reconcileRowFailures: reconcileRowFailures,
		jobRuns:              jobRuns,
		jobDuration:          jobDuration,
		jobTimeouts:          jobTimeouts,
		jobErrors:            jobErrors,
		lockWait:             lockWait,
		slowQueries:          slowQueries,
	}
}

func (m *LedgerMetrics) IncSpendRecord(result string) {
	if m == nil {
		return
	}
	m.spendRecords.WithLabelValues(result).Inc()
}

func (m *LedgerMetrics) IncRelink(axis, result string) {
	if m == nil {
		return
	}
	m.relinks.WithLabelValues(axis, result).Inc()
}

func (m *LedgerMetrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// ObserveReconcileRun records the outcome and duration of a full reconciliation.
func (m *LedgerMetrics) ObserveReconcileRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(status).Inc()
	m.reconcileDuration.Observe(duration.Seconds())
}

func (m *LedgerMetrics) IncCorrection(entityType string) {
	if m == nil {
		return
	}
	m.reconcileCorrections.WithLabelValues(entityType).Inc()
}

func (m *LedgerMetrics) IncConsistencyViolation(entityType string) {
	if m == nil {
		return
	}
	m.consistencyViolation.WithLabelValues(entityType).Inc()
}

func (m *LedgerMetrics) IncRowFailure(entityType string) {
	if m == nil {
		return
	}
	m.reconcileRowFailures.WithLabelValues(entityType).Inc()
}

func (m *LedgerMetrics) ObserveLockWait(backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObserveSlowQuery counts a slow statement against its table.
func (m *LedgerMetrics) ObserveSlowQuery(table string, _ time.Duration) {
	if m == nil {
		return
	}
	if table == "" {
		table = "unknown"
	}
	m.slowQueries.WithLabelValues(table).Inc()
}

// IncJobRun increments the run counter for a scheduler job.
func (m *LedgerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *LedgerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *LedgerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *LedgerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	switch {
	case errors.Is(err, errs.ErrUnavailable):
		return JobReasonUnavailable
	case errors.Is(err, errs.ErrPartialBatchFailure):
		return JobReasonPartialFailure
	case errors.Is(err, errs.ErrInvalidInput):
		return JobReasonInvalidInput
	case db.IsRetryable(err):
		return JobReasonConflict
	}
	return JobReasonUnknown
}
