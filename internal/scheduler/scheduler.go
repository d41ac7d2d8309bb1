package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/config"
	obsmetrics "github.com/smallbiznis/spendledger/internal/observability/metrics"
	reconciledomain "github.com/smallbiznis/spendledger/internal/reconcile/domain"
	"github.com/smallbiznis/spendledger/internal/snapshot/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobDailyClose   = "daily_close"
	JobReconcileAll = "reconcile_all"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type dailyCloser interface {
	RunOnce(ctx context.Context) error
}

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Tuning     *config.ReconcileConfigHolder
	DailyClose *worker.Worker
	Reconciler reconciledomain.Service
	Metrics    *obsmetrics.LedgerMetrics `optional:"true"`
	Config     Config                    `optional:"true"`
}

// Scheduler runs the periodic daily close and full reconciliation. Each job
// runs at most once at a time and only when its interval has elapsed.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	tuning     *config.ReconcileConfigHolder
	dailyClose dailyCloser
	reconciler reconciledomain.Service
	metrics    *obsmetrics.LedgerMetrics

	mu      sync.Mutex
	lastRun map[string]time.Time
	running sync.Mutex
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Tuning == nil || p.DailyClose == nil || p.Reconciler == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		tuning:     p.Tuning,
		dailyClose: p.DailyClose,
		reconciler: p.Reconciler,
		metrics:    p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := s.safeCall(ctx, name, fn)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		s.logJobFinish(ctx, run, err)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout: the next tick resumes
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job that is due. A concurrent call returns
// immediately.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if !s.running.TryLock() {
		s.log.Debug("scheduler run already in progress")
		return nil
	}
	defer s.running.Unlock()

	tuning := s.tuning.Get()
	jobs := []struct {
		Name     string
		Interval time.Duration
		Run      func(context.Context) error
	}{
		{JobDailyClose, tuning.DailyCloseInterval, func(ctx context.Context) error {
			return s.runJob(ctx, JobDailyClose, s.cfg.DailyCloseTimeout, s.DailyCloseJob)
		}},
		{JobReconcileAll, tuning.ReconcileInterval, func(ctx context.Context) error {
			return s.runJob(ctx, JobReconcileAll, s.cfg.ReconcileTimeout, s.ReconcileAllJob)
		}},
	}

	var err error
	for _, job := range jobs {
		if parent.Err() != nil {
			break
		}
		if !s.isJobEnabled(job.Name) || !s.isDue(job.Name, job.Interval) {
			continue
		}
		s.markRun(job.Name)
		err = errors.Join(err, job.Run(parent))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) DailyCloseJob(ctx context.Context) error {
	return s.dailyClose.RunOnce(ctx)
}

// ReconcileAllJob converges every cached counter. Row failures are reported
// and retried by the next run, so they do not fail the job.
func (s *Scheduler) ReconcileAllJob(ctx context.Context) error {
	report, err := s.reconciler.ReconcileAll(ctx, reconciledomain.Options{})
	if errors.Is(err, reconciledomain.ErrPartialReconcile) {
		s.logger(ctx).Warn("reconcile finished with row failures",
			zap.Int("scanned", report.Scanned),
			zap.Int("corrected", report.Corrected),
			zap.Int("failures", len(report.Failures)),
		)
		return nil
	}
	return err
}

// isDue reports whether interval has elapsed since the job last started. A
// non-positive interval disables the job.
func (s *Scheduler) isDue(job string, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[job]
	if !ok {
		return true
	}
	return !s.clock.Now().Before(last.Add(interval))
}

func (s *Scheduler) markRun(job string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		s.lastRun = make(map[string]time.Time)
	}
	s.lastRun[job] = s.clock.Now()
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
