package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/spendledger/internal/observability/context"
	obslogger "github.com/smallbiznis/spendledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/spendledger/internal/observability/metrics"
	"github.com/smallbiznis/spendledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
}

type jobRunKey struct{}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx = correlation.ContextWithCorrelationID(ctx, run.runID)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun, err error) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
	}
	log := s.logger(ctx)
	if err != nil {
		log.Warn("scheduler.job.finish", append(fields,
			zap.String("reason", obsmetrics.ClassifyJobReason(err)),
			zap.Error(err),
		)...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}
