package worker

import (
	"context"
	"errors"

	auditdomain "github.com/smallbiznis/spendledger/internal/audit/domain"
	"github.com/smallbiznis/spendledger/internal/clock"
	snapshotdomain "github.com/smallbiznis/spendledger/internal/snapshot/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Snapshots snapshotdomain.Service
	Clock     clock.Clock
	Config    Config           `optional:"true"`
	Audit     auditdomain.Sink `optional:"true"`
}

// Worker closes finished UTC days with DAILY_FINAL snapshots.
type Worker struct {
	log       *zap.Logger
	snapshots snapshotdomain.Service
	clock     clock.Clock
	cfg       Config
	audit     auditdomain.Sink
}

func NewWorker(p Params) *Worker {
	audit := p.Audit
	if audit == nil {
		audit = auditdomain.NopSink{}
	}
	return &Worker{
		log:       p.Log.Named("snapshot.daily_close"),
		snapshots: p.Snapshots,
		clock:     p.Clock,
		cfg:       p.Config.withDefaults(),
		audit:     audit,
	}
}

// RunOnce closes yesterday and the configured catch-up days, oldest first.
// Days that are already closed are skipped by the unique close date.
func (w *Worker) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	yesterday := clock.StartOfDay(w.clock.Now()).AddDate(0, 0, -1)
	var errs []error
	for offset := w.cfg.CatchUpDays; offset >= 0; offset-- {
		day := yesterday.AddDate(0, 0, -offset)
		report, err := w.snapshots.CaptureDailyFinal(ctx, day)
		if err != nil {
			w.log.Warn("daily close failed",
				zap.Time("day", day),
				zap.Int("written", report.Written),
				zap.Error(err),
			)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if report.Written > 0 {
			w.log.Info("day closed",
				zap.Time("day", day),
				zap.Int("written", report.Written),
			)
			w.audit.Record(ctx, auditdomain.Event{
				Action:     auditdomain.ActionDailyClose,
				TargetType: "close_date",
				TargetID:   day.Format("2006-01-02"),
				Metadata: map[string]any{
					"accounts": report.Accounts,
					"written":  report.Written,
					"existing": report.Existing,
				},
			})
		}
	}
	return errors.Join(errs...)
}
