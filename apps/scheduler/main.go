package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/config"
	"github.com/smallbiznis/spendledger/internal/ledger"
	"github.com/smallbiznis/spendledger/internal/observability"
	"github.com/smallbiznis/spendledger/internal/scheduler"
	"github.com/smallbiznis/spendledger/pkg/db"
	"go.uber.org/fx"
)

// Scheduler-only process for deployments that run the API separately.
// Use LOCK_BACKEND=redis so it serializes with the API processes.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Services the jobs need
		ledger.Module,
		scheduler.Module,

		// No server module!
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// StartScheduler runs the loop even when SCHEDULER_ENABLED is off, since
// this process exists only for it.
func StartScheduler(lc fx.Lifecycle, cfg config.Config, s *scheduler.Scheduler) {
	if cfg.SchedulerEnabled {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
