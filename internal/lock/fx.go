package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/spendledger/internal/config"
	"github.com/smallbiznis/spendledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Holder    *config.ReconcileConfigHolder
	Log       *zap.Logger
	Metrics   *metrics.LedgerMetrics
}

// NewLocker picks the backend from LOCK_BACKEND. Redis is required when
// more than one process writes to the same database.
func NewLocker(p Params) Locker {
	if p.Config.LockBackend != config.LockBackendRedis || p.Config.RedisAddr == "" {
		p.Log.Info("using in-process account locker")
		return NewLocalLocker(p.Holder, p.Metrics)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Config.RedisAddr,
		Password: p.Config.RedisPassword,
		DB:       p.Config.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	p.Log.Info("using redis account locker", zap.String("addr", p.Config.RedisAddr))
	return NewRedisLocker(client, p.Holder, p.Log, p.Metrics)
}
