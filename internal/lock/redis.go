package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/spendledger/internal/config"
	"github.com/smallbiznis/spendledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// DefaultLockTTL bounds how long a crashed holder can block an account.
const DefaultLockTTL = 30 * time.Second

var errNotAcquired = errors.New("lock_not_acquired")

// RedisLocker serializes account work across processes with SET NX locks.
type RedisLocker struct {
	client  *redis.Client
	script  *redis.Script
	ttl     time.Duration
	cfg     *config.ReconcileConfigHolder
	log     *zap.Logger
	metrics *metrics.LedgerMetrics
}

func NewRedisLocker(client *redis.Client, cfg *config.ReconcileConfigHolder, log *zap.Logger, m *metrics.LedgerMetrics) *RedisLocker {
	return &RedisLocker{
		client:  client,
		script:  redis.NewScript(lockReleaseScript),
		ttl:     DefaultLockTTL,
		cfg:     cfg,
		log:     log.Named("lock.redis"),
		metrics: m,
	}
}

// TryLock attempts a single SET NX and returns the owner token on success.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = sortedUnique(keys)
	if len(keys) == 0 {
		return func() {}, nil
	}

	cfg := l.cfg.Get()
	start := time.Now()
	tokens := make(map[string]string, len(keys))
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		for key, token := range tokens {
			if err := l.Release(releaseCtx, key, token); err != nil {
				l.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
			}
		}
		clear(tokens)
	}

	deadline := start.Add(cfg.LockTimeout)
	for _, key := range keys {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 5 * time.Millisecond
		b.MaxInterval = 100 * time.Millisecond
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}

		token, err := backoff.Retry(ctx, func() (string, error) {
			token, ok, err := l.TryLock(ctx, key)
			if err != nil {
				return "", backoff.Permanent(err)
			}
			if !ok {
				return "", errNotAcquired
			}
			return token, nil
		}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(remaining))
		if err != nil {
			release()
			if errors.Is(err, errNotAcquired) {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		tokens[key] = token
	}
	l.metrics.ObserveLockWait("redis", time.Since(start))

	var once sync.Once
	return func() { once.Do(release) }, nil
}
