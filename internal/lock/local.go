package lock

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/spendledger/internal/config"
	"github.com/smallbiznis/spendledger/internal/observability/metrics"
)

const defaultStripes = 256

// LocalLocker is an in-process striped locker. Distinct keys may share a
// stripe; that only costs throughput, never correctness.
type LocalLocker struct {
	stripes []chan struct{}
	cfg     *config.ReconcileConfigHolder
	metrics *metrics.LedgerMetrics
}

func NewLocalLocker(cfg *config.ReconcileConfigHolder, m *metrics.LedgerMetrics) *LocalLocker {
	stripes := make([]chan struct{}, defaultStripes)
	for i := range stripes {
		stripes[i] = make(chan struct{}, 1)
	}
	return &LocalLocker{stripes: stripes, cfg: cfg, metrics: m}
}

func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	indexes := l.stripeIndexes(keys)
	if len(indexes) == 0 {
		return func() {}, nil
	}

	start := time.Now()
	timer := time.NewTimer(l.cfg.Get().LockTimeout)
	defer timer.Stop()

	acquired := make([]int, 0, len(indexes))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			<-l.stripes[acquired[i]]
		}
		acquired = acquired[:0]
	}

	for _, idx := range indexes {
		select {
		case l.stripes[idx] <- struct{}{}:
			acquired = append(acquired, idx)
		case <-timer.C:
			release()
			return nil, ErrLockTimeout
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	l.metrics.ObserveLockWait("local", time.Since(start))

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *LocalLocker) stripeIndexes(keys []string) []int {
	seen := make(map[int]struct{}, len(keys))
	out := make([]int, 0, len(keys))
	for _, key := range sortedUnique(keys) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		idx := int(h.Sum32() % uint32(len(l.stripes)))
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
