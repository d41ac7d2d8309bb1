// Package lock serializes read-then-write work on a single account.
//
// Every caller acquires locks before opening a database transaction and
// releases them after commit. Multi-key acquisition is ordered, so two
// callers locking overlapping key sets cannot deadlock.
package lock

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/errs"
)

var ErrLockTimeout = errs.New(errs.KindConcurrencyConflict, "lock_timeout")

// Unlock releases every key acquired by a Lock call. It is safe to call more than once.
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, keys ...string) (Unlock, error)
}

func AccountKey(id snowflake.ID) string {
	return "spendledger:lock:account:" + id.String()
}

// AccountKeys maps account ids to lock keys.
func AccountKeys(ids []snowflake.ID) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, AccountKey(id))
	}
	return keys
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
