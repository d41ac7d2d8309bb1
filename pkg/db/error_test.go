package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/spendledger/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"unique", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"mysql deadlock", errors.New("Error 1213: Deadlock found"), true},
		{"lock contention", errs.New(errs.KindConcurrencyConflict, "lock_timeout"), true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: spending_records.account_id")))
	assert.False(t, IsDuplicateKeyErr(errors.New("boom")))
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestWithRetryRecoversFromConflict(t *testing.T) {
	calls := 0
	retries := 0
	policy := fastPolicy(5)
	policy.OnRetry = func(error, time.Duration) { retries++ }

	err := WithRetry(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestWithRetryExhaustedIsUnavailable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, errs.ErrUnavailable))
}

func TestWithRetryDoesNotRetryPermanentErrors(t *testing.T) {
	sentinel := errs.New(errs.KindInvalidInput, "bad")
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return sentinel
	})
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, errs.ErrUnavailable))
}
