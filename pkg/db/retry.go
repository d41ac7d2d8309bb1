package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/spendledger/internal/config"
	"github.com/smallbiznis/spendledger/internal/errs"
)

// RetryPolicy bounds transparent retries of concurrency conflicts.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnRetry is called before each retry with the conflicting error.
	OnRetry func(err error, wait time.Duration)
}

func PolicyFrom(cfg config.ReconcileConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialBackoff,
		MaxInterval:     cfg.MaxBackoff,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := config.DefaultReconcileConfig()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialBackoff
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// WithRetry runs op, retrying retryable errors with exponential backoff.
// Non-retryable errors are returned unchanged; an exhausted retry budget
// is reported as errs.ErrUnavailable wrapping the last conflict.
func WithRetry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if policy.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(policy.OnRetry))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(ctx); err != nil {
			if !IsRetryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, opts...)
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if IsRetryable(err) {
		return fmt.Errorf("%w: retries exhausted: %w", errs.ErrUnavailable, err)
	}
	return err
}
