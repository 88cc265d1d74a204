package mq

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how long a consumer keeps re-handling one message before
// moving on. Offsets are committed regardless, so this is the only redelivery.
type RetryPolicy struct {
	Attempts uint
	Initial  time.Duration
	Max      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: 200 * time.Millisecond, Max: 2 * time.Second}
}

// Permanent marks err as not worth retrying, e.g. a payload that will never
// decode.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// HandleWithRetry runs handle until it succeeds, returns a Permanent error,
// the attempts run out or ctx ends. The last error is returned unwrapped.
func HandleWithRetry(ctx context.Context, policy RetryPolicy, handle func(context.Context) error, notify func(err error, wait time.Duration)) error {
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if policy.Initial > 0 {
		b.InitialInterval = policy.Initial
	}
	if policy.Max > 0 {
		b.MaxInterval = policy.Max
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.Attempts),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, handle(ctx)
	}, opts...)
	return err
}
