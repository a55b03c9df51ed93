package ledger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of idempotent reads after connection errors.
// Writes are never retried: a lost commit acknowledgement followed by a
// retry would record the sale twice.
type RetryPolicy struct {
	Attempts   int // total tries, including the first
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts:   3,
	Initial:    50 * time.Millisecond,
	Multiplier: 2,
	Max:        time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.Max
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// read runs fn, retrying only on connection errors.
func read[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	var out T
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		v, err := fn()
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}, s.retry.backOff(ctx), func(err error, wait time.Duration) {
		s.logger.Warn().Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("read failed, retrying")
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
