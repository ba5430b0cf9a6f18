// Package retry executes fallible external calls with bounded,
// classification-aware retries and exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/podworks/podworks/internal/domain"
)

type Options struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
	}
}

// Execute runs op until it succeeds, returns a non-retryable error, the
// context is done, or MaxRetries is exhausted (the last error is returned).
// Rate-limited errors carrying a server hint wait the hinted duration
// instead of the computed backoff.
func Execute(ctx context.Context, op func(context.Context) error, opts Options) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = opts.InitialBackoff
	expo.MaxInterval = opts.MaxBackoff
	expo.Multiplier = opts.Multiplier
	// ±20% jitter so concurrent jobs hitting the same dependency do not
	// retry in lockstep.
	expo.RandomizationFactor = 0.2
	expo.MaxElapsedTime = 0

	hinted := &hintedBackOff{BackOff: expo}
	bo := backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(opts.MaxRetries)), ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !domain.Retryable(err) {
			return backoff.Permanent(err)
		}
		hinted.hint = domain.RetryAfterHint(err)
		return err
	}, bo)
}

// hintedBackOff overrides the next delay with a server-provided
// Retry-After hint when one is present.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if b.hint > 0 {
		d = b.hint
		b.hint = 0
	}
	return d
}

func (b *hintedBackOff) Reset() {
	b.hint = 0
	b.BackOff.Reset()
}
