// Package retry wraps cenkalti/backoff with the policy shapes the pipeline
// uses for transcription, summarization and sync attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	// MaxAttempts caps the total number of attempts, first try included.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
	// RetryIf decides whether an error is worth retrying. Nil retries all.
	RetryIf func(error) bool
}

// Default is the policy used for transcription and summary calls.
var Default = Policy{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
	Multiplier:     2.0,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = Default.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = Default.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = Default.MaxBackoff
	}
	if p.Multiplier <= 1 {
		p.Multiplier = Default.Multiplier
	}
	return p
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is done.
// Errors rejected by RetryIf abort immediately and are returned as-is.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialBackoff
	bo.MaxInterval = p.MaxBackoff
	bo.Multiplier = p.Multiplier

	op := func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if p.RetryIf != nil && !p.RetryIf(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.MaxAttempts)))
	return err
}

// Permanent marks err as non-retryable for callers composing their own
// operations on top of Do.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
