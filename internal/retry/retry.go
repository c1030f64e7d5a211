// Package retry runs upstream model calls with exponential backoff on rate
// limiting.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/p-n-ai/pai-mcq/internal/ai"
)

// ErrExhausted is returned when no attempt was made or none recorded an error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures one retried operation.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Name         string

	// Notify is called before every wait with the 1-based attempt that
	// failed, the upcoming delay and the error.
	Notify func(attempt int, delay time.Duration, err error)
}

// Generation and Validation are the default policies for the two upstream calls.
var (
	Generation = Policy{MaxAttempts: 5, InitialDelay: 2 * time.Second, Name: "generation"}
	Validation = Policy{MaxAttempts: 6, InitialDelay: 5 * time.Second, Name: "validation"}
)

// With returns a copy of p with the given notifier.
func (p Policy) With(notify func(attempt int, delay time.Duration, err error)) Policy {
	p.Notify = notify
	return p
}

// Do runs op until it succeeds, fails with an error that is not a rate
// limit, or MaxAttempts is reached. The delay starts at InitialDelay and
// doubles after each rate-limited failure with no jitter.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		return ErrExhausted
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(1 << 62),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	attempt := 0
	var lastErr error
	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !ai.IsRateLimited(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		slog.Warn("rate limited, retrying",
			"operation", p.Name,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		if p.Notify != nil {
			p.Notify(attempt, delay, err)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(wrapped, policy, notify)
	if err == nil {
		return nil
	}
	if lastErr == nil {
		return ErrExhausted
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return lastErr
}
