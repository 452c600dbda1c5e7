// Package backoffx centralizes the exponential backoff policy spec.md names
// in three places (C3 ledger serialization retries, C1/C10 webhook retry
// scheduling, C11 notifier retries): in-process retry loops use
// github.com/cenkalti/backoff/v5 directly; persisted "try again at this
// timestamp" scheduling (webhook next_attempt_at, vendor retry backoff) uses
// the pure delay function below since that value outlives the process that
// computed it.
package backoffx

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry runs op with exponential backoff up to maxAttempts, following the
// same pattern as C3's "retried with exponential backoff (up to
// LEDGER_RETRIES)". It stops early if ctx is cancelled.
func Retry[T any](ctx context.Context, base time.Duration, maxAttempts int, op func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
}

// Permanent marks err as non-retriable, stopping Retry immediately instead
// of burning through the remaining attempts on a failure (e.g. an HTTP 4xx)
// no amount of backoff will fix.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Schedule is a pure exponential-delay function for retries that are
// persisted and resumed by another process later (the event store's
// next_attempt_at, a vendor assignment's backoff window), where there is no
// live retry loop to hold the cenkalti/backoff iterator's state.
type Schedule struct {
	base time.Duration
	cap  time.Duration
}

// NewSchedule builds a persisted backoff schedule with the given base delay
// and cap, e.g. spec.md C10's "base 30s, capped at 1h".
func NewSchedule(base, cap time.Duration) Schedule {
	return Schedule{base: base, cap: cap}
}

// At returns the wall-clock time of the next attempt given how many
// attempts have already been made.
func (s Schedule) At(now time.Time, attempts int) time.Time {
	return now.Add(s.Delay(attempts))
}

// Delay returns the backoff duration for the given attempt count.
func (s Schedule) Delay(attempts int) time.Duration {
	d := s.base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= s.cap {
			return s.cap
		}
	}
	return d
}

// WebhookSchedule is C1/C10's default: base 30s, capped at 1h.
func WebhookSchedule() Schedule { return NewSchedule(30*time.Second, time.Hour) }

// NotifierSchedule is C11's default: base 5s, capped at 10m.
func NotifierSchedule() Schedule { return NewSchedule(5*time.Second, 10*time.Minute) }
