// Package retry implements the RetryBackoff component of spec.md §4.2: an
// exponential backoff schedule with a cap, modeled on the
// Config{MinBackoff,MaxBackoff,MaxRetries}/Ongoing()/Reset() shape used by
// the reference corpus's own fetch-with-backoff loops (see
// pkg/storage/ingest/fetcher.go's use of grafana/dskit/backoff, recorded in
// DESIGN.md). RetryBackoff is hand-rolled rather than importing dskit
// because it is one of the core components this spec requires Ena itself
// to own.
package retry

import (
	"context"
	"time"
)

// Config is the §4.2 configuration surface: base >= 1s, factor >= 2, max
// cap in seconds. Max == 0 disables retrying entirely.
type Config struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// Backoff is a single retry attempt's state machine. It is not safe for
// concurrent use; callers create one Backoff per logical operation.
type Backoff struct {
	cfg     Config
	attempt int
}

// New constructs a Backoff from cfg. cfg is not validated here; config.Load
// is responsible for enforcing the base>=1s/factor>=2 invariants at
// startup (spec.md §7, ConfigInvariant).
func New(cfg Config) *Backoff {
	return &Backoff{cfg: cfg}
}

// Ongoing reports whether another attempt should be made: the backoff
// hasn't been disabled (Max == 0) and the next sleep would not exceed Max.
func (b *Backoff) Ongoing() bool {
	if b.cfg.Max <= 0 {
		return false
	}
	return b.nextDelay() <= b.cfg.Max
}

// nextDelay returns the delay before the next attempt (attempt k sleeps at
// least base*factor^k seconds, per spec.md §4.2).
func (b *Backoff) nextDelay() time.Duration {
	factor := b.cfg.Factor
	if factor < 1 {
		factor = 2
	}
	delay := float64(b.cfg.Base)
	for i := 0; i < b.attempt; i++ {
		delay *= factor
	}
	return time.Duration(delay)
}

// Wait sleeps for the next backoff delay, or returns ctx.Err() if ctx is
// canceled first. It advances the attempt counter regardless of outcome.
func (b *Backoff) Wait(ctx context.Context) error {
	delay := b.nextDelay()
	b.attempt++

	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset zeroes the attempt counter, e.g. after a successful request.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// NumAttempts returns how many attempts have been recorded so far.
func (b *Backoff) NumAttempts() int {
	return b.attempt
}

// Do runs op, retrying while isRetryable(err) is true and Ongoing() allows
// another attempt. terminal errors (isRetryable returns false) and
// exhausted backoffs return the last error from op as-is.
func Do(ctx context.Context, cfg Config, isRetryable func(error) bool, op func(attempt int) error) error {
	b := New(cfg)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(b.attempt)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if !b.Ongoing() {
			return err
		}
		if werr := b.Wait(ctx); werr != nil {
			return werr
		}
	}
}
