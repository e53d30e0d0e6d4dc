// Package ratelimit implements the RateLimiter component of spec.md §4.1:
// one instance per request class (media, thread, thread_list), each
// enforcing both a token-bucket rate and a max-in-flight cap. Token
// generation is delegated to golang.org/x/time/rate (a real, widely-used
// token bucket implementation); the in-flight cap is a bounded counting
// semaphore layered on top, since rate.Limiter alone has no concept of
// "currently outstanding" requests.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Class names, matching spec.md §6's configuration surface.
const (
	ClassMedia      = "media"
	ClassThread     = "thread"
	ClassThreadList = "thread_list"
)

// Config mirrors one network.rate_limiting.<class> entry.
type Config struct {
	// Interval is the window, in seconds, over which MaxPerInterval permits
	// regenerate.
	Interval float64
	// MaxPerInterval is the token bucket's burst size and refill count per
	// Interval.
	MaxPerInterval int
	// MaxConcurrent bounds simultaneously in-flight requests for this class.
	MaxConcurrent int
}

// Limiter enforces one rate-limit class. Safe for concurrent use; a single
// Limiter is shared process-wide across every board for its class (spec.md
// §5, "rate limiters are process-wide singletons per class").
type Limiter struct {
	tokens *rate.Limiter
	slots  chan struct{}
}

// New constructs a Limiter from cfg.
func New(cfg Config) *Limiter {
	perSecond := rate.Limit(float64(cfg.MaxPerInterval) / cfg.Interval)
	l := &Limiter{
		tokens: rate.NewLimiter(perSecond, cfg.MaxPerInterval),
		slots:  make(chan struct{}, cfg.MaxConcurrent),
	}
	return l
}

// Acquire blocks (FIFO, via rate.Limiter's internal reservation queue and
// the queue of blocked senders on the buffered semaphore channel) until both a rate
// token and a concurrency slot are available, or ctx is canceled first. The
// returned release func must be called exactly once to free the
// concurrency slot; forgetting to call it leaks capacity.
//
// If ctx is canceled while waiting on the rate token, no token is
// consumed. If it is canceled while waiting for a concurrency slot *after*
// the rate token was already granted, that token is still spent — spec.md
// §4.1: "cancellation releases any reservation but not an already-consumed
// permit."
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.tokens.Wait(ctx); err != nil {
		// rate.Limiter.Wait returns at once when the token cannot arrive
		// before ctx's deadline; keep blocking until ctx ends instead.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			<-ctx.Done()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	select {
	case l.slots <- struct{}{}:
		return func() { <-l.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitDuration reports how long Acquire would currently need to wait for a
// rate token alone (ignoring the concurrency cap), for metrics/logging.
func (l *Limiter) WaitDuration() time.Duration {
	r := l.tokens.Reserve()
	defer r.Cancel()
	return r.Delay()
}
