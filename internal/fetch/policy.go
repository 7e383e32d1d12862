package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Rajchodisetti/marketcore/internal/cache"
	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/observ"
)

// FetchFunc is one upstream call. Policies wrap it and return another FetchFunc.
type FetchFunc = cache.FetchFunc

// Limiter issues permits for outbound calls
type Limiter interface {
	AcquireN(ctx context.Context, n int) error
}

// RetryPolicy retries transient failures with capped exponential backoff
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration

	// OnRetry, if set, is called before each backoff sleep
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy is three attempts starting at one second
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
		Jitter:    500 * time.Millisecond,
	}
}

// Backoff is the delay after the given zero-based failed attempt
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay << uint(attempt)
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ExhaustedError reports the last failure after the retry budget ran out
// or a terminal error stopped it early
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Wrap returns fn with retries. Terminal errors and context expiry stop
// immediately; nothing sleeps past the context deadline.
func (p RetryPolicy) Wrap(fn FetchFunc) FetchFunc {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return func(ctx context.Context) (any, error) {
		var lastErr error
		attempt := 0
		for attempt < attempts {
			if attempt > 0 {
				delay := p.Backoff(attempt - 1)
				if p.OnRetry != nil {
					p.OnRetry(attempt, lastErr, delay)
				}
				observ.IncCounter("fetch_retry_total", map[string]string{"kind": string(market.KindOf(lastErr))})
				if err := sleepCtx(ctx, delay); err != nil {
					break
				}
			}

			attempt++
			observ.IncCounter("fetch_attempt_total", nil)
			v, err := fn(ctx)
			if err == nil {
				return v, nil
			}
			lastErr = err
			if !market.IsTransient(err) || ctx.Err() != nil {
				break
			}
		}
		if lastErr == nil {
			lastErr = ctx.Err()
		}
		return nil, &ExhaustedError{Attempts: attempt, Err: lastErr}
	}
}

// RateLimitedPolicy takes Cost permits before every call
type RateLimitedPolicy struct {
	Limiter Limiter
	Cost    int
}

func (p RateLimitedPolicy) Wrap(fn FetchFunc) FetchFunc {
	if p.Limiter == nil {
		return fn
	}
	cost := p.Cost
	if cost < 1 {
		cost = 1
	}
	return func(ctx context.Context) (any, error) {
		if err := p.Limiter.AcquireN(ctx, cost); err != nil {
			return nil, market.NewTimeoutError("", "waiting for rate limit permit", err)
		}
		return fn(ctx)
	}
}

// Pacer sleeps a random duration in [Min, Max) before the first call,
// spreading out keys issued at the same moment
type Pacer struct {
	Min time.Duration
	Max time.Duration
}

// Delay picks the pacing delay
func (p Pacer) Delay() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int63n(int64(p.Max-p.Min)))
}

func (p Pacer) Wrap(fn FetchFunc) FetchFunc {
	if p.Max <= 0 && p.Min <= 0 {
		return fn
	}
	return func(ctx context.Context) (any, error) {
		if err := sleepCtx(ctx, p.Delay()); err != nil {
			return nil, err
		}
		return fn(ctx)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
