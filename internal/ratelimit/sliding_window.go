package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketcore/internal/observ"
)

// ErrInvalidLimit is returned for a limiter that could never issue a permit
var ErrInvalidLimit = errors.New("ratelimit: maxCalls must be positive")

// SlidingWindow bounds the number of permits issued in any trailing period.
// One instance is shared by every caller that talks to the same upstream.
type SlidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time // issue times, oldest first
	maxCalls   int
	period     time.Duration
	maxJitter  time.Duration
	now        func() time.Time

	waits     int64
	waitTotal time.Duration
}

// Option configures a SlidingWindow
type Option func(*SlidingWindow)

// WithClock swaps the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(l *SlidingWindow) { l.now = now }
}

// Stats is a point-in-time view of the limiter
type Stats struct {
	InWindow  int           `json:"inWindow"`
	MaxCalls  int           `json:"maxCalls"`
	Period    time.Duration `json:"period"`
	Waits     int64         `json:"waits"`
	WaitTotal time.Duration `json:"waitTotal"`
}

// New creates a limiter issuing at most maxCalls permits per period.
// A non-positive period disables limiting entirely.
func New(maxCalls int, period, maxJitter time.Duration, opts ...Option) (*SlidingWindow, error) {
	if period > 0 && maxCalls <= 0 {
		return nil, ErrInvalidLimit
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	l := &SlidingWindow{
		maxCalls:  maxCalls,
		period:    period,
		maxJitter: maxJitter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Disabled reports whether Acquire returns immediately
func (l *SlidingWindow) Disabled() bool {
	return l == nil || l.period <= 0
}

// Acquire blocks until one more permit fits in the window, then records it.
// The lock is only held for bookkeeping; the wait happens outside it and the
// window is re-checked after every wake-up.
func (l *SlidingWindow) Acquire(ctx context.Context) error {
	if l.Disabled() {
		return nil
	}

	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := l.reserve()
		if wait <= 0 {
			if waited > 0 {
				l.recordWait(waited)
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		waited += wait
	}
}

// AcquireN takes n permits one after another
func (l *SlidingWindow) AcquireN(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := l.Acquire(ctx); err != nil {
			return err
		}
	}
	return nil
}

// reserve records a permit and returns 0, or returns how long to wait
func (l *SlidingWindow) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.timestamps) < l.maxCalls {
		l.timestamps = append(l.timestamps, now)
		return 0
	}

	wait := l.timestamps[0].Add(l.period).Sub(now)
	if l.maxJitter > 0 {
		wait += time.Duration(rand.Int63n(int64(l.maxJitter)))
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// prune drops timestamps that have left the trailing window. Caller holds mu.
func (l *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-l.period)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}

func (l *SlidingWindow) recordWait(d time.Duration) {
	l.mu.Lock()
	l.waits++
	l.waitTotal += d
	l.mu.Unlock()

	observ.IncCounter("ratelimit_wait_total", nil)
	observ.RecordDuration("ratelimit_wait", d, nil)
}

// InWindow returns how many permits were issued in the current trailing period
func (l *SlidingWindow) InWindow() int {
	if l.Disabled() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.timestamps)
}

func (l *SlidingWindow) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	inWindow := l.InWindow()
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		InWindow:  inWindow,
		MaxCalls:  l.maxCalls,
		Period:    l.period,
		Waits:     l.waits,
		WaitTotal: l.waitTotal,
	}
}
