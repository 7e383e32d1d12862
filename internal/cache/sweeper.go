package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketcore/internal/observ"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultGrace         = 60 * time.Second
)

// Sweeper periodically evicts entries past TTL+grace, independent of reads
type Sweeper struct {
	cache    *MultiTierCache
	interval time.Duration
	grace    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper; zero values fall back to the defaults
func NewSweeper(c *MultiTierCache, interval, grace time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if grace < 0 {
		grace = DefaultGrace
	}
	return &Sweeper{cache: c, interval: interval, grace: grace}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	observ.Log("cache_sweeper_started", map[string]any{
		"interval_ms": s.interval.Milliseconds(),
		"grace_ms":    s.grace.Milliseconds(),
	})
}

// Stop halts the loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	observ.Log("cache_sweeper_stopped", nil)
}

// SweepOnce runs a single pass
func (s *Sweeper) SweepOnce() int {
	start := time.Now()
	removed := s.cache.Sweep(s.grace)
	observ.RecordDuration("cache_sweep_duration", time.Since(start), nil)
	observ.Debug("cache_sweep_completed", map[string]any{
		"removed":   removed,
		"remaining": s.cache.Len(),
	})
	return removed
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}
