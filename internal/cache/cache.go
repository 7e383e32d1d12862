package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/observ"
)

// Tier is an independent cache namespace with its own TTL
type Tier string

const (
	TierRealtime   Tier = "realtime"
	TierHistorical Tier = "historical"
	TierSearch     Tier = "search"
	TierMarket     Tier = "market"
	TierNews       Tier = "news"
)

// DefaultTTLs returns the stock TTL for every tier
func DefaultTTLs() map[Tier]time.Duration {
	return map[Tier]time.Duration{
		TierRealtime:   30 * time.Second,
		TierHistorical: time.Hour,
		TierSearch:     time.Hour,
		TierMarket:     60 * time.Second,
		TierNews:       15 * time.Minute,
	}
}

var (
	// ErrUnknownTier is a programming error: the tier was never configured
	ErrUnknownTier = errors.New("cache: unknown tier")
	// ErrNoEntry wraps a fetch failure when nothing was ever cached for the key
	ErrNoEntry = errors.New("cache: no entry to fall back on")
)

// FetchFunc produces a fresh value for a cache miss
type FetchFunc func(ctx context.Context) (any, error)

// Cloner is implemented by values holding slices or maps. Such values are
// copied on the way in and out so callers never alias cached state.
type Cloner interface {
	CloneValue() any
}

type entry struct {
	value    any
	storedAt time.Time
}

// Stats counts cache outcomes since construction
type Stats struct {
	Hits        int64        `json:"hits"`
	Misses      int64        `json:"misses"`
	StaleServes int64        `json:"staleServes"`
	Evictions   int64        `json:"evictions"`
	Sizes       map[Tier]int `json:"sizes"`
}

// MultiTierCache is a read-through TTL cache partitioned by tier.
// A single mutex covers every tier; it is never held across a fetch.
type MultiTierCache struct {
	mu      sync.Mutex
	tiers   map[Tier]map[string]entry
	ttls    map[Tier]time.Duration
	now     func() time.Time
	flights singleflight.Group

	hits, misses, staleServes, evictions int64
}

// Option configures a MultiTierCache
type Option func(*MultiTierCache)

// WithClock swaps the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(c *MultiTierCache) { c.now = now }
}

// New builds a cache with one namespace per entry of ttls
func New(ttls map[Tier]time.Duration, opts ...Option) *MultiTierCache {
	c := &MultiTierCache{
		tiers: make(map[Tier]map[string]entry, len(ttls)),
		ttls:  make(map[Tier]time.Duration, len(ttls)),
		now:   time.Now,
	}
	for tier, ttl := range ttls {
		c.tiers[tier] = make(map[string]entry)
		c.ttls[tier] = ttl
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured TTL of a tier
func (c *MultiTierCache) TTL(tier Tier) (time.Duration, error) {
	ttl, ok := c.ttls[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return ttl, nil
}

func (c *MultiTierCache) effectiveTTL(tier Tier, ttl time.Duration) (time.Duration, error) {
	tierTTL, err := c.TTL(tier)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return tierTTL, nil
	}
	return ttl, nil
}

// GetOrExecute returns a fresh cached value tagged live, or runs fetch.
// A successful fetch is stored and tagged live. A failed fetch falls back to
// any existing entry, however old, tagged stale. With nothing to fall back on
// the error wraps ErrNoEntry together with the fetch failure.
//
// Concurrent misses for the same tier and key share one fetch. The fetch runs
// on a context that keeps the caller's values but not its cancellation, so one
// waiter giving up never fails the others; fetch must bound its own duration.
// Each waiter stops waiting when its own context ends and falls back like a
// failed fetch.
func (c *MultiTierCache) GetOrExecute(ctx context.Context, tier Tier, key string, ttl time.Duration, fetch FetchFunc) (any, market.DataSource, error) {
	ttl, err := c.effectiveTTL(tier, ttl)
	if err != nil {
		return nil, "", err
	}

	if v, _, ok := c.Lookup(tier, key, ttl); ok {
		return v, market.SourceLive, nil
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	observ.IncCounter("cache_miss_total", map[string]string{"tier": string(tier)})

	shared := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(flightKey(tier, key), func() (any, error) {
		v, err := fetch(shared)
		if err != nil {
			return nil, err
		}
		c.Set(tier, key, v)
		return v, nil
	})

	var fetchErr error
	select {
	case res := <-ch:
		if res.Err == nil {
			return cloneValue(res.Val), market.SourceLive, nil
		}
		fetchErr = res.Err
	case <-ctx.Done():
		fetchErr = ctx.Err()
	}

	if v, storedAt, ok := c.Peek(tier, key); ok {
		c.mu.Lock()
		c.staleServes++
		c.mu.Unlock()
		observ.IncCounter("cache_stale_serve_total", map[string]string{"tier": string(tier)})
		observ.Warn("cache_stale_serve", map[string]any{
			"tier":     string(tier),
			"key":      key,
			"age_ms":   c.now().Sub(storedAt).Milliseconds(),
			"error":    fetchErr.Error(),
			"err_kind": string(market.KindOf(fetchErr)),
		})
		return v, market.SourceStale, nil
	}
	return nil, "", fmt.Errorf("%w: %s/%s: %w", ErrNoEntry, tier, key, fetchErr)
}

// Lookup is a cache-only read: it returns the value only if age < ttl
func (c *MultiTierCache) Lookup(tier Tier, key string, ttl time.Duration) (any, time.Time, bool) {
	ttl, err := c.effectiveTTL(tier, ttl)
	if err != nil {
		return nil, time.Time{}, false
	}

	c.mu.Lock()
	e, ok := c.tiers[tier][key]
	fresh := ok && c.now().Sub(e.storedAt) < ttl
	if fresh {
		c.hits++
	}
	c.mu.Unlock()

	if !fresh {
		return nil, time.Time{}, false
	}
	observ.IncCounter("cache_hit_total", map[string]string{"tier": string(tier)})
	return cloneValue(e.value), e.storedAt, true
}

// Peek returns any entry for the key regardless of age
func (c *MultiTierCache) Peek(tier Tier, key string) (any, time.Time, bool) {
	c.mu.Lock()
	e, ok := c.tiers[tier][key]
	c.mu.Unlock()
	if !ok {
		return nil, time.Time{}, false
	}
	return cloneValue(e.value), e.storedAt, true
}

// StoredAt reports when the current entry for the key was written
func (c *MultiTierCache) StoredAt(tier Tier, key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tiers[tier][key]
	return e.storedAt, ok
}

// Set stores a value, superseding any older entry for the key
func (c *MultiTierCache) Set(tier Tier, key string, value any) {
	e := entry{value: cloneValue(value)}

	c.mu.Lock()
	m, ok := c.tiers[tier]
	if !ok {
		c.mu.Unlock()
		observ.Warn("cache_set_unknown_tier", map[string]any{"tier": string(tier), "key": key})
		return
	}
	e.storedAt = c.now()
	m[key] = e
	size := len(m)
	c.mu.Unlock()

	observ.SetGauge("cache_size", float64(size), map[string]string{"tier": string(tier)})
}

// Sweep deletes every entry older than its tier TTL plus grace and
// returns how many were removed
func (c *MultiTierCache) Sweep(grace time.Duration) int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	sizes := make(map[Tier]int, len(c.tiers))
	for tier, m := range c.tiers {
		limit := c.ttls[tier] + grace
		for key, e := range m {
			if now.Sub(e.storedAt) > limit {
				delete(m, key)
				removed++
			}
		}
		sizes[tier] = len(m)
	}
	c.evictions += int64(removed)
	c.mu.Unlock()

	for tier, n := range sizes {
		observ.SetGauge("cache_size", float64(n), map[string]string{"tier": string(tier)})
	}
	if removed > 0 {
		observ.IncCounterBy("cache_evictions_total", nil, float64(removed))
	}
	return removed
}

// Len is the number of entries across every tier
func (c *MultiTierCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.tiers {
		n += len(m)
	}
	return n
}

// TierLen is the number of entries in one tier
func (c *MultiTierCache) TierLen(tier Tier) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tiers[tier])
}

func (c *MultiTierCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make(map[Tier]int, len(c.tiers))
	for tier, m := range c.tiers {
		sizes[tier] = len(m)
	}
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		StaleServes: c.staleServes,
		Evictions:   c.evictions,
		Sizes:       sizes,
	}
}

func flightKey(tier Tier, key string) string {
	return string(tier) + "\x00" + key
}

func cloneValue(v any) any {
	if c, ok := v.(Cloner); ok {
		return c.CloneValue()
	}
	return v
}
