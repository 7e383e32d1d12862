package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/marketcore/internal/cache"
	"github.com/Rajchodisetti/marketcore/internal/degrade"
	"github.com/Rajchodisetti/marketcore/internal/fetch"
	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/ratelimit"
)

type fakeUpstream struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newFakeUpstream(fail map[string]error) *fakeUpstream {
	return &fakeUpstream{calls: map[string]int{}, fail: fail}
}

func (f *fakeUpstream) fetchFor(key string) fetch.FetchFunc {
	return func(context.Context) (any, error) {
		f.mu.Lock()
		f.calls[key]++
		f.mu.Unlock()
		if err, ok := f.fail[key]; ok {
			return nil, err
		}
		return market.StockDetails{Symbol: key, Price: 100}, nil
	}
}

func (f *fakeUpstream) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func newCoordinator(t *testing.T, cfg Config) (*Coordinator, *cache.MultiTierCache) {
	t.Helper()
	c := cache.New(cache.DefaultTTLs())
	lim, err := ratelimit.New(1000, time.Second, 0)
	require.NoError(t, err)
	orch := fetch.New(c, lim, fetch.Config{
		Retry: fetch.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond},
	})
	return New(c, orch, cfg), c
}

func quickConfig() Config {
	return Config{ChunkSize: 3, Workers: 2, InterChunkMin: time.Millisecond, InterChunkMax: 2 * time.Millisecond}
}

func TestOneBadKeyDoesNotAffectSiblings(t *testing.T) {
	b, c := newCoordinator(t, quickConfig())
	up := newFakeUpstream(map[string]error{"BAD": errors.New("upstream exploded")})
	pol := degrade.New()

	// one sibling has a stale entry and fails its refresh
	c.Set(cache.TierRealtime, "OLD", market.StockDetails{Symbol: "OLD", Price: 7})
	up.fail["OLD"] = market.NewNetworkError("OLD", "reset", nil)
	time.Sleep(time.Millisecond)

	keys := []string{"AAPL", "MSFT", "BAD", "OLD", "NVDA"}
	out, err := b.ResolveBatch(context.Background(), Request{
		Tier:       cache.TierRealtime,
		Keys:       keys,
		TTL:        time.Nanosecond,
		FetchFor:   up.fetchFor,
		DegradeFor: func(key string) any { return pol.StockDetails(key) },
	})
	require.NoError(t, err)
	require.Len(t, out, 5)

	for _, key := range keys {
		env, ok := out[key]
		require.True(t, ok, key)
		assert.Equal(t, key, env.Key)
		switch key {
		case "BAD":
			assert.Equal(t, market.SourceMock, env.DataSource)
			assert.Equal(t, pol.StockDetails("BAD"), env.Value)
		case "OLD":
			assert.Equal(t, market.SourceStale, env.DataSource)
		default:
			assert.Equal(t, market.SourceLive, env.DataSource)
		}
	}
	assert.Equal(t, 3, up.count("BAD"), "only BAD's own retry budget is spent")
	assert.Equal(t, 1, up.count("AAPL"))
}

func TestFreshHitsSkipUpstream(t *testing.T) {
	b, c := newCoordinator(t, quickConfig())
	up := newFakeUpstream(nil)
	c.Set(cache.TierRealtime, "AAPL", market.StockDetails{Symbol: "AAPL", Price: 1})

	out, err := b.ResolveBatch(context.Background(), Request{
		Tier:       cache.TierRealtime,
		Keys:       []string{"AAPL", "MSFT"},
		FetchFor:   up.fetchFor,
		DegradeFor: func(string) any { return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, 0, up.count("AAPL"))
	assert.Equal(t, 1, up.count("MSFT"))
	assert.Equal(t, 1.0, out["AAPL"].Value.(market.StockDetails).Price)
	assert.False(t, out["AAPL"].AsOf.IsZero())
}

func TestDuplicateKeysResolvedOnce(t *testing.T) {
	b, _ := newCoordinator(t, quickConfig())
	up := newFakeUpstream(nil)

	out, err := b.ResolveBatch(context.Background(), Request{
		Tier:       cache.TierRealtime,
		Keys:       []string{"AAPL", "AAPL", "AAPL"},
		FetchFor:   up.fetchFor,
		DegradeFor: func(string) any { return nil },
	})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, up.count("AAPL"))
}

func TestMalformedKeyFailsBeforeAnyWork(t *testing.T) {
	b, _ := newCoordinator(t, quickConfig())
	up := newFakeUpstream(nil)

	_, err := b.ResolveBatch(context.Background(), Request{
		Tier:       cache.TierRealtime,
		Keys:       []string{"AAPL", ""},
		FetchFor:   up.fetchFor,
		DegradeFor: func(string) any { return nil },
	})
	assert.ErrorIs(t, err, fetch.ErrMalformedKey)
	assert.Equal(t, 0, up.count("AAPL"))

	_, err = b.ResolveBatch(context.Background(), Request{
		Tier:       "intraday",
		Keys:       []string{"AAPL"},
		FetchFor:   up.fetchFor,
		DegradeFor: func(string) any { return nil },
	})
	assert.ErrorIs(t, err, cache.ErrUnknownTier)
}

func TestWorkersBoundConcurrency(t *testing.T) {
	b, _ := newCoordinator(t, Config{ChunkSize: 4, Workers: 2})
	var inFlight, peak int32

	fetchFor := func(key string) fetch.FetchFunc {
		return func(context.Context) (any, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return key, nil
		}
	}

	out, err := b.ResolveBatch(context.Background(), Request{
		Tier:       cache.TierSearch,
		Keys:       []string{"a", "b", "c", "d", "e", "f", "g", "h"},
		FetchFor:   fetchFor,
		DegradeFor: func(string) any { return nil },
	})
	require.NoError(t, err)
	assert.Len(t, out, 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestCancelledBatchStillCoversEveryKey(t *testing.T) {
	b, _ := newCoordinator(t, Config{ChunkSize: 1, Workers: 1, InterChunkMin: time.Hour, InterChunkMax: time.Hour})
	up := newFakeUpstream(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := b.ResolveBatch(ctx, Request{
		Tier:       cache.TierRealtime,
		Keys:       []string{"A", "B", "C"},
		FetchFor:   up.fetchFor,
		DegradeFor: func(key string) any { return "mock-" + key },
	})
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, market.SourceLive, out["A"].DataSource)
	assert.Equal(t, market.SourceMock, out["C"].DataSource)
}
