package batch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/marketcore/internal/cache"
	"github.com/Rajchodisetti/marketcore/internal/fetch"
	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/observ"
)

// Config sizes the chunked miss processing
type Config struct {
	ChunkSize     int
	Workers       int
	InterChunkMin time.Duration
	InterChunkMax time.Duration
}

// DefaultConfig processes misses three at a time with two workers
func DefaultConfig() Config {
	return Config{
		ChunkSize:     3,
		Workers:       2,
		InterChunkMin: 500 * time.Millisecond,
		InterChunkMax: time.Second,
	}
}

// Request is a set of keys resolved under one tier
type Request struct {
	Tier       cache.Tier
	Keys       []string
	TTL        time.Duration
	FetchFor   func(key string) fetch.FetchFunc
	DegradeFor func(key string) any
	Cost       int
}

// Coordinator resolves key sets: fresh cache hits immediately, misses in
// small paced chunks through the orchestrator
type Coordinator struct {
	cache *cache.MultiTierCache
	orch  *fetch.Orchestrator
	cfg   Config
}

func New(c *cache.MultiTierCache, orch *fetch.Orchestrator, cfg Config) *Coordinator {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Coordinator{cache: c, orch: orch, cfg: cfg}
}

// ResolveBatch returns one envelope per distinct key. Keys are validated
// before any work starts; after that, per-key failures become stale or mock
// envelopes and never affect sibling keys.
func (b *Coordinator) ResolveBatch(ctx context.Context, req Request) (map[string]fetch.Envelope, error) {
	keys, err := b.validate(req)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	start := time.Now()
	out := make(map[string]fetch.Envelope, len(keys))

	var misses []string
	for _, key := range keys {
		if v, storedAt, ok := b.cache.Lookup(req.Tier, key, req.TTL); ok {
			out[key] = fetch.Envelope{Key: key, Tier: req.Tier, Value: v, DataSource: market.SourceLive, AsOf: storedAt}
			continue
		}
		misses = append(misses, key)
	}
	observ.IncCounterBy("batch_keys_total", map[string]string{"outcome": "hit"}, float64(len(out)))

	observ.Debug("batch_started", map[string]any{
		"batch_id": batchID,
		"tier":     string(req.Tier),
		"keys":     len(keys),
		"hits":     len(out),
		"misses":   len(misses),
	})

	var mu sync.Mutex
	for i := 0; i < len(misses); i += b.cfg.ChunkSize {
		if i > 0 && ctx.Err() == nil {
			b.pause(ctx)
		}
		end := i + b.cfg.ChunkSize
		if end > len(misses) {
			end = len(misses)
		}

		var g errgroup.Group
		g.SetLimit(b.cfg.Workers)
		for _, key := range misses[i:end] {
			key := key
			g.Go(func() error {
				env, err := b.orch.Execute(ctx, fetch.Request{
					Tier:    req.Tier,
					Key:     key,
					TTL:     req.TTL,
					Fetch:   req.FetchFor(key),
					Cost:    req.Cost,
					Degrade: func() any { return req.DegradeFor(key) },
				})
				if err != nil {
					// unreachable after validate; keep the key covered anyway
					observ.Error("batch_key_failed", err, map[string]any{"batch_id": batchID, "key": key})
					env = fetch.Envelope{Key: key, Tier: req.Tier, Value: req.DegradeFor(key), DataSource: market.SourceMock, AsOf: b.orch.Now()}
				}
				observ.IncCounter("batch_keys_total", map[string]string{"outcome": string(env.DataSource)})
				mu.Lock()
				out[key] = env
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	observ.RecordDuration("batch_duration", time.Since(start), map[string]string{"tier": string(req.Tier)})
	observ.Log("batch_completed", map[string]any{
		"batch_id":    batchID,
		"tier":        string(req.Tier),
		"keys":        len(keys),
		"misses":      len(misses),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return out, nil
}

func (b *Coordinator) validate(req Request) ([]string, error) {
	if _, err := b.cache.TTL(req.Tier); err != nil {
		return nil, err
	}
	if req.FetchFor == nil || req.DegradeFor == nil {
		return nil, fmt.Errorf("batch: request for tier %s needs FetchFor and DegradeFor", req.Tier)
	}
	keys := make([]string, 0, len(req.Keys))
	seen := make(map[string]bool, len(req.Keys))
	for _, key := range req.Keys {
		if err := fetch.ValidateKey(key); err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys, nil
}

// pause waits a random inter-chunk delay, returning early if ctx ends
func (b *Coordinator) pause(ctx context.Context) {
	d := b.cfg.InterChunkMin
	if spread := b.cfg.InterChunkMax - b.cfg.InterChunkMin; spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread)))
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
