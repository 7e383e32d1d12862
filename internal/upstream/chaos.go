package upstream

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/observ"
)

// ChaosConfig configures fault injection
type ChaosConfig struct {
	Enabled           bool
	ErrorRate         float64 // 0.1 = 10% error injection
	TimeoutRate       float64
	NetworkErrorRate  float64
	ParseErrorRate    float64
	LatencyMultiplier float64 // 2.0 = 2x base latency
}

// Chaos wraps any source to inject failures, used to exercise the stale and
// mock fallbacks end to end
type Chaos struct {
	underlying Source
	config     ChaosConfig

	mu   sync.Mutex
	rand *rand.Rand
}

// NewChaos creates a chaos-enabled source
func NewChaos(underlying Source, config ChaosConfig) *Chaos {
	return &Chaos{
		underlying: underlying,
		config:     config,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Chaos) Name() string { return c.underlying.Name() }

func (c *Chaos) Details(ctx context.Context, symbol string) (market.StockDetails, error) {
	if err := c.inject(ctx, symbol); err != nil {
		return market.StockDetails{}, err
	}
	return c.underlying.Details(ctx, symbol)
}

func (c *Chaos) History(ctx context.Context, symbol string, tf market.Timeframe) (market.HistoricalSeries, error) {
	if err := c.inject(ctx, symbol); err != nil {
		return market.HistoricalSeries{}, err
	}
	return c.underlying.History(ctx, symbol, tf)
}

func (c *Chaos) IndexLevel(ctx context.Context, symbol string) (market.IndexLevel, error) {
	if err := c.inject(ctx, symbol); err != nil {
		return market.IndexLevel{}, err
	}
	return c.underlying.IndexLevel(ctx, symbol)
}

func (c *Chaos) Headlines(ctx context.Context, symbol string, limit int) (market.NewsFeed, error) {
	if err := c.inject(ctx, symbol); err != nil {
		return market.NewsFeed{}, err
	}
	return c.underlying.Headlines(ctx, symbol, limit)
}

// inject randomly returns one of the failure classes, then adds latency
func (c *Chaos) inject(ctx context.Context, symbol string) error {
	if !c.config.Enabled {
		return nil
	}

	c.mu.Lock()
	var err error
	switch {
	case c.rand.Float64() < c.config.TimeoutRate:
		err = market.NewTimeoutError(symbol, "chaos: simulated request timeout", nil)
	case c.rand.Float64() < c.config.NetworkErrorRate:
		err = market.NewNetworkError(symbol, "chaos: connection refused", nil)
	case c.rand.Float64() < c.config.ParseErrorRate:
		err = market.NewProviderError(symbol, "chaos: invalid JSON response", errors.New("unexpected end of JSON input"))
	case c.rand.Float64() < c.config.ErrorRate:
		err = market.NewProviderError(symbol, "chaos: simulated provider failure", nil)
	}
	c.mu.Unlock()

	if err != nil {
		observ.IncCounter("chaos_injected_total", map[string]string{"kind": string(market.KindOf(err))})
		observ.Debug("chaos_injected", map[string]any{"symbol": symbol, "error": err.Error()})
		return err
	}

	if c.config.LatencyMultiplier > 1.0 {
		delay := time.Duration(float64(100*time.Millisecond) * (c.config.LatencyMultiplier - 1))
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return market.NewTimeoutError(symbol, "chaos: latency wait cancelled", ctx.Err())
		case <-t.C:
		}
	}
	return nil
}
