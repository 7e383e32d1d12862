package upstream

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketcore/internal/degrade"
	"github.com/Rajchodisetti/marketcore/internal/market"
)

// Sim provides simulated market data with realistic price behaviour
type Sim struct {
	mu         sync.Mutex
	baseQuotes map[string]baseQuote
	names      map[string]string
	random     *rand.Rand
	minLatency time.Duration
	maxLatency time.Duration
	now        func() time.Time
	news       *degrade.Policy
}

type baseQuote struct {
	BasePrice  float64
	Volatility float64 // Daily volatility as decimal (e.g., 0.02 for 2%)
	Volume     float64 // shares
}

// SimOption customises a Sim source
type SimOption func(*Sim)

// WithLatency sets the simulated per-call latency range
func WithLatency(min, max time.Duration) SimOption {
	return func(s *Sim) { s.minLatency, s.maxLatency = min, max }
}

// WithSimClock replaces the wall clock used for series windows
func WithSimClock(now func() time.Time) SimOption {
	return func(s *Sim) { s.now = now }
}

// NewSim creates a sim source; names label the instruments it quotes
func NewSim(names []market.Instrument, opts ...SimOption) *Sim {
	s := &Sim{
		baseQuotes: map[string]baseQuote{
			"AAPL":  {BasePrice: 206.80, Volatility: 0.025, Volume: 15000000},
			"NVDA":  {BasePrice: 450.00, Volatility: 0.035, Volume: 10000000},
			"MSFT":  {BasePrice: 415.75, Volatility: 0.022, Volume: 12000000},
			"GOOGL": {BasePrice: 172.50, Volatility: 0.028, Volume: 8000000},
			"^GSPC": {BasePrice: 5280.14, Volatility: 0.010},
			"^DJI":  {BasePrice: 38905.66, Volatility: 0.009},
			"^IXIC": {BasePrice: 16742.39, Volatility: 0.013},
		},
		names:      make(map[string]string, len(names)),
		random:     rand.New(rand.NewSource(time.Now().UnixNano())),
		minLatency: 10 * time.Millisecond,
		maxLatency: 50 * time.Millisecond,
		now:        time.Now,
	}
	for _, in := range names {
		s.names[in.Symbol] = in.Name
	}
	for _, opt := range opts {
		opt(s)
	}
	s.news = degrade.New(degrade.WithClock(s.now), degrade.WithNames(names))
	return s
}

func (s *Sim) Name() string { return "sim" }

func (s *Sim) Details(ctx context.Context, symbol string) (market.StockDetails, error) {
	if err := s.latency(ctx, symbol); err != nil {
		return market.StockDetails{}, err
	}

	s.mu.Lock()
	base := s.base(symbol)
	price := base.BasePrice * (1 + s.random.NormFloat64()*base.Volatility)
	open := base.BasePrice * (1 + s.random.NormFloat64()*base.Volatility/4)
	volume := base.Volume * (0.7 + s.random.Float64()*0.6) // 70%-130% of base
	s.mu.Unlock()

	return market.StockDetails{
		Symbol:        symbol,
		Name:          s.name(symbol),
		Price:         market.Round(price, 2),
		Change:        market.Round(price-base.BasePrice, 2),
		PercentChange: market.Round(market.PercentChange(price, base.BasePrice), 2),
		MarketCap:     market.Round(price*base.Volume*40/1e12, 3),
		Volume:        market.Round(volume/1e6, 2),
		AvgVolume:     market.Round(base.Volume/1e6, 2),
		PE:            market.Round(15+base.Volatility*500, 2),
		EPS:           market.Round(price/(15+base.Volatility*500), 2),
		High52W:       market.Round(base.BasePrice*1.25, 2),
		Low52W:        market.Round(base.BasePrice*0.75, 2),
		Open:          market.Round(open, 2),
		PreviousClose: market.Round(base.BasePrice, 2),
	}, nil
}

func (s *Sim) History(ctx context.Context, symbol string, tf market.Timeframe) (market.HistoricalSeries, error) {
	if err := s.latency(ctx, symbol); err != nil {
		return market.HistoricalSeries{}, err
	}

	spec := tf.Spec()
	now := s.now()
	steps := int(spec.Span / spec.Interval)

	s.mu.Lock()
	base := s.base(symbol)
	// per-bar volatility scaled from daily
	stepVol := base.Volatility * math.Sqrt(spec.Interval.Hours()/24)
	bars := make([]Bar, 0, steps+1)
	price := base.BasePrice
	for i := steps; i >= 0; i-- {
		bars = append(bars, Bar{Time: now.Add(-time.Duration(i) * spec.Interval), Close: price})
		price *= 1 + s.random.NormFloat64()*stepVol
		if price < 0.01 {
			price = 0.01
		}
	}
	s.mu.Unlock()

	return SeriesFromBars(symbol, tf, bars, now)
}

func (s *Sim) IndexLevel(ctx context.Context, symbol string) (market.IndexLevel, error) {
	d, err := s.Details(ctx, symbol)
	if err != nil {
		return market.IndexLevel{}, err
	}
	return market.IndexLevel{
		Name:          d.Name,
		Symbol:        symbol,
		Value:         d.Price,
		Change:        d.Change,
		PercentChange: d.PercentChange,
	}, nil
}

func (s *Sim) Headlines(ctx context.Context, symbol string, limit int) (market.NewsFeed, error) {
	if err := s.latency(ctx, symbol); err != nil {
		return market.NewsFeed{}, err
	}
	return s.news.News(symbol, limit), nil
}

// base returns the symbol's parameters. Symbols outside the seeded set get
// parameters derived from the symbol alone, so they stay stable without
// being stored.
func (s *Sim) base(symbol string) baseQuote {
	if b, ok := s.baseQuotes[symbol]; ok {
		return b
	}
	seed := uint64(degrade.Seed(symbol))
	return baseQuote{
		BasePrice:  20 + float64(seed%480),
		Volatility: 0.015 + float64(seed%40)/1000,
		Volume:     float64(500000 + seed%20000000),
	}
}

func (s *Sim) name(symbol string) string {
	if n, ok := s.names[symbol]; ok && n != "" {
		return n
	}
	return symbol
}

// latency simulates network delay and honours cancellation
func (s *Sim) latency(ctx context.Context, symbol string) error {
	d := s.minLatency
	if spread := s.maxLatency - s.minLatency; spread > 0 {
		s.mu.Lock()
		d += time.Duration(s.random.Int63n(int64(spread)))
		s.mu.Unlock()
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return market.NewTimeoutError(symbol, "simulated request cancelled", ctx.Err())
	case <-t.C:
		return nil
	}
}
