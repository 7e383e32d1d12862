package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Rajchodisetti/marketcore/internal/batch"
	"github.com/Rajchodisetti/marketcore/internal/cache"
	"github.com/Rajchodisetti/marketcore/internal/config"
	"github.com/Rajchodisetti/marketcore/internal/degrade"
	"github.com/Rajchodisetti/marketcore/internal/fetch"
	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/observ"
	"github.com/Rajchodisetti/marketcore/internal/ratelimit"
	"github.com/Rajchodisetti/marketcore/internal/upstream"
)

const (
	maxMovers      = 5
	maxWatched     = 5
	defaultResults = 10
	maxResults     = 50
	maxQueryLen    = 64
	defaultNews    = 5
	maxNews        = 20
	// queries up to this length are tried as a ticker first
	symbolQueryLen = 5
)

var (
	ErrNoSymbols    = errors.New("no symbols provided")
	ErrInvalidQuery = errors.New("invalid search query")
)

// Result is a typed value with its origin and the time it was produced
type Result[T any] struct {
	Data       T                 `json:"data"`
	DataSource market.DataSource `json:"dataSource"`
	AsOf       time.Time         `json:"asOf"`
}

func resultOf[T any](env fetch.Envelope) Result[T] {
	v, _ := env.Value.(T)
	return Result[T]{Data: v, DataSource: env.DataSource, AsOf: env.AsOf}
}

// Service owns every component of the access layer. It is built once per
// process and shared by all callers.
type Service struct {
	cfg     config.Root
	source  upstream.Source
	health  *upstream.ProviderHealth
	limiter *ratelimit.SlidingWindow
	cache   *cache.MultiTierCache
	sweeper *cache.Sweeper
	orch    *fetch.Orchestrator
	batch   *batch.Coordinator
	degrade *degrade.Policy
	names   map[string]string
	now     func() time.Time
}

// Option customises a Service
type Option func(*Service)

// WithClock replaces the wall clock for cache ages, synthetic data and timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHealth reports the given monitor in Health instead of the source's own
func WithHealth(h *upstream.ProviderHealth) Option {
	return func(s *Service) { s.health = h }
}

// New wires the limiter, cache, sweeper, orchestrator, batch coordinator and
// degradation policy described by cfg over source
func New(cfg config.Root, source upstream.Source, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg, source: source, now: time.Now}
	if h, ok := source.(interface{ Health() *upstream.ProviderHealth }); ok {
		s.health = h.Health()
	}
	for _, opt := range opts {
		opt(s)
	}

	lim, err := ratelimit.New(cfg.RateLimit.MaxCalls, cfg.RateLimit.Period(), cfg.RateLimit.Jitter())
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	s.limiter = lim

	s.cache = cache.New(map[cache.Tier]time.Duration{
		cache.TierRealtime:   config.Secs(cfg.Cache.RealtimeTTLSeconds),
		cache.TierHistorical: config.Secs(cfg.Cache.HistoricalTTLSeconds),
		cache.TierSearch:     config.Secs(cfg.Cache.SearchTTLSeconds),
		cache.TierMarket:     config.Secs(cfg.Cache.MarketTTLSeconds),
		cache.TierNews:       config.Secs(cfg.Cache.NewsTTLSeconds),
	}, cache.WithClock(s.now))
	s.sweeper = cache.NewSweeper(s.cache, cfg.Cache.SweepInterval(), cfg.Cache.Grace())

	s.orch = fetch.New(s.cache, s.limiter, fetch.Config{
		Retry: fetch.RetryPolicy{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: config.Ms(cfg.Retry.BaseDelayMs),
			MaxDelay:  config.Ms(cfg.Retry.MaxDelayMs),
			Jitter:    config.Ms(cfg.Retry.JitterMs),
		},
		Pacer:   fetch.Pacer{Min: config.Ms(cfg.Pacing.MinMs), Max: config.Ms(cfg.Pacing.MaxMs)},
		Timeout: cfg.RequestTimeout(),
	}, fetch.WithClock(s.now))
	s.batch = batch.New(s.cache, s.orch, batch.Config{
		ChunkSize:     cfg.Batch.ChunkSize,
		Workers:       cfg.Batch.Workers,
		InterChunkMin: config.Ms(cfg.Batch.InterChunkMinMs),
		InterChunkMax: config.Ms(cfg.Batch.InterChunkMaxMs),
	})

	names := cfg.Universe.Names()
	s.degrade = degrade.New(degrade.WithClock(s.now), degrade.WithNames(names))
	s.names = make(map[string]string, len(names))
	for _, in := range names {
		s.names[in.Symbol] = in.Name
	}
	return s, nil
}

// Start launches the background cache sweeper
func (s *Service) Start() {
	s.sweeper.Start()
}

// Close stops the sweeper and waits for it to exit
func (s *Service) Close() {
	s.sweeper.Stop()
}

// Cache exposes the shared cache, mainly for health reporting and tests
func (s *Service) Cache() *cache.MultiTierCache { return s.cache }

func (s *Service) StockDetails(ctx context.Context, symbol string) (Result[market.StockDetails], error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return Result[market.StockDetails]{}, err
	}
	env, err := s.orch.Execute(ctx, fetch.Request{
		Tier:    cache.TierRealtime,
		Key:     sym,
		Fetch:   s.detailsFetch(sym),
		Degrade: func() any { return s.degrade.StockDetails(sym) },
	})
	if err != nil {
		return Result[market.StockDetails]{}, err
	}
	return resultOf[market.StockDetails](env), nil
}

// BatchDetails resolves several symbols; one failing symbol never affects the others
func (s *Service) BatchDetails(ctx context.Context, symbols []string) (map[string]Result[market.StockDetails], error) {
	syms, err := market.NormalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	if len(syms) == 0 {
		return nil, ErrNoSymbols
	}

	envs, err := s.batch.ResolveBatch(ctx, batch.Request{
		Tier:       cache.TierRealtime,
		Keys:       syms,
		FetchFor:   s.detailsFetch,
		DegradeFor: func(key string) any { return s.degrade.StockDetails(key) },
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]Result[market.StockDetails], len(envs))
	for key, env := range envs {
		out[key] = resultOf[market.StockDetails](env)
	}
	return out, nil
}

func (s *Service) Historical(ctx context.Context, symbol, timeframe string) (Result[market.HistoricalSeries], error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return Result[market.HistoricalSeries]{}, err
	}
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return Result[market.HistoricalSeries]{}, err
	}

	env, err := s.orch.Execute(ctx, fetch.Request{
		Tier: cache.TierHistorical,
		Key:  sym + "|" + string(tf),
		Fetch: func(ctx context.Context) (any, error) {
			return s.source.History(ctx, sym, tf)
		},
		Degrade: func() any { return s.degrade.History(sym, tf) },
	})
	if err != nil {
		return Result[market.HistoricalSeries]{}, err
	}
	return resultOf[market.HistoricalSeries](env), nil
}

// MarketSummary returns index levels and sector moves. Instruments the
// provider cannot serve are left out of a live answer; if none can be served
// the summary falls back like any other fetch.
func (s *Service) MarketSummary(ctx context.Context) (Result[market.MarketSummary], error) {
	u := s.cfg.Universe
	env, err := s.orch.Execute(ctx, fetch.Request{
		Tier: cache.TierMarket,
		Key:  "summary",
		Cost: len(u.Indices) + len(u.Sectors),
		Fetch: func(ctx context.Context) (any, error) {
			return s.fetchSummary(ctx, u.Indices, u.Sectors)
		},
		Degrade: func() any { return s.degrade.MarketSummary(u.Indices, u.Sectors) },
	})
	if err != nil {
		return Result[market.MarketSummary]{}, err
	}
	return resultOf[market.MarketSummary](env), nil
}

func (s *Service) fetchSummary(ctx context.Context, indices, sectors []market.Instrument) (market.MarketSummary, error) {
	out := market.MarketSummary{
		Indices:           make([]market.IndexLevel, 0, len(indices)),
		SectorPerformance: make([]market.SectorPerformance, 0, len(sectors)),
		MarketStatus:      market.MarketStatus(s.now()),
	}
	var firstErr error
	for _, in := range indices {
		lvl, err := s.source.IndexLevel(ctx, in.Symbol)
		if err != nil {
			firstErr = keepFirst(firstErr, err)
			continue
		}
		lvl.Name = in.Name
		out.Indices = append(out.Indices, lvl)
	}
	for _, sec := range sectors {
		lvl, err := s.source.IndexLevel(ctx, sec.Symbol)
		if err != nil {
			firstErr = keepFirst(firstErr, err)
			continue
		}
		out.SectorPerformance = append(out.SectorPerformance, market.SectorPerformance{
			Name:          sec.Name,
			Symbol:        sec.Symbol,
			PercentChange: lvl.PercentChange,
		})
	}
	if len(out.Indices) == 0 && len(out.SectorPerformance) == 0 && firstErr != nil {
		return market.MarketSummary{}, firstErr
	}
	if firstErr != nil {
		observ.Debug("market_summary_partial", map[string]any{
			"indices": len(out.Indices),
			"sectors": len(out.SectorPerformance),
			"error":   firstErr.Error(),
		})
	}
	return out, nil
}

// MarketMovers ranks the major stocks by daily move; limit is capped at 5
func (s *Service) MarketMovers(ctx context.Context, limit int) (Result[market.Movers], error) {
	limit = clamp(limit, maxMovers, maxMovers)
	major := s.cfg.Universe.Major

	env, err := s.orch.Execute(ctx, fetch.Request{
		Tier: cache.TierMarket,
		Key:  "movers|" + strconv.Itoa(limit),
		Cost: len(major),
		Fetch: func(ctx context.Context) (any, error) {
			quotes := make([]market.Mover, 0, len(major))
			var firstErr error
			for _, in := range major {
				d, err := s.source.Details(ctx, in.Symbol)
				if err != nil {
					firstErr = keepFirst(firstErr, err)
					continue
				}
				quotes = append(quotes, market.Mover{
					Symbol:        in.Symbol,
					Name:          s.displayName(in.Symbol, d.Name),
					Price:         d.Price,
					Change:        d.Change,
					PercentChange: d.PercentChange,
				})
			}
			if len(quotes) == 0 && firstErr != nil {
				return nil, firstErr
			}
			return degrade.RankMovers(quotes, limit), nil
		},
		Degrade: func() any { return s.degrade.Movers(major, limit) },
	})
	if err != nil {
		return Result[market.Movers]{}, err
	}
	return resultOf[market.Movers](env), nil
}

// MostWatched returns details for the watch list in its configured order
func (s *Service) MostWatched(ctx context.Context, limit int) ([]Result[market.StockDetails], error) {
	watched, err := market.NormalizeSymbols(s.cfg.Universe.Watched)
	if err != nil {
		return nil, fmt.Errorf("watch list: %w", err)
	}
	limit = clamp(limit, maxWatched, maxWatched)
	if limit > len(watched) {
		limit = len(watched)
	}
	if limit == 0 {
		return []Result[market.StockDetails]{}, nil
	}

	details, err := s.BatchDetails(ctx, watched[:limit])
	if err != nil {
		return nil, err
	}
	out := make([]Result[market.StockDetails], 0, limit)
	for _, sym := range watched[:limit] {
		if r, ok := details[sym]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Search matches the popular list by symbol or name. An empty query returns
// the popular list; short queries are first tried as a ticker upstream.
func (s *Service) Search(ctx context.Context, query string, limit int) (Result[market.SearchResults], error) {
	q := strings.TrimSpace(query)
	limit = clamp(limit, defaultResults, maxResults)
	if len(q) > maxQueryLen {
		return Result[market.SearchResults]{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidQuery, maxQueryLen)
	}
	popular := s.cfg.Universe.Popular

	if q == "" {
		out := make(market.SearchResults, 0, limit)
		for _, in := range popular {
			if len(out) == limit {
				break
			}
			out = append(out, market.SearchResult{Symbol: in.Symbol, Name: in.Name})
		}
		return Result[market.SearchResults]{Data: out, DataSource: market.SourceLive, AsOf: s.now()}, nil
	}

	env, err := s.orch.Execute(ctx, fetch.Request{
		Tier: cache.TierSearch,
		Key:  "search_" + strings.ToLower(q) + "_" + strconv.Itoa(limit),
		Fetch: func(ctx context.Context) (any, error) {
			if len(q) <= symbolQueryLen {
				if sym, err := market.NormalizeSymbol(q); err == nil {
					d, err := s.source.Details(ctx, sym)
					if err == nil && d.Price > 0 {
						return market.SearchResults{{Symbol: sym, Name: s.displayName(sym, d.Name)}}, nil
					}
				}
			}
			return filterInstruments(popular, q, limit), nil
		},
		Degrade: func() any { return s.degrade.Search(q, popular, limit) },
	})
	if err != nil {
		if errors.Is(err, fetch.ErrMalformedKey) {
			return Result[market.SearchResults]{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return Result[market.SearchResults]{}, err
	}
	return resultOf[market.SearchResults](env), nil
}

// News returns the headline/sentiment feed for a symbol
func (s *Service) News(ctx context.Context, symbol string, limit int) (Result[market.NewsFeed], error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return Result[market.NewsFeed]{}, err
	}
	limit = clamp(limit, defaultNews, maxNews)

	env, err := s.orch.Execute(ctx, fetch.Request{
		Tier: cache.TierNews,
		Key:  sym + "|" + strconv.Itoa(limit),
		Fetch: func(ctx context.Context) (any, error) {
			return s.source.Headlines(ctx, sym, limit)
		},
		Degrade: func() any { return s.degrade.News(sym, limit) },
	})
	if err != nil {
		return Result[market.NewsFeed]{}, err
	}
	return resultOf[market.NewsFeed](env), nil
}

// HealthReport summarises provider status, cache occupancy and limiter usage
type HealthReport struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	APIStatus string                   `json:"api_status"`
	Provider  *upstream.HealthSnapshot `json:"provider,omitempty"`
	Budget    *upstream.BudgetStatus   `json:"budget,omitempty"`
	Cache     cache.Stats              `json:"cache"`
	Limiter   ratelimit.Stats          `json:"rate_limiter"`
}

func (s *Service) Health(_ context.Context) HealthReport {
	r := HealthReport{
		Status:    "ok",
		Timestamp: s.now().UTC(),
		APIStatus: "unknown",
		Cache:     s.cache.Stats(),
		Limiter:   s.limiter.Stats(),
	}
	if s.health != nil {
		snap := s.health.Snapshot()
		r.Provider = &snap
		r.APIStatus = string(snap.Status)
	}
	if b, ok := upstream.Budget(s.source); ok {
		r.Budget = &b
	}
	return r
}

func (s *Service) detailsFetch(sym string) fetch.FetchFunc {
	return func(ctx context.Context) (any, error) {
		d, err := s.source.Details(ctx, sym)
		if err != nil {
			return nil, err
		}
		d.Name = s.displayName(sym, d.Name)
		return d, nil
	}
}

// displayName prefers a provider name unless it is just the ticker echoed back
func (s *Service) displayName(sym, provided string) string {
	if provided != "" && provided != sym {
		return provided
	}
	if n, ok := s.names[sym]; ok && n != "" {
		return n
	}
	return sym
}

func filterInstruments(universe []market.Instrument, query string, limit int) market.SearchResults {
	q := strings.ToLower(query)
	out := market.SearchResults{}
	for _, in := range universe {
		if len(out) == limit {
			break
		}
		if strings.Contains(strings.ToLower(in.Symbol), q) || strings.Contains(strings.ToLower(in.Name), q) {
			out = append(out, market.SearchResult{Symbol: in.Symbol, Name: in.Name})
		}
	}
	return out
}

func keepFirst(first, err error) error {
	if first != nil {
		return first
	}
	return err
}

// clamp applies def to non-positive values and caps at max
func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
