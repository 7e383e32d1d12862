package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/marketcore/internal/config"
	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/upstream"
)

var moves = map[string]float64{
	"AAPL": 2.5, "MSFT": -1.2, "GOOGL": 0.8, "AMZN": -3.1, "META": 1.1,
	"TSLA": 4.2, "NVDA": -0.5, "JPM": 0.3, "V": -0.2, "JNJ": 0,
}

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	down  error
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: map[string]int{}, fail: map[string]error{}}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) hit(op, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op+":"+symbol]++
	if f.down != nil {
		return f.down
	}
	return f.fail[symbol]
}

func (f *fakeSource) count(op, symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op+":"+symbol]
}

func (f *fakeSource) Details(_ context.Context, symbol string) (market.StockDetails, error) {
	if err := f.hit("details", symbol); err != nil {
		return market.StockDetails{}, err
	}
	pct, ok := moves[symbol]
	if !ok && symbol != "IBM" {
		return market.StockDetails{}, market.NewNotFoundError(symbol, "unknown symbol")
	}
	return market.StockDetails{Symbol: symbol, Name: symbol, Price: 100, PercentChange: pct, Change: pct}, nil
}

func (f *fakeSource) History(_ context.Context, symbol string, tf market.Timeframe) (market.HistoricalSeries, error) {
	if err := f.hit("history", symbol); err != nil {
		return market.HistoricalSeries{}, err
	}
	return market.HistoricalSeries{Symbol: symbol, Timeframe: tf, Labels: []string{"a"}, Data: []float64{1}, Timestamps: []string{"2024-03-13"}}, nil
}

func (f *fakeSource) IndexLevel(_ context.Context, symbol string) (market.IndexLevel, error) {
	if err := f.hit("index", symbol); err != nil {
		return market.IndexLevel{}, err
	}
	return market.IndexLevel{Symbol: symbol, Value: 1000, PercentChange: 0.5}, nil
}

func (f *fakeSource) Headlines(_ context.Context, symbol string, limit int) (market.NewsFeed, error) {
	if err := f.hit("news", symbol); err != nil {
		return market.NewsFeed{}, err
	}
	feed := market.NewsFeed{Symbol: symbol}
	for i := 0; i < limit; i++ {
		feed.Headlines = append(feed.Headlines, market.Headline{Title: symbol + " headline", SentimentScore: 0.5, Sentiment: "positive"})
	}
	feed.Summarize()
	return feed, nil
}

func testConfig() config.Root {
	c := config.Default()
	c.RateLimit = config.RateLimit{MaxCalls: 1000, PeriodMs: 60000}
	c.Retry = config.Retry{Attempts: 3, BaseDelayMs: 1, MaxDelayMs: 2}
	c.Pacing = config.Pacing{}
	c.Batch = config.Batch{ChunkSize: 3, Workers: 2, InterChunkMaxMs: 1}
	c.RequestTimeoutMs = 2000
	return c
}

func newTestService(t *testing.T, src upstream.Source) *Service {
	t.Helper()
	s, err := New(testConfig(), src)
	require.NoError(t, err)
	return s
}

func TestStockDetailsLiveThenCached(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src)

	r, err := s.StockDetails(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, market.SourceLive, r.DataSource)
	assert.Equal(t, "AAPL", r.Data.Symbol)
	assert.Equal(t, "Apple Inc.", r.Data.Name, "ticker echoes are replaced by the configured name")
	assert.False(t, r.AsOf.IsZero())

	_, err = s.StockDetails(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, src.count("details", "AAPL"))
}

func TestInvalidInputIsRejected(t *testing.T) {
	s := newTestService(t, newFakeSource())

	_, err := s.StockDetails(context.Background(), "not a symbol")
	assert.ErrorIs(t, err, market.ErrInvalidSymbol)

	_, err = s.Historical(context.Background(), "AAPL", "5y")
	assert.ErrorIs(t, err, market.ErrInvalidTimeframe)

	_, err = s.News(context.Background(), "", 5)
	assert.ErrorIs(t, err, market.ErrInvalidSymbol)

	_, err = s.BatchDetails(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSymbols)
}

func TestUpstreamDownDegradesDeterministically(t *testing.T) {
	src := newFakeSource()
	src.down = market.NewNetworkError("", "connection refused", nil)
	s := newTestService(t, src)

	a, err := s.StockDetails(context.Background(), "AAPL")
	require.NoError(t, err)
	b, err := s.StockDetails(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, market.SourceMock, a.DataSource)
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, "Apple Inc.", a.Data.Name)
	assert.Equal(t, 6, src.count("details", "AAPL"), "each call spends its own retry budget")
}

func TestHistoricalKeyedByTimeframe(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src)

	r, err := s.Historical(context.Background(), "MSFT", "")
	require.NoError(t, err)
	assert.Equal(t, market.Timeframe1M, r.Data.Timeframe)

	_, err = s.Historical(context.Background(), "MSFT", "1y")
	require.NoError(t, err)
	_, err = s.Historical(context.Background(), "MSFT", "1M")
	require.NoError(t, err)
	assert.Equal(t, 2, src.count("history", "MSFT"))
	assert.Equal(t, 2, s.Cache().TierLen("historical"))
}

func TestBatchDetailsIsolatesFailures(t *testing.T) {
	src := newFakeSource()
	src.fail["MSFT"] = errors.New("upstream exploded")
	s := newTestService(t, src)

	out, err := s.BatchDetails(context.Background(), []string{"AAPL", "msft", "GOOGL", "AAPL", "TSLA"})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, market.SourceMock, out["MSFT"].DataSource)
	for _, sym := range []string{"AAPL", "GOOGL", "TSLA"} {
		assert.Equal(t, market.SourceLive, out[sym].DataSource, sym)
	}
	assert.Equal(t, 3, src.count("details", "MSFT"))
	assert.Equal(t, 1, src.count("details", "AAPL"))
}

func TestMarketSummary(t *testing.T) {
	src := newFakeSource()
	src.fail["^DJI"] = market.NewUnsupportedError("^DJI", "no index quotes")
	s := newTestService(t, src)

	r, err := s.MarketSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, market.SourceLive, r.DataSource)
	assert.Len(t, r.Data.Indices, 2)
	assert.Len(t, r.Data.SectorPerformance, 5)
	assert.Equal(t, "S&P 500", r.Data.Indices[0].Name)
	assert.Equal(t, "Technology", r.Data.SectorPerformance[0].Name)
	assert.Equal(t, 8, s.limiter.InWindow(), "one permit per instrument")

	down := newFakeSource()
	down.down = market.NewTimeoutError("", "slow", nil)
	s = newTestService(t, down)
	r, err = s.MarketSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, market.SourceMock, r.DataSource)
	assert.Len(t, r.Data.Indices, 3)
}

func TestMarketMovers(t *testing.T) {
	s := newTestService(t, newFakeSource())

	r, err := s.MarketMovers(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, market.SourceLive, r.DataSource)
	require.Len(t, r.Data.Gainers, 5)
	require.Len(t, r.Data.Losers, 4, "flat movers are neither gainers nor losers")
	assert.Equal(t, "TSLA", r.Data.Gainers[0].Symbol)
	assert.Equal(t, "Tesla Inc.", r.Data.Gainers[0].Name)
	assert.Equal(t, "AMZN", r.Data.Losers[0].Symbol)

	r, err = s.MarketMovers(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, r.Data.Gainers, 2)
}

func TestMostWatchedKeepsOrder(t *testing.T) {
	s := newTestService(t, newFakeSource())

	out, err := s.MostWatched(context.Background(), 99)
	require.NoError(t, err)
	require.Len(t, out, 5)
	var got []string
	for _, r := range out {
		got = append(got, r.Data.Symbol)
	}
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}, got)

	out, err = s.MostWatched(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestMostWatchedNormalizesConfiguredSymbols(t *testing.T) {
	cfg := testConfig()
	cfg.Universe.Watched = []string{" aapl", "brk/b", "MSFT", "AAPL"}
	s, err := New(cfg, newFakeSource())
	require.NoError(t, err)

	out, err := s.MostWatched(context.Background(), 0)
	require.NoError(t, err)
	var got []string
	for _, r := range out {
		got = append(got, r.Data.Symbol)
	}
	assert.Equal(t, []string{"AAPL", "BRK.B", "MSFT"}, got)
}

func TestAsOfFollowsServiceClock(t *testing.T) {
	now := time.Date(2024, 3, 13, 14, 30, 0, 0, time.UTC)
	src := newFakeSource()
	s, err := New(testConfig(), src, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	r, err := s.StockDetails(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, market.SourceLive, r.DataSource)
	assert.Equal(t, now, r.AsOf)

	src.down = market.NewNotFoundError("ZZZ", "unknown symbol")
	r, err = s.StockDetails(context.Background(), "ZZZ")
	require.NoError(t, err)
	assert.Equal(t, market.SourceMock, r.DataSource)
	assert.Equal(t, now, r.AsOf)
}

func TestSearch(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src)
	ctx := context.Background()

	r, err := s.Search(ctx, "", 3)
	require.NoError(t, err)
	assert.Len(t, r.Data, 3)
	assert.Equal(t, "AAPL", r.Data[0].Symbol)

	// short query resolves as a ticker
	r, err = s.Search(ctx, "ibm", 10)
	require.NoError(t, err)
	require.Len(t, r.Data, 1)
	assert.Equal(t, market.SearchResult{Symbol: "IBM", Name: "IBM"}, r.Data[0])

	// unknown ticker falls back to the popular list
	r, err = s.Search(ctx, "micro", 10)
	require.NoError(t, err)
	require.Len(t, r.Data, 1)
	assert.Equal(t, "MSFT", r.Data[0].Symbol)
	assert.Equal(t, 1, src.count("details", "MICRO"))

	// long queries never go upstream
	r, err = s.Search(ctx, "johnson", 10)
	require.NoError(t, err)
	require.Len(t, r.Data, 1)
	assert.Equal(t, "JNJ", r.Data[0].Symbol)
	assert.Equal(t, 0, src.count("details", "JOHNSON"))

	_, err = s.Search(ctx, string(make([]byte, 100)), 10)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestNews(t *testing.T) {
	src := newFakeSource()
	s := newTestService(t, src)

	r, err := s.News(context.Background(), "TSLA", 0)
	require.NoError(t, err)
	assert.Equal(t, market.SourceLive, r.DataSource)
	assert.Len(t, r.Data.Headlines, 5)
	assert.Equal(t, "positive", r.Data.OverallSentiment)

	src.fail["NVDA"] = market.NewUnsupportedError("NVDA", "no feed")
	r, err = s.News(context.Background(), "NVDA", 3)
	require.NoError(t, err)
	assert.Equal(t, market.SourceMock, r.DataSource)
	assert.Len(t, r.Data.Headlines, 3)
	assert.Equal(t, 1, src.count("news", "NVDA"))
}

func TestHealthReport(t *testing.T) {
	m := upstream.NewMonitored(newFakeSource())
	s := newTestService(t, m)
	s.Start()
	defer s.Close()

	_, err := s.StockDetails(context.Background(), "AAPL")
	require.NoError(t, err)

	h := s.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "healthy", h.APIStatus)
	require.NotNil(t, h.Provider)
	assert.EqualValues(t, 1, h.Provider.SuccessCount)
	assert.Equal(t, 1, h.Cache.Sizes["realtime"])
	assert.Equal(t, 1, h.Limiter.InWindow)

	assert.Nil(t, h.Budget)

	bare := newTestService(t, newFakeSource())
	assert.Equal(t, "unknown", bare.Health(context.Background()).APIStatus)
}

func TestHealthReportsDailyBudget(t *testing.T) {
	av, err := upstream.NewAlphaVantage(upstream.AlphaVantageConfig{APIKey: "test", DailyCap: 25})
	require.NoError(t, err)
	s := newTestService(t, upstream.NewMonitored(upstream.NewRouted(newFakeSource(), av)))

	h := s.Health(context.Background())
	require.NotNil(t, h.Budget)
	assert.Equal(t, "alphavantage", h.Budget.Provider)
	assert.Equal(t, 0, h.Budget.Used)
	assert.Equal(t, 25, h.Budget.Total)
}
