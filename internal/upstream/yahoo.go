package upstream

import (
	"context"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/piquette/finance-go/quote"

	"github.com/Rajchodisetti/marketcore/internal/market"
)

// YahooConfig holds configuration for the Yahoo Finance source
type YahooConfig struct {
	TimeoutSeconds int
}

// Yahoo reads quotes, fundamentals and chart bars from Yahoo Finance.
// The client library has no context support, so every call is bounded by
// the per-call timeout and the caller's ctx.
type Yahoo struct {
	timeout time.Duration
	now     func() time.Time

	getQuote  func(symbol string) (*finance.Quote, error)
	getEquity func(symbol string) (*finance.Equity, error)
	getBars   func(p *chart.Params) ([]Bar, error)
}

// NewYahoo creates a Yahoo source backed by finance-go
func NewYahoo(cfg YahooConfig) *Yahoo {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	return &Yahoo{
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		now:       time.Now,
		getQuote:  quote.Get,
		getEquity: equity.Get,
		getBars:   chartBars,
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

func (y *Yahoo) Details(ctx context.Context, symbol string) (market.StockDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	eq, err := await(ctx, symbol, func() (*finance.Equity, error) { return y.getEquity(symbol) })
	if err != nil {
		return market.StockDetails{}, classify(symbol, err)
	}
	if eq == nil || eq.RegularMarketPrice <= 0 {
		return market.StockDetails{}, market.NewNotFoundError(symbol, "no quote returned")
	}

	q := eq.Quote
	name := q.ShortName
	if name == "" {
		name = symbol
	}
	return market.StockDetails{
		Symbol:        symbol,
		Name:          name,
		Price:         market.Round(q.RegularMarketPrice, 2),
		Change:        market.Round(q.RegularMarketChange, 2),
		PercentChange: market.Round(q.RegularMarketChangePercent, 2),
		MarketCap:     market.Round(float64(eq.MarketCap)/1e12, 3),
		Volume:        market.Round(float64(q.RegularMarketVolume)/1e6, 2),
		AvgVolume:     market.Round(float64(q.AverageDailyVolume3Month)/1e6, 2),
		PE:            market.Round(eq.TrailingPE, 2),
		EPS:           market.Round(eq.EpsTrailingTwelveMonths, 2),
		Dividend:      market.Round(eq.TrailingAnnualDividendYield*100, 2),
		High52W:       market.Round(q.FiftyTwoWeekHigh, 2),
		Low52W:        market.Round(q.FiftyTwoWeekLow, 2),
		Open:          market.Round(q.RegularMarketOpen, 2),
		PreviousClose: market.Round(q.RegularMarketPreviousClose, 2),
	}, nil
}

func (y *Yahoo) History(ctx context.Context, symbol string, tf market.Timeframe) (market.HistoricalSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	now := y.now()
	start := now.Add(-tf.Spec().Span)
	p := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&now),
		Interval: yahooInterval(tf),
	}
	bars, err := await(ctx, symbol, func() ([]Bar, error) { return y.getBars(p) })
	if err != nil {
		return market.HistoricalSeries{}, classify(symbol, err)
	}
	return SeriesFromBars(symbol, tf, bars, now)
}

func (y *Yahoo) IndexLevel(ctx context.Context, symbol string) (market.IndexLevel, error) {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	q, err := await(ctx, symbol, func() (*finance.Quote, error) { return y.getQuote(symbol) })
	if err != nil {
		return market.IndexLevel{}, classify(symbol, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return market.IndexLevel{}, market.NewNotFoundError(symbol, "no quote returned")
	}
	return market.IndexLevel{
		Name:          q.ShortName,
		Symbol:        symbol,
		Value:         market.Round(q.RegularMarketPrice, 2),
		Change:        market.Round(q.RegularMarketChange, 2),
		PercentChange: market.Round(q.RegularMarketChangePercent, 2),
	}, nil
}

// Headlines is not offered by the Yahoo client
func (y *Yahoo) Headlines(_ context.Context, symbol string, _ int) (market.NewsFeed, error) {
	return market.NewsFeed{}, market.NewUnsupportedError(symbol, "yahoo source has no headline feed")
}

func chartBars(p *chart.Params) ([]Bar, error) {
	iter := chart.Get(p)
	var bars []Bar
	for iter.Next() {
		b := iter.Bar()
		closePx, _ := b.Close.Float64()
		bars = append(bars, Bar{Time: time.Unix(int64(b.Timestamp), 0).UTC(), Close: closePx})
	}
	return bars, iter.Err()
}

func yahooInterval(tf market.Timeframe) datetime.Interval {
	switch tf {
	case market.Timeframe1D:
		return datetime.Interval("5m")
	case market.Timeframe1W:
		return datetime.Interval("60m")
	case market.Timeframe1M, market.Timeframe3M:
		return datetime.Interval("1d")
	case market.Timeframe1Y:
		return datetime.Interval("1wk")
	default:
		return datetime.Interval("1mo")
	}
}

// classify maps library errors onto the market error taxonomy
func classify(symbol string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*market.Error); ok {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many"):
		return market.NewRateLimitError(symbol, err.Error())
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no data"):
		return market.NewNotFoundError(symbol, err.Error())
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return market.NewTimeoutError(symbol, "provider timed out", err)
	default:
		return market.NewNetworkError(symbol, "provider request failed", err)
	}
}
