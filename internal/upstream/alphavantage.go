package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/observ"
)

const defaultAlphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantageConfig holds configuration for the Alpha Vantage source
type AlphaVantageConfig struct {
	APIKey             string
	BaseURL            string
	RateLimitPerMinute int
	DailyCap           int
	TimeoutSeconds     int
	Fundamentals       bool
	HTTPCache          bool
}

// AlphaVantage implements Source over the Alpha Vantage query API
type AlphaVantage struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	config      AlphaVantageConfig
	now         func() time.Time

	// Budget tracking
	mu              sync.Mutex
	requestsToday   int
	budgetResetTime time.Time
}

// NewAlphaVantage creates a new Alpha Vantage source
func NewAlphaVantage(config AlphaVantageConfig) (*AlphaVantage, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("alpha vantage API key is required")
	}

	// Set defaults
	if config.BaseURL == "" {
		config.BaseURL = defaultAlphaVantageURL
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 5 // Free tier limit
	}
	if config.DailyCap <= 0 {
		config.DailyCap = 300
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}

	client := &http.Client{Timeout: time.Duration(config.TimeoutSeconds) * time.Second}
	if config.HTTPCache {
		client.Transport = httpcache.NewMemoryCacheTransport()
	}

	return &AlphaVantage{
		apiKey:          config.APIKey,
		baseURL:         config.BaseURL,
		httpClient:      client,
		rateLimiter:     rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
		config:          config,
		now:             time.Now,
		budgetResetTime: time.Now().Add(24 * time.Hour),
	}, nil
}

func (av *AlphaVantage) Name() string { return "alphavantage" }

func (av *AlphaVantage) Details(ctx context.Context, symbol string) (market.StockDetails, error) {
	q, err := av.globalQuote(ctx, symbol)
	if err != nil {
		return market.StockDetails{}, err
	}

	d := market.StockDetails{
		Symbol:        symbol,
		Name:          symbol,
		Price:         market.Round(q.price, 2),
		Change:        market.Round(q.change, 2),
		PercentChange: market.Round(q.percent, 2),
		Volume:        market.Round(q.volume/1e6, 2),
		Open:          market.Round(q.open, 2),
		PreviousClose: market.Round(q.prevClose, 2),
	}
	if !av.config.Fundamentals {
		return d, nil
	}

	// fundamentals are best effort; the quote alone is still a live answer
	var ov map[string]string
	if err := av.do(ctx, symbol, url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}}, &ov); err != nil {
		observ.Debug("alphavantage_overview_skipped", map[string]any{"symbol": symbol, "error": err.Error()})
		return d, nil
	}
	if name := ov["Name"]; name != "" {
		d.Name = name
	}
	d.MarketCap = market.Round(num(ov["MarketCapitalization"])/1e12, 3)
	d.PE = market.Round(num(ov["PERatio"]), 2)
	d.EPS = market.Round(num(ov["EPS"]), 2)
	d.Dividend = market.Round(num(ov["DividendYield"])*100, 2)
	if v := num(ov["52WeekHigh"]); v > 0 {
		d.High52W = market.Round(v, 2)
	}
	if v := num(ov["52WeekLow"]); v > 0 {
		d.Low52W = market.Round(v, 2)
	}
	return d, nil
}

func (av *AlphaVantage) History(ctx context.Context, symbol string, tf market.Timeframe) (market.HistoricalSeries, error) {
	params, seriesKey, layout := avSeries(tf)
	params.Set("symbol", symbol)

	var raw map[string]json.RawMessage
	if err := av.do(ctx, symbol, params, &raw); err != nil {
		return market.HistoricalSeries{}, err
	}
	body, ok := raw[seriesKey]
	if !ok {
		return market.HistoricalSeries{}, market.NewNotFoundError(symbol, "no "+seriesKey+" in response")
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(body, &series); err != nil {
		return market.HistoricalSeries{}, market.NewProviderError(symbol, "failed to parse series", err)
	}

	bars := make([]Bar, 0, len(series))
	for stamp, fields := range series {
		t, err := time.Parse(layout, stamp)
		if err != nil {
			continue
		}
		bars = append(bars, Bar{Time: t, Close: num(fields["4. close"])})
	}

	// anchor the window at the newest bar; the feed trails the wall clock
	now := av.now()
	if latest := latestBar(bars); !latest.IsZero() && latest.Before(now) {
		now = latest
	}
	return SeriesFromBars(symbol, tf, bars, now)
}

// IndexLevel serves sector ETF proxies; Alpha Vantage has no index quotes
func (av *AlphaVantage) IndexLevel(ctx context.Context, symbol string) (market.IndexLevel, error) {
	if strings.HasPrefix(symbol, "^") {
		return market.IndexLevel{}, market.NewUnsupportedError(symbol, "index symbols are not served by alphavantage")
	}
	q, err := av.globalQuote(ctx, symbol)
	if err != nil {
		return market.IndexLevel{}, err
	}
	return market.IndexLevel{
		Name:          symbol,
		Symbol:        symbol,
		Value:         market.Round(q.price, 2),
		Change:        market.Round(q.change, 2),
		PercentChange: market.Round(q.percent, 2),
	}, nil
}

func (av *AlphaVantage) Headlines(ctx context.Context, symbol string, limit int) (market.NewsFeed, error) {
	if limit <= 0 {
		limit = 10
	}
	var resp struct {
		Feed []struct {
			Title          string  `json:"title"`
			URL            string  `json:"url"`
			TimePublished  string  `json:"time_published"`
			Source         string  `json:"source"`
			SentimentScore float64 `json:"overall_sentiment_score"`
		} `json:"feed"`
	}
	params := url.Values{
		"function": {"NEWS_SENTIMENT"},
		"tickers":  {symbol},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := av.do(ctx, symbol, params, &resp); err != nil {
		return market.NewsFeed{}, err
	}

	feed := market.NewsFeed{Symbol: symbol, Headlines: make([]market.Headline, 0, limit)}
	for _, item := range resp.Feed {
		if len(feed.Headlines) == limit {
			break
		}
		published := item.TimePublished
		if t, err := time.Parse("20060102T150405", item.TimePublished); err == nil {
			published = t.UTC().Format(time.RFC3339)
		}
		score := market.Round(item.SentimentScore, 3)
		feed.Headlines = append(feed.Headlines, market.Headline{
			Title:          item.Title,
			URL:            item.URL,
			Source:         item.Source,
			PublishedAt:    published,
			Sentiment:      market.SentimentLabel(score),
			SentimentScore: score,
		})
	}
	if len(feed.Headlines) == 0 {
		return market.NewsFeed{}, market.NewEmptyPayloadError(symbol, "no headlines returned")
	}
	feed.Summarize()
	return feed, nil
}

// GetBudgetStatus returns current budget usage
func (av *AlphaVantage) GetBudgetStatus() (used, total int, resetTime time.Time) {
	av.mu.Lock()
	defer av.mu.Unlock()
	return av.requestsToday, av.config.DailyCap, av.budgetResetTime
}

// BudgetStatus is the daily request budget of a capped provider
type BudgetStatus struct {
	Provider string    `json:"provider"`
	Used     int       `json:"used"`
	Total    int       `json:"total"`
	ResetAt  time.Time `json:"reset_at"`
}

// Budget finds the daily request budget behind src, looking through the
// monitoring, chaos and routing wrappers
func Budget(src Source) (BudgetStatus, bool) {
	switch s := src.(type) {
	case *AlphaVantage:
		used, total, reset := s.GetBudgetStatus()
		return BudgetStatus{Provider: s.Name(), Used: used, Total: total, ResetAt: reset}, true
	case *Monitored:
		return Budget(s.Source)
	case *Chaos:
		return Budget(s.underlying)
	case *Routed:
		if b, ok := Budget(s.Source); ok {
			return b, true
		}
		return Budget(s.news)
	}
	return BudgetStatus{}, false
}

type avQuote struct {
	price, change, percent, volume, open, prevClose float64
}

func (av *AlphaVantage) globalQuote(ctx context.Context, symbol string) (avQuote, error) {
	var resp struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := av.do(ctx, symbol, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}, &resp); err != nil {
		return avQuote{}, err
	}
	q := resp.GlobalQuote
	if len(q) == 0 {
		return avQuote{}, market.NewNotFoundError(symbol, "no quote data returned")
	}
	price := num(q["05. price"])
	if price <= 0 {
		return avQuote{}, market.NewEmptyPayloadError(symbol, "quote has no price")
	}
	return avQuote{
		price:     price,
		change:    num(q["09. change"]),
		percent:   num(strings.TrimSuffix(q["10. change percent"], "%")),
		volume:    num(q["06. volume"]),
		open:      num(q["02. open"]),
		prevClose: num(q["08. previous close"]),
	}, nil
}

// do performs one budgeted, paced API request and decodes the body into out
func (av *AlphaVantage) do(ctx context.Context, symbol string, params url.Values, out any) error {
	if !av.canMakeRequest() {
		return market.NewRateLimitError(symbol, "daily budget exceeded")
	}
	if err := av.rateLimiter.Wait(ctx); err != nil {
		return market.NewTimeoutError(symbol, "rate limit wait cancelled", err)
	}
	av.incrementRequestCount()

	params.Set("apikey", av.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, av.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return market.NewProviderError(symbol, "failed to create request", err)
	}

	start := time.Now()
	resp, err := av.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return market.NewTimeoutError(symbol, "request timed out", err)
		}
		return market.NewNetworkError(symbol, "request failed", err)
	}
	defer resp.Body.Close()
	observ.RecordDuration("alphavantage_request", time.Since(start), map[string]string{"function": params.Get("function")})

	if resp.StatusCode == http.StatusTooManyRequests {
		return market.NewRateLimitError(symbol, "API rate limit exceeded")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.NewNetworkError(symbol, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return market.NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)), nil)
	}

	var notes struct {
		ErrorMessage string `json:"Error Message"`
		Information  string `json:"Information"`
		Note         string `json:"Note"`
	}
	if err := json.Unmarshal(body, &notes); err != nil {
		return market.NewProviderError(symbol, "failed to parse response", err)
	}
	switch {
	case notes.ErrorMessage != "":
		return market.NewNotFoundError(symbol, notes.ErrorMessage)
	case notes.Information != "":
		// Usually rate limit or API call frequency message
		return market.NewRateLimitError(symbol, notes.Information)
	case notes.Note != "":
		return market.NewRateLimitError(symbol, notes.Note)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return market.NewProviderError(symbol, "failed to parse response", err)
	}
	return nil
}

// canMakeRequest checks the daily budget, resetting it once a day
func (av *AlphaVantage) canMakeRequest() bool {
	av.mu.Lock()
	defer av.mu.Unlock()

	if now := av.now(); now.After(av.budgetResetTime) {
		av.requestsToday = 0
		av.budgetResetTime = now.Add(24 * time.Hour)
	}
	return av.requestsToday < av.config.DailyCap
}

// incrementRequestCount tracks API usage
func (av *AlphaVantage) incrementRequestCount() {
	av.mu.Lock()
	av.requestsToday++
	used := av.requestsToday
	av.mu.Unlock()

	observ.SetGauge("alphavantage_budget_used", float64(used), nil)
}

// avSeries maps a timeframe onto the series function, its response key and
// the timestamp layout of that series
func avSeries(tf market.Timeframe) (url.Values, string, string) {
	const (
		day      = "2006-01-02"
		intraday = "2006-01-02 15:04:05"
	)
	switch tf {
	case market.Timeframe1D:
		return url.Values{"function": {"TIME_SERIES_INTRADAY"}, "interval": {"5min"}}, "Time Series (5min)", intraday
	case market.Timeframe1W:
		return url.Values{"function": {"TIME_SERIES_INTRADAY"}, "interval": {"60min"}, "outputsize": {"full"}}, "Time Series (60min)", intraday
	case market.Timeframe1M, market.Timeframe3M:
		return url.Values{"function": {"TIME_SERIES_DAILY"}}, "Time Series (Daily)", day
	case market.Timeframe1Y:
		return url.Values{"function": {"TIME_SERIES_WEEKLY"}}, "Weekly Time Series", day
	default:
		return url.Values{"function": {"TIME_SERIES_MONTHLY"}}, "Monthly Time Series", day
	}
}

func latestBar(bars []Bar) time.Time {
	var t time.Time
	for _, b := range bars {
		if b.Time.After(t) {
			t = b.Time
		}
	}
	return t
}

// num parses Alpha Vantage's quoted numbers; "None", "-" and blanks read as 0
func num(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
