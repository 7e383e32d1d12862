package degrade

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/Rajchodisetti/marketcore/internal/market"
)

// Policy produces schema-complete synthetic payloads when neither a live
// fetch nor any cached value is available. Every generator seeds its own
// generator from the key, so repeated calls for a key agree and different
// keys differ.
type Policy struct {
	now   func() time.Time
	names map[string]string
}

// Option configures a Policy
type Option func(*Policy)

// WithClock swaps the time source; only the calendar day is used
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// WithNames supplies display names for known symbols
func WithNames(instruments []market.Instrument) Option {
	return func(p *Policy) {
		for _, in := range instruments {
			p.names[in.Symbol] = in.Name
		}
	}
}

func New(opts ...Option) *Policy {
	p := &Policy{now: time.Now, names: make(map[string]string)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Seed is the FNV-1a hash of key; stable across processes
func Seed(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

func rngFor(key string) *rand.Rand {
	return rand.New(rand.NewSource(Seed(key)))
}

// bucket maps the key hash into [0, n)
func bucket(key string, n int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(n))
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// anchor is the start of the current UTC day
func (p *Policy) anchor() time.Time {
	return p.now().UTC().Truncate(24 * time.Hour)
}

func (p *Policy) name(symbol string) string {
	if n, ok := p.names[symbol]; ok && n != "" {
		return n
	}
	return symbol + " Corporation"
}

// StockDetails synthesizes a quote/fundamentals record
func (p *Policy) StockDetails(symbol string) market.StockDetails {
	r := rngFor("details|" + symbol)
	base := 50 + float64(bucket(symbol, 100))

	return market.StockDetails{
		Symbol:        symbol,
		Name:          p.name(symbol),
		Price:         market.Round(base+uniform(r, -5, 5), 2),
		Change:        market.Round(uniform(r, -2, 2), 2),
		PercentChange: market.Round(uniform(r, -2, 2), 2),
		MarketCap:     market.Round(uniform(r, 10, 500)/100, 2),
		Volume:        market.Round(uniform(r, 1, 10), 1),
		AvgVolume:     market.Round(uniform(r, 1, 10), 1),
		PE:            market.Round(uniform(r, 10, 30), 1),
		EPS:           market.Round(uniform(r, 1, 10), 2),
		Dividend:      market.Round(uniform(r, 0, 3), 2),
		High52W:       market.Round(base*1.2, 2),
		Low52W:        market.Round(base*0.8, 2),
		Open:          market.Round(base-uniform(r, -2, 2), 2),
		PreviousClose: market.Round(base-uniform(r, -1, 1), 2),
		Analyst: market.Analyst{
			Buy:  r.Intn(11),
			Hold: r.Intn(6),
			Sell: r.Intn(4),
		},
	}
}

// History synthesizes a random-walk close series with a symbol-specific
// start price, volatility and drift
func (p *Policy) History(symbol string, tf market.Timeframe) market.HistoricalSeries {
	spec := tf.Spec()
	r := rngFor("history|" + symbol + "|" + string(tf))

	startPrice := 50 + float64(bucket(symbol, 200))
	volatility := 0.02 + float64(bucket(symbol, 10))/100
	drift := 0.001 * float64(bucket(symbol, 5)-2)

	end := p.anchor()
	start := end.Add(-spec.Span)
	step := time.Duration(0)
	if spec.Points > 1 {
		step = spec.Span / time.Duration(spec.Points-1)
	}

	out := market.HistoricalSeries{
		Symbol:     symbol,
		Timeframe:  tf,
		Labels:     make([]string, spec.Points),
		Data:       make([]float64, spec.Points),
		Timestamps: make([]string, spec.Points),
	}
	price := startPrice
	for i := 0; i < spec.Points; i++ {
		if i > 0 {
			price *= 1 + r.NormFloat64()*volatility + drift
			price = math.Max(price, 0.01)
		}
		ts := start.Add(time.Duration(i) * step)
		out.Labels[i] = ts.Format(spec.LabelLayout)
		out.Timestamps[i] = ts.Format("2006-01-02")
		out.Data[i] = market.Round(price, 2)
	}
	return out
}

var indexBaselines = map[string]float64{
	"^GSPC": 5280.14,
	"^DJI":  38905.66,
	"^IXIC": 16742.39,
}

// MarketSummary synthesizes index levels and sector moves
func (p *Policy) MarketSummary(indices, sectors []market.Instrument) market.MarketSummary {
	out := market.MarketSummary{
		Indices:           make([]market.IndexLevel, 0, len(indices)),
		SectorPerformance: make([]market.SectorPerformance, 0, len(sectors)),
		MarketStatus:      market.MarketStatus(p.now()),
	}

	for _, in := range indices {
		r := rngFor("index|" + in.Symbol)
		base, ok := indexBaselines[in.Symbol]
		if !ok {
			base = 1000 + float64(bucket(in.Symbol, 9000))
		}
		pct := uniform(r, -1.5, 1.5)
		value := base * (1 + uniform(r, -0.01, 0.01))
		out.Indices = append(out.Indices, market.IndexLevel{
			Name:          in.Name,
			Symbol:        in.Symbol,
			Value:         market.Round(value, 2),
			Change:        market.Round(value*pct/100, 2),
			PercentChange: market.Round(pct, 2),
		})
	}
	for _, s := range sectors {
		r := rngFor("sector|" + s.Symbol)
		out.SectorPerformance = append(out.SectorPerformance, market.SectorPerformance{
			Name:          s.Name,
			Symbol:        s.Symbol,
			PercentChange: market.Round(uniform(r, -2, 2), 2),
		})
	}
	return out
}

// Movers ranks synthetic quotes for the universe into gainers and losers
func (p *Policy) Movers(universe []market.Instrument, limit int) market.Movers {
	quotes := make([]market.Mover, 0, len(universe))
	for _, in := range universe {
		d := p.StockDetails(in.Symbol)
		if in.Name != "" {
			d.Name = in.Name
		}
		quotes = append(quotes, market.Mover{
			Symbol:        d.Symbol,
			Name:          d.Name,
			Price:         d.Price,
			Change:        d.Change,
			PercentChange: d.PercentChange,
		})
	}
	return RankMovers(quotes, limit)
}

// RankMovers splits quotes into the top gainers and the worst losers
func RankMovers(quotes []market.Mover, limit int) market.Movers {
	sorted := append([]market.Mover(nil), quotes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PercentChange > sorted[j].PercentChange
	})

	out := market.Movers{Gainers: []market.Mover{}, Losers: []market.Mover{}}
	for _, m := range sorted {
		if m.PercentChange > 0 && len(out.Gainers) < limit {
			out.Gainers = append(out.Gainers, m)
		}
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].PercentChange < 0 && len(out.Losers) < limit {
			out.Losers = append(out.Losers, sorted[i])
		}
	}
	return out
}

// Search filters the universe by symbol or name; with no match it echoes
// the query as a single result
func (p *Policy) Search(query string, universe []market.Instrument, limit int) market.SearchResults {
	q := strings.ToLower(strings.TrimSpace(query))
	out := market.SearchResults{}
	for _, in := range universe {
		if len(out) >= limit {
			break
		}
		if q == "" || strings.Contains(strings.ToLower(in.Symbol), q) || strings.Contains(strings.ToLower(in.Name), q) {
			out = append(out, market.SearchResult{Symbol: in.Symbol, Name: in.Name})
		}
	}
	if len(out) == 0 && q != "" && limit > 0 {
		if sym, err := market.NormalizeSymbol(query); err == nil {
			out = append(out, market.SearchResult{Symbol: sym, Name: p.name(sym)})
		}
	}
	return out
}

var headlineTemplates = []string{
	"%s shares move as analysts revisit price targets",
	"What investors are watching in %s this week",
	"%s announces update to product roadmap",
	"Options traders position ahead of %s earnings",
	"%s draws institutional interest after recent volatility",
	"Sector rotation puts %s in focus",
	"%s management comments on demand outlook",
	"Is %s still a buy? Analysts weigh in",
}

var newsOutlets = []string{"Market Wire", "Street Desk", "Finance Daily", "Capital Journal"}

// News synthesizes a headline/sentiment feed
func (p *Policy) News(symbol string, limit int) market.NewsFeed {
	day := p.anchor()
	r := rngFor("news|" + symbol)
	if limit <= 0 || limit > len(headlineTemplates) {
		limit = len(headlineTemplates)
	}

	feed := market.NewsFeed{Symbol: symbol, Headlines: make([]market.Headline, 0, limit)}
	offset := r.Intn(len(headlineTemplates))
	for i := 0; i < limit; i++ {
		score := market.Round(uniform(r, -0.6, 0.8), 3)
		feed.Headlines = append(feed.Headlines, market.Headline{
			Title:          fmt.Sprintf(headlineTemplates[(offset+i)%len(headlineTemplates)], p.name(symbol)),
			Source:         newsOutlets[r.Intn(len(newsOutlets))],
			PublishedAt:    day.Add(-time.Duration(i*3) * time.Hour).Format(time.RFC3339),
			Sentiment:      market.SentimentLabel(score),
			SentimentScore: score,
		})
	}
	feed.Summarize()
	return feed
}
